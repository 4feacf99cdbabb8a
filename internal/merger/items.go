package merger

import (
	"github.com/bcnelson/storefront-gateway/internal/domain"
	"github.com/google/uuid"
)

// plan works out which customer lines change and which guest lines are new.
// Guest lines for the same product are folded together first.
func (m *Merger) plan(guestItems, customerItems []domain.CartItem, customerCartID string) (updates, creates []domain.CartItem) {
	now := m.now().UTC()

	byProduct := make(map[string]int, len(customerItems))
	lines := make([]domain.CartItem, len(customerItems))
	copy(lines, customerItems)
	for i, item := range lines {
		if _, ok := byProduct[item.ProductID]; !ok {
			byProduct[item.ProductID] = i
		}
	}

	changed := make(map[int]bool)
	newLines := make(map[string]int)

	for _, item := range guestItems {
		if i, ok := byProduct[item.ProductID]; ok {
			lines[i].Quantity = m.capQuantity(lines[i].Quantity + item.Quantity)
			lines[i].UpdatedAt = now
			changed[i] = true
			continue
		}
		if i, ok := newLines[item.ProductID]; ok {
			creates[i].Quantity = m.capQuantity(creates[i].Quantity + item.Quantity)
			continue
		}
		newLines[item.ProductID] = len(creates)
		creates = append(creates, domain.CartItem{
			ID:        uuid.NewString(),
			CartID:    customerCartID,
			ProductID: item.ProductID,
			Quantity:  m.capQuantity(item.Quantity),
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	for i, line := range lines {
		if changed[i] {
			updates = append(updates, line)
		}
	}
	return updates, creates
}

func (m *Merger) capQuantity(q int) int {
	if m.maxQuantity > 0 && q > m.maxQuantity {
		return m.maxQuantity
	}
	return q
}
