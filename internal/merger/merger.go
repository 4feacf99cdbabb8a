// Package merger merges a guest cart into a customer cart on login.
package merger

import (
	"context"
	"fmt"
	"time"

	"github.com/bcnelson/storefront-gateway/internal/domain"
	"github.com/bcnelson/storefront-gateway/internal/storage"
)

// Merger moves guest cart lines into a customer cart.
// Lines with the same product have their quantities added, capped at
// maxQuantity; other lines are copied as new lines.
type Merger struct {
	maxQuantity int
	now         func() time.Time
}

// New creates a new Merger. A non-positive maxQuantity disables the cap.
func New(maxQuantity int) *Merger {
	return &Merger{maxQuantity: maxQuantity, now: time.Now}
}

// Merge copies the items of guest into customer using store. store is usually
// a transaction; the caller deletes the guest cart afterwards.
func (m *Merger) Merge(ctx context.Context, store storage.Storage, guest, customer *domain.Cart) error {
	if guest.ID == customer.ID {
		return fmt.Errorf("cannot merge cart %s into itself: %w", guest.ID, domain.ErrInvalidInput)
	}

	guestItems, err := store.ListCartItems(ctx, guest.ID)
	if err != nil {
		return fmt.Errorf("failed to list guest cart items: %w", err)
	}
	if len(guestItems) == 0 {
		return nil
	}

	customerItems, err := store.ListCartItems(ctx, customer.ID)
	if err != nil {
		return fmt.Errorf("failed to list customer cart items: %w", err)
	}

	updates, creates := m.plan(guestItems, customerItems, customer.ID)

	for i := range updates {
		if err := store.UpdateCartItem(ctx, &updates[i]); err != nil {
			return fmt.Errorf("failed to update cart item %s: %w", updates[i].ID, err)
		}
	}
	for i := range creates {
		if err := store.CreateCartItem(ctx, &creates[i]); err != nil {
			return fmt.Errorf("failed to create cart item for product %s: %w", creates[i].ProductID, err)
		}
	}

	customer.UpdatedAt = m.now().UTC()
	if err := store.UpdateCart(ctx, customer); err != nil {
		return fmt.Errorf("failed to update customer cart: %w", err)
	}
	return nil
}
