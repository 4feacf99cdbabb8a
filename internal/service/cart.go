package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bcnelson/storefront-gateway/internal/domain"
	"github.com/bcnelson/storefront-gateway/internal/storage"
	"github.com/bcnelson/storefront-gateway/internal/validation"
	"github.com/google/uuid"
)

// CartService changes the lines of a resolved cart.
type CartService struct {
	store storage.Storage
	now   func() time.Time
}

// NewCartService creates a new CartService.
func NewCartService(store storage.Storage) *CartService {
	return &CartService{store: store, now: time.Now}
}

// AddItem adds quantity of a product to cart. An existing line for the same
// product is increased instead of adding a second line.
func (s *CartService) AddItem(ctx context.Context, cart *domain.Cart, req *domain.AddCartItemRequest) (*domain.Cart, error) {
	if err := validation.ValidateAddCartItem(req).Err(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	err := storage.WithTx(ctx, s.store, func(tx storage.Storage) error {
		items, err := tx.ListCartItems(ctx, cart.ID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if item.ProductID != req.ProductID {
				continue
			}
			item.Quantity += req.Quantity
			if item.Quantity > validation.MaxQuantity {
				return validation.Invalid("quantity", fmt.Sprint(item.Quantity),
					fmt.Sprintf("line quantity cannot exceed %d", validation.MaxQuantity))
			}
			item.UpdatedAt = now
			return tx.UpdateCartItem(ctx, &item)
		}
		return tx.CreateCartItem(ctx, &domain.CartItem{
			ID:        uuid.NewString(),
			CartID:    cart.ID,
			ProductID: req.ProductID,
			Quantity:  req.Quantity,
			CreatedAt: now,
			UpdatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.touch(ctx, cart)
}

// UpdateItem sets the quantity of a line. A quantity of zero removes it.
func (s *CartService) UpdateItem(ctx context.Context, cart *domain.Cart, itemID string, quantity int) (*domain.Cart, error) {
	if quantity == 0 {
		return s.RemoveItem(ctx, cart, itemID)
	}
	if err := validation.ValidateQuantity(quantity); err != nil {
		return nil, validation.Invalid("quantity", fmt.Sprint(quantity), err.Error())
	}

	item, err := s.findItem(ctx, cart.ID, itemID)
	if err != nil {
		return nil, err
	}
	item.Quantity = quantity
	item.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateCartItem(ctx, item); err != nil {
		return nil, err
	}
	return s.touch(ctx, cart)
}

// RemoveItem deletes a line from cart.
func (s *CartService) RemoveItem(ctx context.Context, cart *domain.Cart, itemID string) (*domain.Cart, error) {
	if err := s.store.DeleteCartItem(ctx, cart.ID, itemID); err != nil {
		return nil, err
	}
	return s.touch(ctx, cart)
}

// Clear removes every line from cart.
func (s *CartService) Clear(ctx context.Context, cart *domain.Cart) (*domain.Cart, error) {
	err := storage.WithTx(ctx, s.store, func(tx storage.Storage) error {
		items, err := tx.ListCartItems(ctx, cart.ID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := tx.DeleteCartItem(ctx, cart.ID, item.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.touch(ctx, cart)
}

func (s *CartService) findItem(ctx context.Context, cartID, itemID string) (*domain.CartItem, error) {
	items, err := s.store.ListCartItems(ctx, cartID)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.ID == itemID {
			return &item, nil
		}
	}
	return nil, domain.ErrNotFound
}

// touch bumps the cart's updated_at and returns it with its items.
func (s *CartService) touch(ctx context.Context, cart *domain.Cart) (*domain.Cart, error) {
	updated := *cart
	updated.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateCart(ctx, &updated); err != nil {
		return nil, err
	}
	return s.store.GetCart(ctx, cart.ID)
}
