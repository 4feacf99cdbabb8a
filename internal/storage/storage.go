package storage

import (
	"context"

	"github.com/bcnelson/storefront-gateway/internal/domain"
)

// Storage defines the interface for the storage layer.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Close closes the storage connection.
	Close() error

	// Guest cart tokens
	CreateGuestToken(ctx context.Context, token *domain.GuestCartToken) error
	GetGuestToken(ctx context.Context, token string) (*domain.GuestCartToken, error)
	GetGuestTokenByCart(ctx context.Context, cartID string) (*domain.GuestCartToken, error)
	DeleteGuestToken(ctx context.Context, token string) error

	// Storefront keys. Soft-deleted keys behave as if they do not exist.
	CreateStorefrontKey(ctx context.Context, key *domain.StorefrontKey) error
	GetStorefrontKey(ctx context.Context, id string) (*domain.StorefrontKey, error)
	GetStorefrontKeyByHash(ctx context.Context, keyHash string) (*domain.StorefrontKey, error)
	ListStorefrontKeys(ctx context.Context, keyType domain.KeyType) ([]*domain.StorefrontKey, error)
	UpdateStorefrontKey(ctx context.Context, key *domain.StorefrontKey) error
	UpdateStorefrontKeyLastUsed(ctx context.Context, id string) error
	SoftDeleteStorefrontKey(ctx context.Context, id string) error
	CountStorefrontKeys(ctx context.Context, keyType domain.KeyType) (int, error)

	// Carts. Deleting a cart removes its items and guest token.
	CreateCart(ctx context.Context, cart *domain.Cart) error
	GetCart(ctx context.Context, id string) (*domain.Cart, error)
	GetActiveCartByCustomer(ctx context.Context, customerID string) (*domain.Cart, error)
	UpdateCart(ctx context.Context, cart *domain.Cart) error
	DeleteCart(ctx context.Context, id string) error

	// Cart items
	CreateCartItem(ctx context.Context, item *domain.CartItem) error
	ListCartItems(ctx context.Context, cartID string) ([]domain.CartItem, error)
	UpdateCartItem(ctx context.Context, item *domain.CartItem) error
	DeleteCartItem(ctx context.Context, cartID, id string) error

	// Transaction support
	BeginTx(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction.
type Transaction interface {
	Storage
	Commit() error
	Rollback() error
}

// WithTx runs fn inside a transaction, committing on success and rolling back
// on error.
func WithTx(ctx context.Context, store Storage, fn func(tx Storage) error) error {
	tx, err := store.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
