package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bcnelson/storefront-gateway/internal/domain"
	"github.com/bcnelson/storefront-gateway/internal/storage"
)

// Store is an in-memory implementation of the storage interface for testing.
type Store struct {
	mu sync.RWMutex

	guestTokens    map[string]*domain.GuestCartToken // key: token
	storefrontKeys map[string]*domain.StorefrontKey  // key: id
	carts          map[string]*domain.Cart           // key: id
	cartItems      map[string]*domain.CartItem       // key: id
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		guestTokens:    make(map[string]*domain.GuestCartToken),
		storefrontKeys: make(map[string]*domain.StorefrontKey),
		carts:          make(map[string]*domain.Cart),
		cartItems:      make(map[string]*domain.CartItem),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return &Tx{store: s}, nil
}

// Tx is a no-op transaction for in-memory store.
type Tx struct {
	store *Store
}

func (t *Tx) Commit() error   { return nil }
func (t *Tx) Rollback() error { return nil }
func (t *Tx) Close() error    { return nil }
func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, domain.ErrInvalidInput
}

// Forward all Tx methods to the underlying store
func (t *Tx) CreateGuestToken(ctx context.Context, token *domain.GuestCartToken) error {
	return t.store.CreateGuestToken(ctx, token)
}
func (t *Tx) GetGuestToken(ctx context.Context, token string) (*domain.GuestCartToken, error) {
	return t.store.GetGuestToken(ctx, token)
}
func (t *Tx) GetGuestTokenByCart(ctx context.Context, cartID string) (*domain.GuestCartToken, error) {
	return t.store.GetGuestTokenByCart(ctx, cartID)
}
func (t *Tx) DeleteGuestToken(ctx context.Context, token string) error {
	return t.store.DeleteGuestToken(ctx, token)
}
func (t *Tx) CreateStorefrontKey(ctx context.Context, key *domain.StorefrontKey) error {
	return t.store.CreateStorefrontKey(ctx, key)
}
func (t *Tx) GetStorefrontKey(ctx context.Context, id string) (*domain.StorefrontKey, error) {
	return t.store.GetStorefrontKey(ctx, id)
}
func (t *Tx) GetStorefrontKeyByHash(ctx context.Context, keyHash string) (*domain.StorefrontKey, error) {
	return t.store.GetStorefrontKeyByHash(ctx, keyHash)
}
func (t *Tx) ListStorefrontKeys(ctx context.Context, keyType domain.KeyType) ([]*domain.StorefrontKey, error) {
	return t.store.ListStorefrontKeys(ctx, keyType)
}
func (t *Tx) UpdateStorefrontKey(ctx context.Context, key *domain.StorefrontKey) error {
	return t.store.UpdateStorefrontKey(ctx, key)
}
func (t *Tx) UpdateStorefrontKeyLastUsed(ctx context.Context, id string) error {
	return t.store.UpdateStorefrontKeyLastUsed(ctx, id)
}
func (t *Tx) SoftDeleteStorefrontKey(ctx context.Context, id string) error {
	return t.store.SoftDeleteStorefrontKey(ctx, id)
}
func (t *Tx) CountStorefrontKeys(ctx context.Context, keyType domain.KeyType) (int, error) {
	return t.store.CountStorefrontKeys(ctx, keyType)
}
func (t *Tx) CreateCart(ctx context.Context, cart *domain.Cart) error {
	return t.store.CreateCart(ctx, cart)
}
func (t *Tx) GetCart(ctx context.Context, id string) (*domain.Cart, error) {
	return t.store.GetCart(ctx, id)
}
func (t *Tx) GetActiveCartByCustomer(ctx context.Context, customerID string) (*domain.Cart, error) {
	return t.store.GetActiveCartByCustomer(ctx, customerID)
}
func (t *Tx) UpdateCart(ctx context.Context, cart *domain.Cart) error {
	return t.store.UpdateCart(ctx, cart)
}
func (t *Tx) DeleteCart(ctx context.Context, id string) error {
	return t.store.DeleteCart(ctx, id)
}
func (t *Tx) CreateCartItem(ctx context.Context, item *domain.CartItem) error {
	return t.store.CreateCartItem(ctx, item)
}
func (t *Tx) ListCartItems(ctx context.Context, cartID string) ([]domain.CartItem, error) {
	return t.store.ListCartItems(ctx, cartID)
}
func (t *Tx) UpdateCartItem(ctx context.Context, item *domain.CartItem) error {
	return t.store.UpdateCartItem(ctx, item)
}
func (t *Tx) DeleteCartItem(ctx context.Context, cartID, id string) error {
	return t.store.DeleteCartItem(ctx, cartID, id)
}

// ============================================
// Guest Cart Tokens
// ============================================

func (s *Store) CreateGuestToken(ctx context.Context, token *domain.GuestCartToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.guestTokens[token.Token]; exists {
		return domain.ErrAlreadyExists
	}
	for _, existing := range s.guestTokens {
		if existing.CartID == token.CartID || existing.ID == token.ID {
			return domain.ErrAlreadyExists
		}
	}
	if _, exists := s.carts[token.CartID]; !exists {
		return domain.ErrNotFound
	}
	cp := *token
	s.guestTokens[token.Token] = &cp
	return nil
}

func (s *Store) GetGuestToken(ctx context.Context, token string) (*domain.GuestCartToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, exists := s.guestTokens[token]
	if !exists {
		return nil, domain.ErrNotFound
	}
	cp := *record
	return &cp, nil
}

func (s *Store) GetGuestTokenByCart(ctx context.Context, cartID string) (*domain.GuestCartToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, record := range s.guestTokens {
		if record.CartID == cartID {
			cp := *record
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) DeleteGuestToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.guestTokens[token]; !exists {
		return domain.ErrNotFound
	}
	delete(s.guestTokens, token)
	return nil
}

// ============================================
// Storefront Keys
// ============================================

func copyKey(key *domain.StorefrontKey) *domain.StorefrontKey {
	cp := *key
	cp.AllowedIPs = append([]string(nil), key.AllowedIPs...)
	return &cp
}

func (s *Store) CreateStorefrontKey(ctx context.Context, key *domain.StorefrontKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.storefrontKeys[key.ID]; exists {
		return domain.ErrAlreadyExists
	}
	for _, existing := range s.storefrontKeys {
		if existing.KeyHash == key.KeyHash || existing.Name == key.Name {
			return domain.ErrAlreadyExists
		}
	}
	if key.RotatedFromID != nil {
		if *key.RotatedFromID == key.ID {
			return domain.ErrRotationCycle
		}
		if _, exists := s.storefrontKeys[*key.RotatedFromID]; !exists {
			return domain.ErrNotFound
		}
	}
	s.storefrontKeys[key.ID] = copyKey(key)
	return nil
}

func (s *Store) GetStorefrontKey(ctx context.Context, id string) (*domain.StorefrontKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, exists := s.storefrontKeys[id]
	if !exists || key.DeletedAt != nil {
		return nil, domain.ErrNotFound
	}
	return copyKey(key), nil
}

func (s *Store) GetStorefrontKeyByHash(ctx context.Context, keyHash string) (*domain.StorefrontKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.storefrontKeys {
		if key.KeyHash == keyHash && key.DeletedAt == nil {
			return copyKey(key), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListStorefrontKeys(ctx context.Context, keyType domain.KeyType) ([]*domain.StorefrontKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]*domain.StorefrontKey, 0, len(s.storefrontKeys))
	for _, key := range s.storefrontKeys {
		if key.DeletedAt != nil {
			continue
		}
		if keyType != "" && key.KeyType != keyType {
			continue
		}
		keys = append(keys, copyKey(key))
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

func (s *Store) UpdateStorefrontKey(ctx context.Context, key *domain.StorefrontKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, exists := s.storefrontKeys[key.ID]
	if !exists || existing.DeletedAt != nil {
		return domain.ErrNotFound
	}
	if key.RotatedFromID != nil && *key.RotatedFromID == key.ID {
		return domain.ErrRotationCycle
	}
	updated := copyKey(key)
	updated.KeyHash = existing.KeyHash
	updated.UpdatedAt = time.Now()
	s.storefrontKeys[key.ID] = updated
	return nil
}

func (s *Store) UpdateStorefrontKeyLastUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, exists := s.storefrontKeys[id]
	if !exists || key.DeletedAt != nil {
		return domain.ErrNotFound
	}
	now := time.Now()
	key.LastUsedAt = &now
	return nil
}

func (s *Store) SoftDeleteStorefrontKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, exists := s.storefrontKeys[id]
	if !exists || key.DeletedAt != nil {
		return domain.ErrNotFound
	}
	now := time.Now()
	key.DeletedAt = &now
	key.IsActive = false
	return nil
}

func (s *Store) CountStorefrontKeys(ctx context.Context, keyType domain.KeyType) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, key := range s.storefrontKeys {
		if key.DeletedAt == nil && (keyType == "" || key.KeyType == keyType) {
			count++
		}
	}
	return count, nil
}

// ============================================
// Carts
// ============================================

func copyCart(cart *domain.Cart) *domain.Cart {
	cp := *cart
	cp.Items = nil
	return &cp
}

// itemsFor returns the cart's items ordered by creation. Caller holds the lock.
func (s *Store) itemsFor(cartID string) []domain.CartItem {
	items := make([]domain.CartItem, 0)
	for _, item := range s.cartItems {
		if item.CartID == cartID {
			items = append(items, *item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items
}

func (s *Store) CreateCart(ctx context.Context, cart *domain.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.carts[cart.ID]; exists {
		return domain.ErrAlreadyExists
	}
	s.carts[cart.ID] = copyCart(cart)
	return nil
}

func (s *Store) GetCart(ctx context.Context, id string) (*domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cart, exists := s.carts[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	cp := copyCart(cart)
	cp.Items = s.itemsFor(id)
	return cp, nil
}

func (s *Store) GetActiveCartByCustomer(ctx context.Context, customerID string) (*domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *domain.Cart
	for _, cart := range s.carts {
		if cart.CustomerID == nil || *cart.CustomerID != customerID || !cart.IsActive {
			continue
		}
		if found == nil || cart.CreatedAt.After(found.CreatedAt) {
			found = cart
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	cp := copyCart(found)
	cp.Items = s.itemsFor(found.ID)
	return cp, nil
}

func (s *Store) UpdateCart(ctx context.Context, cart *domain.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.carts[cart.ID]; !exists {
		return domain.ErrNotFound
	}
	s.carts[cart.ID] = copyCart(cart)
	return nil
}

func (s *Store) DeleteCart(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.carts[id]; !exists {
		return domain.ErrNotFound
	}
	delete(s.carts, id)
	for itemID, item := range s.cartItems {
		if item.CartID == id {
			delete(s.cartItems, itemID)
		}
	}
	for token, record := range s.guestTokens {
		if record.CartID == id {
			delete(s.guestTokens, token)
		}
	}
	return nil
}

// ============================================
// Cart Items
// ============================================

func (s *Store) CreateCartItem(ctx context.Context, item *domain.CartItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.carts[item.CartID]; !exists {
		return domain.ErrNotFound
	}
	if _, exists := s.cartItems[item.ID]; exists {
		return domain.ErrAlreadyExists
	}
	cp := *item
	s.cartItems[item.ID] = &cp
	return nil
}

func (s *Store) ListCartItems(ctx context.Context, cartID string) ([]domain.CartItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.itemsFor(cartID), nil
}

func (s *Store) UpdateCartItem(ctx context.Context, item *domain.CartItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, exists := s.cartItems[item.ID]
	if !exists || existing.CartID != item.CartID {
		return domain.ErrNotFound
	}
	cp := *item
	s.cartItems[item.ID] = &cp
	return nil
}

func (s *Store) DeleteCartItem(ctx context.Context, cartID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, exists := s.cartItems[id]
	if !exists || existing.CartID != cartID {
		return domain.ErrNotFound
	}
	delete(s.cartItems, id)
	return nil
}
