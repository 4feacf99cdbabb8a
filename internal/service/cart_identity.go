package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bcnelson/storefront-gateway/internal/domain"
	"github.com/bcnelson/storefront-gateway/internal/metrics"
	"github.com/bcnelson/storefront-gateway/internal/storage"
	"github.com/bcnelson/storefront-gateway/internal/token"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CartMerger moves the contents of a guest cart into a customer cart.
// store is the transaction the merge runs in.
type CartMerger interface {
	Merge(ctx context.Context, store storage.Storage, guest, customer *domain.Cart) error
}

// Intent says whether a request may start a new guest cart.
type Intent int

const (
	// Resume requires an existing cart.
	Resume Intent = iota
	// ResumeOrCreate falls back to a new guest cart, e.g. for add-to-cart.
	ResumeOrCreate
)

// State is the cart identity state reached by a request.
type State string

const (
	StateAuthenticated   State = "authenticated"
	StateMergePending    State = "merge_pending"
	StateGuestIdentified State = "guest_identified"
	StateNewGuest        State = "new_guest"
)

// Credentials are the cart-related credentials carried by a request.
type Credentials struct {
	// BearerToken is the Authorization bearer value. It usually carries a
	// customer token but may carry a guest token.
	BearerToken string
	// GuestToken is the X-Cart-Token value.
	GuestToken string
}

// CartIdentity is the resolved identity and cart for a request.
type CartIdentity struct {
	State      State
	Cart       *domain.Cart
	Customer   *domain.Customer
	GuestToken string
	Merged     bool
}

// Response converts the identity into the cart API response.
func (c *CartIdentity) Response() *domain.CartResponse {
	return &domain.CartResponse{
		Cart:       c.Cart,
		GuestToken: c.GuestToken,
		State:      string(c.State),
		Merged:     c.Merged,
	}
}

// CartIdentityService resolves which cart a request operates on.
type CartIdentityService struct {
	store    storage.Storage
	resolver *token.Resolver
	merger   CartMerger
	logger   zerolog.Logger
	now      func() time.Time
}

// NewCartIdentityService creates a new CartIdentityService.
func NewCartIdentityService(store storage.Storage, resolver *token.Resolver, merger CartMerger, logger zerolog.Logger) *CartIdentityService {
	return &CartIdentityService{
		store:    store,
		resolver: resolver,
		merger:   merger,
		logger:   logger.With().Str("component", "cart_identity").Logger(),
		now:      time.Now,
	}
}

// Resolve runs the identity state machine for one request.
//
// A valid customer bearer yields the customer's cart, merging in the guest
// cart when a guest token is also present. Otherwise a resolvable guest token
// yields its cart. With nothing to resume, ResumeOrCreate starts a new guest
// cart while Resume fails.
func (s *CartIdentityService) Resolve(ctx context.Context, creds Credentials, intent Intent) (*CartIdentity, error) {
	guestToken := creds.GuestToken
	bearerInvalid := false

	if creds.BearerToken != "" {
		res, err := s.resolver.Resolve(ctx, creds.BearerToken, token.GuestOrCustomer)
		if err != nil {
			return nil, s.operationFailed("failed to resolve bearer token", err)
		}
		switch res.Kind {
		case token.Customer:
			return s.resolveCustomer(ctx, res.Customer, res.Cart, guestToken)
		case token.GuestCart:
			if guestToken == "" || guestToken == creds.BearerToken {
				return s.guestIdentified(res.Cart, res.Token), nil
			}
		default:
			bearerInvalid = true
		}
	}

	if guestToken != "" {
		res, err := s.resolver.ResolveGuest(ctx, guestToken)
		if err != nil {
			return nil, s.operationFailed("failed to resolve cart token", err)
		}
		if res.Kind == token.GuestCart {
			return s.guestIdentified(res.Cart, res.Token), nil
		}
		if intent == Resume {
			return nil, domain.NewError(domain.CategoryNotFound, "cart not found for token", domain.ErrInvalidToken)
		}
		return s.newGuest(ctx)
	}

	if intent == Resume {
		if bearerInvalid {
			return nil, domain.NewError(domain.CategoryNotFound, "cart not found for token", domain.ErrInvalidToken)
		}
		return nil, domain.NewError(domain.CategoryInvalidInput, "cart token is required", domain.ErrInvalidInput)
	}
	return s.newGuest(ctx)
}

// ResolveCustomer attaches an already authenticated customer to their cart,
// merging in the cart behind guestToken when it resolves. It is used right
// after login, when the customer token has just been issued.
func (s *CartIdentityService) ResolveCustomer(ctx context.Context, customer *domain.Customer, guestToken string) (*CartIdentity, error) {
	cart, err := s.store.GetActiveCartByCustomer(ctx, customer.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, s.operationFailed("failed to load customer cart", err)
	}
	return s.resolveCustomer(ctx, customer, cart, guestToken)
}

// Merge merges the guest cart into the customer's cart. Unlike Resolve it
// requires both a valid customer bearer and a resolvable guest token.
func (s *CartIdentityService) Merge(ctx context.Context, creds Credentials) (*CartIdentity, error) {
	if creds.GuestToken == "" {
		return nil, domain.NewError(domain.CategoryInvalidInput, "cart token is required", domain.ErrInvalidInput)
	}
	res, err := s.resolver.Resolve(ctx, creds.BearerToken, token.CustomerOnly)
	if err != nil {
		return nil, s.operationFailed("failed to resolve bearer token", err)
	}
	if res.Kind != token.Customer {
		return nil, domain.NewError(domain.CategoryAuthentication, "a valid customer token is required", domain.ErrUnauthorized)
	}

	guest, err := s.resolver.ResolveGuest(ctx, creds.GuestToken)
	if err != nil {
		return nil, s.operationFailed("failed to resolve cart token", err)
	}
	if guest.Kind != token.GuestCart {
		return nil, domain.NewError(domain.CategoryNotFound, "cart not found for token", domain.ErrInvalidToken)
	}
	return s.resolveCustomer(ctx, res.Customer, res.Cart, creds.GuestToken)
}

func (s *CartIdentityService) resolveCustomer(ctx context.Context, customer *domain.Customer, cart *domain.Cart, guestToken string) (*CartIdentity, error) {
	log := s.logger.With().Str("customer_id", customer.ID).Logger()

	if guestToken != "" {
		res, err := s.resolver.ResolveGuest(ctx, guestToken)
		if err != nil {
			return nil, s.operationFailed("failed to resolve cart token", err)
		}
		if res.Kind == token.GuestCart {
			return s.mergeOnLogin(ctx, customer, cart, res.Cart)
		}
		log.Debug().Msg("ignoring unresolvable cart token for authenticated customer")
	}

	if cart == nil {
		created, err := s.createCustomerCart(ctx, s.store, customer)
		if err != nil {
			return nil, s.operationFailed("failed to create customer cart", err)
		}
		cart = created
	}

	metrics.RecordCartIdentity(string(StateAuthenticated))
	return &CartIdentity{State: StateAuthenticated, Cart: cart, Customer: customer}, nil
}

// mergeOnLogin moves the guest cart into the customer's cart and deletes the
// guest cart together with its token, all in one transaction.
func (s *CartIdentityService) mergeOnLogin(ctx context.Context, customer *domain.Customer, customerCart, guestCart *domain.Cart) (*CartIdentity, error) {
	log := s.logger.With().
		Str("customer_id", customer.ID).
		Str("guest_cart_id", guestCart.ID).
		Str("state", string(StateMergePending)).
		Logger()

	var cartID string
	err := storage.WithTx(ctx, s.store, func(tx storage.Storage) error {
		target := customerCart
		if target == nil {
			created, err := s.createCustomerCart(ctx, tx, customer)
			if err != nil {
				return err
			}
			target = created
		}
		if err := s.merger.Merge(ctx, tx, guestCart, target); err != nil {
			return err
		}
		if err := tx.DeleteCart(ctx, guestCart.ID); err != nil {
			return fmt.Errorf("failed to delete guest cart: %w", err)
		}
		cartID = target.ID
		return nil
	})
	if err != nil {
		metrics.RecordCartMerge("failed")
		log.Error().Err(err).Msg("merge on login failed")
		return nil, domain.NewError(domain.CategoryOperationFailed, "failed to merge guest cart", err)
	}

	cart, err := s.store.GetCart(ctx, cartID)
	if err != nil {
		return nil, s.operationFailed("failed to load merged cart", err)
	}

	metrics.RecordCartMerge("merged")
	metrics.RecordCartIdentity(string(StateAuthenticated))
	log.Info().Str("cart_id", cart.ID).Int("items", len(cart.Items)).Msg("merged guest cart into customer cart")
	return &CartIdentity{State: StateAuthenticated, Cart: cart, Customer: customer, Merged: true}, nil
}

func (s *CartIdentityService) guestIdentified(cart *domain.Cart, guestToken string) *CartIdentity {
	metrics.RecordCartIdentity(string(StateGuestIdentified))
	return &CartIdentity{State: StateGuestIdentified, Cart: cart, GuestToken: guestToken}
}

// newGuest creates a cart and its guest token together.
func (s *CartIdentityService) newGuest(ctx context.Context) (*CartIdentity, error) {
	now := s.now().UTC()
	cart := &domain.Cart{
		ID:        uuid.NewString(),
		IsGuest:   true,
		IsActive:  true,
		Items:     []domain.CartItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	var guestToken *domain.GuestCartToken
	err := storage.WithTx(ctx, s.store, func(tx storage.Storage) error {
		if err := tx.CreateCart(ctx, cart); err != nil {
			return fmt.Errorf("failed to create cart: %w", err)
		}
		var err error
		guestToken, err = s.issueGuestToken(ctx, tx, cart.ID)
		return err
	})
	if err != nil {
		return nil, s.operationFailed("failed to create guest cart", err)
	}

	metrics.RecordCartIdentity(string(StateNewGuest))
	s.logger.Debug().Str("cart_id", cart.ID).Msg("created guest cart")
	return &CartIdentity{State: StateNewGuest, Cart: cart, GuestToken: guestToken.Token}, nil
}

// RotateGuestToken gives the caller's guest cart a new token. The old token
// stops resolving once this returns; the cart and its items are unchanged.
func (s *CartIdentityService) RotateGuestToken(ctx context.Context, creds Credentials) (*CartIdentity, error) {
	id, err := s.Resolve(ctx, creds, Resume)
	if err != nil {
		return nil, err
	}
	if id.State != StateGuestIdentified {
		return nil, domain.NewError(domain.CategoryInvalidInput, "only guest carts have a cart token", domain.ErrInvalidInput)
	}

	var issued *domain.GuestCartToken
	err = storage.WithTx(ctx, s.store, func(tx storage.Storage) error {
		if err := tx.DeleteGuestToken(ctx, id.GuestToken); err != nil {
			return err
		}
		record, err := s.issueGuestToken(ctx, tx, id.Cart.ID)
		issued = record
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		// Rotated by a concurrent request.
		return nil, domain.NewError(domain.CategoryNotFound, "cart not found for token", domain.ErrInvalidToken)
	}
	if err != nil {
		return nil, s.operationFailed("failed to rotate guest token", err)
	}

	s.logger.Info().Str("cart_id", id.Cart.ID).Msg("rotated guest cart token")
	id.GuestToken = issued.Token
	return id, nil
}

// issueGuestToken returns the token of cartID, inserting one when the cart
// has none. The unique cart constraint decides concurrent inserts and the
// loser returns the winner's token.
func (s *CartIdentityService) issueGuestToken(ctx context.Context, store storage.Storage, cartID string) (*domain.GuestCartToken, error) {
	existing, err := store.GetGuestTokenByCart(ctx, cartID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up guest token: %w", err)
	}

	now := s.now().UTC()
	record := &domain.GuestCartToken{
		ID:        uuid.NewString(),
		CartID:    cartID,
		Token:     uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = store.CreateGuestToken(ctx, record)
	if errors.Is(err, domain.ErrAlreadyExists) {
		existing, lookupErr := store.GetGuestTokenByCart(ctx, cartID)
		if lookupErr != nil {
			return nil, fmt.Errorf("failed to look up existing guest token: %w", lookupErr)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create guest token: %w", err)
	}
	return record, nil
}

func (s *CartIdentityService) createCustomerCart(ctx context.Context, store storage.Storage, customer *domain.Customer) (*domain.Cart, error) {
	now := s.now().UTC()
	customerID := customer.ID
	cart := &domain.Cart{
		ID:         uuid.NewString(),
		CustomerID: &customerID,
		IsActive:   true,
		Items:      []domain.CartItem{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := store.CreateCart(ctx, cart); err != nil {
		return nil, fmt.Errorf("failed to create customer cart: %w", err)
	}
	return cart, nil
}

func (s *CartIdentityService) operationFailed(message string, err error) error {
	s.logger.Error().Err(err).Msg(message)
	return domain.NewError(domain.CategoryOperationFailed, message, err)
}
