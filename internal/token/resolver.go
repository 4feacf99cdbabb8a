// Package token resolves opaque request credentials: guest cart tokens,
// customer bearer tokens and storefront keys.
package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/bcnelson/storefront-gateway/internal/auth"
	"github.com/bcnelson/storefront-gateway/internal/domain"
	"github.com/bcnelson/storefront-gateway/internal/metrics"
	"github.com/bcnelson/storefront-gateway/internal/storage"
	"github.com/bcnelson/storefront-gateway/internal/validation"
	"github.com/rs/zerolog"
)

// Mode tells Resolve which kinds of token the caller accepts.
type Mode int

const (
	// GuestOrCustomer checks the guest token table before customer auth.
	GuestOrCustomer Mode = iota
	// CustomerOnly skips the guest lookup and fails fast.
	CustomerOnly
)

// Kind is the kind of a resolved token.
type Kind int

const (
	Invalid Kind = iota
	GuestCart
	Customer
)

func (k Kind) String() string {
	switch k {
	case GuestCart:
		return "guest_cart"
	case Customer:
		return "customer"
	default:
		return "invalid"
	}
}

// Resolution is the result of resolving a token. Cart is set for GuestCart and,
// when the customer already has an active cart, for Customer.
type Resolution struct {
	Kind       Kind
	Token      string
	GuestToken *domain.GuestCartToken
	Cart       *domain.Cart
	Customer   *domain.Customer
}

// Resolver resolves tokens against the store and the customer authenticator.
type Resolver struct {
	store  storage.Storage
	authn  auth.Authenticator
	logger zerolog.Logger
	now    func() time.Time
}

// NewResolver creates a Resolver. authn may be nil, in which case no token
// resolves as a customer.
func NewResolver(store storage.Storage, authn auth.Authenticator, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		authn:  authn,
		logger: logger.With().Str("component", "token_resolver").Logger(),
		now:    time.Now,
	}
}

// SetClock overrides the time source used for expiry checks.
func (r *Resolver) SetClock(now func() time.Time) {
	r.now = now
}

// Resolve determines what token identifies. The result never says why a token
// is invalid.
func (r *Resolver) Resolve(ctx context.Context, token string, mode Mode) (*Resolution, error) {
	if token == "" {
		return &Resolution{Kind: Invalid}, nil
	}

	if mode == GuestOrCustomer {
		res, err := r.resolveGuest(ctx, token)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
	}

	if r.authn == nil {
		return &Resolution{Kind: Invalid, Token: token}, nil
	}
	customer, err := r.authn.Authenticate(ctx, token)
	if err != nil {
		if !errors.Is(err, domain.ErrUnauthorized) {
			r.logger.Warn().Err(err).Msg("customer authentication failed")
		}
		return &Resolution{Kind: Invalid, Token: token}, nil
	}

	res := &Resolution{Kind: Customer, Token: token, Customer: customer}
	cart, err := r.store.GetActiveCartByCustomer(ctx, customer.ID)
	switch {
	case err == nil:
		res.Cart = cart
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}
	return res, nil
}

// ResolveGuest looks token up as a guest cart token only.
func (r *Resolver) ResolveGuest(ctx context.Context, token string) (*Resolution, error) {
	res, err := r.resolveGuest(ctx, token)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &Resolution{Kind: Invalid, Token: token}, nil
	}
	return res, nil
}

// resolveGuest returns nil when token is not a live guest token.
func (r *Resolver) resolveGuest(ctx context.Context, token string) (*Resolution, error) {
	if !validation.IsGuestTokenFormat(token) {
		return nil, nil
	}
	record, err := r.store.GetGuestToken(ctx, token)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cart, err := r.store.GetCart(ctx, record.CartID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Resolution{Kind: GuestCart, Token: token, GuestToken: record, Cart: cart}, nil
}

// HashKey returns the stored hash of a storefront key secret.
func HashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// ValidateStorefrontKey checks key against the stored keys of keyType. The key
// must exist, be active and unexpired, and admit ip through its allow-list.
// A key past its deprecation date is accepted and flagged.
func (r *Resolver) ValidateStorefrontKey(ctx context.Context, key string, keyType domain.KeyType, ip string) (domain.ValidationResult, error) {
	invalid := domain.ValidationResult{}
	if key == "" {
		metrics.RecordKeyValidation("missing")
		return invalid, nil
	}

	record, err := r.store.GetStorefrontKeyByHash(ctx, HashKey(key))
	if errors.Is(err, domain.ErrNotFound) {
		metrics.RecordKeyValidation("unknown")
		return invalid, nil
	}
	if err != nil {
		return invalid, err
	}

	now := r.now()
	log := r.logger.With().Str("key_id", record.ID).Str("key_prefix", record.KeyPrefix).Logger()

	switch {
	case !record.IsActive:
		metrics.RecordKeyValidation("inactive")
		return invalid, nil
	case record.KeyType != keyType:
		metrics.RecordKeyValidation("wrong_type")
		return invalid, nil
	case record.IsExpired(now):
		metrics.RecordKeyValidation("expired")
		return invalid, nil
	case !record.AllowsIP(ip):
		log.Warn().Str("ip", ip).Msg("storefront key used from address outside allow-list")
		metrics.RecordKeyValidation("ip_denied")
		return invalid, nil
	}

	result := domain.ValidationResult{Valid: true, Storefront: record}
	if record.IsDeprecated(now) {
		result.Deprecated = true
		ev := log.Warn().Time("deprecated_at", *record.DeprecationDate)
		if record.ExpiresAt != nil {
			ev = ev.Time("expires_at", *record.ExpiresAt)
		}
		ev.Msg("deprecated storefront key used during rotation grace period")
		metrics.RecordKeyValidation("deprecated")
	} else {
		metrics.RecordKeyValidation("valid")
	}

	if err := r.store.UpdateStorefrontKeyLastUsed(ctx, record.ID); err != nil {
		log.Error().Err(err).Msg("failed to update storefront key last used")
	} else {
		used := now
		record.LastUsedAt = &used
	}

	return result, nil
}
