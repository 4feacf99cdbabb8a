package token

import (
	"context"
	"testing"
	"time"

	"github.com/bcnelson/storefront-gateway/internal/auth"
	"github.com/bcnelson/storefront-gateway/internal/domain"
	"github.com/bcnelson/storefront-gateway/internal/storage/memory"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *memory.Store
	jwt      *auth.JWTAuthenticator
	resolver *Resolver
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	jwt, err := auth.NewJWTAuthenticator("secret", "", time.Hour)
	require.NoError(t, err)
	r := NewResolver(store, jwt, zerolog.Nop())
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	r.SetClock(func() time.Time { return now })
	return &fixture{store: store, jwt: jwt, resolver: r, now: now}
}

func (f *fixture) guestCart(t *testing.T) (*domain.Cart, string) {
	t.Helper()
	ctx := context.Background()
	cart := &domain.Cart{ID: uuid.NewString(), IsGuest: true, IsActive: true, CreatedAt: f.now, UpdatedAt: f.now}
	require.NoError(t, f.store.CreateCart(ctx, cart))
	tok := &domain.GuestCartToken{ID: uuid.NewString(), CartID: cart.ID, Token: uuid.NewString(), CreatedAt: f.now, UpdatedAt: f.now}
	require.NoError(t, f.store.CreateGuestToken(ctx, tok))
	return cart, tok.Token
}

func (f *fixture) key(t *testing.T, secret string, mutate func(k *domain.StorefrontKey)) *domain.StorefrontKey {
	t.Helper()
	k := &domain.StorefrontKey{
		ID:        uuid.NewString(),
		Name:      "key-" + uuid.NewString()[:8],
		KeyType:   domain.KeyTypeShop,
		KeyHash:   HashKey(secret),
		KeyPrefix: secret[:4],
		IsActive:  true,
		CreatedAt: f.now,
		UpdatedAt: f.now,
	}
	if mutate != nil {
		mutate(k)
	}
	require.NoError(t, f.store.CreateStorefrontKey(context.Background(), k))
	return k
}

func TestResolveGuestToken(t *testing.T) {
	f := newFixture(t)
	cart, tok := f.guestCart(t)

	res, err := f.resolver.Resolve(context.Background(), tok, GuestOrCustomer)
	require.NoError(t, err)
	assert.Equal(t, GuestCart, res.Kind)
	assert.Equal(t, cart.ID, res.Cart.ID)
	assert.Equal(t, cart.ID, res.GuestToken.CartID)
}

func TestResolveUnknownToken(t *testing.T) {
	f := newFixture(t)

	for _, tok := range []string{"", uuid.NewString(), "garbage"} {
		res, err := f.resolver.Resolve(context.Background(), tok, GuestOrCustomer)
		require.NoError(t, err)
		assert.Equal(t, Invalid, res.Kind, "token %q", tok)
	}
}

func TestResolveCustomerOnlySkipsGuestLookup(t *testing.T) {
	f := newFixture(t)
	_, tok := f.guestCart(t)

	res, err := f.resolver.Resolve(context.Background(), tok, CustomerOnly)
	require.NoError(t, err)
	assert.Equal(t, Invalid, res.Kind)
}

func TestResolveCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bearer, _, err := f.jwt.Issue(&domain.Customer{ID: "cust-1", Email: "ada@example.com"})
	require.NoError(t, err)

	res, err := f.resolver.Resolve(ctx, bearer, CustomerOnly)
	require.NoError(t, err)
	assert.Equal(t, Customer, res.Kind)
	assert.Equal(t, "cust-1", res.Customer.ID)
	assert.Nil(t, res.Cart)

	customerID := "cust-1"
	cart := &domain.Cart{ID: uuid.NewString(), CustomerID: &customerID, IsActive: true, CreatedAt: f.now, UpdatedAt: f.now}
	require.NoError(t, f.store.CreateCart(ctx, cart))

	res, err = f.resolver.Resolve(ctx, bearer, GuestOrCustomer)
	require.NoError(t, err)
	assert.Equal(t, Customer, res.Kind)
	require.NotNil(t, res.Cart)
	assert.Equal(t, cart.ID, res.Cart.ID)
}

func TestResolveGuestTokenWithoutCart(t *testing.T) {
	f := newFixture(t)
	cart, tok := f.guestCart(t)
	require.NoError(t, f.store.DeleteCart(context.Background(), cart.ID))

	res, err := f.resolver.ResolveGuest(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, Invalid, res.Kind)
}

func TestValidateStorefrontKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	yesterday := f.now.Add(-24 * time.Hour)
	tomorrow := f.now.Add(24 * time.Hour)

	f.key(t, "pk_valid", nil)
	f.key(t, "pk_expired", func(k *domain.StorefrontKey) { k.ExpiresAt = &yesterday })
	f.key(t, "pk_inactive", func(k *domain.StorefrontKey) { k.IsActive = false })
	f.key(t, "pk_admin", func(k *domain.StorefrontKey) { k.KeyType = domain.KeyTypeAdmin })
	f.key(t, "pk_iplist", func(k *domain.StorefrontKey) { k.AllowedIPs = []string{"10.0.0.1"} })
	f.key(t, "pk_rotated", func(k *domain.StorefrontKey) {
		k.DeprecationDate = &yesterday
		k.ExpiresAt = &tomorrow
	})
	deleted := f.key(t, "pk_deleted", nil)
	require.NoError(t, f.store.SoftDeleteStorefrontKey(ctx, deleted.ID))

	tests := []struct {
		name           string
		key            string
		ip             string
		wantValid      bool
		wantDeprecated bool
	}{
		{"valid", "pk_valid", "192.0.2.1", true, false},
		{"missing", "", "192.0.2.1", false, false},
		{"unknown", "pk_unknown", "192.0.2.1", false, false},
		{"expired yesterday while active", "pk_expired", "192.0.2.1", false, false},
		{"inactive", "pk_inactive", "192.0.2.1", false, false},
		{"wrong type", "pk_admin", "192.0.2.1", false, false},
		{"ip on allow-list", "pk_iplist", "10.0.0.1", true, false},
		{"ip not on allow-list", "pk_iplist", "10.0.0.2", false, false},
		{"deprecated in grace period", "pk_rotated", "192.0.2.1", true, true},
		{"soft deleted", "pk_deleted", "192.0.2.1", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.resolver.ValidateStorefrontKey(ctx, tt.key, domain.KeyTypeShop, tt.ip)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, result.Valid)
			assert.Equal(t, tt.wantDeprecated, result.Deprecated)
			if tt.wantValid {
				require.NotNil(t, result.Storefront)
			} else {
				assert.Nil(t, result.Storefront)
			}
		})
	}
}

func TestValidateStorefrontKeyUpdatesLastUsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := f.key(t, "pk_valid", nil)

	result, err := f.resolver.ValidateStorefrontKey(ctx, "pk_valid", domain.KeyTypeShop, "")
	require.NoError(t, err)
	require.True(t, result.Valid)

	stored, err := f.store.GetStorefrontKey(ctx, k.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastUsedAt)
}

func TestHashKey(t *testing.T) {
	assert.Len(t, HashKey("pk_storefront_x"), 64)
	assert.Equal(t, HashKey("a"), HashKey("a"))
	assert.NotEqual(t, HashKey("a"), HashKey("b"))
}
