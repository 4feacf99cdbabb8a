package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bcnelson/storefront-gateway/internal/auth"
	"github.com/bcnelson/storefront-gateway/internal/domain"
	"github.com/bcnelson/storefront-gateway/internal/merger"
	"github.com/bcnelson/storefront-gateway/internal/storage"
	"github.com/bcnelson/storefront-gateway/internal/storage/memory"
	"github.com/bcnelson/storefront-gateway/internal/token"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type identityFixture struct {
	store    *memory.Store
	jwt      *auth.JWTAuthenticator
	identity *CartIdentityService
	carts    *CartService
}

func newIdentityFixture(t *testing.T, m CartMerger) *identityFixture {
	t.Helper()
	store := memory.New()
	jwt, err := auth.NewJWTAuthenticator("secret", "", time.Hour)
	require.NoError(t, err)
	resolver := token.NewResolver(store, jwt, zerolog.Nop())
	if m == nil {
		m = merger.New(0)
	}
	return &identityFixture{
		store:    store,
		jwt:      jwt,
		identity: NewCartIdentityService(store, resolver, m, zerolog.Nop()),
		carts:    NewCartService(store),
	}
}

func (f *identityFixture) bearer(t *testing.T, customerID string) string {
	t.Helper()
	tok, _, err := f.jwt.Issue(&domain.Customer{ID: customerID})
	require.NoError(t, err)
	return tok
}

func TestNewGuestCreatesCartAndToken(t *testing.T) {
	f := newIdentityFixture(t, nil)
	ctx := context.Background()

	id, err := f.identity.Resolve(ctx, Credentials{}, ResumeOrCreate)
	require.NoError(t, err)
	assert.Equal(t, StateNewGuest, id.State)
	assert.Len(t, id.GuestToken, 36)
	_, err = uuid.Parse(id.GuestToken)
	require.NoError(t, err)

	record, err := f.store.GetGuestToken(ctx, id.GuestToken)
	require.NoError(t, err)
	assert.Equal(t, id.Cart.ID, record.CartID)

	again, err := f.identity.Resolve(ctx, Credentials{GuestToken: id.GuestToken}, Resume)
	require.NoError(t, err)
	assert.Equal(t, StateGuestIdentified, again.State)
	assert.Equal(t, id.Cart.ID, again.Cart.ID)
}

func TestResumeFailures(t *testing.T) {
	f := newIdentityFixture(t, nil)
	ctx := context.Background()

	_, err := f.identity.Resolve(ctx, Credentials{}, Resume)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, domain.CategoryInvalidInput, domain.CategoryOf(err))

	_, err = f.identity.Resolve(ctx, Credentials{GuestToken: uuid.NewString()}, Resume)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
	assert.Equal(t, domain.CategoryNotFound, domain.CategoryOf(err))

	_, err = f.identity.Resolve(ctx, Credentials{BearerToken: "expired.jwt.value"}, Resume)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestResumeOrCreateReplacesUnknownToken(t *testing.T) {
	f := newIdentityFixture(t, nil)

	id, err := f.identity.Resolve(context.Background(), Credentials{GuestToken: uuid.NewString()}, ResumeOrCreate)
	require.NoError(t, err)
	assert.Equal(t, StateNewGuest, id.State)
}

func TestBearerSlotCarriesGuestToken(t *testing.T) {
	f := newIdentityFixture(t, nil)
	ctx := context.Background()

	guest, err := f.identity.Resolve(ctx, Credentials{}, ResumeOrCreate)
	require.NoError(t, err)

	id, err := f.identity.Resolve(ctx, Credentials{BearerToken: guest.GuestToken}, Resume)
	require.NoError(t, err)
	assert.Equal(t, StateGuestIdentified, id.State)
	assert.Equal(t, guest.Cart.ID, id.Cart.ID)
}

func TestAuthenticatedCreatesCustomerCartOnce(t *testing.T) {
	f := newIdentityFixture(t, nil)
	ctx := context.Background()
	bearer := f.bearer(t, "cust-1")

	first, err := f.identity.Resolve(ctx, Credentials{BearerToken: bearer}, Resume)
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, first.State)
	require.NotNil(t, first.Cart.CustomerID)
	assert.Equal(t, "cust-1", *first.Cart.CustomerID)
	assert.Empty(t, first.GuestToken)

	second, err := f.identity.Resolve(ctx, Credentials{BearerToken: bearer}, Resume)
	require.NoError(t, err)
	assert.Equal(t, first.Cart.ID, second.Cart.ID)
}

func TestMergeOnLogin(t *testing.T) {
	f := newIdentityFixture(t, nil)
	ctx := context.Background()

	guest, err := f.identity.Resolve(ctx, Credentials{}, ResumeOrCreate)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, guest.Cart, &domain.AddCartItemRequest{ProductID: "sku-1", Quantity: 2})
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, guest.Cart, &domain.AddCartItemRequest{ProductID: "sku-2", Quantity: 1})
	require.NoError(t, err)

	customer, err := f.identity.Resolve(ctx, Credentials{BearerToken: f.bearer(t, "cust-1"), GuestToken: guest.GuestToken}, Resume)
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, customer.State)
	assert.True(t, customer.Merged)
	require.Len(t, customer.Cart.Items, 2)
	assert.Equal(t, 3, customer.Cart.ItemCount())

	// The guest token no longer resolves to any cart.
	_, err = f.store.GetGuestToken(ctx, guest.GuestToken)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.store.GetCart(ctx, guest.Cart.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.identity.Resolve(ctx, Credentials{GuestToken: guest.GuestToken}, Resume)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestMergeIntoExistingCustomerCart(t *testing.T) {
	f := newIdentityFixture(t, nil)
	ctx := context.Background()
	bearer := f.bearer(t, "cust-1")

	existing, err := f.identity.Resolve(ctx, Credentials{BearerToken: bearer}, Resume)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, existing.Cart, &domain.AddCartItemRequest{ProductID: "sku-1", Quantity: 1})
	require.NoError(t, err)

	guest, err := f.identity.Resolve(ctx, Credentials{}, ResumeOrCreate)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, guest.Cart, &domain.AddCartItemRequest{ProductID: "sku-1", Quantity: 4})
	require.NoError(t, err)

	merged, err := f.identity.Merge(ctx, Credentials{BearerToken: bearer, GuestToken: guest.GuestToken})
	require.NoError(t, err)
	assert.Equal(t, existing.Cart.ID, merged.Cart.ID)
	require.Len(t, merged.Cart.Items, 1)
	assert.Equal(t, 5, merged.Cart.Items[0].Quantity)
}

func TestMergeRequiresCustomerAndGuest(t *testing.T) {
	f := newIdentityFixture(t, nil)
	ctx := context.Background()
	bearer := f.bearer(t, "cust-1")

	_, err := f.identity.Merge(ctx, Credentials{BearerToken: bearer})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	guest, err := f.identity.Resolve(ctx, Credentials{}, ResumeOrCreate)
	require.NoError(t, err)

	// A guest token in the bearer slot is not a customer.
	_, err = f.identity.Merge(ctx, Credentials{BearerToken: guest.GuestToken, GuestToken: guest.GuestToken})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.identity.Merge(ctx, Credentials{BearerToken: bearer, GuestToken: uuid.NewString()})
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

type failingMerger struct{}

func (failingMerger) Merge(ctx context.Context, store storage.Storage, guest, customer *domain.Cart) error {
	return errors.New("inventory service unavailable")
}

func TestMergeFailureIsOperationFailed(t *testing.T) {
	f := newIdentityFixture(t, failingMerger{})
	ctx := context.Background()

	guest, err := f.identity.Resolve(ctx, Credentials{}, ResumeOrCreate)
	require.NoError(t, err)

	_, err = f.identity.Resolve(ctx, Credentials{BearerToken: f.bearer(t, "cust-1"), GuestToken: guest.GuestToken}, Resume)
	require.Error(t, err)
	assert.Equal(t, domain.CategoryOperationFailed, domain.CategoryOf(err))

	// The guest cart is still resumable.
	again, err := f.identity.Resolve(ctx, Credentials{GuestToken: guest.GuestToken}, Resume)
	require.NoError(t, err)
	assert.Equal(t, guest.Cart.ID, again.Cart.ID)
}

func TestIssueGuestTokenIsIdempotent(t *testing.T) {
	f := newIdentityFixture(t, nil)
	ctx := context.Background()

	guest, err := f.identity.Resolve(ctx, Credentials{}, ResumeOrCreate)
	require.NoError(t, err)

	// A second insert for the same cart fails at the store.
	now := time.Now()
	dup := &domain.GuestCartToken{ID: uuid.NewString(), CartID: guest.Cart.ID, Token: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
	assert.ErrorIs(t, f.store.CreateGuestToken(ctx, dup), domain.ErrAlreadyExists)

	// Issuing again returns the existing token.
	issued, err := f.identity.issueGuestToken(ctx, f.store, guest.Cart.ID)
	require.NoError(t, err)
	assert.Equal(t, guest.GuestToken, issued.Token)
}

func TestRotateGuestToken(t *testing.T) {
	f := newIdentityFixture(t, nil)
	ctx := context.Background()

	guest, err := f.identity.Resolve(ctx, Credentials{}, ResumeOrCreate)
	require.NoError(t, err)

	rotated, err := f.identity.RotateGuestToken(ctx, Credentials{GuestToken: guest.GuestToken})
	require.NoError(t, err)
	assert.Equal(t, StateGuestIdentified, rotated.State)
	assert.Equal(t, guest.Cart.ID, rotated.Cart.ID)
	assert.NotEqual(t, guest.GuestToken, rotated.GuestToken)

	_, err = f.identity.Resolve(ctx, Credentials{GuestToken: guest.GuestToken}, Resume)
	assert.Equal(t, domain.CategoryNotFound, domain.CategoryOf(err))

	again, err := f.identity.Resolve(ctx, Credentials{GuestToken: rotated.GuestToken}, Resume)
	require.NoError(t, err)
	assert.Equal(t, guest.Cart.ID, again.Cart.ID)

	// A stale token cannot rotate.
	_, err = f.identity.RotateGuestToken(ctx, Credentials{GuestToken: guest.GuestToken})
	assert.Equal(t, domain.CategoryNotFound, domain.CategoryOf(err))
}

func TestRotateGuestTokenRequiresGuest(t *testing.T) {
	f := newIdentityFixture(t, nil)
	ctx := context.Background()

	_, err := f.identity.RotateGuestToken(ctx, Credentials{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.identity.RotateGuestToken(ctx, Credentials{BearerToken: f.bearer(t, "customer-1")})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
