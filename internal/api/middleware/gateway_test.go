package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bcnelson/storefront-gateway/internal/cache"
	"github.com/bcnelson/storefront-gateway/internal/domain"
	"github.com/bcnelson/storefront-gateway/internal/ratelimit"
	"github.com/bcnelson/storefront-gateway/internal/storage/memory"
	"github.com/bcnelson/storefront-gateway/internal/token"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	shopKey  = "pk_storefront_" + "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	adminKey = "pk_admin_" + "fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210"
)

type gatewayFixture struct {
	store   *memory.Store
	counter *cache.Memory
	gateway *Gateway
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	store := memory.New()
	counter := cache.NewMemory()
	resolver := token.NewResolver(store, nil, zerolog.Nop())
	limiter := ratelimit.New(counter)
	return &gatewayFixture{
		store:   store,
		counter: counter,
		gateway: NewGateway(resolver, limiter, ratelimit.AlgorithmMinute, 0, zerolog.Nop()),
	}
}

func (f *gatewayFixture) addKey(t *testing.T, key string, keyType domain.KeyType, mutate func(*domain.StorefrontKey)) *domain.StorefrontKey {
	t.Helper()
	now := time.Now().UTC()
	record := &domain.StorefrontKey{
		ID:        "key-" + string(keyType),
		Name:      "test " + string(keyType),
		KeyType:   keyType,
		KeyHash:   token.HashKey(key),
		KeyPrefix: key[:len(key)-56],
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if mutate != nil {
		mutate(record)
	}
	require.NoError(t, f.store.CreateStorefrontKey(context.Background(), record))
	return record
}

// okHandler records whether it ran and what the gateway attached.
type okHandler struct {
	called bool
	key    *domain.StorefrontKey
	limit  *domain.RateLimitResult
}

func (h *okHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	h.key = GetStorefrontKeyFromContext(r.Context())
	h.limit = GetRateLimitFromContext(r.Context())
	w.WriteHeader(http.StatusOK)
}

func shopRequest(key string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/shop/cart", nil)
	if key != "" {
		req.Header.Set(HeaderStorefrontKey, key)
	}
	return req
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) domain.StandardError {
	t.Helper()
	var resp domain.StandardErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Error
}

func TestStorefrontMissingKeyRejectedBeforeRateLimit(t *testing.T) {
	f := newGatewayFixture(t)
	next := &okHandler{}

	rr := httptest.NewRecorder()
	f.gateway.Storefront(next).ServeHTTP(rr, shopRequest(""))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.False(t, next.called)
	assert.Equal(t, 0, f.counter.Len(), "no counter may be touched")
	assert.Equal(t, invalidStorefrontKeyMessage, decodeError(t, rr).Message)
}

func TestStorefrontInvalidKeySharesMessage(t *testing.T) {
	f := newGatewayFixture(t)
	next := &okHandler{}

	rr := httptest.NewRecorder()
	f.gateway.Storefront(next).ServeHTTP(rr, shopRequest(shopKey))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.False(t, next.called)
	assert.Equal(t, invalidStorefrontKeyMessage, decodeError(t, rr).Message)
}

func TestStorefrontValidKeyAttachesContext(t *testing.T) {
	f := newGatewayFixture(t)
	limit := 10
	f.addKey(t, shopKey, domain.KeyTypeShop, func(k *domain.StorefrontKey) { k.RateLimit = &limit })
	next := &okHandler{}

	rr := httptest.NewRecorder()
	f.gateway.Storefront(next).ServeHTTP(rr, shopRequest(shopKey))

	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, next.called)
	require.NotNil(t, next.key)
	assert.Equal(t, "key-shop", next.key.ID)
	require.NotNil(t, next.limit)
	assert.True(t, next.limit.Allowed)
	assert.Equal(t, 10, next.limit.Remaining)
	assert.Equal(t, "10", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "10", rr.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", rr.Header().Get("X-RateLimit-Reset"))
}

func TestStorefrontRejectsAdminKey(t *testing.T) {
	f := newGatewayFixture(t)
	f.addKey(t, adminKey, domain.KeyTypeAdmin, nil)
	next := &okHandler{}

	rr := httptest.NewRecorder()
	f.gateway.Storefront(next).ServeHTTP(rr, shopRequest(adminKey))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.False(t, next.called)
}

func TestStorefrontRateLimitExceeded(t *testing.T) {
	f := newGatewayFixture(t)
	limit := 2
	f.addKey(t, shopKey, domain.KeyTypeShop, func(k *domain.StorefrontKey) { k.RateLimit = &limit })
	handler := f.gateway.Storefront(&okHandler{})

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, shopRequest(shopKey))
		require.Equal(t, http.StatusOK, rr.Code, "request %d", i+1)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, shopRequest(shopKey))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	e := decodeError(t, rr)
	assert.Equal(t, domain.CategoryRateLimitExceeded, e.Category)
	assert.Equal(t, 60, e.RetryAfter)
}

func TestStorefrontIPAllowList(t *testing.T) {
	f := newGatewayFixture(t)
	f.addKey(t, shopKey, domain.KeyTypeShop, func(k *domain.StorefrontKey) { k.AllowedIPs = []string{"10.0.0.1"} })

	tests := []struct {
		name       string
		remoteAddr string
		wantStatus int
	}{
		{"listed address", "10.0.0.1:5123", http.StatusOK},
		{"other address", "10.0.0.2:5123", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := shopRequest(shopKey)
			req.RemoteAddr = tt.remoteAddr
			rr := httptest.NewRecorder()
			f.gateway.Storefront(&okHandler{}).ServeHTTP(rr, req)
			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}
}

func TestStorefrontDeprecatedKeyHeader(t *testing.T) {
	f := newGatewayFixture(t)
	f.addKey(t, shopKey, domain.KeyTypeShop, func(k *domain.StorefrontKey) {
		past := time.Now().Add(-time.Hour)
		future := time.Now().Add(time.Hour)
		k.DeprecationDate = &past
		k.ExpiresAt = &future
	})

	rr := httptest.NewRecorder()
	f.gateway.Storefront(&okHandler{}).ServeHTTP(rr, shopRequest(shopKey))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "true", rr.Header().Get(HeaderDeprecatedKey))
}

func TestGraphQLIntrospectionBypass(t *testing.T) {
	f := newGatewayFixture(t)

	tests := []struct {
		name       string
		body       string
		wantBypass bool
	}{
		{"schema query", `{"query":"{__schema{types{name}}}"}`, true},
		{"typename query", `{"query":"query { __typename }"}`, true},
		{"mixed query", `{"query":"{ __typename products { id } }"}`, false},
		{"mutation", `{"query":"mutation { __typename }"}`, false},
		{"not graphql", `{"product_id":"sku-1"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/shop/graphql", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			next := &okHandler{}
			rr := httptest.NewRecorder()

			f.gateway.GraphQL(next).ServeHTTP(rr, req)

			assert.Equal(t, tt.wantBypass, next.called)
			if tt.wantBypass {
				assert.Nil(t, next.key)
			} else {
				assert.Equal(t, http.StatusBadRequest, rr.Code)
			}
		})
	}
	assert.Equal(t, 0, f.counter.Len())
}

func TestGraphQLWithKeyIsRateLimited(t *testing.T) {
	f := newGatewayFixture(t)
	f.addKey(t, shopKey, domain.KeyTypeShop, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/shop/graphql", strings.NewReader(`{"query":"{ products { id } }"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderStorefrontKey, shopKey)
	next := &okHandler{}
	rr := httptest.NewRecorder()

	f.gateway.GraphQL(next).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, next.key)
	assert.Equal(t, 1, f.counter.Len())
}

func TestStorefrontIgnoresIntrospectionQuery(t *testing.T) {
	f := newGatewayFixture(t)

	get := httptest.NewRequest(http.MethodGet, "/api/v1/shop/cart?query=%7B__typename%7D", nil)
	post := httptest.NewRequest(http.MethodPost, "/api/v1/shop/cart/items",
		strings.NewReader(`{"query":"{__typename}","product_id":"sku-1","quantity":1}`))
	post.Header.Set("Content-Type", "application/json")

	for _, req := range []*http.Request{get, post} {
		next := &okHandler{}
		rr := httptest.NewRecorder()

		f.gateway.Storefront(next).ServeHTTP(rr, req)

		assert.False(t, next.called, req.URL.String())
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, invalidStorefrontKeyMessage, decodeError(t, rr).Message)
	}
}

type staticCounter int

func (c staticCounter) CountAdminKeys(context.Context) (int, error) { return int(c), nil }

func adminRequest(key string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/keys", nil)
	if key != "" {
		req.Header.Set(HeaderAdminKey, key)
	}
	return req
}

func TestAdminBootstrapKey(t *testing.T) {
	f := newGatewayFixture(t)

	t.Run("accepted while no admin keys exist", func(t *testing.T) {
		next := &okHandler{}
		rr := httptest.NewRecorder()
		f.gateway.Admin(staticCounter(0), "bootstrap-secret")(next).ServeHTTP(rr, adminRequest("bootstrap-secret"))

		assert.Equal(t, http.StatusOK, rr.Code)
		require.NotNil(t, next.key)
		assert.Equal(t, "bootstrap", next.key.ID)
	})

	t.Run("rejected once an admin key exists", func(t *testing.T) {
		next := &okHandler{}
		rr := httptest.NewRecorder()
		f.gateway.Admin(staticCounter(1), "bootstrap-secret")(next).ServeHTTP(rr, adminRequest("bootstrap-secret"))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.False(t, next.called)
	})

	t.Run("empty bootstrap key disabled", func(t *testing.T) {
		next := &okHandler{}
		rr := httptest.NewRecorder()
		f.gateway.Admin(staticCounter(0), "")(next).ServeHTTP(rr, adminRequest(""))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, invalidAdminKeyMessage, decodeError(t, rr).Message)
	})
}

func TestAdminKeyValidated(t *testing.T) {
	f := newGatewayFixture(t)
	f.addKey(t, adminKey, domain.KeyTypeAdmin, nil)
	f.addKey(t, shopKey, domain.KeyTypeShop, nil)
	guard := f.gateway.Admin(staticCounter(1), "bootstrap-secret")

	next := &okHandler{}
	rr := httptest.NewRecorder()
	guard(next).ServeHTTP(rr, adminRequest(adminKey))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, next.called)

	next = &okHandler{}
	rr = httptest.NewRecorder()
	guard(next).ServeHTTP(rr, adminRequest(shopKey))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.False(t, next.called)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:443"
	assert.Equal(t, "203.0.113.9", ClientIP(req))

	req.RemoteAddr = "203.0.113.9"
	assert.Equal(t, "203.0.113.9", ClientIP(req))
}
