package middleware

import (
	"context"

	"github.com/bcnelson/storefront-gateway/internal/domain"
)

type contextKey string

const (
	StorefrontKeyContextKey contextKey = "storefront_key"
	RateLimitContextKey     contextKey = "rate_limit"
)

// GetStorefrontKeyFromContext retrieves the validated key from the request context.
func GetStorefrontKeyFromContext(ctx context.Context) *domain.StorefrontKey {
	key, _ := ctx.Value(StorefrontKeyContextKey).(*domain.StorefrontKey)
	return key
}

// GetRateLimitFromContext retrieves the rate limit decision from the request context.
func GetRateLimitFromContext(ctx context.Context) *domain.RateLimitResult {
	result, _ := ctx.Value(RateLimitContextKey).(*domain.RateLimitResult)
	return result
}

func withGatewayDecision(ctx context.Context, key *domain.StorefrontKey, limit *domain.RateLimitResult) context.Context {
	ctx = context.WithValue(ctx, StorefrontKeyContextKey, key)
	return context.WithValue(ctx, RateLimitContextKey, limit)
}
