package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/bcnelson/storefront-gateway/internal/domain"
	"github.com/bcnelson/storefront-gateway/internal/metrics"
)

// AdminKeyCounter reports how many live admin keys exist.
type AdminKeyCounter interface {
	CountAdminKeys(ctx context.Context) (int, error)
}

// Admin creates the admin API guard. It validates X-Admin-Key like the shop
// guard validates storefront keys. While no admin keys exist, bootstrapKey is
// accepted so the first admin key can be issued.
func (g *Gateway) Admin(keys AdminKeyCounter, bootstrapKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderAdminKey)
			ctx := r.Context()

			if key != "" && bootstrapKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(bootstrapKey)) == 1 {
				// Check if we have any admin keys in the database
				keyCount, err := keys.CountAdminKeys(ctx)
				if err != nil {
					g.logger.Error().Err(err).Msg("failed to count admin keys")
					writeError(w, http.StatusInternalServerError, domain.StandardError{
						Code:     domain.ErrCodeInternalError,
						Category: domain.CategoryOperationFailed,
						Message:  "internal server error",
					})
					return
				}
				if keyCount == 0 {
					metrics.RecordGatewayDecision(string(domain.KeyTypeAdmin), "bootstrap")
					ctx = withGatewayDecision(ctx, &domain.StorefrontKey{
						ID:       "bootstrap",
						Name:     "Bootstrap Key",
						KeyType:  domain.KeyTypeAdmin,
						IsActive: true,
					}, &domain.RateLimitResult{Allowed: true, Unlimited: true})
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			g.guard(w, r, next, domain.KeyTypeAdmin, key, invalidAdminKeyMessage)
		})
	}
}
