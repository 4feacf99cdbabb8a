package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/bcnelson/storefront-gateway/internal/domain"
	"github.com/bcnelson/storefront-gateway/internal/metrics"
	"github.com/bcnelson/storefront-gateway/internal/ratelimit"
	"github.com/bcnelson/storefront-gateway/internal/token"
	"github.com/rs/zerolog"
)

// Request headers read by the gateway and the cart endpoints.
const (
	HeaderStorefrontKey = "X-STOREFRONT-KEY"
	HeaderAdminKey      = "X-Admin-Key"
	HeaderCartToken     = "X-Cart-Token"
	HeaderDeprecatedKey = "X-Storefront-Key-Deprecated"
)

const (
	invalidStorefrontKeyMessage = "Invalid or missing storefront key"
	invalidAdminKeyMessage      = "Invalid or missing admin key"
	rateLimitedMessage          = "Rate limit exceeded"
)

// Gateway guards the shop and admin APIs with storefront keys and rate limits.
type Gateway struct {
	resolver   *token.Resolver
	limiter    *ratelimit.Limiter
	algorithm  ratelimit.Algorithm
	adminLimit int
	logger     zerolog.Logger
}

// NewGateway creates a new Gateway. adminLimit applies to admin keys that have
// no limit of their own; zero leaves them unlimited.
func NewGateway(resolver *token.Resolver, limiter *ratelimit.Limiter, algorithm ratelimit.Algorithm, adminLimit int, logger zerolog.Logger) *Gateway {
	return &Gateway{
		resolver:   resolver,
		limiter:    limiter,
		algorithm:  algorithm,
		adminLimit: adminLimit,
		logger:     logger.With().Str("component", "gateway").Logger(),
	}
}

// Storefront creates the shop API guard.
//
// The X-STOREFRONT-KEY header is required and validated, then the key's rate
// limit is applied. Missing and invalid keys get the same response.
func (g *Gateway) Storefront(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.guard(w, r, next, domain.KeyTypeShop, r.Header.Get(HeaderStorefrontKey), invalidStorefrontKeyMessage)
	})
}

// GraphQL guards the shop GraphQL endpoint. Introspection-only queries pass
// without a key and without counting against a limit; everything else goes
// through the Storefront guard. Mount it on the GraphQL route only.
func (g *Gateway) GraphQL(next http.Handler) http.Handler {
	storefront := g.Storefront(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IsIntrospectionRequest(r) {
			metrics.RecordGatewayDecision(string(domain.KeyTypeShop), "introspection")
			next.ServeHTTP(w, r)
			return
		}
		storefront.ServeHTTP(w, r)
	})
}

func (g *Gateway) guard(w http.ResponseWriter, r *http.Request, next http.Handler, keyType domain.KeyType, key, rejectMessage string) {
	ctx := r.Context()
	kt := string(keyType)

	if key == "" {
		metrics.RecordGatewayDecision(kt, "missing_key")
		writeError(w, http.StatusBadRequest, domain.StandardError{
			Code:     domain.ErrCodeBadRequest,
			Category: domain.CategoryAuthentication,
			Message:  rejectMessage,
		})
		return
	}

	result, err := g.resolver.ValidateStorefrontKey(ctx, key, keyType, ClientIP(r))
	if err != nil {
		g.logger.Error().Err(err).Msg("storefront key validation failed")
		metrics.RecordGatewayDecision(kt, "error")
		writeError(w, http.StatusInternalServerError, domain.StandardError{
			Code:     domain.ErrCodeInternalError,
			Category: domain.CategoryOperationFailed,
			Message:  "internal server error",
		})
		return
	}
	if !result.Valid {
		metrics.RecordGatewayDecision(kt, "invalid_key")
		writeError(w, http.StatusBadRequest, domain.StandardError{
			Code:     domain.ErrCodeBadRequest,
			Category: domain.CategoryAuthentication,
			Message:  rejectMessage,
		})
		return
	}

	storefront := result.Storefront
	limit := storefront.RateLimit
	if limit == nil && keyType == domain.KeyTypeAdmin && g.adminLimit > 0 {
		limit = &g.adminLimit
	}

	decision := g.limiter.Check(ctx, g.algorithm, "storefront:"+storefront.ID, limit)
	setRateLimitHeaders(w, decision)
	if !decision.Allowed {
		g.logger.Info().
			Str("key_id", storefront.ID).
			Str("key_prefix", storefront.KeyPrefix).
			Int("limit", decision.Limit).
			Bool("degraded", decision.Degraded).
			Msg("rate limit exceeded")
		metrics.RecordGatewayDecision(kt, "rate_limited")
		w.Header().Set("Retry-After", strconv.Itoa(decision.ResetAt))
		writeError(w, http.StatusBadRequest, domain.StandardError{
			Code:       domain.ErrCodeRateLimited,
			Category:   domain.CategoryRateLimitExceeded,
			Message:    rateLimitedMessage,
			RetryAfter: decision.ResetAt,
		})
		return
	}

	if result.Deprecated {
		w.Header().Set(HeaderDeprecatedKey, "true")
	}
	metrics.RecordGatewayDecision(kt, "allowed")
	next.ServeHTTP(w, r.WithContext(withGatewayDecision(ctx, storefront, &decision)))
}

func setRateLimitHeaders(w http.ResponseWriter, decision domain.RateLimitResult) {
	if decision.Unlimited {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	h.Set("X-RateLimit-Reset", strconv.Itoa(decision.ResetAt))
}

// ClientIP returns the request's client address without the port. It relies
// on chi's RealIP middleware to have applied forwarding headers.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, e domain.StandardError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(domain.StandardErrorResponse{Error: e})
}
