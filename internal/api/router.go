package api

import (
	"net/http"

	"github.com/bcnelson/storefront-gateway/internal/api/handler"
	"github.com/bcnelson/storefront-gateway/internal/api/middleware"
	"github.com/bcnelson/storefront-gateway/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Dependencies are the services the router exposes over HTTP. Login and
// GraphQL are optional; their routes are only mounted when set.
type Dependencies struct {
	Gateway        *middleware.Gateway
	CartIdentity   *service.CartIdentityService
	Carts          *service.CartService
	StorefrontKeys *service.StorefrontKeyService
	Login          handler.PasswordLogin
	GraphQL        http.Handler
	BootstrapKey   string
	Logger         zerolog.Logger
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(deps.Logger))

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	cartHandler := handler.NewCartHandler(deps.CartIdentity, deps.Carts, deps.Logger)
	keyHandler := handler.NewStorefrontKeyHandler(deps.StorefrontKeys, deps.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ContentType)

		r.Route("/shop", func(r chi.Router) {
			// Introspection-only queries skip the key on this route alone.
			if deps.GraphQL != nil {
				r.With(deps.Gateway.GraphQL).Handle("/graphql", deps.GraphQL)
			}

			// Shop API (storefront key required)
			r.Group(func(r chi.Router) {
				r.Use(deps.Gateway.Storefront)

				r.Route("/cart", func(r chi.Router) {
					r.Get("/", cartHandler.Get)
					r.Delete("/", cartHandler.Clear)
					r.Post("/items", cartHandler.AddItem)
					r.Put("/items/{id}", cartHandler.UpdateItem)
					r.Delete("/items/{id}", cartHandler.RemoveItem)
					r.Post("/merge", cartHandler.Merge)
					r.Post("/token", cartHandler.RotateToken)
				})

				if deps.Login != nil {
					customerHandler := handler.NewCustomerHandler(deps.Login, deps.CartIdentity, deps.Logger)
					r.Post("/customer/login", customerHandler.Login)
				}
			})
		})

		// Admin API (admin key required)
		r.Route("/admin", func(r chi.Router) {
			r.Use(deps.Gateway.Admin(deps.StorefrontKeys, deps.BootstrapKey))

			r.Post("/keys", keyHandler.Create)
			r.Get("/keys", keyHandler.List)
			r.Get("/keys/{id}", keyHandler.Get)
			r.Delete("/keys/{id}", keyHandler.Revoke)
			r.Post("/keys/{id}/rotate", keyHandler.Rotate)
			r.Get("/keys/{id}/chain", keyHandler.Chain)
		})
	})

	return r
}
