package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bcnelson/storefront-gateway/internal/api"
	"github.com/bcnelson/storefront-gateway/internal/api/handler"
	"github.com/bcnelson/storefront-gateway/internal/api/middleware"
	"github.com/bcnelson/storefront-gateway/internal/auth"
	"github.com/bcnelson/storefront-gateway/internal/cache"
	"github.com/bcnelson/storefront-gateway/internal/config"
	"github.com/bcnelson/storefront-gateway/internal/logger"
	"github.com/bcnelson/storefront-gateway/internal/merger"
	"github.com/bcnelson/storefront-gateway/internal/ratelimit"
	"github.com/bcnelson/storefront-gateway/internal/service"
	"github.com/bcnelson/storefront-gateway/internal/storage/sql"
	"github.com/bcnelson/storefront-gateway/internal/token"
	"github.com/bcnelson/storefront-gateway/internal/validation"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := logger.New("info", "json")
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Create data directory if needed (for SQLite)
	if cfg.Database.Driver == "sqlite3" {
		dir := filepath.Dir(strings.SplitN(cfg.Database.DSN, "?", 2)[0])
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	// Initialize storage
	store, err := sql.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	// Initialize the rate limit counter
	var counter cache.Counter
	if cfg.UseRedis() {
		redisCounter, err := cache.NewRedis(ctx, cfg.Redis.URL, cfg.Redis.KeyPrefix)
		if err != nil {
			return err
		}
		defer redisCounter.Close()
		counter = redisCounter
		log.Info().Msg("using redis rate limit counter")
	} else {
		counter = cache.NewMemory()
		log.Warn().Msg("using in-process rate limit counter, limits are per instance")
	}

	algorithm, err := ratelimit.ParseAlgorithm(cfg.RateLimit.Algorithm)
	if err != nil {
		return err
	}
	policy, err := ratelimit.ParsePolicy(cfg.RateLimit.FailurePolicy)
	if err != nil {
		return err
	}
	limiter := ratelimit.New(counter,
		ratelimit.WithWindowMinutes(cfg.RateLimit.WindowMinutes),
		ratelimit.WithPolicy(policy),
		ratelimit.WithLogger(log),
	)

	// Customer authentication
	var authenticators auth.Chain
	var login handler.PasswordLogin
	if cfg.Auth.JWTSecret != "" {
		jwtAuth, err := auth.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTTTL)
		if err != nil {
			return err
		}
		authenticators = append(authenticators, jwtAuth)
	}
	if cfg.OIDC.Enabled {
		provider, err := auth.NewOIDCProvider(ctx,
			cfg.OIDC.IssuerURL,
			cfg.OIDC.ClientID,
			cfg.OIDC.ClientSecret,
			cfg.OIDC.GetScopes(),
			cfg.OIDC.GetAllowedDomains(),
		)
		if err != nil {
			return err
		}
		authenticators = append(authenticators, provider)
		login = provider
		log.Info().Str("issuer", cfg.OIDC.IssuerURL).Msg("customer login enabled")
	}

	resolver := token.NewResolver(store, authenticators, log)
	keys := service.NewStorefrontKeyService(store, log)

	deps := api.Dependencies{
		Gateway:        middleware.NewGateway(resolver, limiter, algorithm, cfg.RateLimit.AdminLimit, log),
		CartIdentity:   service.NewCartIdentityService(store, resolver, merger.New(validation.MaxQuantity), log),
		Carts:          service.NewCartService(store),
		StorefrontKeys: keys,
		Login:          login,
		BootstrapKey:   cfg.Admin.BootstrapKey,
		Logger:         log,
	}

	if cfg.Upstream.GraphQLURL != "" {
		proxy, err := api.NewGraphQLProxy(cfg.Upstream.GraphQLURL)
		if err != nil {
			return err
		}
		deps.GraphQL = proxy
		log.Info().Str("upstream", cfg.Upstream.GraphQLURL).Msg("shop graphql endpoint enabled")
	}

	if cfg.Admin.BootstrapKey != "" {
		if n, err := keys.CountAdminKeys(ctx); err == nil && n > 0 {
			log.Info().Int("admin_keys", n).Msg("admin keys exist, bootstrap key is inactive")
		}
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Str("algorithm", string(algorithm)).Msg("starting storefront gateway")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
