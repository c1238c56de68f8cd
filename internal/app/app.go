package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/storefront-catalog/internal/api"
	"github.com/xenking/storefront-catalog/internal/catalog"
	"github.com/xenking/storefront-catalog/internal/catalog/pricing"
	"github.com/xenking/storefront-catalog/internal/catalog/tax"
	"github.com/xenking/storefront-catalog/internal/catalog/variant"
	"github.com/xenking/storefront-catalog/internal/domain/product"
	"github.com/xenking/storefront-catalog/internal/platform"
	"github.com/xenking/storefront-catalog/internal/search"
	"github.com/xenking/storefront-catalog/internal/storage/cache"
	"github.com/xenking/storefront-catalog/internal/storage/postgres"
	"github.com/xenking/storefront-catalog/pkg/health"
	"github.com/xenking/storefront-catalog/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	// Tax rules live in PostgreSQL; the pool is only needed for client-side
	// tax calculation.
	var ruleProvider tax.RuleProvider
	healthSvc := health.New()
	if !cfg.Tax.CalculateServerSide {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		ruleProvider = postgres.NewTaxRuleRepository(pool)
		healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
			return pool.Ping(ctx)
		})
	}

	// Product cache store.
	store := cache.New(cache.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.TTL,
		PoolSize: cfg.Redis.PoolSize,
	}, lg.Named("cache"))
	defer func() { _ = store.Close() }()

	if err := store.Prime(ctx); err != nil {
		// Without the filter every lookup goes to Redis; not fatal.
		lg.Warn("cache key filter priming failed", zap.Error(err))
	}
	healthSvc.AddReadinessCheck("redis", 5*time.Second, store.Ping)
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Retrieval collaborators.
	searchClient := search.NewHTTPClient(cfg.SearchEndpoint, httpClient, lg.Named("search"))

	var source pricing.PriceSource
	if cfg.Products.AlwaysSyncPlatformPrices {
		source = platform.NewClient(cfg.PlatformEndpoint, cfg.CurrencyCode, httpClient, lg.Named("platform"))
	}

	observer := pricing.ObserverFunc(func(p *product.Product) {
		lg.Debug("product price updated",
			zap.String("sku", p.SKU),
			zap.String("sgn", p.Signature))
	})

	reconciler := pricing.New(pricing.Config{
		ServerSideTax:            cfg.Tax.CalculateServerSide,
		AlwaysSyncPlatformPrices: cfg.Products.AlwaysSyncPlatformPrices,
		ClearPricesBeforeSync:    cfg.Products.ClearPricesBeforeSync,
		WaitForPlatformSync:      cfg.Products.WaitForPlatformSync,
		Country:                  cfg.Tax.Country,
		Region:                   cfg.Tax.Region,
	}, ruleProvider, source, observer, lg.Named("pricing"))

	svc := catalog.NewService(catalog.Deps{
		Cache:    store,
		Search:   searchClient,
		Prices:   reconciler,
		Variants: variant.NewResolver(nil),
		Logger:   lg.Named("catalog"),
	})

	// HTTP surface: health endpoints + catalog API on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	api.NewHandler(svc).Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(
			otelhttp.NewHandler(mux, "catalog-api",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithEviction(ctx, httpmiddleware.RateLimitConfig{
				RequestsPerSecond: cfg.RateLimit.RPS,
				Burst:             cfg.RateLimit.Burst,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
