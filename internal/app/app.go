// Package app wires the pricing engine together: configuration, storage,
// domain services, HTTP transport, and graceful shutdown.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/merchkit/promo-engine/internal/admin"
	"github.com/merchkit/promo-engine/internal/cache"
	"github.com/merchkit/promo-engine/internal/domain/auth"
	"github.com/merchkit/promo-engine/internal/domain/coupon"
	"github.com/merchkit/promo-engine/internal/domain/discount"
	"github.com/merchkit/promo-engine/internal/domain/order"
	"github.com/merchkit/promo-engine/internal/handler"
	"github.com/merchkit/promo-engine/internal/storage/postgres"
	"github.com/merchkit/promo-engine/pkg/health"
	"github.com/merchkit/promo-engine/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	basis, err := cfg.minOrderBasis()
	if err != nil {
		return err
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	catalogRepo := postgres.NewCatalogRepository(pool)
	discountRepo := postgres.NewDiscountRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Usage ledger + background sweep of expired reservations.
	usageLedger := postgres.NewUsageLedger(pool, cfg.Reservation.TTL)
	go sweepReservations(ctx, lg, usageLedger, cfg.Reservation.SweepInterval)

	// Domain services.
	resolver := discount.NewResolver(discountRepo)
	eligibility := cache.NewEligibility(resolver, cfg.Eligibility.CacheSize, cfg.Eligibility.CacheTTL)
	couponValidator := coupon.NewValidator(couponRepo, usageLedger, basis)
	orderService := order.NewService(catalogRepo, resolver, couponValidator, usageLedger, orderRepo)
	rules := admin.NewService(discountRepo, couponRepo)

	// HTTP handlers.
	h := handler.New(catalogRepo, resolver, eligibility, couponValidator, usageLedger, orderService, rules)
	adminAuth := handler.APIKeyAuth(apikeyRepo, []byte(cfg.APIKeyPepper), auth.ScopeAdmin)

	api := otelhttp.NewHandler(h.Routes(adminAuth), "promo-api",
		otelhttp.WithTracerProvider(m.TracerProvider()),
		otelhttp.WithMeterProvider(m.MeterProvider()),
	)

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", http.StripPrefix("/api", api))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.Logging(lg),
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

// sweepReservations periodically releases redemption slots held by pending
// reservations that outlived their TTL, returning those slots to the pool.
func sweepReservations(ctx context.Context, lg *zap.Logger, l *postgres.UsageLedger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.ReleaseExpired(ctx)
			if err != nil {
				lg.Error("Reservation sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				lg.Info("Released expired reservations", zap.Int("count", n))
			}
		}
	}
}
