package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/catalog"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/session"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/internal/storage/sqlite"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

const (
	maxGoroutines = 10000
	maxGCPause    = time.Second
)

// newHealth returns the health service with the process liveness checks
// registered. Readiness checks depend on the configured backends.
func newHealth() *health.Health {
	h := health.New()
	h.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(maxGoroutines))
	h.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(maxGCPause))
	return h
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	healthSvc := newHealth()

	client, err := catalog.NewClient(catalog.Config{
		BaseURL:     cfg.Catalog.BaseURL,
		PageSize:    cfg.Catalog.PageSize,
		Concurrency: cfg.Catalog.Concurrency,
		Timeout:     cfg.Catalog.Timeout,
	}, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create catalog client")
	}
	// The upstream is allowed to flap for a while when the mirror can serve.
	healthSvc.AddReadinessCheck("catalog", 5*time.Second, health.PingCheck(client),
		health.WithFailureThreshold(5),
	)

	var (
		products product.Repository = client
		blobs    auth.BlobStore
	)
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))

		mirror, err := catalog.NewMirror(ctx, client, postgres.NewProductRepository(pool),
			catalog.WithRefreshInterval(cfg.Catalog.MirrorRefresh),
		)
		if err != nil {
			return errors.Wrap(err, "create catalog mirror")
		}
		products = mirror
		blobs = postgres.NewAuthBlobStore(pool)
	} else {
		lg.Info("No database configured, saving users to SQLite", zap.String("path", cfg.SQLitePath))
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return errors.Wrap(err, "open sqlite")
		}
		defer func() { _ = store.Close() }()

		healthSvc.AddReadinessCheck("sqlite", time.Second, health.PingCheck(store))
		blobs = store
	}

	sessions, err := session.NewManager(session.Config{
		IdleTimeout:   cfg.Session.IdleTimeout,
		SweepInterval: cfg.Session.SweepInterval,
	}, blobs, m.MeterProvider().Meter("storefront/session"))
	if err != nil {
		return errors.Wrap(err, "create session manager")
	}
	sessions.Start(ctx)

	h, err := handler.New(handler.Config{
		ImageBaseURL:  cfg.ImageBaseURL,
		ProtectDetail: cfg.Auth.ProtectDetail,
		CookieName:    cfg.Cookie.Name,
		SecureCookie:  cfg.Cookie.Secure,
	}, products, sessions, m.MeterProvider().Meter("storefront/handler"))
	if err != nil {
		return errors.Wrap(err, "create handler")
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", h.Router(
		httpmiddleware.Instrument("storefront-api", httpmiddleware.ChiRoute, m),
		httpmiddleware.LogRequests(httpmiddleware.ChiRoute),
	))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      2 * cfg.Catalog.Timeout,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", handler.SessionHeader, httpmiddleware.RequestIDHeader},
				ExposeHeaders:    []string{handler.SessionHeader, httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.RequestID(),
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
		sessions.Stop()
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
