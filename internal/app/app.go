package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	"github.com/xenking/dyson-admin/internal/domain/product"
	"github.com/xenking/dyson-admin/internal/dysonapi"
	"github.com/xenking/dyson-admin/internal/handler"
	"github.com/xenking/dyson-admin/internal/producttable"
	"github.com/xenking/dyson-admin/internal/query"
	"github.com/xenking/dyson-admin/internal/session"
	"github.com/xenking/dyson-admin/internal/storage/postgres"
	"github.com/xenking/dyson-admin/pkg/health"
	"github.com/xenking/dyson-admin/pkg/httpmiddleware"
)

// catalogBackend is a product.Catalog that can be probed for readiness.
type catalogBackend interface {
	product.Catalog
	health.Pinger
}

// openCatalog connects the configured backend. The returned func releases
// it.
func openCatalog(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) (catalogBackend, func(), error) {
	switch cfg.Backend {
	case BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "run migrations")
		}
		lg.Info("Using postgres catalog")
		return pgCatalog{CatalogRepository: postgres.NewCatalogRepository(pool), pool: pool}, pool.Close, nil
	default:
		client, err := dysonapi.New(dysonapi.Config{
			BaseURL:        cfg.API.BaseURL,
			Token:          cfg.API.Token,
			Timeout:        cfg.API.Timeout,
			TracerProvider: m.TracerProvider(),
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "create catalog client")
		}
		lg.Info("Using catalog API", zap.String("base_url", cfg.API.BaseURL))
		return client, func() {}, nil
	}
}

// pgCatalog adds the pool's Ping to the repository.
type pgCatalog struct {
	*postgres.CatalogRepository
	pool interface{ Ping(context.Context) error }
}

func (c pgCatalog) Ping(ctx context.Context) error { return c.pool.Ping(ctx) }

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.String("backend", cfg.Backend))

	catalog, closeCatalog, err := openCatalog(ctx, lg, m, cfg)
	if err != nil {
		return err
	}
	defer closeCatalog()

	loc, err := time.LoadLocation(cfg.Screen.TimeZone)
	if err != nil {
		return errors.Wrap(err, "load time zone")
	}

	// Health check service.
	healthSvc := health.New(lg.Named("health"))
	healthSvc.AddReadiness(health.Check{
		Name:    "catalog",
		Timeout: 5 * time.Second,
		Func:    health.PingCheck(catalog),
	})
	healthSvc.AddLiveness(health.Check{Name: "goroutines", Timeout: time.Second, Func: health.GoroutineCountCheck(50000)})
	healthSvc.AddLiveness(health.Check{Name: "gc", Timeout: time.Second, Func: health.GCMaxPauseCheck(time.Second)})
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// One product table per admin session. Identical reads from different
	// sessions share one remote call.
	screenOpts := producttable.Options{
		Flights:           query.NewGroup(),
		ResetPageOnFilter: cfg.Screen.ResetPageOnFilter,
		RenderWait:        cfg.Screen.RenderWait,
		FetchTimeout:      cfg.Screen.FetchTimeout,
		ToastTTL:          cfg.Screen.ToastTTL,
		Location:          loc,
		Logger:            lg.Named("screen"),
		TracerProvider:    m.TracerProvider(),
		MeterProvider:     m.MeterProvider(),
	}
	sessions := session.NewStore(ctx, lg.Named("session"), session.Config{
		IdleTTL:     cfg.Session.IdleTTL,
		Secure:      cfg.Session.SecureCookie,
		MaxSessions: cfg.Session.MaxSessions,
	}, func(ctx context.Context) *producttable.Screen {
		return producttable.New(ctx, catalog, screenOpts)
	})
	defer sessions.Close()
	sessions.StartSweeper(ctx)

	h, err := handler.NewHandler(handler.HandlerConfig{
		LoadingRefresh: cfg.Screen.LoadingRefresh,
		PageMiddleware: []func(http.Handler) http.Handler{
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.PageMax,
				Window:  cfg.RateLimit.Window,
				KeyFunc: httpmiddleware.ClientIP,
			}),
		},
		MutationMiddleware: []func(http.Handler) http.Handler{
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: httpmiddleware.CookieKey(session.CookieName),
			}),
		},
	}, sessions)
	if err != nil {
		return errors.Wrap(err, "create handler")
	}

	router := chi.NewRouter()
	router.Use(
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		httpmiddleware.RequestID(),
		httpmiddleware.Instrument("dyson-admin", m),
		httpmiddleware.LogRequests(),
	)
	if cfg.Gzip.Enabled {
		gz, err := httpmiddleware.Gzip(cfg.Gzip.Level)
		if err != nil {
			return errors.Wrap(err, "create gzip middleware")
		}
		router.Use(gz)
	}
	healthSvc.Mount(router)
	h.RegisterRoutes(router)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Screen.RenderWait + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           router,
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
