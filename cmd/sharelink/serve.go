package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sharelink/docs"
	"sharelink/internal/config"
	"sharelink/internal/database"
	"sharelink/internal/database/migration"
	handlers "sharelink/internal/http/handler"
	"sharelink/internal/http/middleware"
	"sharelink/internal/mailer"
	"sharelink/internal/metrics"
	tracing "sharelink/internal/otel"
	"sharelink/internal/repository/postgres"
	"sharelink/internal/service"
	"sharelink/internal/storage"
)

const (
	shutdownTimeout = 10 * time.Second
	// room for multipart boundaries and headers on top of the file itself
	multipartOverhead = 1 << 20
)

// NewServeCommand creates the 'serve' command, which runs the HTTP API until SIGINT or SIGTERM.
func NewServeCommand(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Example: "$ sharelink serve",
		Short:   "Run the HTTP API",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) error {
	shutdownTracing, err := tracing.Init(ctx, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	db, err := database.NewPostgres(cfg.Database, log)
	if err != nil {
		log.Error("failed to connect to database", zap.Error(err))
		return err
	}
	defer db.Close()

	if err := migration.EnsureMigrated(ctx, db, log, cfg.Database.Host); err != nil {
		return err
	}

	store, err := storage.NewMinIO(cfg.MinIO, log)
	if err != nil {
		log.Error("failed to initialize object storage", zap.Error(err))
		return err
	}

	smtp, err := mailer.NewSMTP(cfg.SMTP, log)
	if err != nil {
		log.Error("failed to initialize mailer", zap.Error(err))
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := service.NewShareService(store, postgres.NewSharePostgres(db), smtp, metrics.New(reg), log, serviceConfig(cfg))

	app, err := newApp(cfg, db, svc, reg, log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		log.Info("starting sharelink", zap.String("addr", addr), zap.String("base_url", cfg.AppBaseURL))
		if err := app.Listen(addr); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down sharelink gracefully...")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		log.Error("sharelink returning an error", zap.Error(err))
		return err
	}
	log.Info("sharelink gracefully stopped")
	return nil
}

func serviceConfig(cfg *config.AppConfig) service.Config {
	return service.Config{
		BaseURL:        cfg.AppBaseURL,
		MaxUploadBytes: cfg.Share.MaxUploadBytes,
		Retention:      cfg.Share.Retention,
	}
}

// newApp builds the fiber app with middleware, share routes and ops endpoints.
func newApp(cfg *config.AppConfig, db *sql.DB, svc service.ShareService, reg *prometheus.Registry, log *zap.Logger) (*fiber.App, error) {
	app := fiber.New(fiber.Config{
		AppName:               "sharelink",
		ErrorHandler:          handlers.ErrorHandler(),
		BodyLimit:             int(cfg.Share.MaxUploadBytes) + multipartOverhead,
		DisableStartupMessage: true,
	})

	prom, err := middleware.NewPrometheusMiddleware(reg, "/health", "/healthz")
	if err != nil {
		return nil, fmt.Errorf("register http metrics: %w", err)
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(otelfiber.Middleware(otelfiber.WithNext(func(c *fiber.Ctx) bool {
		return c.Path() == "/metrics" || c.Path() == "/healthz"
	})))
	app.Use(middleware.Logger(log))
	app.Use(prom.Handler())
	app.Use(middleware.CORS(cfg.AllowedClients))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	handlers.RegisterRoutes(app, db, svc, log)

	// Swagger UI; host and scheme are fixed before the first request is served
	docs.SwaggerInfo.Host, docs.SwaggerInfo.Schemes = swaggerTarget(cfg)
	app.Get("/swagger/*", swagger.HandlerDefault)

	return app, nil
}

// swaggerTarget derives the documented host and scheme from the public base URL, falling back to APP_HOST.
func swaggerTarget(cfg *config.AppConfig) (string, []string) {
	if u, err := url.Parse(cfg.AppBaseURL); err == nil && u.Host != "" {
		return u.Host, []string{u.Scheme}
	}
	return cfg.AppHost, []string{"http"}
}
