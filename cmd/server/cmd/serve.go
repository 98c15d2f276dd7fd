package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/iliyamo/eventapp/internal/auth"
	"github.com/iliyamo/eventapp/internal/config"
	"github.com/iliyamo/eventapp/internal/database"
	"github.com/iliyamo/eventapp/internal/handler"
	"github.com/iliyamo/eventapp/internal/middleware"
	"github.com/iliyamo/eventapp/internal/queue"
	"github.com/iliyamo/eventapp/internal/rbac"
	"github.com/iliyamo/eventapp/internal/repository"
	"github.com/iliyamo/eventapp/internal/router"
	"github.com/iliyamo/eventapp/internal/storage"
	"github.com/iliyamo/eventapp/internal/tenant"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(parent context.Context) error {
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	db, err := openGlobal(startCtx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	catalog, err := loadCatalog(startCtx, db, cfg.RoleSeedPath, logger)
	if err != nil {
		return err
	}

	// tenant databases
	admin, err := database.Open(startCtx, database.DSN(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, ""), database.GlobalPool)
	if err != nil {
		return err
	}
	defer admin.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cache, err := tenant.NewCache(cfg.TenantCacheCapacity, tenant.CloseDB(logger),
		tenant.WithCacheLogger(logger), tenant.WithCacheMetrics(tenant.NewCacheMetrics(reg)))
	if err != nil {
		return err
	}
	defer cache.Close()

	tenantDSN := func(name string) string {
		return database.DSN(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, name)
	}
	tenants := tenant.NewManager(admin, cache, tenantDSN, tenant.EmbeddedSchema, tenant.PoolOpener, cfg.TenantDBPrefix, logger)

	// tokens
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.AccessTTL, cfg.JWTIssuer)
	gate := auth.NewGate(tokens, string(catalog.Default(rbac.NamespaceGlobal).Scope()))

	// optional infrastructure
	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb == nil {
		logger.Warn().Msg("redis unavailable; rate limiting and response cache disabled")
	} else {
		defer rdb.Close()
	}

	var objects storage.ObjectStore
	s3cfg := config.LoadS3Config()
	if store, err := storage.NewS3Store(startCtx, s3cfg); err == nil {
		objects = store
	} else if !errors.Is(err, storage.ErrDisabled) {
		return err
	} else {
		logger.Warn().Msg("S3_BUCKET not set; profile pictures disabled")
	}

	publisher := queue.NewPublisher(cfg.RabbitMQURL, logger)
	if cfg.RabbitMQURL != "" {
		consumer := queue.NewConsumer(cfg.RabbitMQURL, cfg.TenantLogPath, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("tenant consumer stopped")
			}
		}()
	}

	users := repository.NewUserRepo(db)
	events := repository.NewEventRepo(db)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))

	limit := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

	router.RegisterRoutes(e, cfg.WebsiteURL, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	router.RegisterRoles(e, &handler.RoleHandler{Catalog: catalog}, middleware.NewRedisCache(config.LoadCacheConfig(), rdb))
	router.RegisterUsers(e, &handler.UserHandler{
		Users:      users,
		Catalog:    catalog,
		Tokens:     tokens,
		Objects:    objects,
		BcryptCost: cfg.BcryptCost,
		MaxUpload:  s3cfg.MaxUploadBytes,
		Logger:     logger.With().Str("component", "users").Logger(),
	}, gate, catalog, limit)
	router.RegisterEvents(e, &handler.EventHandler{
		Events:    events,
		Users:     users,
		Tenants:   tenants,
		Catalog:   catalog,
		Tokens:    tokens,
		Publisher: publisher,
		Logger:    logger.With().Str("component", "events").Logger(),
	}, gate, catalog, limit)

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return e.Shutdown(shutdownCtx)
}
