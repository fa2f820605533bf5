package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/notifyd/notifyd/internal/config"
	"github.com/notifyd/notifyd/internal/dedup"
	"github.com/notifyd/notifyd/internal/handler"
	"github.com/notifyd/notifyd/internal/infra/postgresql"
	"github.com/notifyd/notifyd/internal/infra/postgresql/migrations"
	infraredis "github.com/notifyd/notifyd/internal/infra/redis"
	"github.com/notifyd/notifyd/internal/observability"
	"github.com/notifyd/notifyd/internal/registry"
	"github.com/notifyd/notifyd/internal/render"
	"github.com/notifyd/notifyd/internal/repository"
	"github.com/notifyd/notifyd/internal/scheduler"
	"github.com/notifyd/notifyd/internal/service"
	"github.com/notifyd/notifyd/internal/transport"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	var rdb *goredis.Client
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer rdb.Close()
	}

	notificationRepo := repository.NewGormNotificationRepo(db)
	attemptRepo := repository.NewGormAttemptRepo(db)
	queueRepo := repository.NewGormQueueRepo(db)
	providerRepo := repository.NewGormProviderRepo(db)

	renderer := render.NewTemplateRenderer()
	if cfg.TemplateDir != "" {
		if err := renderer.LoadDir(cfg.TemplateDir); err != nil {
			logger.Fatal("template load failed", zap.String("dir", cfg.TemplateDir), zap.Error(err))
		}
	}

	policy, err := scheduler.NewPolicy(cfg.DigestCron)
	if err != nil {
		logger.Fatal("scheduling policy init failed", zap.Error(err))
	}

	var dedupStore dedup.Store
	if rdb != nil {
		dedupStore, err = dedup.NewRedisStore(rdb)
		if err != nil {
			logger.Fatal("dedup store init failed", zap.Error(err))
		}
	} else {
		dedupStore = dedup.NewMemoryStore()
	}

	metrics := observability.NewMetrics()

	notificationService, err := service.NewNotificationService(
		notificationRepo,
		attemptRepo,
		queueRepo,
		renderer,
		dedup.NewFingerprinter(cfg.DedupWindow()),
		dedupStore,
		policy,
		cfg.DedupWindow(),
		cfg.MaxAttempts,
		metrics,
		logger,
	)
	if err != nil {
		logger.Fatal("notification service init failed", zap.Error(err))
	}

	receiptService, err := service.NewReceiptService(notificationRepo, logger)
	if err != nil {
		logger.Fatal("receipt service init failed", zap.Error(err))
	}

	reg := registry.New(providerRepo, registry.BreakerConfig{
		FailureThreshold: cfg.CircuitFailureThreshold,
		CoolDown:         cfg.CircuitCoolDown(),
		MaxCoolDown:      cfg.CircuitMaxCoolDown(),
	}, cfg.ProviderRefreshInterval(), logger)

	if err := seedProviders(cfg, providerRepo, logger); err != nil {
		logger.Fatal("provider seed failed", zap.Error(err))
	}
	if err := reg.Refresh(context.Background()); err != nil {
		logger.Fatal("provider registry load failed", zap.Error(err))
	}

	opsService, err := service.NewOpsService(queueRepo, providerRepo, reg, cfg.MonitorInterval(), metrics, logger)
	if err != nil {
		logger.Fatal("ops service init failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterNotificationRoutes(app, notificationService); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}
	if err := handler.RegisterReceiptRoutes(app, receiptService); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}
	if err := handler.RegisterOpsRoutes(app, opsService); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	metricsServer := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.MetricsPort),
		Handler: metricsMux(metrics),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("api listening", zap.Int("port", cfg.APIPort))
		return app.Listen(":" + strconv.Itoa(cfg.APIPort))
	})
	group.Go(func() error {
		logger.Info("metrics listening", zap.Int("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return reg.Start(ctx)
	})
	group.Go(func() error {
		return opsService.Run(ctx)
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = metricsServer.Shutdown(shutdownCtx)
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := group.Wait(); err != nil {
		logger.Error("api stopped with error", zap.Error(err))
	}
}

func metricsMux(metrics *observability.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func seedProviders(cfg *config.Config, repo repository.ProviderRepository, logger *zap.Logger) error {
	configs, err := cfg.Providers()
	if err != nil {
		return err
	}

	for i := range configs {
		if err := repo.Upsert(context.Background(), &configs[i]); err != nil {
			return err
		}
		logger.Info("provider configured",
			zap.String("name", configs[i].Name),
			zap.String("channel", configs[i].Channel.String()),
			zap.Int("priority", configs[i].Priority),
		)
	}

	return nil
}
