package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/notifyd/notifyd/internal/config"
	"github.com/notifyd/notifyd/internal/dispatcher"
	"github.com/notifyd/notifyd/internal/infra/postgresql"
	"github.com/notifyd/notifyd/internal/infra/postgresql/migrations"
	infraredis "github.com/notifyd/notifyd/internal/infra/redis"
	"github.com/notifyd/notifyd/internal/observability"
	"github.com/notifyd/notifyd/internal/provider"
	"github.com/notifyd/notifyd/internal/ratelimit"
	"github.com/notifyd/notifyd/internal/registry"
	"github.com/notifyd/notifyd/internal/repository"
	"github.com/notifyd/notifyd/internal/service"
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

	metrics := observability.NewMetrics()

	reg := registry.New(providerRepo, registry.BreakerConfig{
		FailureThreshold: cfg.CircuitFailureThreshold,
		CoolDown:         cfg.CircuitCoolDown(),
		MaxCoolDown:      cfg.CircuitMaxCoolDown(),
	}, cfg.ProviderRefreshInterval(), logger)

	providerConfigs, err := cfg.Providers()
	if err != nil {
		logger.Fatal("provider config parse failed", zap.Error(err))
	}
	for i := range providerConfigs {
		if err := providerRepo.Upsert(context.Background(), &providerConfigs[i]); err != nil {
			logger.Fatal("provider seed failed", zap.Error(err))
		}
	}
	if err := reg.Refresh(context.Background()); err != nil {
		logger.Fatal("provider registry load failed", zap.Error(err))
	}

	directory, err := provider.NewRelayDirectory(reg)
	if err != nil {
		logger.Fatal("provider directory init failed", zap.Error(err))
	}

	ratePolicy := ratelimit.NewPolicy(ratelimit.ChannelHourly{
		Email: cfg.RecipientEmailPerHour,
		SMS:   cfg.RecipientSMSPerHour,
		Push:  cfg.RecipientPushPerHour,
	})
	for _, pc := range providerConfigs {
		ratePolicy.SetProviderRate(pc.Name, pc.RatePerSec, pc.Burst)
	}

	var limiter ratelimit.Limiter
	if rdb != nil {
		limiter, err = ratelimit.NewRedisLimiter(rdb, ratelimit.WindowLimitsFromPolicy(ratePolicy))
		if err != nil {
			logger.Fatal("rate limiter init failed", zap.Error(err))
		}
	} else {
		limiter = ratelimit.NewLocalLimiter(ratePolicy.Limits)
	}

	backoff := dispatcher.NewBackoffPolicy(cfg.BackoffBase(), cfg.BackoffMax(), rand.Float64)

	disp, err := dispatcher.New(
		dispatcher.Config{
			Owner:                workerOwner(),
			Concurrency:          cfg.WorkerConcurrency,
			PollInterval:         cfg.PollInterval(),
			LeaseDuration:        cfg.LeaseDuration(),
			ProviderTimeout:      cfg.ProviderTimeout(),
			RateRetryDelay:       cfg.RateRetryDelay(),
			CircuitCountFailover: cfg.CircuitCountFailover,
		},
		notificationRepo,
		attemptRepo,
		queueRepo,
		reg,
		directory,
		limiter,
		backoff,
		metrics,
		logger,
		uuid.NewString,
	)
	if err != nil {
		logger.Fatal("dispatcher init failed", zap.Error(err))
	}

	opsService, err := service.NewOpsService(queueRepo, providerRepo, reg, cfg.MonitorInterval(), metrics, logger)
	if err != nil {
		logger.Fatal("ops service init failed", zap.Error(err))
	}

	metricsServer := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.MetricsPort),
		Handler: metricsMux(metrics),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("dispatcher started", zap.Int("concurrency", cfg.WorkerConcurrency))
		return disp.Run(ctx)
	})
	group.Go(func() error {
		return reg.Start(ctx)
	})
	group.Go(func() error {
		return opsService.Run(ctx)
	})
	group.Go(func() error {
		logger.Info("metrics listening", zap.Int("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
	}
}

func metricsMux(metrics *observability.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func workerOwner() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])
}
