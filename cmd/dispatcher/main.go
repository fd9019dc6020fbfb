package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/go-redis/redis/v8"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/betanest/push-dispatch/internal/config"
	"github.com/betanest/push-dispatch/internal/repository"
	"github.com/betanest/push-dispatch/internal/routes"
	"github.com/betanest/push-dispatch/internal/services"
	"github.com/betanest/push-dispatch/pkg/logger"
	"github.com/betanest/push-dispatch/pkg/metrics"
	"github.com/betanest/push-dispatch/pkg/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logr := logger.New(cfg.LogLevel)
	logr.Info("starting push dispatcher", slog.String("app", cfg.AppName))

	account, key, err := services.ParseServiceAccount(cfg.FCMServiceAccountKey)
	if err != nil {
		logr.Error("invalid service account key", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		logr.Error("failed to connect database", slog.Any("error", err))
		os.Exit(1)
	}
	store := repository.NewStore(db)

	var credCache services.CredentialCache
	if cfg.RedisURL != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		cache := repository.NewCredentialCache(rdb, cfg.AppName)
		defer cache.Close()
		credCache = cache
	}

	metricsCollector := metrics.New()
	minter := services.NewMinter(account, key, cfg.OAuthTokenURL, cfg.ProviderTimeout, credCache, logr)
	gateway := services.NewFCMGateway(cfg.FCMAPIURL, account.ProjectID, cfg.ProviderTimeout, logr)

	dispatcher := services.NewDispatcher(store, minter, gateway, metricsCollector, logr, services.Options{
		FanOutConcurrency: cfg.FanOutConcurrency,
		GatewayFailFast:   cfg.GatewayFailFast,
		MarkRetry: retry.Config{
			MaxAttempts:    cfg.MarkRetryMaxAttempts,
			InitialBackoff: cfg.MarkRetryInitialBackoff,
			MaxBackoff:     cfg.MarkRetryMaxBackoff,
		},
	})

	dispatchURL := cfg.DispatchURL
	if dispatchURL == "" {
		dispatchURL = fmt.Sprintf("http://127.0.0.1:%s/v1/dispatch", cfg.HTTPPort)
	}
	collector := services.NewCollector(store, dispatchURL, cfg.DispatchTimeout, metricsCollector, logr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	handler := routes.NewRouter(dispatcher, collector, metricsCollector, logr, started)
	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: handler,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Error("http server error", slog.Any("error", err))
		}
	}()

	scheduler := startScheduler(cfg, collector, logr)

	<-ctx.Done()

	if scheduler != nil {
		scheduler.Stop()
	}
	shutdownHTTP(srv, logr)
	logr.Info("push dispatcher stopped")
}

// startScheduler runs the collection pass on a fixed interval when the
// service is deployed without an external cron trigger. Disabled by default.
func startScheduler(cfg *config.Config, collector *services.Collector, logr *slog.Logger) *gocron.Scheduler {
	if cfg.CronInterval <= 0 {
		return nil
	}

	scheduler := gocron.NewScheduler(time.UTC)
	_, err := scheduler.Every(cfg.CronInterval).Do(func() {
		runCtx, cancel := context.WithTimeout(context.Background(), cfg.DispatchTimeout)
		defer cancel()
		if _, _, err := collector.Run(runCtx); err != nil {
			logr.Error("scheduled collection pass failed", slog.Any("error", err))
		}
	})
	if err != nil {
		logr.Error("failed to schedule collection pass", slog.Any("error", err))
		return nil
	}
	scheduler.StartAsync()
	logr.Info("built-in scheduler started", slog.Duration("interval", cfg.CronInterval))
	return scheduler
}

func shutdownHTTP(srv *http.Server, logr *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("failed to shutdown http server", slog.Any("error", err))
	}
}
