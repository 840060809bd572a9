// Package main is the entry point for the notifyd service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/bakerapps/notifyd/internal/api"
	"github.com/bakerapps/notifyd/internal/breaker"
	"github.com/bakerapps/notifyd/internal/channel"
	"github.com/bakerapps/notifyd/internal/cleaner"
	"github.com/bakerapps/notifyd/internal/config"
	"github.com/bakerapps/notifyd/internal/delivery"
	"github.com/bakerapps/notifyd/internal/metrics"
	"github.com/bakerapps/notifyd/internal/pipeline"
	"github.com/bakerapps/notifyd/internal/ratelimit"
	"github.com/bakerapps/notifyd/internal/requeue"
	"github.com/bakerapps/notifyd/internal/scheduler"
	"github.com/bakerapps/notifyd/internal/storage"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "/config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting notifyd",
		zap.String("name", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("log_level", cfg.App.LogLevel),
	)

	store, err := delivery.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer store.Close()

	if err := store.Ping(); err != nil {
		logger.Fatal("store ping failed", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	metricsServer := metrics.NewServer(
		cfg.Health.Port,
		cfg.Metrics.Path,
		cfg.Health.LivenessPath,
		cfg.Health.ReadinessPath,
		registry,
	)
	metricsServer.UpdateHealthCheck("store", "ok")

	breakers := breaker.New(cfg.Breaker.FailureThreshold, cfg.Breaker.Cooldown.Duration)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate)
	}

	channels := channel.NewRegistry(channel.Config{
		WebhookTimeout:   cfg.Webhook.Timeout.Duration,
		WebhookUserAgent: cfg.Webhook.UserAgent,
		SMTPHost:         cfg.Email.SMTPHost,
		SMTPPort:         cfg.Email.SMTPPort,
		SMTPUsername:     cfg.Email.SMTPUsername,
		SMTPPassword:     cfg.SMTPPassword,
		EmailFrom:        cfg.Email.From,
		SMTPUseTLS:       cfg.Email.UseTLS,
		SMTPStartTLS:     cfg.Email.StartTLS,
		AddSPFHeader:     cfg.Email.AddSPFHeader,
		AddDKIMHeader:    cfg.Email.AddDKIMHeader,
		MaxAttachment:    cfg.Email.MaxAttachments,
	})
	metricsServer.UpdateHealthCheck("channels", "ok")

	p := pipeline.New(pipeline.Config{
		Workers:  cfg.Queue.Workers,
		Store:    store,
		Breakers: breakers,
		Limiter:  limiter,
		Channels: channels,
		Metrics:  m,
		Logger:   logger,
	})

	sched := scheduler.New(store, p, cfg.Scheduler.PollInterval.Duration, newTrackingID, m, logger)
	rq := requeue.New(store, p, cfg.Requeue.Interval.Duration, cfg.Requeue.OnStartup, cfg.Requeue.StuckAfter.Duration, m, logger)
	cl := cleaner.NewCleaner(store, cfg, m, logger)
	sm := storage.NewMonitor(store, cfg, m, logger)

	router := api.New(store, p, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting metrics server", zap.Int("port", cfg.Health.Port))
		return metricsServer.Start()
	})

	g.Go(func() error {
		logger.Info("starting pipeline", zap.Int("workers", cfg.Queue.Workers))
		p.Start(gCtx)
		return nil
	})

	g.Go(func() error {
		logger.Info("starting scheduler", zap.Duration("poll_interval", cfg.Scheduler.PollInterval.Duration))
		sched.Start(gCtx)
		return nil
	})

	if cfg.Requeue.Enabled {
		g.Go(func() error {
			logger.Info("starting requeue",
				zap.Duration("interval", cfg.Requeue.Interval.Duration),
				zap.Bool("on_startup", cfg.Requeue.OnStartup),
			)
			rq.Start(gCtx)
			return nil
		})
	}

	if cfg.Retention.Enabled {
		g.Go(func() error {
			logger.Info("starting cleaner",
				zap.Duration("interval", cfg.Retention.CleanupInterval.Duration),
				zap.Duration("retention", cfg.Retention.RetentionPeriod.Duration),
			)
			cl.Start(gCtx)
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("starting storage monitor", zap.Duration("interval", cfg.Storage.MonitorInterval.Duration))
		sm.Start(gCtx)
		return nil
	})

	apiServer := &apiHTTPServer{port: cfg.API.Port, handler: router.Engine()}
	g.Go(func() error {
		logger.Info("starting api server", zap.Int("port", cfg.API.Port))
		return apiServer.Start()
	})

	router.SetReady(true)
	metricsServer.SetReady(true)
	logger.Info("notifyd is ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-gCtx.Done():
		logger.Info("context cancelled")
	}

	logger.Info("starting graceful shutdown")
	router.SetReady(false)
	metricsServer.SetReady(false)

	p.Stop()
	logger.Info("pipeline stopped")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server shutdown error", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}

	if err := g.Wait(); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}

	logger.Info("notifyd shutdown complete")
}

func newLogger(level, format string) (*zap.Logger, error) {
	var cfg zap.Config
	if format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}
