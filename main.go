package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/sarathsp06/herald/internal/admin"
	"github.com/sarathsp06/herald/internal/audit"
	"github.com/sarathsp06/herald/internal/auth"
	"github.com/sarathsp06/herald/internal/cache"
	"github.com/sarathsp06/herald/internal/config"
	connectserver "github.com/sarathsp06/herald/internal/connect"
	"github.com/sarathsp06/herald/internal/dispatch"
	"github.com/sarathsp06/herald/internal/emitter"
	grpcserver "github.com/sarathsp06/herald/internal/grpc"
	"github.com/sarathsp06/herald/internal/logger"
	"github.com/sarathsp06/herald/internal/notify"
	"github.com/sarathsp06/herald/internal/observability"
	"github.com/sarathsp06/herald/internal/queue"
	"github.com/sarathsp06/herald/internal/tracker"
	"github.com/sarathsp06/herald/internal/webhooks"
	"github.com/sarathsp06/herald/internal/workers"
)

var version = "dev"

var (
	configFile = flag.String("config", "", "Path to config file")
	envPath    = flag.String("env", "", "Directory holding .env files")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile, *envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags:      map[string]string{"service": "herald"},
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Flush(2 * time.Second)

	if err := run(cfg); err != nil {
		logger.NewLogger("main").Error("Herald stopped with error", zap.Error(err))
		logger.Flush(2 * time.Second)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log := logger.NewLogger("main")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelCfg := observability.ConfigFrom(cfg.Telemetry, version)
	shutdownOtel, err := observability.Setup(ctx, otelCfg)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(sctx); err != nil {
			log.Warn("Failed to shut down telemetry", zap.Error(err))
		}
	}()
	metrics, err := observability.NewMetrics()
	if err != nil {
		log.Warn("Metrics disabled", zap.Error(err))
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("parse database url: %w", err)
	}
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Database.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	webhookCache, closeCache, err := cache.New(cfg.Cache)
	if err != nil {
		return err
	}
	defer func() { _ = closeCache() }()

	var auditor audit.Publisher = audit.Nop{}
	if cfg.NATS.URL != "" {
		pub, err := audit.NewNATSPublisher(ctx, audit.Config{
			URL:            cfg.NATS.URL,
			StreamName:     cfg.NATS.StreamName,
			SubjectPrefix:  cfg.NATS.SubjectPrefix,
			ConnectionName: cfg.NATS.ConnectionName,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
		}, logger.NewLogger("audit"))
		if err != nil {
			return fmt.Errorf("connect audit stream: %w", err)
		}
		defer pub.Close()
		auditor = pub
	}

	repo := webhooks.NewRepository(pool)
	registry := webhooks.NewRegistry(repo, webhookCache, logger.NewLogger("registry"))

	manager, err := queue.NewManager(pool, queue.Config{
		DeliveryWorkers:     cfg.Queue.DeliveryWorkers,
		NotificationWorkers: cfg.Queue.NotificationWorkers,
		MaxAttempts:         cfg.Queue.MaxAttempts,
		RetryPolicy:         queue.NewRetryPolicy(cfg.Queue.RetryInitial, cfg.Queue.RetryMax),
	}, logger.NewLogger("queue"))
	if err != nil {
		return err
	}

	notifier := notify.NewQueueNotifier(manager, logger.NewLogger("notify"))
	failures := tracker.New(registry, notifier, tracker.Config{
		NotifyThresholds: cfg.Failures.NotifyThresholds,
		DisableThreshold: cfg.Failures.DisableThreshold,
	},
		tracker.WithLogger(logger.NewLogger("tracker")),
		tracker.WithAudit(auditor),
		tracker.WithMetrics(metrics),
	)
	dispatcher := dispatch.New(manager, cfg.Queue.MaxAttempts)
	events := emitter.New(webhookCache, repo, dispatcher,
		emitter.WithLogger(logger.NewLogger("emitter")),
		emitter.WithMetrics(metrics),
	)

	queue.AddWorker(manager, workers.NewDeliveryWorker(repo, failures, workers.DeliveryConfig{
		Timeout:   cfg.Delivery.Timeout,
		UserAgent: cfg.Delivery.UserAgent,
	}, metrics, logger.NewLogger("delivery")))
	queue.AddWorker(manager, workers.NewNotificationWorker(
		notify.NewLogMailer(logger.NewLogger("mailer")),
		logger.NewLogger("notification"),
	))

	svc := admin.NewService(registry, failures, dispatcher, events, admin.Options{
		AllowInsecureURLs: cfg.Delivery.AllowInsecureURLs,
		Audit:             auditor,
		Logger:            logger.NewLogger("admin"),
	})
	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}
	path, handler, err := connectserver.NewWebhookServer(svc, logger.NewLogger("connect")).Handler(verifier)
	if err != nil {
		return err
	}
	httpServer := connectserver.NewHTTPServer(
		cfg.Server.Addr,
		connectserver.NewRouter(path, handler, logger.NewLogger("http")),
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
	)

	healthLis, err := net.Listen("tcp", cfg.Server.HealthAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.HealthAddr, err)
	}
	health := grpcserver.NewHealthServer(pool, 10*time.Second, logger.NewLogger("health"))

	if err := manager.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("Admin API listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin api: %w", err)
		}
	}()
	go func() {
		log.Info("Health server listening", zap.String("addr", cfg.Server.HealthAddr))
		if err := health.Serve(ctx, healthLis); err != nil {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case runErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("Admin API shutdown incomplete", zap.Error(err))
	}
	if err := manager.Stop(shutdownCtx); err != nil {
		log.Warn("Queue shutdown incomplete", zap.Error(err))
	}
	return runErr
}
