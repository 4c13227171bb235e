package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/sarathsp06/herald/internal/cache"
	"github.com/sarathsp06/herald/internal/config"
	"github.com/sarathsp06/herald/internal/logger"
	"github.com/sarathsp06/herald/internal/reconcile"
	"github.com/sarathsp06/herald/internal/webhooks"
)

var (
	configFile = flag.String("config", "", "Path to config file")
	envPath    = flag.String("env", "", "Directory holding .env files")
	once       = flag.Bool("once", false, "Run a single sweep and exit")
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
		Tags:      map[string]string{"service": "reconcile"},
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Flush(2 * time.Second)
	log := logger.NewLogger("reconcile")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	webhookCache, closeCache, err := cache.New(cfg.Cache)
	if err != nil {
		log.Fatal("Failed to create webhook cache", zap.Error(err))
	}
	defer func() { _ = closeCache() }()

	repo := webhooks.NewRepository(pool)
	registry := webhooks.NewRegistry(repo, webhookCache, log)
	sweeper := reconcile.New(repo, registry, reconcile.Config{
		PoolSize:  cfg.Reconcile.PoolSize,
		BatchSize: cfg.Reconcile.BatchSize,
		Interval:  cfg.Reconcile.Interval,
	}, log)

	if *once {
		stats, err := sweeper.RunOnce(ctx)
		if err != nil {
			log.Error("Reconcile sweep failed", zap.Error(err))
			os.Exit(1)
		}
		if stats.Failed > 0 {
			os.Exit(2)
		}
		return
	}

	log.Info("Starting reconcile loop", zap.Duration("interval", cfg.Reconcile.Interval))
	if err := sweeper.Run(ctx); err != nil {
		log.Error("Reconcile loop stopped", zap.Error(err))
	}
}
