package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kkraso01/cognicodeide/internal/config"
	"github.com/kkraso01/cognicodeide/internal/db"
	"github.com/kkraso01/cognicodeide/internal/events"
	"github.com/kkraso01/cognicodeide/internal/executor"
	"github.com/kkraso01/cognicodeide/internal/logging"
	"github.com/kkraso01/cognicodeide/internal/metrics"
	"github.com/kkraso01/cognicodeide/internal/queue"
	"github.com/kkraso01/cognicodeide/internal/store"
)

// The worker consumes execution jobs from the broker. Messages carry only
// a run id; the request payload is re-read from the runs table so the
// database stays the single source of truth.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	configPath, err := config.ResolveConfigPath(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to resolve config file: %v", err)
	}
	fileCfg, err := config.LoadFileConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config file: %v", err)
	}
	if err := config.ApplyFileConfig(cfg, fileCfg); err != nil {
		log.Fatalf("Failed to apply config file: %v", err)
	}

	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	fs.String("config", "", "Path to a yaml/toml config file")
	sweep := fs.Bool("sweep", false, "Run one stale-run sweep and exit")
	cfg.BindFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatalf("Failed to parse flags: %v", err)
	}

	logger := logging.Init(cfg.LogFormat, cfg.ProcessID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required for the worker")
		os.Exit(1)
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	st := store.NewDB(pool)

	if *sweep {
		reconciler := queue.NewReconciler(st, cfg.SweepGrace, cfg.SweepSchedule, logger)
		if err := reconciler.Sweep(ctx); err != nil {
			logger.Error("Sweep failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	launcher := executor.Launcher(executor.HostLauncher{})
	if cfg.Launcher == config.LauncherDocker {
		launcher = executor.DockerLauncher{
			Image:       cfg.DockerImage,
			MemoryLimit: cfg.DockerMemoryLimit,
			CPULimit:    cfg.DockerCPULimit,
		}
	}
	exec := executor.New(launcher, logger,
		executor.WithRunTimeout(cfg.RunTimeout),
		executor.WithBuildTimeout(cfg.BuildTimeout),
		executor.WithMaxOutput(cfg.MaxOutputBytes),
	)

	dispatcher := queue.NewDispatcher(st, exec, cfg.MaxConcurrent, events.NoopPublisher{}, logger, cfg.ProcessID)

	// Prefetch matches the limiter so the broker never hands this worker
	// more jobs than it can run.
	consumer, err := queue.NewConsumer(cfg.AMQPURL, cfg.AMQPQueue, st, dispatcher, cfg.MaxConcurrent, logger)
	if err != nil {
		logger.Error("Failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	reconciler := queue.NewReconciler(st, cfg.SweepGrace, cfg.SweepSchedule, logger)
	if err := reconciler.Start(ctx); err != nil {
		logger.Error("Failed to start reconciler", "error", err)
		os.Exit(1)
	}
	defer reconciler.Stop()

	metrics.StartCollector(ctx, pool, 15*time.Second, logger)

	logger.Info("Worker started",
		"queue", cfg.AMQPQueue,
		"launcher", cfg.Launcher,
		"max_concurrent", cfg.MaxConcurrent,
	)
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Consumer exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped cleanly")
}
