package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/kkraso01/cognicodeide/internal/admission"
	"github.com/kkraso01/cognicodeide/internal/config"
	"github.com/kkraso01/cognicodeide/internal/db"
	"github.com/kkraso01/cognicodeide/internal/events"
	"github.com/kkraso01/cognicodeide/internal/executor"
	"github.com/kkraso01/cognicodeide/internal/logging"
	"github.com/kkraso01/cognicodeide/internal/metrics"
	"github.com/kkraso01/cognicodeide/internal/queue"
	"github.com/kkraso01/cognicodeide/internal/store"
	"github.com/kkraso01/cognicodeide/internal/web"
)

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

	fs := flag.NewFlagSet("runlabd", flag.ExitOnError)
	fs.String("config", "", "Path to a yaml/toml config file")
	cfg.BindFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatalf("Failed to parse flags: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger := logging.Init(cfg.LogFormat, cfg.ProcessID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		st   store.Store
		pool *pgxpool.Pool
	)
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		st = store.NewDB(pool)
	} else {
		// Useful for local development; runs are lost on restart.
		logger.Warn("DATABASE_URL not set, using in-memory run store")
		st = store.NewMemory()
	}

	broker := events.NewBroker(64)

	launcher, err := buildLauncher(cfg)
	if err != nil {
		logger.Error("Failed to configure launcher", "error", err)
		os.Exit(1)
	}
	exec := executor.New(launcher, logger,
		executor.WithRunTimeout(cfg.RunTimeout),
		executor.WithBuildTimeout(cfg.BuildTimeout),
		executor.WithMaxOutput(cfg.MaxOutputBytes),
	)

	dispatcher := queue.NewDispatcher(st, exec, cfg.MaxConcurrent, broker, logger, cfg.ProcessID)

	var backend queue.Backend
	switch cfg.QueueBackend {
	case config.BackendAMQP:
		// Distributed mode: this process only admits and publishes; a
		// separate worker fleet consumes the queue.
		amqpBackend, err := queue.NewAMQPBackend(cfg.AMQPURL, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("Failed to connect to broker", "error", err)
			os.Exit(1)
		}
		backend = amqpBackend
	default:
		backend = queue.NewPool(dispatcher, logger,
			queue.WithCapacity(cfg.QueueCapacity),
			queue.WithWorkers(cfg.WorkerCount),
			queue.WithEnqueueWait(cfg.EnqueueWait),
		)
	}
	if err := backend.Start(ctx); err != nil {
		logger.Error("Failed to start queue backend", "error", err)
		os.Exit(1)
	}

	reconciler := queue.NewReconciler(st, cfg.SweepGrace, cfg.SweepSchedule, logger)
	if err := reconciler.Start(ctx); err != nil {
		logger.Error("Failed to start reconciler", "error", err)
		os.Exit(1)
	}
	defer reconciler.Stop()

	if pool != nil {
		metrics.StartCollector(ctx, pool, 15*time.Second, logger)
	}
	startMemoryLogger(ctx, logger, memoryLogIntervalFromEnv(logger))

	allowlist, err := web.ParseCIDRAllowlist(cfg.OpsAllowCIDRs)
	if err != nil {
		logger.Error("Failed to parse ops allowlist", "error", err)
		os.Exit(1)
	}
	tlsConfig, err := web.BuildTLSConfig(cfg.TLSCert, cfg.TLSKey, cfg.TLSClientCA)
	if err != nil {
		logger.Error("Failed to build TLS config", "error", err)
		os.Exit(1)
	}

	ctrl := admission.NewController(st, backend, broker, logger,
		admission.WithThrottle(cfg.ThrottleInterval),
		admission.WithSnapshotThreshold(cfg.SnapshotThreshold),
	)
	server := web.NewServer(st, ctrl, cfg.HTTPAddr, allowlist, tlsConfig, broker, logger)

	logger.Info("Starting server",
		"addr", cfg.HTTPAddr,
		"backend", cfg.QueueBackend,
		"launcher", cfg.Launcher,
		"max_concurrent", cfg.MaxConcurrent,
		"queue_capacity", cfg.QueueCapacity,
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}

	// In-flight executions get the shutdown window to finish and persist.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := backend.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Queue backend shutdown error", "error", err)
	}
	logger.Info("Server stopped cleanly")
}

func buildLauncher(cfg *config.Config) (executor.Launcher, error) {
	switch cfg.Launcher {
	case config.LauncherDocker:
		return executor.DockerLauncher{
			Image:       cfg.DockerImage,
			MemoryLimit: cfg.DockerMemoryLimit,
			CPULimit:    cfg.DockerCPULimit,
		}, nil
	case config.LauncherHost, "":
		return executor.HostLauncher{}, nil
	default:
		return nil, errors.New("unknown launcher: " + cfg.Launcher)
	}
}
