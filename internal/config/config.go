package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	BackendInProcess = "inprocess"
	BackendAMQP      = "amqp"

	LauncherHost   = "host"
	LauncherDocker = "docker"
)

type Config struct {
	DatabaseURL string
	HTTPAddr    string
	LogFormat   string // "json" or "text"
	ProcessID   string

	// Ops endpoints (/healthz, /metrics) can be fenced off from the
	// public API surface.
	OpsAllowCIDRs string
	TLSCert       string
	TLSKey        string
	TLSClientCA   string

	// Backend selection: values only, behavior is identical (§ backend
	// contract). AMQP settings are ignored for the in-process backend.
	QueueBackend string
	AMQPURL      string
	AMQPQueue    string

	QueueCapacity int
	WorkerCount   int
	MaxConcurrent int
	EnqueueWait   time.Duration

	ThrottleInterval  time.Duration
	RunTimeout        time.Duration
	BuildTimeout      time.Duration
	SnapshotThreshold int
	MaxOutputBytes    int

	SweepSchedule string
	SweepGrace    time.Duration

	Launcher          string
	DockerImage       string
	DockerMemoryLimit string
	DockerCPULimit    string

	ShutdownTimeout time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:          ":8080",
		LogFormat:         "json",
		QueueBackend:      BackendInProcess,
		AMQPQueue:         "runlab.jobs",
		QueueCapacity:     200,
		WorkerCount:       2,
		MaxConcurrent:     4,
		EnqueueWait:       time.Second,
		ThrottleInterval:  2 * time.Second,
		RunTimeout:        30 * time.Second,
		BuildTimeout:      120 * time.Second,
		SnapshotThreshold: 256 * 1024,
		MaxOutputBytes:    1024 * 1024,
		SweepSchedule:     "@every 1m",
		SweepGrace:        10 * time.Minute,
		Launcher:          LauncherHost,
		DockerImage:       "runlab-sandbox:latest",
		DockerMemoryLimit: "256m",
		DockerCPULimit:    "1.0",
		ShutdownTimeout:   30 * time.Second,
	}
}

func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.DatabaseURL, "dsn", c.DatabaseURL, "Database connection string")
	fs.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "HTTP listen address")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format (json|text)")
	fs.StringVar(&c.ProcessID, "process-id", c.ProcessID, "Unique process ID")
	fs.StringVar(&c.QueueBackend, "queue-backend", c.QueueBackend, "Queue backend (inprocess|amqp)")
	fs.StringVar(&c.AMQPURL, "amqp-url", c.AMQPURL, "AMQP broker URL")
	fs.StringVar(&c.AMQPQueue, "amqp-queue", c.AMQPQueue, "AMQP queue name")
	fs.IntVar(&c.QueueCapacity, "queue-capacity", c.QueueCapacity, "Max queued jobs before overload")
	fs.IntVar(&c.WorkerCount, "workers", c.WorkerCount, "Worker loops draining the queue")
	fs.IntVar(&c.MaxConcurrent, "max-concurrent", c.MaxConcurrent, "Max simultaneous executions")
	fs.DurationVar(&c.ThrottleInterval, "throttle", c.ThrottleInterval, "Min time between runs per attempt")
	fs.DurationVar(&c.RunTimeout, "run-timeout", c.RunTimeout, "Run phase wall-clock limit")
	fs.DurationVar(&c.BuildTimeout, "build-timeout", c.BuildTimeout, "Build phase wall-clock limit")
	fs.IntVar(&c.SnapshotThreshold, "snapshot-threshold", c.SnapshotThreshold, "Max snapshot size to retain (bytes)")
	fs.StringVar(&c.SweepSchedule, "sweep-schedule", c.SweepSchedule, "Cron schedule for the stale run sweep")
	fs.DurationVar(&c.SweepGrace, "sweep-grace", c.SweepGrace, "Age before a non-terminal run counts as stale")
	fs.StringVar(&c.Launcher, "launcher", c.Launcher, "Process launcher (host|docker)")
	fs.StringVar(&c.DockerImage, "docker-image", c.DockerImage, "Image for the docker launcher")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "Time to wait for jobs on shutdown")
}

// Load layers environment variables over the defaults. Flag and file
// config application happen on top of the returned value.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	if addr := os.Getenv("HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}

	cfg.ProcessID = os.Getenv("PROCESS_ID")
	if cfg.ProcessID == "" {
		hostname, _ := os.Hostname()
		cfg.ProcessID = fmt.Sprintf("runlab-%s-%s", hostname, uuid.NewString()[:8])
	}

	if backend := os.Getenv("QUEUE_BACKEND"); backend != "" {
		cfg.QueueBackend = backend
	}
	cfg.AMQPURL = envOr("AMQP_URL", cfg.AMQPURL)
	cfg.AMQPQueue = envOr("AMQP_QUEUE", cfg.AMQPQueue)

	var err error
	if cfg.QueueCapacity, err = envInt("QUEUE_MAX_SIZE", cfg.QueueCapacity); err != nil {
		return nil, err
	}
	if cfg.WorkerCount, err = envInt("WORKER_COUNT", cfg.WorkerCount); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrent, err = envInt("MAX_CONCURRENT_EXECUTIONS", cfg.MaxConcurrent); err != nil {
		return nil, err
	}
	if cfg.SnapshotThreshold, err = envInt("SNAPSHOT_SIZE_THRESHOLD", cfg.SnapshotThreshold); err != nil {
		return nil, err
	}
	if cfg.MaxOutputBytes, err = envInt("MAX_OUTPUT_BYTES", cfg.MaxOutputBytes); err != nil {
		return nil, err
	}

	if cfg.ThrottleInterval, err = envDuration("RUN_ENQUEUE_THROTTLE", cfg.ThrottleInterval); err != nil {
		return nil, err
	}
	if cfg.RunTimeout, err = envDuration("EXECUTION_TIMEOUT", cfg.RunTimeout); err != nil {
		return nil, err
	}
	if cfg.BuildTimeout, err = envDuration("BUILD_TIMEOUT", cfg.BuildTimeout); err != nil {
		return nil, err
	}
	if cfg.SweepGrace, err = envDuration("SWEEP_GRACE", cfg.SweepGrace); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = envDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return nil, err
	}

	cfg.OpsAllowCIDRs = os.Getenv("OPS_ALLOW_CIDRS")
	cfg.TLSCert = os.Getenv("TLS_CERT_FILE")
	cfg.TLSKey = os.Getenv("TLS_KEY_FILE")
	cfg.TLSClientCA = os.Getenv("TLS_CLIENT_CA_FILE")

	cfg.SweepSchedule = envOr("SWEEP_SCHEDULE", cfg.SweepSchedule)
	cfg.Launcher = envOr("LAUNCHER", cfg.Launcher)
	cfg.DockerImage = envOr("DOCKER_IMAGE", cfg.DockerImage)
	cfg.DockerMemoryLimit = envOr("DOCKER_MEMORY_LIMIT", cfg.DockerMemoryLimit)
	cfg.DockerCPULimit = envOr("DOCKER_CPU_LIMIT", cfg.DockerCPULimit)

	return cfg, nil
}

// Validate checks cross-field constraints once all layers are applied.
func (c *Config) Validate() error {
	switch c.QueueBackend {
	case BackendInProcess:
	case BackendAMQP:
		if c.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is required for the amqp backend")
		}
	default:
		return fmt.Errorf("unknown queue backend: %q", c.QueueBackend)
	}
	switch c.Launcher {
	case LauncherHost, LauncherDocker:
	default:
		return fmt.Errorf("unknown launcher: %q", c.Launcher)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be positive")
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("worker count must be positive")
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent executions must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("invalid %s (must be a positive integer)", key)
	}
	return parsed, nil
}

// envDuration accepts Go duration strings and, for compatibility with
// older deployments, bare integers meaning seconds.
func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	if parsed, err := time.ParseDuration(val); err == nil && parsed > 0 {
		return parsed, nil
	}
	if seconds, err := strconv.Atoi(val); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid %s (must be a positive duration, e.g. 30s)", key)
}
