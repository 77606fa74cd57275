package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var defaultConfigFilenames = []string{
	"runlab.yaml",
	"runlab.yml",
	"runlab.toml",
	".runlab.yaml",
	".runlab.yml",
	".runlab.toml",
}

type FileConfig struct {
	DSN      string             `yaml:"dsn" toml:"dsn"`
	HTTPAddr string             `yaml:"http_addr" toml:"http_addr"`
	Queue    QueueFileConfig    `yaml:"queue" toml:"queue"`
	Executor ExecutorFileConfig `yaml:"executor" toml:"executor"`
	Sweep    SweepFileConfig    `yaml:"sweep" toml:"sweep"`
}

type QueueFileConfig struct {
	Backend       string `yaml:"backend" toml:"backend"`
	AMQPURL       string `yaml:"amqp_url" toml:"amqp_url"`
	AMQPQueue     string `yaml:"amqp_queue" toml:"amqp_queue"`
	Capacity      *int   `yaml:"capacity" toml:"capacity"`
	Workers       *int   `yaml:"workers" toml:"workers"`
	MaxConcurrent *int   `yaml:"max_concurrent" toml:"max_concurrent"`
	Throttle      string `yaml:"throttle" toml:"throttle"`
}

type ExecutorFileConfig struct {
	Launcher          string `yaml:"launcher" toml:"launcher"`
	DockerImage       string `yaml:"docker_image" toml:"docker_image"`
	DockerMemoryLimit string `yaml:"docker_memory_limit" toml:"docker_memory_limit"`
	DockerCPULimit    string `yaml:"docker_cpu_limit" toml:"docker_cpu_limit"`
	RunTimeout        string `yaml:"run_timeout" toml:"run_timeout"`
	BuildTimeout      string `yaml:"build_timeout" toml:"build_timeout"`
	MaxOutputBytes    *int   `yaml:"max_output_bytes" toml:"max_output_bytes"`
	SnapshotThreshold *int   `yaml:"snapshot_threshold" toml:"snapshot_threshold"`
}

type SweepFileConfig struct {
	Schedule string `yaml:"schedule" toml:"schedule"`
	Grace    string `yaml:"grace" toml:"grace"`
}

func ResolveConfigPath(args []string) (string, error) {
	path, ok, err := parseConfigFlag(args)
	if err != nil {
		return "", err
	}
	if ok {
		return path, nil
	}
	if env := os.Getenv("RUNLAB_CONFIG"); env != "" {
		return env, nil
	}
	for _, name := range defaultConfigFilenames {
		if fileExists(name) {
			return name, nil
		}
	}
	return "", nil
}

func LoadFileConfig(path string) (*FileConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse toml config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config extension: %s", filepath.Ext(path))
	}

	return &cfg, nil
}

func ApplyFileConfig(cfg *Config, fileCfg *FileConfig) error {
	if fileCfg == nil {
		return nil
	}

	if fileCfg.DSN != "" {
		cfg.DatabaseURL = fileCfg.DSN
	}
	if fileCfg.HTTPAddr != "" {
		cfg.HTTPAddr = fileCfg.HTTPAddr
	}

	if fileCfg.Queue.Backend != "" {
		cfg.QueueBackend = fileCfg.Queue.Backend
	}
	if fileCfg.Queue.AMQPURL != "" {
		cfg.AMQPURL = fileCfg.Queue.AMQPURL
	}
	if fileCfg.Queue.AMQPQueue != "" {
		cfg.AMQPQueue = fileCfg.Queue.AMQPQueue
	}
	if fileCfg.Queue.Capacity != nil {
		cfg.QueueCapacity = *fileCfg.Queue.Capacity
	}
	if fileCfg.Queue.Workers != nil {
		cfg.WorkerCount = *fileCfg.Queue.Workers
	}
	if fileCfg.Queue.MaxConcurrent != nil {
		cfg.MaxConcurrent = *fileCfg.Queue.MaxConcurrent
	}
	if fileCfg.Queue.Throttle != "" {
		parsed, err := parseDurationField("queue.throttle", fileCfg.Queue.Throttle)
		if err != nil {
			return err
		}
		cfg.ThrottleInterval = parsed
	}

	if fileCfg.Executor.Launcher != "" {
		cfg.Launcher = fileCfg.Executor.Launcher
	}
	if fileCfg.Executor.DockerImage != "" {
		cfg.DockerImage = fileCfg.Executor.DockerImage
	}
	if fileCfg.Executor.DockerMemoryLimit != "" {
		cfg.DockerMemoryLimit = fileCfg.Executor.DockerMemoryLimit
	}
	if fileCfg.Executor.DockerCPULimit != "" {
		cfg.DockerCPULimit = fileCfg.Executor.DockerCPULimit
	}
	if fileCfg.Executor.RunTimeout != "" {
		parsed, err := parseDurationField("executor.run_timeout", fileCfg.Executor.RunTimeout)
		if err != nil {
			return err
		}
		cfg.RunTimeout = parsed
	}
	if fileCfg.Executor.BuildTimeout != "" {
		parsed, err := parseDurationField("executor.build_timeout", fileCfg.Executor.BuildTimeout)
		if err != nil {
			return err
		}
		cfg.BuildTimeout = parsed
	}
	if fileCfg.Executor.MaxOutputBytes != nil {
		cfg.MaxOutputBytes = *fileCfg.Executor.MaxOutputBytes
	}
	if fileCfg.Executor.SnapshotThreshold != nil {
		cfg.SnapshotThreshold = *fileCfg.Executor.SnapshotThreshold
	}

	if fileCfg.Sweep.Schedule != "" {
		cfg.SweepSchedule = fileCfg.Sweep.Schedule
	}
	if fileCfg.Sweep.Grace != "" {
		parsed, err := parseDurationField("sweep.grace", fileCfg.Sweep.Grace)
		if err != nil {
			return err
		}
		cfg.SweepGrace = parsed
	}

	return nil
}

func parseConfigFlag(args []string) (string, bool, error) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" || arg == "-config" {
			if i+1 >= len(args) || args[i+1] == "" {
				return "", true, fmt.Errorf("missing value for --config")
			}
			return args[i+1], true, nil
		}
		if strings.HasPrefix(arg, "--config=") {
			value := strings.TrimPrefix(arg, "--config=")
			if value == "" {
				return "", true, fmt.Errorf("missing value for --config")
			}
			return value, true, nil
		}
	}
	return "", false, nil
}

func parseDurationField(field, value string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	return parsed, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
