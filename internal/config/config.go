// Package config loads the loader configuration from a YAML file with
// environment overrides. All components receive an explicit Config value;
// nothing reads ambient global state.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Job        JobConfig        `yaml:"job"`
	API        APIConfig        `yaml:"api"`
	Storage    StorageConfig    `yaml:"storage"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// JobConfig carries the shard, batch and concurrency caps for one job run.
type JobConfig struct {
	EventsPerWorker      int  `yaml:"events_per_worker"`
	EventsPerBatch       int  `yaml:"events_per_batch"`
	MaxConcurrentWorkers int  `yaml:"max_concurrent_workers"`
	ValidateOnly         bool `yaml:"validate_only"`
	PollIntervalSeconds  int  `yaml:"poll_interval_seconds"`
}

type APIConfig struct {
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type StorageConfig struct {
	Backend          string `yaml:"backend"` // "local" | "gcs" | "s3"
	Bucket           string `yaml:"bucket"`
	LocalDir         string `yaml:"local_dir"`
	S3Endpoint       string `yaml:"s3_endpoint"`
	S3Region         string `yaml:"s3_region"`
	InputPrefix      string `yaml:"input_prefix"`
	ProcessingPrefix string `yaml:"processing_prefix"`
	HistoryPrefix    string `yaml:"history_prefix"`
	CompressLogs     bool   `yaml:"compress_logs"`
}

type CatalogConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	Namespace   string `yaml:"namespace"`
}

type CheckpointConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type LoggingConfig struct {
	Format string `yaml:"format"` // "json" | "text"
	Level  string `yaml:"level"`  // "debug" | "info" | "warn" | "error"
}

type NotifyConfig struct {
	Target string `yaml:"target"` // notification address; delivery is an external collaborator
}

// Load reads the YAML config file at path (optional), applies environment
// overrides, fills defaults and validates the result.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv lets deployment environments override file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("EVENTS_PER_WORKER"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Job.EventsPerWorker = parsed
		}
	}
	if v := os.Getenv("EVENTS_PER_BATCH"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Job.EventsPerBatch = parsed
		}
	}
	if v := os.Getenv("MAX_CONCURRENT_WORKERS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Job.MaxConcurrentWorkers = parsed
		}
	}
	if v := os.Getenv("VALIDATE_ONLY"); v != "" {
		cfg.Job.ValidateOnly = v == "true"
	}
	if v := os.Getenv("API_ENDPOINT"); v != "" {
		cfg.API.Endpoint = v
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("STORAGE_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("LOCAL_DIR"); v != "" {
		cfg.Storage.LocalDir = v
	}
	if v := os.Getenv("CATALOG_DSN"); v != "" {
		cfg.Catalog.PostgresDSN = v
	}
	if v := os.Getenv("NOTIFY_TARGET"); v != "" {
		cfg.Notify.Target = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Job.EventsPerWorker <= 0 {
		cfg.Job.EventsPerWorker = 20000
	}
	if cfg.Job.EventsPerBatch <= 0 {
		cfg.Job.EventsPerBatch = 500
	}
	if cfg.Job.MaxConcurrentWorkers <= 0 {
		cfg.Job.MaxConcurrentWorkers = 3
	}
	if cfg.Job.PollIntervalSeconds <= 0 {
		cfg.Job.PollIntervalSeconds = 300
	}
	if cfg.API.TimeoutSeconds <= 0 {
		cfg.API.TimeoutSeconds = 60
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	if cfg.Storage.LocalDir == "" {
		cfg.Storage.LocalDir = "./data"
	}
	if cfg.Storage.InputPrefix == "" {
		cfg.Storage.InputPrefix = "input/"
	}
	if cfg.Storage.ProcessingPrefix == "" {
		cfg.Storage.ProcessingPrefix = "processing/"
	}
	if cfg.Storage.HistoryPrefix == "" {
		cfg.Storage.HistoryPrefix = "history/"
	}
	if cfg.Catalog.Namespace == "" {
		cfg.Catalog.Namespace = "default"
	}
	if cfg.Checkpoint.Dir == "" {
		cfg.Checkpoint.Dir = "./checkpoints"
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = ":9090"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate rejects configurations the job runner cannot operate with.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "local", "gcs", "s3":
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}
	if c.Storage.Backend != "local" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket required for %s backend", c.Storage.Backend)
	}
	if c.API.Endpoint == "" {
		return fmt.Errorf("api endpoint required")
	}
	return nil
}

// Store is the read-only configuration view handed to external collaborators
// that address settings by section and key instead of holding the struct.
type Store interface {
	Get(section, key string) (string, bool)
}

// NewStore builds a section/key view over a loaded Config.
func NewStore(cfg Config) Store {
	return mapStore{
		"job": {
			"events_per_worker":      strconv.Itoa(cfg.Job.EventsPerWorker),
			"events_per_batch":       strconv.Itoa(cfg.Job.EventsPerBatch),
			"max_concurrent_workers": strconv.Itoa(cfg.Job.MaxConcurrentWorkers),
			"validate_only":          strconv.FormatBool(cfg.Job.ValidateOnly),
		},
		"storage": {
			"backend":           cfg.Storage.Backend,
			"bucket":            cfg.Storage.Bucket,
			"input_prefix":      cfg.Storage.InputPrefix,
			"processing_prefix": cfg.Storage.ProcessingPrefix,
			"history_prefix":    cfg.Storage.HistoryPrefix,
		},
		"notify": {
			"target": cfg.Notify.Target,
		},
	}
}

type mapStore map[string]map[string]string

func (s mapStore) Get(section, key string) (string, bool) {
	m, ok := s[section]
	if !ok {
		return "", false
	}
	v, ok := m[key]
	return v, ok
}
