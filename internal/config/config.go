// Package config loads the gateway's tunables. Environment variables are
// authoritative (the spec's external interface is explicit about this);
// an optional YAML file can seed or override the same fields and can be
// watched for changes (see Watcher). The gateway applies only the
// admission rate-shaping fields from a reload; M/W/Q/H and the deadline
// take effect on restart.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in the spec plus the ambient fields
// (listen address, log level, optional audit/cache DSNs) needed to wire
// a runnable process around the core pipeline.
type Config struct {
	BatchMaxSize          int           `yaml:"batch_max_size"`
	BatchWindow           time.Duration `yaml:"-"`
	BatchWindowMS         int           `yaml:"batch_window_ms"`
	QueueMaxSize          int           `yaml:"queue_max_size"`
	QueueHighWatermark    int           `yaml:"queue_high_watermark"`
	RequestTimeout        time.Duration `yaml:"-"`
	RequestTimeoutMS      int           `yaml:"request_timeout_ms"`
	ModelPath             string        `yaml:"model_path"`
	PredictorWorkers      int           `yaml:"predictor_workers"`
	AdmissionRatePerSec   float64       `yaml:"admission_rate_per_sec"`
	AdmissionBurst        int           `yaml:"admission_burst"`

	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	AuditDSN string `yaml:"audit_dsn"` // empty disables the Postgres audit trail
	CacheDSN string `yaml:"cache_dsn"` // empty disables the Redis score cache
}

// Default returns the spec's stated defaults, used whenever an
// environment variable or YAML key is absent.
func Default() Config {
	return Config{
		BatchMaxSize:        32,
		BatchWindowMS:       20,
		QueueMaxSize:        1024,
		QueueHighWatermark:  896,
		RequestTimeoutMS:    2000,
		ModelPath:           "model.json",
		PredictorWorkers:    4,
		AdmissionRatePerSec: 2000,
		AdmissionBurst:      200,
		ListenAddr:          ":8080",
		LogLevel:            "info",
	}
}

// Load builds a Config starting from Default, applying a YAML file if
// yamlPath is non-empty and exists, then applying environment variable
// overrides on top (env always wins — it is the contract surface named
// in the spec).
func Load(yamlPath string) (Config, error) {
	cfg := Default()

	if yamlPath != "" {
		if raw, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config yaml %s: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config yaml %s: %w", yamlPath, err)
		}
	}

	applyEnvOverrides(&cfg)

	cfg.BatchWindow = time.Duration(cfg.BatchWindowMS) * time.Millisecond
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	envInt(&cfg.BatchMaxSize, "BATCH_MAX_SIZE")
	envInt(&cfg.BatchWindowMS, "BATCH_WINDOW_MS")
	envInt(&cfg.QueueMaxSize, "QUEUE_MAX_SIZE")
	envInt(&cfg.QueueHighWatermark, "QUEUE_HIGH_WATERMARK")
	envInt(&cfg.RequestTimeoutMS, "REQUEST_TIMEOUT_MS")
	envInt(&cfg.PredictorWorkers, "PREDICTOR_WORKERS")
	envFloat(&cfg.AdmissionRatePerSec, "ADMISSION_RATE_PER_SEC")
	envInt(&cfg.AdmissionBurst, "ADMISSION_BURST")
	envString(&cfg.ModelPath, "MODEL_PATH")
	envString(&cfg.ListenAddr, "LISTEN_ADDR")
	envString(&cfg.LogLevel, "LOG_LEVEL")
	envString(&cfg.AuditDSN, "AUDIT_DSN")
	envString(&cfg.CacheDSN, "CACHE_DSN")
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate enforces the invariants the spec calls out explicitly: H <= Q,
// D > W, and every size must be non-negative.
func (c Config) Validate() error {
	if c.BatchMaxSize < 1 {
		return fmt.Errorf("batch_max_size must be >= 1, got %d", c.BatchMaxSize)
	}
	if c.QueueMaxSize < 0 {
		return fmt.Errorf("queue_max_size must be >= 0, got %d", c.QueueMaxSize)
	}
	if c.QueueHighWatermark < 0 {
		return fmt.Errorf("queue_high_watermark must be >= 0, got %d", c.QueueHighWatermark)
	}
	if c.QueueHighWatermark > c.QueueMaxSize {
		return fmt.Errorf("queue_high_watermark (%d) must be <= queue_max_size (%d)", c.QueueHighWatermark, c.QueueMaxSize)
	}
	if c.RequestTimeout <= c.BatchWindow {
		return fmt.Errorf("request_timeout_ms (%dms) must exceed batch_window_ms (%dms)", c.RequestTimeoutMS, c.BatchWindowMS)
	}
	if c.ModelPath == "" {
		return fmt.Errorf("model_path must not be empty")
	}
	if c.PredictorWorkers < 1 {
		return fmt.Errorf("predictor_workers must be >= 1, got %d", c.PredictorWorkers)
	}
	return nil
}
