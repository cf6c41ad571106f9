package config

import (
	"flag"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/bagtools/remux/internal/tracing"
)

// Config represents the application configuration
type Config struct {
	// Logging configuration
	Logging LoggingConfig `env:"LOGGING"`

	// Cache configuration
	Cache CacheConfig `env:"CACHE"`

	// Metrics configuration
	Metrics MetricsConfig `env:"METRICS"`

	// Tracing configuration
	Tracing tracing.TracingConfig `env:"TRACING"`

	// Settings file path (YAML)
	SettingsFile string `env:"SETTINGS_FILE"`

	// Overwrite existing output files
	Overwrite bool `env:"OVERWRITE" envDefault:"false"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	// Log level: "debug", "info", "warn", "error"
	Level string `env:"LOG_LEVEL" envDefault:"info"`

	// Log format: "json", "text"
	Format string `env:"LOG_FORMAT" envDefault:"text"`

	// Log file path (empty for stderr)
	Output string `env:"LOG_OUTPUT" envDefault:""`

	// Enable log rotation
	Rotation bool `env:"LOG_ROTATION" envDefault:"true"`

	// Max log file size in MB
	MaxSize int `env:"LOG_MAX_SIZE" envDefault:"100"`

	// Number of backup files to keep
	MaxBackups int `env:"LOG_MAX_BACKUPS" envDefault:"7"`

	// Max age in days
	MaxAge int `env:"LOG_MAX_AGE" envDefault:"30"`
}

// CacheConfig holds the definition cache configuration
type CacheConfig struct {
	// Cache directory for downloaded interface archives and resolved
	// definitions (empty disables the persistent cache)
	Dir string `env:"CACHE_DIR" envDefault:""`
}

// MetricsConfig holds metrics-related configuration
type MetricsConfig struct {
	// Enable Prometheus metrics
	Enabled bool `env:"METRICS_ENABLED" envDefault:"false"`

	// Metrics server address
	Addr string `env:"METRICS_ADDR" envDefault:":9090"`

	// Metrics path
	Path string `env:"METRICS_PATH" envDefault:"/metrics"`
}

// Load loads configuration from multiple sources:
// 1. Default values
// 2. Environment variables
// 3. Command line flags (parsed from args into fs)
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}

	// Load from environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	fs.StringVar(&cfg.SettingsFile, "config", cfg.SettingsFile, "Path to settings file (YAML)")
	fs.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.Logging.Format, "log-format", cfg.Logging.Format, "Log format (json, text)")
	fs.StringVar(&cfg.Cache.Dir, "cache-dir", cfg.Cache.Dir, "Cache directory for message definitions")
	fs.BoolVar(&cfg.Overwrite, "overwrite", cfg.Overwrite, "Overwrite existing output files")
	fs.BoolVar(&cfg.Metrics.Enabled, "metrics", cfg.Metrics.Enabled, "Serve Prometheus metrics while running")
	fs.StringVar(&cfg.Metrics.Addr, "metrics-addr", cfg.Metrics.Addr, "Metrics server address")
	fs.BoolVar(&cfg.Tracing.Enabled, "tracing", cfg.Tracing.Enabled, "Export OpenTelemetry traces")
	fs.StringVar(&cfg.Tracing.Endpoint, "tracing-endpoint", cfg.Tracing.Endpoint, "OTLP endpoint for traces")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Normalize paths
	if cfg.Cache.Dir != "" {
		cfg.Cache.Dir = filepath.Clean(cfg.Cache.Dir)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics address cannot be empty when metrics are enabled")
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing endpoint cannot be empty when tracing is enabled")
	}

	return nil
}
