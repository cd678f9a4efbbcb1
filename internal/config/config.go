// Package config loads the worker's process configuration from environment
// variables and an optional config file, the way rag-loader's config
// package does.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete process configuration for cmd/vectorizer-worker.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
}

// ServiceConfig holds service-level settings.
type ServiceConfig struct {
	LogLevel        string        `mapstructure:"log_level"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	StatusPort      int           `mapstructure:"status_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url"`
	MaxConns     int    `mapstructure:"max_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// ProcessingConfig holds default batch/concurrency settings applied when a
// vectorizer's own config.processing section is silent on a field.
type ProcessingConfig struct {
	BatchSize        int           `mapstructure:"batch_size"`
	Concurrency      int           `mapstructure:"concurrency"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BackoffCap       time.Duration `mapstructure:"backoff_cap"`
	TransactionGuard time.Duration `mapstructure:"transaction_timeout"`
}

// SchedulerConfig holds Supervisor polling settings.
type SchedulerConfig struct {
	VectorizerIDs []int64       `mapstructure:"vectorizer_ids"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	Once          bool          `mapstructure:"once"`
	ExitOnError   bool          `mapstructure:"exit_on_error"`
}

// SecretsConfig is loaded from configuration (spec §4.C Authentication),
// but nothing reads AllowDatabaseReveal: provider API keys are always
// resolved from environment variables.
type SecretsConfig struct {
	AllowDatabaseReveal bool `mapstructure:"allow_database_reveal"`
}

// Load reads configuration from ./configs/vectorizer.yaml (if present),
// environment variables, and defaults, in that precedence order (env wins).
func Load() (*Config, error) {
	viper.SetConfigName("vectorizer")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/vectorizer")

	setDefaults()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideFromEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("service.log_level", "info")
	viper.SetDefault("service.metrics_port", 9094)
	viper.SetDefault("service.status_port", 8085)
	viper.SetDefault("service.shutdown_timeout", "30s")

	viper.SetDefault("database.max_conns", 10)
	viper.SetDefault("database.max_idle_conns", 5)

	viper.SetDefault("processing.batch_size", 50)
	viper.SetDefault("processing.concurrency", 1)
	viper.SetDefault("processing.max_attempts", 6)
	viper.SetDefault("processing.backoff_base", "30s")
	viper.SetDefault("processing.backoff_cap", "30m")
	viper.SetDefault("processing.transaction_timeout", "5m")

	viper.SetDefault("scheduler.poll_interval", "10s")
	viper.SetDefault("scheduler.once", false)
	viper.SetDefault("scheduler.exit_on_error", false)

	viper.SetDefault("secrets.allow_database_reveal", false)
}

func bindEnvVars() {
	viper.AutomaticEnv()
	_ = viper.BindEnv("database.url", "VECTORIZER_DATABASE_URL", "POSTGRES_DSN", "DATABASE_URL")
	_ = viper.BindEnv("service.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("scheduler.once", "VECTORIZER_ONCE")
	_ = viper.BindEnv("scheduler.exit_on_error", "VECTORIZER_EXIT_ON_ERROR")
	_ = viper.BindEnv("processing.concurrency", "VECTORIZER_CONCURRENCY")
}

func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("VECTORIZER_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	} else if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Database.URL = v
	} else if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
}

func validate(cfg *Config) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database URL is required (set VECTORIZER_DATABASE_URL)")
	}
	if cfg.Processing.Concurrency < 1 {
		cfg.Processing.Concurrency = 1
	}
	if cfg.Processing.Concurrency > 10 {
		return fmt.Errorf("concurrency %d exceeds maximum of 10", cfg.Processing.Concurrency)
	}
	if cfg.Processing.BatchSize <= 0 {
		return fmt.Errorf("processing.batch_size must be positive")
	}
	return nil
}
