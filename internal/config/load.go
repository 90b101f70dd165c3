package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix is the prefix for environment variable overrides,
// e.g. PREVIZ_DATABASE_URL overrides database.url.
const envPrefix = "PREVIZ"

// Load reads configuration from an optional config.yaml in the working
// directory plus environment variables, applies defaults, and validates the
// result. Environment variables take precedence over file values.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars and defaults still apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers default values for every optional setting so a
// minimal deployment only has to provide the database URL and JWT secret.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("auth.token_lifetime_minutes", 60)

	v.SetDefault("queue.default_max_attempts", 3)
	v.SetDefault("queue.lease_duration_seconds", 300)
	v.SetDefault("queue.backoff_base_seconds", 30)
	v.SetDefault("queue.backoff_cap_seconds", 3600)
	v.SetDefault("queue.bulk_retry_max_batch", 100)
	v.SetDefault("queue.bulk_retry_min_interval_ms", 10000)
	v.SetDefault("queue.prune_max_limit", 1000)

	v.SetDefault("worker.count", 2)
	v.SetDefault("worker.poll_interval_ms", 1000)
}
