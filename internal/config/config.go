package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth"     validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue"    validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// AuthConfig contains authentication settings for the operator/worker API.
// Credentials are verified against bcrypt hashes; authenticated subjects
// become the audit log actor.
type AuthConfig struct {
	JWTSecret            string             `mapstructure:"jwt_secret"             validate:"required,min=32"`
	TokenLifetimeMinutes int                `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`
	Credentials          []CredentialConfig `mapstructure:"credentials"            validate:"dive"`
}

// CredentialConfig is one configured actor identity.
type CredentialConfig struct {
	Actor        string `mapstructure:"actor"         validate:"required"`
	PasswordHash string `mapstructure:"password_hash" validate:"required"`
}

// QueueConfig contains the queue policy knobs: retry budget defaults, lease
// duration, backoff curve, and the bulk-remediation guardrails.
type QueueConfig struct {
	DefaultMaxAttempts     int `mapstructure:"default_max_attempts"      validate:"required,gt=0"`
	LeaseDurationSeconds   int `mapstructure:"lease_duration_seconds"    validate:"required,gt=0"`
	BackoffBaseSeconds     int `mapstructure:"backoff_base_seconds"      validate:"required,gt=0"`
	BackoffCapSeconds      int `mapstructure:"backoff_cap_seconds"       validate:"required,gtefield=BackoffBaseSeconds"`
	BulkRetryMaxBatch      int `mapstructure:"bulk_retry_max_batch"      validate:"required,gt=0"`
	BulkRetryMinIntervalMs int `mapstructure:"bulk_retry_min_interval_ms" validate:"gte=0"`
	PruneMaxLimit          int `mapstructure:"prune_max_limit"           validate:"required,gt=0"`
}

// LeaseDuration returns the configured lease duration.
func (c QueueConfig) LeaseDuration() time.Duration {
	return time.Duration(c.LeaseDurationSeconds) * time.Second
}

// BackoffBase returns the configured backoff base delay.
func (c QueueConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

// BackoffCap returns the configured backoff ceiling.
func (c QueueConfig) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapSeconds) * time.Second
}

// BulkRetryMinInterval returns the sliding window within which a second
// bulk-retry batch from the same actor is rejected.
func (c QueueConfig) BulkRetryMinInterval() time.Duration {
	return time.Duration(c.BulkRetryMinIntervalMs) * time.Millisecond
}

// WorkerConfig contains settings for the polling worker harness.
type WorkerConfig struct {
	Count          int `mapstructure:"count"            validate:"omitempty,gt=0"`
	PollIntervalMs int `mapstructure:"poll_interval_ms" validate:"omitempty,gt=0"`
}

// PollInterval returns the worker poll interval, defaulting to one second.
func (c WorkerConfig) PollInterval() time.Duration {
	if c.PollIntervalMs <= 0 {
		return time.Second
	}
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}
