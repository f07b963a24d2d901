package config

import "time"

// Config holds runtime configuration for the user synchronizer.
type Config struct {
	AppEnv    string          `mapstructure:"app_env"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Server    ServerConfig    `mapstructure:"server"`
	AWS       AWSConfig       `mapstructure:"aws"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// LoggerConfig controls slog output.
type LoggerConfig struct {
	Level      string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"omitempty,oneof=json text"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
}

// SentryConfig controls error reporting.
type SentryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	DSN         string `mapstructure:"dsn" validate:"required_if=Enabled true"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig controls the HTTP command/query surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AWSConfig is shared by the SQS and DynamoDB clients.
type AWSConfig struct {
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	Profile  string `mapstructure:"profile"`
}

// QueueConfig controls the poll loop and its queue transport.
type QueueConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=sqs memory"`
	URL             string        `mapstructure:"url" validate:"required_if=Driver sqs"`
	BatchSize       int32         `mapstructure:"batch_size" validate:"gte=1,lte=10"`
	WaitSeconds     int32         `mapstructure:"wait_seconds" validate:"gte=0,lte=20"`
	BackoffInterval time.Duration `mapstructure:"backoff_interval" validate:"gt=0"`
	// VisibilityTimeout is only used by the memory driver; SQS uses the queue setting.
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
}

// StoreConfig selects and configures the user record store.
type StoreConfig struct {
	Driver        string `mapstructure:"driver" validate:"oneof=dynamodb postgres memory"`
	Table         string `mapstructure:"table" validate:"required_if=Driver dynamodb"`
	Index         string `mapstructure:"index" validate:"required_if=Driver dynamodb"`
	DSN           string `mapstructure:"dsn" validate:"required_if=Driver postgres"`
	MigrationsDir string `mapstructure:"migrations_dir"`
	// WriteRetries bounds retries of a failed write; 0 disables retrying.
	WriteRetries int `mapstructure:"write_retries" validate:"gte=0,lte=10"`
}

// RedisConfig enables the optional Redis-backed cache, dedup and rate limiting.
type RedisConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	PoolTimeout     time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
	DedupTTL        time.Duration `mapstructure:"dedup_ttl"`
}

// CacheConfig controls the user details cache.
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// NotifierConfig controls the downstream notification sink.
type NotifierConfig struct {
	Endpoint string        `mapstructure:"endpoint" validate:"omitempty,url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RateLimitRule describes a limit over a window such as "1m".
type RateLimitRule struct {
	Limit  int    `mapstructure:"limit" validate:"gte=0"`
	Window string `mapstructure:"window"`
}

// RateLimitConfig controls per-client limits on the HTTP surface.
type RateLimitConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	PerClient RateLimitRule `mapstructure:"per_client"`
	Whitelist []string      `mapstructure:"whitelist"`
}
