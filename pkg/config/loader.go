// Package config provides configuration loading and validation utilities.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from ./configs/<APP_ENV>.yaml and environment variables,
// validates it, and returns the resulting Config together with the viper instance.
func Load() (*Config, *viper.Viper, error) {
	if err := godotenv.Load(".env.local", ".env"); err != nil {
		// env files are optional
		_ = err
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	return LoadFile(env, fmt.Sprintf("./configs/%s.yaml", env))
}

// LoadFile is Load with an explicit environment name and config path. A missing file
// is not an error; defaults and environment variables still apply.
func LoadFile(env, path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	cfg.AppEnv = env

	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct-level constraints on cfg.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.file", "")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 3)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "")

	v.SetDefault("server.addr", ":3002")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.profile", "")

	v.SetDefault("queue.driver", "sqs")
	v.SetDefault("queue.url", "")
	v.SetDefault("queue.batch_size", 10)
	v.SetDefault("queue.wait_seconds", 20)
	v.SetDefault("queue.backoff_interval", 10*time.Second)
	v.SetDefault("queue.visibility_timeout", 30*time.Second)

	v.SetDefault("store.driver", "dynamodb")
	v.SetDefault("store.table", "")
	v.SetDefault("store.index", "")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.migrations_dir", "migrations")
	v.SetDefault("store.write_retries", 3)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.pool_timeout", 4*time.Second)
	v.SetDefault("redis.idle_timeout", 5*time.Minute)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.min_retry_backoff", 8*time.Millisecond)
	v.SetDefault("redis.max_retry_backoff", 512*time.Millisecond)
	v.SetDefault("redis.dedup_ttl", 24*time.Hour)

	v.SetDefault("cache.ttl", 5*time.Minute)

	v.SetDefault("notifier.endpoint", "")
	v.SetDefault("notifier.timeout", 5*time.Second)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.per_client.limit", 60)
	v.SetDefault("rate_limit.per_client.window", "1m")
	v.SetDefault("rate_limit.whitelist", []string{})
}
