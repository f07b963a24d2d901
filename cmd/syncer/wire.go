package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	goredis "github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"

	"github.com/Proton-105/user-sync/internal/database"
	"github.com/Proton-105/user-sync/internal/idempotency"
	"github.com/Proton-105/user-sync/internal/lifecycle"
	"github.com/Proton-105/user-sync/internal/queue"
	"github.com/Proton-105/user-sync/internal/ratelimit"
	"github.com/Proton-105/user-sync/internal/repository"
	"github.com/Proton-105/user-sync/internal/usercache"
	"github.com/Proton-105/user-sync/pkg/config"
	"github.com/Proton-105/user-sync/pkg/redis"
)

// queueBackend is what the poll loop, the depth sampler and readiness need from a queue.
type queueBackend interface {
	queue.Consumer
	ApproximateDepth(ctx context.Context) (int64, error)
}

type dependencies struct {
	store repository.UserStore
	queue queueBackend

	redis        *redis.Client
	cache        *usercache.Cache
	dedup        idempotency.Manager
	dedupCleaner *idempotency.Cleaner

	limiter       ratelimit.Limiter
	memoryLimiter *ratelimit.MemoryLimiter
	limitRedis    goredis.Cmdable
}

func buildDependencies(ctx context.Context, cfg *config.Config, log *slog.Logger, shutdown *lifecycle.Shutdown) (*dependencies, error) {
	deps := &dependencies{memoryLimiter: ratelimit.NewMemoryLimiter()}
	deps.limiter = deps.memoryLimiter

	var awsCfg *aws.Config
	if cfg.Queue.Driver == "sqs" || cfg.Store.Driver == "dynamodb" {
		loaded, err := loadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		awsCfg = &loaded
	}

	store, err := buildStore(ctx, cfg, awsCfg, log, shutdown)
	if err != nil {
		return nil, err
	}
	deps.store = store

	switch cfg.Queue.Driver {
	case "memory":
		deps.queue = queue.NewMemoryQueue(cfg.Queue.VisibilityTimeout)
	default:
		client := sqs.NewFromConfig(*awsCfg, func(o *sqs.Options) {
			if cfg.AWS.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
			}
		})
		deps.queue = queue.NewSQSConsumer(client, cfg.Queue.URL, log)
	}

	if cfg.Redis.Enabled {
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		shutdown.Register("redis", func(context.Context) error { return client.Close() })

		deps.redis = client
		deps.cache = usercache.NewCache(client.Client, cfg.Cache.TTL)
		deps.dedup = idempotency.NewManager(idempotency.NewRedisStore(client.Client, log), cfg.Redis.DedupTTL, log)
		deps.dedupCleaner = idempotency.NewCleaner(client.Client, log, dedupCleanupInterval, 0)
		deps.limiter = ratelimit.NewAdaptiveLimiter(ratelimit.NewRedisLimiter(client.Client, log), deps.memoryLimiter, log)
		deps.limitRedis = client.Client
	}

	return deps, nil
}

func loadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	loaded, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return loaded, nil
}

func buildStore(ctx context.Context, cfg *config.Config, awsCfg *aws.Config, log *slog.Logger, shutdown *lifecycle.Shutdown) (repository.UserStore, error) {
	switch cfg.Store.Driver {
	case "memory":
		log.Warn("using in-memory user store; records are lost on restart")
		return repository.NewMemoryStore(), nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		shutdown.Register("postgres", func(context.Context) error { return db.Close() })

		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		if err := database.NewMigrator(db, log).ApplyDir(ctx, cfg.Store.MigrationsDir); err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		log.Info("database migrations applied")

		return repository.NewPostgresStore(db, log), nil

	default:
		client := dynamodb.NewFromConfig(*awsCfg, func(o *dynamodb.Options) {
			if cfg.AWS.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
			}
		})
		return repository.NewDynamoStore(client, cfg.Store.Table, cfg.Store.Index, log), nil
	}
}
