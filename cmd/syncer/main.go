package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Proton-105/user-sync/internal/consumer"
	apperrors "github.com/Proton-105/user-sync/internal/errors"
	"github.com/Proton-105/user-sync/internal/health"
	httptransport "github.com/Proton-105/user-sync/internal/http"
	"github.com/Proton-105/user-sync/internal/lifecycle"
	"github.com/Proton-105/user-sync/internal/middleware"
	"github.com/Proton-105/user-sync/internal/notify"
	"github.com/Proton-105/user-sync/internal/queue"
	"github.com/Proton-105/user-sync/internal/ratelimit"
	"github.com/Proton-105/user-sync/internal/user"
	"github.com/Proton-105/user-sync/pkg/config"
	"github.com/Proton-105/user-sync/pkg/graceful"
	"github.com/Proton-105/user-sync/pkg/logger"
	"github.com/Proton-105/user-sync/pkg/metrics"
)

const (
	depthSampleInterval  = 30 * time.Second
	dedupCleanupInterval = time.Hour
	limitCleanupInterval = 5 * time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "user-sync: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, err := config.Load()
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	log := logger.New(*cfg, logger.WithLevelVar(level))
	slog.SetDefault(log)

	config.Watch(v, log, func(next *config.Config) {
		level.Set(logger.ParseLevel(next.Logger.Level))
	})

	flushSentry, err := logger.InitSentry(cfg.Sentry, cfg.AppEnv)
	if err != nil {
		return err
	}

	log.Info("starting user synchronizer",
		slog.String("queue_driver", cfg.Queue.Driver),
		slog.String("store_driver", cfg.Store.Driver),
		slog.Bool("redis_enabled", cfg.Redis.Enabled),
		slog.String("addr", cfg.Server.Addr),
	)

	shutdown := lifecycle.NewShutdown(log, cfg.Server.ShutdownTimeout)
	shutdown.Register("sentry", flushSentry)
	defer func() {
		if err := shutdown.Execute(context.Background()); err != nil {
			log.Error("shutdown finished with errors", slog.Any("error", err))
		}
	}()

	deps, err := buildDependencies(ctx, cfg, log, shutdown)
	if err != nil {
		log.Error("failed to initialise dependencies", slog.Any("error", err))
		return err
	}

	errs := apperrors.NewHandler(log, cfg.Sentry.Enabled)
	notifier := notify.New(cfg.Notifier.Endpoint, cfg.Notifier.Timeout, log)
	if waiter, ok := notifier.(*notify.HTTPNotifier); ok {
		shutdown.Register("notifier", waiter.Wait)
	}

	retry := apperrors.DefaultRetryPolicy
	retry.MaxRetries = cfg.Store.WriteRetries
	handlers := user.NewHandlers(deps.store, log, user.WithCache(deps.cache), user.WithRetryPolicy(retry))
	service := user.NewService(deps.store, handlers, deps.cache, log)

	pollerOpts := []consumer.PollerOption{consumer.WithErrorHandler(errs)}
	if deps.dedup != nil {
		pollerOpts = append(pollerOpts, consumer.WithDedup(deps.dedup))
	}
	poller := consumer.NewPoller(
		deps.queue,
		consumer.NewRouter(handlers, notifier, log),
		consumer.PollerConfig{
			BatchSize:   cfg.Queue.BatchSize,
			WaitSeconds: cfg.Queue.WaitSeconds,
			Backoff:     cfg.Queue.BackoffInterval,
		},
		log,
		pollerOpts...,
	)

	checker := health.NewChecker(log, 0)
	checker.AddCheck("store", deps.store)
	checker.AddCheck("queue", deps.queue)
	if deps.redis != nil {
		checker.AddCheck("redis", health.NewRedisChecker(deps.redis))
	}

	var loopRunning atomic.Bool
	loopRunning.Store(true)
	probes := lifecycle.NewProbes(checker, loopRunning.Load, log)

	routerCfg := httptransport.RouterConfig{
		Log:           log,
		SentryEnabled: cfg.Sentry.Enabled,
		RateLimit:     middleware.NewRateLimitMiddleware(deps.limiter, ratelimit.NewRules(cfg.RateLimit), log),
	}
	if mq, ok := deps.queue.(*queue.MemoryQueue); ok {
		log.Info("memory queue selected; POST /dev/messages enqueues raw bodies")
		routerCfg.DevQueue = mq
	}
	handler := httptransport.NewRouter(httptransport.NewHandler(service, probes, errs, log), routerCfg)

	var wg sync.WaitGroup
	background := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			log.Debug("background task finished", slog.String("task", name))
		}()
	}

	background("poller", func(ctx context.Context) {
		defer loopRunning.Store(false)
		_ = poller.Run(ctx)
	})
	background("queue-depth", metrics.NewDepthCollector(deps.queue, depthSampleInterval, log).Run)
	if deps.redis != nil {
		background("dedup-cleaner", deps.dedupCleaner.Run)
	}
	background("ratelimit-cleaner", ratelimit.NewCleaner(deps.limitRedis, deps.memoryLimiter, log, limitCleanupInterval, 0).Run)

	server := graceful.NewServer(log, cfg.Server.Addr, handler, cfg.Server.ShutdownTimeout)
	serveErr := server.ListenAndServe(ctx)

	stop()
	wg.Wait()
	log.Info("user synchronizer stopped")

	return serveErr
}
