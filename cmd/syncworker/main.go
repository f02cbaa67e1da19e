package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"medtrack/internal/config"
	"medtrack/internal/recon"
	"medtrack/internal/sources"
	"medtrack/internal/util"
	"medtrack/pkg/queue"
	"medtrack/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.InitLogger(cfg.LogLevel)

	cacheTTL, err := config.ParseTTL("sourceCacheTTL", cfg.SourceCacheTTL)
	if err != nil {
		log.Fatalf("failed to parse source cache TTL: %v", err)
	}
	syncInterval, err := config.ParseTTL("syncInterval", cfg.SyncInterval)
	if err != nil {
		log.Fatalf("failed to parse sync interval: %v", err)
	}
	if syncInterval == 0 {
		syncInterval = 24 * time.Hour
	}
	batchLimit := cfg.SyncBatchLimit
	if batchLimit == 0 {
		batchLimit = 25
	}

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init postgres store: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	jobQueue, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{Client: redisClient})
	if err != nil {
		log.Fatalf("failed to init sync queue: %v", err)
	}

	job := recon.NewJob(
		dataStore,
		sources.NewRxNormClient(cfg.RxNormBaseURL, redisClient, cacheTTL),
		sources.NewDailyMedClient(cfg.DailyMedBaseURL, redisClient, cacheTTL),
		sources.NewOpenFDAClient(cfg.OpenFDABaseURL, redisClient, cacheTTL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobQueue.Start(ctx, 1, func(ctx context.Context, j queue.SyncJob) error {
		synced, err := job.Run(ctx, j.Limit)
		if err != nil {
			return err
		}
		slog.Info("sync job finished", "jobId", j.ID, "synced", synced)
		return nil
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Daily schedule: one batch immediately, then one per interval.
		ticker := time.NewTicker(syncInterval)
		defer ticker.Stop()
		for {
			if _, err := jobQueue.Enqueue(ctx, batchLimit); err != nil {
				slog.Error("enqueue scheduled sync failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})

	slog.Info("sync worker running", "interval", syncInterval.String(), "batchLimit", batchLimit)
	if err := g.Wait(); err != nil && err != context.Canceled {
		slog.Error("sync worker stopped", "error", err)
	}
}
