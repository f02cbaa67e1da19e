package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"medtrack/internal/app"
	"medtrack/internal/config"
	"medtrack/internal/ratelimit"
	"medtrack/internal/server"
	"medtrack/internal/sms"
	"medtrack/internal/util"
	"medtrack/pkg/queue"
	"medtrack/pkg/token"
)

// syncEnqueuer adapts the job queue to the app's enqueue surface.
type syncEnqueuer struct {
	q *queue.RedisJobQueue
}

func (s syncEnqueuer) Enqueue(ctx context.Context, limit int) (string, error) {
	job, err := s.q.Enqueue(ctx, limit)
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	accessTTL, err := config.ParseTTL("accessTokenTTL", cfg.AccessTokenTTL)
	if err != nil {
		log.Fatalf("failed to parse access token TTL: %v", err)
	}
	otpTTL, err := config.ParseTTL("otpTTL", cfg.OTPTTL)
	if err != nil {
		log.Fatalf("failed to parse otp TTL: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.OTPRateLimitPerMinute > 0 {
		limiter, err = ratelimit.NewFixedWindowLimiter(redisClient, "medtrack:ratelimit", cfg.OTPRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	issuer, err := token.NewIssuer(cfg.SecretKey, accessTTL)
	if err != nil {
		log.Fatalf("failed to init token issuer: %v", err)
	}

	var sender sms.Sender
	if !cfg.Debug {
		sender, err = sms.NewAliyunSender(sms.AliyunConfig{
			AccessKeyID:     cfg.SMS.AccessKeyID,
			AccessKeySecret: cfg.SMS.AccessKeySecret,
			Endpoint:        cfg.SMS.Endpoint,
			SignName:        cfg.SMS.SignName,
			TemplateCode:    cfg.SMS.TemplateCode,
		})
		if err != nil {
			log.Fatalf("failed to init sms sender: %v", err)
		}
	}

	jobQueue, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{Client: redisClient})
	if err != nil {
		log.Fatalf("failed to init sync queue: %v", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL: cfg.DatabaseURL,
		Tokens:      issuer,
		SMS:         sender,
		Limiter:     limiter,
		Sync:        syncEnqueuer{q: jobQueue},
		OTPTTL:      otpTTL,
		Debug:       cfg.Debug,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer := server.New(server.Config{App: appCore})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("medtrack server listening", "addr", addr, "debug", cfg.Debug)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
