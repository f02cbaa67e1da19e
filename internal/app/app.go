package app

import (
	"context"
	"fmt"
	"time"

	"medtrack/internal/ratelimit"
	"medtrack/internal/sms"
	"medtrack/pkg/store"
	"medtrack/pkg/token"
)

// SyncEnqueuer schedules a background catalog reconciliation batch.
type SyncEnqueuer interface {
	Enqueue(ctx context.Context, limit int) (jobID string, err error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Tokens      *token.Issuer
	SMS         sms.Sender
	Limiter     *ratelimit.FixedWindowLimiter
	Sync        SyncEnqueuer
	OTPTTL      time.Duration
	// Debug returns OTP codes in API responses instead of sending SMS.
	Debug bool
}

// App is the core application service wiring storage, auth, and the catalog.
type App struct {
	store   store.Store
	tokens  *token.Issuer
	sms     sms.Sender
	limiter *ratelimit.FixedWindowLimiter
	sync    SyncEnqueuer
	otpTTL  time.Duration
	debug   bool
	now     func() time.Time
}

// New constructs the application. A nil Store falls back to Postgres via
// DatabaseURL; a nil SMS sender falls back to the no-op sender.
func New(cfg Config) (*App, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token issuer required")
	}
	if cfg.OTPTTL == 0 {
		cfg.OTPTTL = 5 * time.Minute
	}
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	sender := cfg.SMS
	if sender == nil {
		sender = sms.NoopSender{}
	}
	return &App{
		store:   dataStore,
		tokens:  cfg.Tokens,
		sms:     sender,
		limiter: cfg.Limiter,
		sync:    cfg.Sync,
		otpTTL:  cfg.OTPTTL,
		debug:   cfg.Debug,
		now:     time.Now,
	}, nil
}

// Store exposes the underlying store for background workers sharing the app
// wiring.
func (a *App) Store() store.Store { return a.store }
