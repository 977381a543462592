package service

import (
	"context"
	"time"

	"github.com/diagnosis/slotgrid/internal/repo"
	"github.com/diagnosis/slotgrid/pkg/logger"
)

const loginAuditRetention = 30 * 24 * time.Hour

// Janitor periodically removes expired tokens, old login audit rows and
// stale lockout entries.
type Janitor struct {
	store    repo.Store
	lockout  *LockoutGuard
	interval time.Duration
	now      func() time.Time
}

func NewJanitor(store repo.Store, lockout *LockoutGuard, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Janitor{store: store, lockout: lockout, interval: interval, now: time.Now}
}

func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *Janitor) RunOnce(ctx context.Context) {
	now := j.now()

	refresh, err := j.store.RefreshTokens().DeleteExpired(ctx, now)
	if err != nil {
		logger.ErrorContext(ctx, "janitor: refresh token cleanup failed", "error", err)
	}
	email, err := j.store.EmailTokens().DeleteExpired(ctx, now)
	if err != nil {
		logger.ErrorContext(ctx, "janitor: email token cleanup failed", "error", err)
	}
	attempts, err := j.store.LoginAttempts().DeleteBefore(ctx, now.Add(-loginAuditRetention))
	if err != nil {
		logger.ErrorContext(ctx, "janitor: login audit cleanup failed", "error", err)
	}
	tracked := j.lockout.Prune()

	logger.DebugContext(ctx, "janitor pass complete",
		"refresh_tokens_deleted", refresh,
		"email_tokens_deleted", email,
		"login_attempts_deleted", attempts,
		"lockout_accounts_tracked", tracked,
	)
}
