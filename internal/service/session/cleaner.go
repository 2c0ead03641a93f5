package session

import (
	"context"
	"time"

	"github.com/timothysaatum/hepvac-api-sub000/internal/logger"
	"github.com/timothysaatum/hepvac-api-sub000/internal/repository"
)

const defaultCleanInterval = 10 * time.Minute

// Cleaner periodically closes overdue sessions and revokes refresh tokens
// past their absolute expiry. Both are safety nets: the same checks run on
// every validation, the cleaner just keeps stale rows from piling up.
type Cleaner struct {
	interval time.Duration
	sessions repository.SessionRepo
	refresh  repository.RefreshTokenRepo
	logger   logger.Logger
}

func NewCleaner(interval time.Duration, sessions repository.SessionRepo, refresh repository.RefreshTokenRepo, l logger.Logger) *Cleaner {
	if interval == 0 {
		interval = defaultCleanInterval
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Cleaner{
		interval: interval,
		sessions: sessions,
		refresh:  refresh,
		logger:   l,
	}
}

// Run sweeps on the interval until the context is done.
// The returned channel closes when the loop has fully stopped.
func (c *Cleaner) Run(ctx context.Context) <-chan struct{} {
	stopped := make(chan struct{})
	c.logger.Debug("Starting session cleaner", "interval", c.interval)

	go func() {
		defer close(stopped)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.logger.Debug("Session cleaner stopped by context")
				return

			case <-ticker.C:
				c.sweep(ctx)
			}
		}
	}()

	return stopped
}

func (c *Cleaner) sweep(ctx context.Context) {
	now := time.Now()

	expired, err := c.sessions.TerminateOverdue(ctx, now, ReasonExpired)
	if err != nil {
		c.logger.Error("Failed to terminate overdue sessions", "error", err)
	} else if expired > 0 {
		c.logger.Info("Terminated overdue sessions", "count", expired)
	}

	revoked, err := c.refresh.RevokeOverdue(ctx, now)
	if err != nil {
		c.logger.Error("Failed to revoke overdue refresh tokens", "error", err)
	} else if revoked > 0 {
		c.logger.Info("Revoked overdue refresh tokens", "count", revoked)
	}
}
