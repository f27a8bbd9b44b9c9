package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mailsweep/mailsweep/internal/auth"
)

// TokenRefresher periodically refreshes the stored OAuth token so a long-idle
// session does not expire between scans.
type TokenRefresher struct {
	logger   *zap.Logger
	auth     *auth.Manager
	interval time.Duration
	stopCh   chan struct{}
}

// NewTokenRefresher constructs a background job that runs periodically.
func NewTokenRefresher(logger *zap.Logger, mgr *auth.Manager, interval time.Duration) *TokenRefresher {
	return &TokenRefresher{
		logger:   logger,
		auth:     mgr,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the refresh loop (typically every 30 min).
func (r *TokenRefresher) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("token_refresher.started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ticker.C:
			r.runOnce(ctx)
		case <-r.stopCh:
			r.logger.Info("token_refresher.stopped (manual stop)")
			return
		case <-ctx.Done():
			r.logger.Info("token_refresher.stopped (context canceled)")
			return
		}
	}
}

// Stop gracefully halts the refresher.
func (r *TokenRefresher) Stop() {
	close(r.stopCh)
}

func (r *TokenRefresher) runOnce(ctx context.Context) {
	start := time.Now()

	if err := r.auth.Refresh(ctx); err != nil {
		r.logger.Warn("token_refresher.refresh_failed", zap.Error(err))
		return
	}

	r.logger.Debug("token_refresher.success",
		zap.Duration("duration", time.Since(start)))
}
