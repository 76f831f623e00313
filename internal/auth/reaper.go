package auth

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically deletes expired refresh tokens. Lookups already
// delete expired rows they meet; the reaper catches the ones never
// presented again.
type Reaper struct {
	tokens   TokenRepository
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	// OnSweep, when set, receives each sweep's deleted and remaining active
	// counts. Set before Run.
	OnSweep func(deleted int64, active int)
}

// NewReaper creates a Reaper. interval <= 0 makes Run return immediately.
func NewReaper(tokens TokenRepository, interval time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{tokens: tokens, interval: interval, logger: logger, now: time.Now}
}

// Run sweeps once, then every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	if r.interval <= 0 {
		r.logger.Info("refresh token reaper disabled")
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("refresh token sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep deletes expired tokens once and returns how many were removed.
func (r *Reaper) Sweep(ctx context.Context) (int64, error) {
	now := r.now()

	deleted, err := r.tokens.DeleteExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	active, err := r.tokens.CountActive(ctx, now)
	if err != nil {
		return deleted, err
	}

	if deleted > 0 {
		r.logger.Info("expired refresh tokens removed", "count", deleted, "active", active)
	}
	if r.OnSweep != nil {
		r.OnSweep(deleted, active)
	}
	return deleted, nil
}
