package refresh

import (
	"context"
	"log/slog"
	"time"
)

// Target recomputes the leaderboard and stores it in the cache.
// It returns the number of ranked users.
type Target interface {
	RefreshLeaderboard(ctx context.Context) (int, error)
}

// Refresher periodically rebuilds the cached leaderboard
type Refresher struct {
	target   Target
	interval time.Duration
}

// NewRefresher creates a new refresh worker
func NewRefresher(target Target, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = time.Minute
	}

	return &Refresher{
		target:   target,
		interval: interval,
	}
}

// Start begins the refresh worker in a goroutine
func (r *Refresher) Start(ctx context.Context) {
	go r.Run(ctx)
}

// Run is the main loop; it returns when ctx is cancelled
func (r *Refresher) Run(ctx context.Context) {
	slog.Info("leaderboard refresher started", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Warm the cache immediately on start
	r.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("leaderboard refresher stopped")
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	slog.Debug("running leaderboard refresh")

	n, err := r.target.RefreshLeaderboard(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("failed to refresh leaderboard", "error", err)
		return
	}

	slog.Debug("leaderboard refreshed", "users", n)
}
