// Package cache holds the leaderboard snapshot shared between requests and
// fans score events out to live subscribers.
package cache

import (
	"context"
	"errors"

	"github.com/terra-clan/pricing-arena/internal/models"
)

// Common errors
var (
	ErrMiss  = errors.New("cache miss")
	ErrStale = errors.New("leaderboard snapshot is stale")
)

// LeaderboardCache stores the computed leaderboard and distributes score events
type LeaderboardCache interface {
	// GetLeaderboard returns the cached snapshot or ErrMiss
	GetLeaderboard(ctx context.Context) ([]*models.LeaderboardEntry, error)

	// Generation returns a counter advanced by every Invalidate
	Generation(ctx context.Context) (uint64, error)

	// SetLeaderboard replaces the cached snapshot if no Invalidate happened
	// since generation was read, otherwise it returns ErrStale.
	SetLeaderboard(ctx context.Context, entries []*models.LeaderboardEntry, generation uint64) error

	// Invalidate drops the cached snapshot and advances the generation
	Invalidate(ctx context.Context) error

	// Publish sends ev to every current subscriber
	Publish(ctx context.Context, ev *models.ScoreEvent) error

	// Subscribe returns a channel of score events that is closed when ctx
	// ends or the cache is closed.
	Subscribe(ctx context.Context) (<-chan *models.ScoreEvent, error)

	// HealthCheck verifies the backing store is reachable
	HealthCheck(ctx context.Context) error

	Close() error
}
