package cache

import (
	"context"
	"sync"
	"time"

	"github.com/terra-clan/pricing-arena/internal/models"
)

// subscriberBuffer is the per-subscriber queue; slow readers drop events
const subscriberBuffer = 16

// MemoryCache is a process-local LeaderboardCache
type MemoryCache struct {
	mu        sync.RWMutex
	entries    []*models.LeaderboardEntry
	generation uint64
	expiresAt  time.Time
	ttl       time.Duration
	subs      map[chan *models.ScoreEvent]struct{}
	closed    bool
	done      chan struct{}
	now       func() time.Time
}

// NewMemoryCache creates an in-memory cache; ttl <= 0 keeps snapshots until invalidated
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:  ttl,
		subs: make(map[chan *models.ScoreEvent]struct{}),
		done: make(chan struct{}),
		now:  time.Now,
	}
}

// GetLeaderboard returns a copy of the cached snapshot
func (c *MemoryCache) GetLeaderboard(ctx context.Context) ([]*models.LeaderboardEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.entries == nil {
		return nil, ErrMiss
	}
	if c.ttl > 0 && c.now().After(c.expiresAt) {
		return nil, ErrMiss
	}
	return cloneEntries(c.entries), nil
}

// Generation returns the invalidation counter
func (c *MemoryCache) Generation(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation, nil
}

// SetLeaderboard stores a copy of entries
func (c *MemoryCache) SetLeaderboard(ctx context.Context, entries []*models.LeaderboardEntry, generation uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		return ErrStale
	}

	c.entries = cloneEntries(entries)
	if c.entries == nil {
		c.entries = []*models.LeaderboardEntry{}
	}
	c.expiresAt = c.now().Add(c.ttl)
	return nil
}

// Invalidate drops the snapshot
func (c *MemoryCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.generation++
	return nil
}

// Publish delivers ev to every subscriber without blocking
func (c *MemoryCache) Publish(ctx context.Context, ev *models.ScoreEvent) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for ch := range c.subs {
		copied := *ev
		select {
		case ch <- &copied:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber until ctx is done
func (c *MemoryCache) Subscribe(ctx context.Context) (<-chan *models.ScoreEvent, error) {
	ch := make(chan *models.ScoreEvent, subscriberBuffer)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, nil
	}
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			c.unsubscribe(ch)
		case <-c.done:
		}
	}()

	return ch, nil
}

func (c *MemoryCache) unsubscribe(ch chan *models.ScoreEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[ch]; ok {
		delete(c.subs, ch)
		close(ch)
	}
}

// HealthCheck always succeeds
func (c *MemoryCache) HealthCheck(ctx context.Context) error {
	return nil
}

// Close closes all subscriber channels
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for ch := range c.subs {
		delete(c.subs, ch)
		close(ch)
	}
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

func cloneEntries(entries []*models.LeaderboardEntry) []*models.LeaderboardEntry {
	if entries == nil {
		return nil
	}
	out := make([]*models.LeaderboardEntry, len(entries))
	for i, e := range entries {
		copied := *e
		out[i] = &copied
	}
	return out
}
