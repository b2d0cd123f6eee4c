package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/terra-clan/pricing-arena/internal/models"
)

const (
	leaderboardKey = "leaderboard"
	generationKey  = "leaderboard:generation"
	scoresChannel  = "scores"
)

// setIfCurrent writes the snapshot only while the generation is unchanged.
// KEYS: generation, leaderboard. ARGV: expected generation, payload, ttl in ms.
var setIfCurrent = redis.NewScript(`
local current = redis.call('GET', KEYS[1]) or '0'
if current ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// RedisCache implements LeaderboardCache on Redis.
// Values are msgpack-encoded; events travel over pub/sub so every replica
// of the service sees them.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies connectivity
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "pricing-arena:"
	}

	return &RedisCache{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

func (c *RedisCache) key(name string) string {
	return c.prefix + name
}

// GetLeaderboard returns the cached snapshot or ErrMiss
func (c *RedisCache) GetLeaderboard(ctx context.Context) ([]*models.LeaderboardEntry, error) {
	data, err := c.client.Get(ctx, c.key(leaderboardKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}

	var entries []*models.LeaderboardEntry
	if err := msgpack.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode leaderboard: %w", err)
	}
	if entries == nil {
		entries = []*models.LeaderboardEntry{}
	}
	return entries, nil
}

// Generation returns the shared invalidation counter
func (c *RedisCache) Generation(ctx context.Context) (uint64, error) {
	gen, err := c.client.Get(ctx, c.key(generationKey)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read leaderboard generation: %w", err)
	}
	return gen, nil
}

// SetLeaderboard stores entries with the configured TTL
func (c *RedisCache) SetLeaderboard(ctx context.Context, entries []*models.LeaderboardEntry, generation uint64) error {
	data, err := msgpack.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode leaderboard: %w", err)
	}

	keys := []string{c.key(generationKey), c.key(leaderboardKey)}
	stored, err := setIfCurrent.Run(ctx, c.client, keys,
		strconv.FormatUint(generation, 10), data, c.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to write leaderboard: %w", err)
	}
	if stored == 0 {
		return ErrStale
	}
	return nil
}

// Invalidate deletes the cached snapshot and advances the generation
func (c *RedisCache) Invalidate(ctx context.Context) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.key(generationKey))
		pipe.Del(ctx, c.key(leaderboardKey))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate leaderboard: %w", err)
	}
	return nil
}

// Publish sends ev on the scores channel
func (c *RedisCache) Publish(ctx context.Context, ev *models.ScoreEvent) error {
	data, err := msgpack.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode score event: %w", err)
	}
	if err := c.client.Publish(ctx, c.key(scoresChannel), data).Err(); err != nil {
		return fmt.Errorf("failed to publish score event: %w", err)
	}
	return nil
}

// Subscribe listens on the scores channel until ctx is done
func (c *RedisCache) Subscribe(ctx context.Context) (<-chan *models.ScoreEvent, error) {
	pubsub := c.client.Subscribe(ctx, c.key(scoresChannel))

	// Wait for confirmation that subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to score events: %w", err)
	}

	out := make(chan *models.ScoreEvent, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var ev models.ScoreEvent
				if err := msgpack.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Warn("dropping malformed score event", "error", err)
					continue
				}
				select {
				case out <- &ev:
				default:
				}
			}
		}
	}()

	return out, nil
}

// HealthCheck verifies Redis connectivity
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
