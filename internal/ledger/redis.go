// Package ledger remembers which change events were already applied so a
// redelivered event is not processed twice.
package ledger

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// KeyPrefix namespaces ledger keys in Redis.
const KeyPrefix = "delivery_event:"

// DefaultTTL bounds how long an event id is remembered.
const DefaultTTL = 48 * time.Hour

// Ledger records processed change events.
type Ledger interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// Config configures the Redis ledger.
type Config struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisLedger stores processed event ids as expiring Redis keys.
type RedisLedger struct {
	client  *redis.Client
	ttl     time.Duration
	enabled bool
}

// NewRedisLedger connects to Redis. A disabled config yields a ledger that
// never reports an event as seen.
func NewRedisLedger(cfg Config) (*RedisLedger, error) {
	if !cfg.Enabled {
		return &RedisLedger{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLedger{client: client, ttl: ttl, enabled: true}, nil
}

// Seen reports whether the event was marked before.
func (l *RedisLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	if !l.enabled || eventID == "" {
		return false, nil
	}
	n, err := l.client.Exists(ctx, KeyPrefix+eventID).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to check event in Redis")
	}
	return n > 0, nil
}

// Mark records the event as processed.
func (l *RedisLedger) Mark(ctx context.Context, eventID string) error {
	if !l.enabled || eventID == "" {
		return nil
	}
	if err := l.client.SetNX(ctx, KeyPrefix+eventID, time.Now().UTC().Format(time.RFC3339), l.ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to mark event in Redis")
	}
	return nil
}

// Close releases the Redis connection.
func (l *RedisLedger) Close() error {
	if !l.enabled {
		return nil
	}
	return l.client.Close()
}
