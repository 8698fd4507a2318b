// Package analytics keeps per-trigger firing counters in Redis.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/eventtrigger/internal/domain"
)

type Config struct {
	Window    time.Duration // bucket width: 1m, 5m or 1h
	Retention time.Duration // TTL of each bucket key
}

func DefaultConfig() Config {
	return Config{Window: time.Hour, Retention: 7 * 24 * time.Hour}
}

type RedisSink struct {
	client redis.Cmdable
	config Config
}

func NewRedisSink(client redis.Cmdable, config Config) *RedisSink {
	if config.Window <= 0 {
		config.Window = time.Hour
	}
	return &RedisSink{client: client, config: config}
}

// RecordFiring increments the bucket counter covering the log's firing time.
func (s *RedisSink) RecordFiring(ctx context.Context, log domain.EventLog, kind domain.TriggerKind) error {
	key := buildKey(log.TriggerID.String(), firingType(log, kind), log.TriggeredAt, s.config.Window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	if s.config.Retention > 0 {
		pipe.Expire(ctx, key, s.config.Retention)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Count returns the counter for a trigger's bucket containing at.
func (s *RedisSink) Count(ctx context.Context, triggerID string, typ string, at time.Time) (int64, error) {
	n, err := s.client.Get(ctx, buildKey(triggerID, typ, at, s.config.Window)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get: %w", err)
	}
	return n, nil
}

// Ping checks connectivity.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func firingType(log domain.EventLog, kind domain.TriggerKind) string {
	if log.IsTest {
		return string(kind) + "_test"
	}
	return string(kind)
}

func buildKey(triggerID, typ string, t time.Time, window time.Duration) string {
	return fmt.Sprintf("t:%s:%s:%s", triggerID, typ, truncateToBucket(t, window))
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}
