package eventsink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisList is the list key events are pushed to.
const DefaultRedisList = "helm-gateway:events"

// redisLister is the subset of redis.Cmdable the sink uses.
type redisLister interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
}

// RedisSink appends JSON envelopes to a Redis list, optionally capped to the
// newest MaxLen entries.
type RedisSink struct {
	client redisLister
	list   string
	maxLen int64
	now    func() time.Time
}

// RedisOptions configures NewRedisSink.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	List     string
	MaxLen   int64
}

// NewRedisSink connects lazily to the Redis server in opts.
func NewRedisSink(opts RedisOptions) *RedisSink {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return newRedisSink(rdb, opts.List, opts.MaxLen)
}

func newRedisSink(client redisLister, list string, maxLen int64) *RedisSink {
	if list == "" {
		list = DefaultRedisList
	}
	return &RedisSink{client: client, list: list, maxLen: maxLen, now: time.Now}
}

// Enqueue pushes the envelope.
func (s *RedisSink) Enqueue(ctx context.Context, label string, ev Event) error {
	data, err := json.Marshal(Envelope{
		ID:         uuid.NewString(),
		Label:      label,
		Event:      ev,
		EnqueuedAt: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("eventsink: encode envelope: %w", err)
	}

	if err := s.client.RPush(ctx, s.list, data).Err(); err != nil {
		return fmt.Errorf("eventsink: redis push: %w", err)
	}
	if s.maxLen > 0 {
		if err := s.client.LTrim(ctx, s.list, -s.maxLen, -1).Err(); err != nil {
			return fmt.Errorf("eventsink: redis trim: %w", err)
		}
	}
	return nil
}

// Close releases the underlying client when it owns one.
func (s *RedisSink) Close() error {
	if c, ok := s.client.(*redis.Client); ok {
		return c.Close()
	}
	return nil
}
