package stats

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSink accumulates counters in a Redis hash with HINCRBY, so several
// job processes can share one set of totals.
type RedisSink struct {
	client *redis.Client
	hash   string
}

// RedisConfig configures a RedisSink.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Hash is the Redis key of the counter hash.
	Hash string `yaml:"hash"`
}

// NewRedisSink creates a sink backed by Redis.
func NewRedisSink(cfg RedisConfig) *RedisSink {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisSinkFromClient(rdb, cfg.Hash)
}

// NewRedisSinkFromClient wraps an existing client.
func NewRedisSinkFromClient(client *redis.Client, hash string) *RedisSink {
	if hash == "" {
		hash = "timeline:stats"
	}
	return &RedisSink{client: client, hash: hash}
}

// Add implements Sink.
func (s *RedisSink) Add(ctx context.Context, key string, delta int64) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := s.client.HIncrBy(ctx, s.hash, key, delta).Err(); err != nil {
		return fmt.Errorf("stats: redis hincrby %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
