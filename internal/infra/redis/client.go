package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis as a read-side cache for leaderboard pages. Every
// operation fails soft: a broken cache degrades reads to the database, it
// never breaks them.
type Client struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

// Config holds Redis connection configuration.
type Config struct {
	URL            string        `yaml:"url"`
	Password       string        `yaml:"password"`
	LeaderboardTTL time.Duration `yaml:"leaderboard_ttl"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb, ttl: cfg.LeaderboardTTL, log: slog.Default()}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Get returns a cached payload, or false on miss or error.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.log.Debug("Cache read failed", "key", key, "error", err)
		return nil, false
	}
	return val, true
}

// Set stores a payload under the configured TTL. Staleness is bounded by
// the TTL; there is no explicit invalidation.
func (c *Client) Set(ctx context.Context, key string, payload []byte) {
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.log.Debug("Cache write failed", "key", key, "error", err)
	}
}
