package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cryptoPilot/internal/ports"

	"github.com/redis/go-redis/v9"
)

// Cache implements ports.QuoteCache on Redis. Quotes are stored as JSON under
// a per-asset key with a TTL so stale prices age out between poll cycles.
type Cache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	logger ports.Logger
}

// Config holds configuration for the Redis quote cache.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
	Logger   ports.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Redis cache")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "cryptopilot"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}

	cfg.Logger.Info(ctx, "Redis quote cache connected", map[string]interface{}{"addr": cfg.Addr, "ttl": ttl.String()})
	return &Cache{rdb: rdb, prefix: prefix, ttl: ttl, logger: cfg.Logger}, nil
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(rdb *redis.Client, prefix string, ttl time.Duration, logger ports.Logger) *Cache {
	if prefix == "" {
		prefix = "cryptopilot"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{rdb: rdb, prefix: prefix, ttl: ttl, logger: logger}
}

func (c *Cache) key(asset, currency string) string {
	return fmt.Sprintf("%s:quote:%s:%s", c.prefix, strings.ToUpper(asset), strings.ToUpper(currency))
}

// Get returns the cached quote for an asset or ports.ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, asset, currency string) (*ports.Quote, error) {
	raw, err := c.rdb.Get(ctx, c.key(asset, currency)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ports.ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read cached quote for %s: %w", asset, err)
	}

	var quote ports.Quote
	if err := json.Unmarshal([]byte(raw), &quote); err != nil {
		// A corrupt entry behaves like a miss so the caller refreshes it.
		c.logger.Warn(ctx, "Dropping corrupt cached quote", map[string]interface{}{"asset": asset, "error": err.Error()})
		c.rdb.Del(ctx, c.key(asset, currency))
		return nil, ports.ErrCacheMiss
	}
	return &quote, nil
}

// Put stores a quote under the configured TTL.
func (c *Cache) Put(ctx context.Context, quote *ports.Quote) error {
	if quote == nil || quote.Price <= 0 {
		return nil
	}
	b, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("failed to marshal quote for %s: %w", quote.Asset, err)
	}
	if err := c.rdb.Set(ctx, c.key(quote.Asset, quote.Currency), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache quote for %s: %w", quote.Asset, err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}
