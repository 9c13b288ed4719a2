package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chirino/chat-archive/internal/config"
	"github.com/chirino/chat-archive/internal/monitoring"
	registrycache "github.com/chirino/chat-archive/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultTTL = 10 * time.Minute
	// KeyPrefix namespaces every key this service writes.
	KeyPrefix   = "chat-archive:"
	scanCount   = 500
	metricsName = "redis"
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.Cache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: CHAT_ARCHIVE_REDIS_URL is required")
	}
	return LoadFromURLWithTTL(ctx, cfg.RedisURL, cfg.CacheTTL)
}

// LoadFromURLWithTTL creates a cache from a Redis-compatible URL.
func LoadFromURLWithTTL(ctx context.Context, redisURL string, ttl time.Duration) (*Cache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	return LoadFromOptionsWithTTL(ctx, opts, ttl)
}

// LoadFromOptionsWithTTL creates a cache from go-redis Options.
// This allows callers to customize options (e.g. Protocol for RESP2).
func LoadFromOptionsWithTTL(ctx context.Context, opts *goredis.Options, ttl time.Duration) (*Cache, error) {
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{client: client, ttl: ttl, name: metricsName}, nil
}

// Cache stores entries server-side with a TTL. Entries are shared by every
// process pointing at the same server, but invalidation is not coordinated
// between processes.
type Cache struct {
	client *goredis.Client
	ttl    time.Duration
	name   string
}

// WithMetricsName returns c reporting its metrics under name.
func (c *Cache) WithMetricsName(name string) *Cache {
	c.name = name
	return c
}

func (c *Cache) Available() bool {
	return true
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, KeyPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		monitoring.CacheMiss(c.name)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	monitoring.CacheHit(c.name)
	return data, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte) error {
	return c.client.Set(ctx, KeyPrefix+key, value, c.ttl).Err()
}

func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, KeyPrefix+key).Err()
}

func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) error {
	keys, err := c.scan(ctx, KeyPrefix+escapeGlob(prefix)+"*")
	if err != nil {
		return err
	}
	for start := 0; start < len(keys); start += scanCount {
		end := min(start+scanCount, len(keys))
		if err := c.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return err
		}
	}
	return nil
}

// SizeBytes sums the value lengths of this service's keys. It is an
// inspection aid and returns 0 when the server cannot be reached.
func (c *Cache) SizeBytes() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	keys, err := c.scan(ctx, KeyPrefix+"*")
	if err != nil || len(keys) == 0 {
		return 0
	}
	pipe := c.client.Pipeline()
	cmds := make([]*goredis.IntCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.StrLen(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return 0
	}
	var total int64
	for _, cmd := range cmds {
		total += cmd.Val()
	}
	monitoring.CacheSize(c.name, total)
	return total
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) scan(ctx context.Context, match string) ([]string, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, match, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}

var _ registrycache.Cache = (*Cache)(nil)
