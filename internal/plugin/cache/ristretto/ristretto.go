// Package ristretto provides an in-process cache backed by ristretto's
// cost-bounded TinyLFU admission policy.
package ristretto

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chirino/chat-archive/internal/config"
	"github.com/chirino/chat-archive/internal/monitoring"
	registrycache "github.com/chirino/chat-archive/internal/registry/cache"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/dgraph-io/ristretto/v2/z"
)

const (
	metricsName = "ristretto"
	// Rough expected entry size, used to size the admission counters.
	expectedEntryBytes = 4 * 1024
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "ristretto",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.Cache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("ristretto cache: missing config")
	}
	return New(cfg.CacheMaxBytes, cfg.CacheTTL)
}

type indexed struct {
	key  string
	cost int64
}

// Cache keeps a side index of admitted keys for prefix invalidation and size
// reporting, since ristretto only stores key hashes.
type Cache struct {
	cache *ristretto.Cache[string, []byte]
	ttl   time.Duration

	mu    sync.Mutex
	index map[uint64]indexed
	size  int64
}

// New creates a cache that never holds more than maxBytes of key+value bytes.
func New(maxBytes int64, ttl time.Duration) (*Cache, error) {
	if maxBytes <= 0 || ttl <= 0 {
		return nil, fmt.Errorf("ristretto cache: max bytes and ttl must be positive")
	}
	c := &Cache{ttl: ttl, index: map[uint64]indexed{}}
	rc, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters:        max(10*maxBytes/expectedEntryBytes, 1000),
		MaxCost:            maxBytes,
		BufferItems:        64,
		IgnoreInternalCost: true,
		OnEvict: func(item *ristretto.Item[[]byte]) {
			c.forget(item.Key)
			monitoring.CacheEvicted(metricsName, "policy", 1)
		},
		OnReject: func(item *ristretto.Item[[]byte]) {
			c.forget(item.Key)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto cache: %w", err)
	}
	c.cache = rc
	return c, nil
}

func (c *Cache) Available() bool { return true }

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.cache.Get(key)
	if !ok {
		h, _ := z.KeyToHash(key)
		c.forget(h)
		monitoring.CacheMiss(metricsName)
		return nil, false, nil
	}
	monitoring.CacheHit(metricsName)
	return v, true, nil
}

// Set waits for the write to be applied so a following Get observes it.
func (c *Cache) Set(_ context.Context, key string, value []byte) error {
	cost := int64(len(key) + len(value))
	h, _ := z.KeyToHash(key)
	c.forget(h)
	if !c.cache.SetWithTTL(key, value, cost, c.ttl) {
		return nil
	}
	c.cache.Wait()
	if _, ok := c.cache.Get(key); !ok {
		return nil
	}
	c.mu.Lock()
	c.index[h] = indexed{key: key, cost: cost}
	c.size += cost
	size := c.size
	c.mu.Unlock()
	monitoring.CacheSize(metricsName, size)
	return nil
}

func (c *Cache) Invalidate(_ context.Context, key string) error {
	c.cache.Del(key)
	h, _ := z.KeyToHash(key)
	c.forget(h)
	c.cache.Wait()
	return nil
}

func (c *Cache) InvalidatePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	var keys []string
	for _, e := range c.index {
		if strings.HasPrefix(e.key, prefix) {
			keys = append(keys, e.key)
		}
	}
	c.mu.Unlock()
	for _, k := range keys {
		c.cache.Del(k)
		h, _ := z.KeyToHash(k)
		c.forget(h)
	}
	c.cache.Wait()
	return nil
}

func (c *Cache) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *Cache) Close() error {
	c.cache.Close()
	c.mu.Lock()
	c.index = map[uint64]indexed{}
	c.size = 0
	c.mu.Unlock()
	monitoring.CacheSize(metricsName, 0)
	return nil
}

func (c *Cache) forget(h uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.index[h]; ok {
		delete(c.index, h)
		c.size -= e.cost
		monitoring.CacheSize(metricsName, c.size)
	}
}

var _ registrycache.Cache = (*Cache)(nil)
