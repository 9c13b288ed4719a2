// Package memory provides the default in-process cache: an exact LRU bounded by
// total bytes, with per-entry TTL and a janitor that sweeps expired entries.
package memory

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/chirino/chat-archive/internal/config"
	"github.com/chirino/chat-archive/internal/monitoring"
	registrycache "github.com/chirino/chat-archive/internal/registry/cache"
	"github.com/hashicorp/golang-lru/simplelru"
)

const metricsName = "memory"

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "memory",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.Cache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("memory cache: missing config")
	}
	return New(Options{MaxBytes: cfg.CacheMaxBytes, TTL: cfg.CacheTTL})
}

// SizeFunc reports how many bytes an entry is charged against the budget.
type SizeFunc func(key string, value []byte) int64

// DefaultSize charges key and value bytes.
func DefaultSize(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}

// Options configures a Cache.
type Options struct {
	MaxBytes int64
	TTL      time.Duration
	// SizeOf defaults to DefaultSize.
	SizeOf SizeFunc
	// JanitorInterval defaults to TTL/2 clamped to [1s, 1m]. Negative disables the janitor.
	JanitorInterval time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type entry struct {
	value     []byte
	size      int64
	expiresAt time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU
	size     int64
	maxBytes int64
	ttl      time.Duration
	sizeOf   SizeFunc
	now      func() time.Time

	stop      chan struct{}
	closeOnce sync.Once
}

// New creates a cache and starts its janitor.
func New(opts Options) (*Cache, error) {
	if opts.MaxBytes <= 0 {
		return nil, fmt.Errorf("memory cache: max bytes must be positive")
	}
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("memory cache: ttl must be positive")
	}
	c := &Cache{
		maxBytes: opts.MaxBytes,
		ttl:      opts.TTL,
		sizeOf:   opts.SizeOf,
		now:      opts.Now,
		stop:     make(chan struct{}),
	}
	if c.sizeOf == nil {
		c.sizeOf = DefaultSize
	}
	if c.now == nil {
		c.now = time.Now
	}
	// Entry count is unbounded; the byte budget is enforced in Set.
	lru, err := simplelru.NewLRU(math.MaxInt, func(_ interface{}, v interface{}) {
		c.size -= v.(*entry).size
	})
	if err != nil {
		return nil, fmt.Errorf("memory cache: %w", err)
	}
	c.lru = lru

	interval := opts.JanitorInterval
	if interval == 0 {
		interval = min(max(opts.TTL/2, time.Second), time.Minute)
	}
	if interval > 0 {
		go c.janitor(interval)
	}
	return c, nil
}

func (c *Cache) Available() bool { return true }

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(key)
	if !ok {
		monitoring.CacheMiss(metricsName)
		return nil, false, nil
	}
	e := v.(*entry)
	if !c.now().Before(e.expiresAt) {
		c.lru.Remove(key)
		monitoring.CacheEvicted(metricsName, "expired", 1)
		monitoring.CacheMiss(metricsName)
		c.publishSize()
		return nil, false, nil
	}
	monitoring.CacheHit(metricsName)
	return e.value, true, nil
}

// Set stores value, evicting least recently used entries until the budget
// holds. A value larger than the whole budget is not stored.
func (c *Cache) Set(_ context.Context, key string, value []byte) error {
	size := c.sizeOf(key, value)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
	if size > c.maxBytes {
		c.publishSize()
		return nil
	}
	evicted := 0
	for c.size+size > c.maxBytes {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
		evicted++
	}
	c.lru.Add(key, &entry{value: value, size: size, expiresAt: c.now().Add(c.ttl)})
	c.size += size
	monitoring.CacheEvicted(metricsName, "size", evicted)
	c.publishSize()
	return nil
}

func (c *Cache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
	c.publishSize()
	return nil
}

func (c *Cache) InvalidatePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k.(string), prefix) {
			c.lru.Remove(k)
		}
	}
	c.publishSize()
	return nil
}

func (c *Cache) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache) Close() error {
	c.closeOnce.Do(func() { close(c.stop) })
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.publishSize()
	return nil
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for _, k := range c.lru.Keys() {
		v, ok := c.lru.Peek(k)
		if ok && !now.Before(v.(*entry).expiresAt) {
			c.lru.Remove(k)
			removed++
		}
	}
	monitoring.CacheEvicted(metricsName, "expired", removed)
	c.publishSize()
	return removed
}

func (c *Cache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// publishSize must be called with mu held.
func (c *Cache) publishSize() {
	monitoring.CacheSize(metricsName, c.size)
}

var _ registrycache.Cache = (*Cache)(nil)
