package cache

import (
	"context"
	"fmt"
)

// Cache is a byte-valued cache with prefix invalidation. Implementations must
// be safe for concurrent use.
type Cache interface {
	// Available reports whether the cache stores anything at all.
	Available() bool
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Invalidate(ctx context.Context, key string) error
	// InvalidatePrefix removes every entry whose key starts with prefix.
	InvalidatePrefix(ctx context.Context, prefix string) error
	// SizeBytes is the number of value bytes currently held.
	SizeBytes() int64
	Close() error
}

// Loader creates a cache from the config carried by ctx.
type Loader func(ctx context.Context) (Cache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
