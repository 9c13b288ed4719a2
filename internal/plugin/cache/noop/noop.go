package noop

import (
	"context"

	"github.com/chirino/chat-archive/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.Cache, error) {
			return New(), nil
		},
	})
}

// New returns a cache that stores nothing.
func New() cache.Cache { return noopCache{} }

type noopCache struct{}

func (noopCache) Available() bool { return false }
func (noopCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}
func (noopCache) Set(_ context.Context, _ string, _ []byte) error { return nil }
func (noopCache) Invalidate(_ context.Context, _ string) error { return nil }
func (noopCache) InvalidatePrefix(_ context.Context, _ string) error { return nil }
func (noopCache) SizeBytes() int64 { return 0 }
func (noopCache) Close() error { return nil }

var _ cache.Cache = noopCache{}
