// Package infinispan provides a cache plugin that connects to Infinispan
// via its RESP (Redis protocol) endpoint, reusing the Redis cache implementation.
package infinispan

import (
	"context"
	"fmt"

	"github.com/chirino/chat-archive/internal/config"
	"github.com/chirino/chat-archive/internal/plugin/cache/redis"
	registrycache "github.com/chirino/chat-archive/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "infinispan",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.Cache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.InfinispanHost == "" {
		return nil, fmt.Errorf("infinispan cache: CHAT_ARCHIVE_INFINISPAN_HOST is required")
	}
	return Load(ctx, cfg.InfinispanHost, cfg.InfinispanUsername, cfg.InfinispanPassword, cfg)
}

// Load connects to the RESP endpoint at host.
func Load(ctx context.Context, host, username, password string, cfg *config.Config) (registrycache.Cache, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, cfg.InfinispanStartupTimeout)
	defer cancel()

	// Infinispan's RESP endpoint does not support the RESP3 HELLO command,
	// so we must use Protocol 2 (RESP2) to avoid a handshake hang.
	opts := &goredis.Options{
		Addr:     host,
		Username: username,
		Password: password,
		Protocol: 2,
	}
	c, err := redis.LoadFromOptionsWithTTL(timeoutCtx, opts, cfg.CacheTTL)
	if err != nil {
		return nil, err
	}
	return c.WithMetricsName("infinispan"), nil
}
