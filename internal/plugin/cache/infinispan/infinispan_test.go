package infinispan_test

import (
	"context"
	"testing"

	"github.com/chirino/chat-archive/internal/config"
	"github.com/chirino/chat-archive/internal/plugin/cache/infinispan"
	"github.com/chirino/chat-archive/internal/testutil/cachetest"
	"github.com/chirino/chat-archive/internal/testutil/testinfinispan"
	"github.com/stretchr/testify/require"
)

func TestInfinispanCache(t *testing.T) {
	ispn := testinfinispan.StartInfinispan(t)
	cfg := config.DefaultConfig()

	c, err := infinispan.Load(context.Background(), ispn.Host, ispn.Username, ispn.Password, &cfg)
	require.NoError(t, err)
	defer c.Close()

	cachetest.Run(t, c)
}
