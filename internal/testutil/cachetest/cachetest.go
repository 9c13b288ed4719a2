// Package cachetest holds behaviour checks shared by every cache plugin.
package cachetest

import (
	"context"
	"testing"

	registrycache "github.com/chirino/chat-archive/internal/registry/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises get, set, invalidation and prefix invalidation on c.
func Run(t *testing.T, c registrycache.Cache) {
	t.Helper()
	ctx := context.Background()
	from, to := int64(1), int64(2)

	alice := registrycache.MessagesKey("alice", nil, nil).String()
	aliceRange := registrycache.MessagesKey("alice", &from, &to).String()
	aliceOne := registrycache.MessagesKey("alice_1", nil, nil).String()
	dir := registrycache.CollectionsKey().String()

	t.Run("miss", func(t *testing.T) {
		_, ok, err := c.Get(ctx, "messages:nobody::")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, alice, []byte(`[1]`)))
		v, ok, err := c.Get(ctx, alice)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, `[1]`, string(v))
		assert.Positive(t, c.SizeBytes())
	})

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, alice, []byte(`[2]`)))
		v, ok, err := c.Get(ctx, alice)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, `[2]`, string(v))
	})

	t.Run("invalidate", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, dir, []byte(`[]`)))
		require.NoError(t, c.Invalidate(ctx, dir))
		_, ok, err := c.Get(ctx, dir)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("invalidate prefix", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, alice, []byte(`a`)))
		require.NoError(t, c.Set(ctx, aliceRange, []byte(`b`)))
		require.NoError(t, c.Set(ctx, aliceOne, []byte(`c`)))

		require.NoError(t, c.InvalidatePrefix(ctx, registrycache.ConversationPrefix("alice")))

		for _, k := range []string{alice, aliceRange} {
			_, ok, err := c.Get(ctx, k)
			require.NoError(t, err)
			assert.False(t, ok, k)
		}
		v, ok, err := c.Get(ctx, aliceOne)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "c", string(v))
	})
}
