package ristretto

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/chat-archive/internal/testutil/cachetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRistrettoCache_Behaviour(t *testing.T) {
	c, err := New(1<<20, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	cachetest.Run(t, c)
}

func TestRistrettoCache_SizeTracksInvalidation(t *testing.T) {
	ctx := context.Background()
	c, err := New(1<<20, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "collections", []byte("0123456789")))
	assert.Equal(t, int64(len("collections")+10), c.SizeBytes())

	require.NoError(t, c.Invalidate(ctx, "collections"))
	assert.Equal(t, int64(0), c.SizeBytes())
}

func TestRistrettoCache_RejectsInvalidOptions(t *testing.T) {
	_, err := New(0, time.Minute)
	require.Error(t, err)
}
