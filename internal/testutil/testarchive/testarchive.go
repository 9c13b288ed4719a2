// Package testarchive wires the archive services over a sqlite store and an
// in-process cache for handler tests.
package testarchive

import (
	"testing"
	"time"

	"github.com/chirino/chat-archive/internal/plugin/cache/memory"
	"github.com/chirino/chat-archive/internal/plugin/store/sqlstore"
	"github.com/chirino/chat-archive/internal/service"
	"github.com/chirino/chat-archive/internal/testutil/testsqlite"
	"github.com/stretchr/testify/require"
)

// Env is a ready-to-use archive.
type Env struct {
	Store   *sqlstore.Store
	Cache   *memory.Cache
	Archive *service.Archive
}

// New returns an empty archive torn down with the test.
func New(t testing.TB) *Env {
	t.Helper()
	s := testsqlite.New(t)
	c, err := memory.New(memory.Options{MaxBytes: 1 << 20, TTL: time.Hour, JanitorInterval: -1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return &Env{Store: s, Cache: c, Archive: service.NewArchive(s, c, 4)}
}
