// Package testsqlite opens throwaway sqlite-backed archive stores for tests.
package testsqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chirino/chat-archive/internal/config"
	"github.com/chirino/chat-archive/internal/plugin/store/sqlstore"
	"github.com/stretchr/testify/require"
)

// New returns a migrated, empty store in a temp dir. It is closed when the test ends.
func New(t testing.TB) *sqlstore.Store {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.DefaultConfig()
	cfg.DatastoreType = sqlstore.DialectSQLite
	cfg.DBURL = filepath.Join(t.TempDir(), "archive.db")

	s, err := sqlstore.Open(ctx, sqlstore.DialectSQLite, &cfg)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}
