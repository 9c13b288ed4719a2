package sqlstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chirino/chat-archive/internal/config"
	"github.com/chirino/chat-archive/internal/plugin/store/sqlstore"
	registrymigrate "github.com/chirino/chat-archive/internal/registry/migrate"
	registrystore "github.com/chirino/chat-archive/internal/registry/store"
	"github.com/chirino/chat-archive/internal/testutil/storetest"
	"github.com/chirino/chat-archive/internal/testutil/testpg"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) registrystore.ArchiveStore {
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

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, newSQLiteStore)
}

func TestSQLiteStore_MigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()
	cfg.DatastoreType = sqlstore.DialectSQLite
	cfg.DBURL = filepath.Join(t.TempDir(), "archive.db")
	ctx = config.WithContext(ctx, &cfg)

	require.NoError(t, registrymigrate.RunAll(ctx))
	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	s, err := loader(ctx)
	require.NoError(t, err)
	defer s.Close(ctx)

	names, err := s.ListNames(ctx)
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestSQLiteStore_InvalidPatchID(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	_, err := s.BulkUpdate(ctx, "any", []registrystore.SanitizedPatch{{ID: "not-a-number"}})
	var ve *registrystore.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestPostgresStore(t *testing.T) {
	dbURL := testpg.StartPostgres(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.DefaultConfig()
	cfg.DatastoreType = sqlstore.DialectPostgres
	cfg.DBURL = dbURL

	s, err := sqlstore.Open(ctx, sqlstore.DialectPostgres, &cfg)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	defer s.Close(ctx)

	storetest.Run(t, func(t *testing.T) registrystore.ArchiveStore {
		require.NoError(t, s.Truncate(ctx))
		return s
	})
}
