package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/chirino/chat-archive/internal/archive"
	"github.com/chirino/chat-archive/internal/plugin/cache/memory"
	registrycache "github.com/chirino/chat-archive/internal/registry/cache"
	registrystore "github.com/chirino/chat-archive/internal/registry/store"
	"github.com/chirino/chat-archive/internal/service"
	"github.com/chirino/chat-archive/internal/testutil/testsqlite"
	"github.com/stretchr/testify/require"
)

type msg struct {
	sender  string
	content string
	ts      int64
}

// fragment renders one export file for participant with the given messages.
func fragment(t *testing.T, participant string, msgs ...msg) archive.Fragment {
	t.Helper()
	type jsonMsg struct {
		SenderName  string `json:"sender_name"`
		Content     string `json:"content"`
		TimestampMS int64  `json:"timestamp_ms"`
	}
	doc := map[string]any{
		"participants": []map[string]string{{"name": participant}, {"name": "Me"}},
		"title":        participant,
		"thread_path":  "inbox/" + participant,
		"messages":     []jsonMsg{},
	}
	var list []jsonMsg
	for _, m := range msgs {
		list = append(list, jsonMsg{SenderName: m.sender, Content: m.content, TimestampMS: m.ts})
	}
	if list != nil {
		doc["messages"] = list
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return archive.Fragment{Name: fmt.Sprintf("message_%d.json", len(msgs)), Data: data}
}

func newMemoryCache(t *testing.T) *memory.Cache {
	t.Helper()
	c, err := memory.New(memory.Options{MaxBytes: 1 << 20, TTL: time.Hour, JanitorInterval: -1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type fixture struct {
	store   registrystore.ArchiveStore
	cache   *memory.Cache
	archive *service.Archive
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, func(s registrystore.ArchiveStore) registrystore.ArchiveStore { return s })
}

// newFixtureWith lets a test wrap the store the services see.
func newFixtureWith(t *testing.T, wrap func(registrystore.ArchiveStore) registrystore.ArchiveStore) *fixture {
	s := wrap(testsqlite.New(t))
	c := newMemoryCache(t)
	return &fixture{store: s, cache: c, archive: service.NewArchive(s, c, 4)}
}

func (f *fixture) ingest(t *testing.T, fragments ...archive.Fragment) string {
	t.Helper()
	res, err := f.archive.Mutations.Ingest(context.Background(), fragments)
	require.NoError(t, err)
	return res.CollectionName
}

func (f *fixture) cached(t *testing.T, key registrycache.Key) bool {
	t.Helper()
	_, ok, err := f.cache.Get(context.Background(), key.String())
	require.NoError(t, err)
	return ok
}

// brokenCache fails every operation.
type brokenCache struct{}

var errCacheDown = errors.New("cache down")

func (brokenCache) Available() bool { return true }
func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errCacheDown
}
func (brokenCache) Set(context.Context, string, []byte) error { return errCacheDown }
func (brokenCache) Invalidate(context.Context, string) error { return errCacheDown }
func (brokenCache) InvalidatePrefix(context.Context, string) error { return errCacheDown }
func (brokenCache) SizeBytes() int64 { return 0 }
func (brokenCache) Close() error { return nil }
