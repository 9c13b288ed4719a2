package metrics

import (
	"context"
	"time"

	"github.com/chirino/chat-archive/internal/model"
	"github.com/chirino/chat-archive/internal/monitoring"
	"github.com/chirino/chat-archive/internal/registry/store"
)

// Wrap returns an ArchiveStore that records StoreLatency for every operation.
func Wrap(inner store.ArchiveStore) store.ArchiveStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.ArchiveStore
}

func observe(op string, start time.Time) {
	monitoring.ObserveStore(op, start)
}

func (m *metricsStore) Create(ctx context.Context, name string, meta model.ConversationMeta) error {
	defer observe("create", time.Now())
	return m.inner.Create(ctx, name, meta)
}

func (m *metricsStore) InsertMany(ctx context.Context, name string, messages []model.Message) (int, error) {
	defer observe("insert_many", time.Now())
	return m.inner.InsertMany(ctx, name, messages)
}

func (m *metricsStore) FindSorted(ctx context.Context, name string, filter store.MessageFilter, projection store.Projection) ([]model.Message, error) {
	defer observe("find_sorted", time.Now())
	return m.inner.FindSorted(ctx, name, filter, projection)
}

func (m *metricsStore) Rename(ctx context.Context, oldName, newName string) error {
	defer observe("rename", time.Now())
	return m.inner.Rename(ctx, oldName, newName)
}

func (m *metricsStore) Drop(ctx context.Context, name string) error {
	defer observe("drop", time.Now())
	return m.inner.Drop(ctx, name)
}

func (m *metricsStore) CountDocuments(ctx context.Context, name string) (int64, error) {
	defer observe("count_documents", time.Now())
	return m.inner.CountDocuments(ctx, name)
}

func (m *metricsStore) ListNames(ctx context.Context) ([]string, error) {
	defer observe("list_names", time.Now())
	return m.inner.ListNames(ctx)
}

func (m *metricsStore) BulkUpdate(ctx context.Context, name string, patches []store.SanitizedPatch) (int, error) {
	defer observe("bulk_update", time.Now())
	return m.inner.BulkUpdate(ctx, name, patches)
}

func (m *metricsStore) Describe(ctx context.Context, name string) (*model.ConversationInfo, error) {
	defer observe("describe", time.Now())
	return m.inner.Describe(ctx, name)
}

func (m *metricsStore) SetPhotoAvailable(ctx context.Context, name string, available bool) error {
	defer observe("set_photo_available", time.Now())
	return m.inner.SetPhotoAvailable(ctx, name, available)
}

func (m *metricsStore) SearchSanitized(ctx context.Context, name, term string) ([]model.Message, error) {
	defer observe("search_sanitized", time.Now())
	return m.inner.SearchSanitized(ctx, name, term)
}

func (m *metricsStore) FindMissingSanitized(ctx context.Context, name string, limit int) ([]model.Message, error) {
	defer observe("find_missing_sanitized", time.Now())
	return m.inner.FindMissingSanitized(ctx, name, limit)
}

func (m *metricsStore) Ping(ctx context.Context) error {
	defer observe("ping", time.Now())
	return m.inner.Ping(ctx)
}

func (m *metricsStore) Close(ctx context.Context) error {
	return m.inner.Close(ctx)
}

var _ store.ArchiveStore = (*metricsStore)(nil)
