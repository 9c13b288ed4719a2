// Package timeout bounds every store operation with a deadline and tags
// failures with the operation that produced them.
package timeout

import (
	"context"
	"errors"
	"time"

	"github.com/chirino/chat-archive/internal/model"
	"github.com/chirino/chat-archive/internal/registry/store"
)

// Wrap returns an ArchiveStore whose operations each run under d.
// A zero d only adds the error tagging.
func Wrap(inner store.ArchiveStore, d time.Duration) store.ArchiveStore {
	return &timeoutStore{inner: inner, d: d}
}

type timeoutStore struct {
	inner store.ArchiveStore
	d     time.Duration
}

func (s *timeoutStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.d)
}

func tag(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	var ue *store.UnavailableError
	if !errors.As(err, &ue) && errors.Is(err, context.DeadlineExceeded) {
		err = &store.UnavailableError{Timeout: true, Err: err}
	}
	return &store.OpError{Op: op, Collection: collection, Err: err}
}

func (s *timeoutStore) Create(ctx context.Context, name string, meta model.ConversationMeta) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return tag("Create", name, s.inner.Create(ctx, name, meta))
}

func (s *timeoutStore) InsertMany(ctx context.Context, name string, messages []model.Message) (int, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	n, err := s.inner.InsertMany(ctx, name, messages)
	return n, tag("InsertMany", name, err)
}

func (s *timeoutStore) FindSorted(ctx context.Context, name string, filter store.MessageFilter, projection store.Projection) ([]model.Message, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	msgs, err := s.inner.FindSorted(ctx, name, filter, projection)
	return msgs, tag("FindSorted", name, err)
}

func (s *timeoutStore) Rename(ctx context.Context, oldName, newName string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return tag("Rename", oldName, s.inner.Rename(ctx, oldName, newName))
}

func (s *timeoutStore) Drop(ctx context.Context, name string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return tag("Drop", name, s.inner.Drop(ctx, name))
}

func (s *timeoutStore) CountDocuments(ctx context.Context, name string) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	n, err := s.inner.CountDocuments(ctx, name)
	return n, tag("CountDocuments", name, err)
}

func (s *timeoutStore) ListNames(ctx context.Context) ([]string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	names, err := s.inner.ListNames(ctx)
	return names, tag("ListNames", "", err)
}

func (s *timeoutStore) BulkUpdate(ctx context.Context, name string, patches []store.SanitizedPatch) (int, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	n, err := s.inner.BulkUpdate(ctx, name, patches)
	return n, tag("BulkUpdate", name, err)
}

func (s *timeoutStore) Describe(ctx context.Context, name string) (*model.ConversationInfo, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	info, err := s.inner.Describe(ctx, name)
	return info, tag("Describe", name, err)
}

func (s *timeoutStore) SetPhotoAvailable(ctx context.Context, name string, available bool) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return tag("SetPhotoAvailable", name, s.inner.SetPhotoAvailable(ctx, name, available))
}

func (s *timeoutStore) SearchSanitized(ctx context.Context, name, term string) ([]model.Message, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	msgs, err := s.inner.SearchSanitized(ctx, name, term)
	return msgs, tag("SearchSanitized", name, err)
}

func (s *timeoutStore) FindMissingSanitized(ctx context.Context, name string, limit int) ([]model.Message, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	msgs, err := s.inner.FindMissingSanitized(ctx, name, limit)
	return msgs, tag("FindMissingSanitized", name, err)
}

func (s *timeoutStore) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return tag("Ping", "", s.inner.Ping(ctx))
}

func (s *timeoutStore) Close(ctx context.Context) error {
	return s.inner.Close(ctx)
}

var _ store.ArchiveStore = (*timeoutStore)(nil)
