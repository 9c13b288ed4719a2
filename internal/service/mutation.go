package service

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-archive/internal/archive"
	"github.com/chirino/chat-archive/internal/model"
	"github.com/chirino/chat-archive/internal/monitoring"
	registrycache "github.com/chirino/chat-archive/internal/registry/cache"
	registrystore "github.com/chirino/chat-archive/internal/registry/store"
)

// DefaultMaxNameSuffix bounds the _1, _2, ... attempts of Ingest.
const DefaultMaxNameSuffix = 100

// IngestResult describes a stored upload.
type IngestResult struct {
	CollectionName string
	MessageCount   int
}

// MutationCoordinator performs every write and keeps the cache coherent with
// it: each successful mutation has invalidated the affected entries before it
// returns.
type MutationCoordinator struct {
	store         registrystore.ArchiveStore
	cache         registrycache.Cache
	epochs        *Epochs
	MaxNameSuffix int
}

// NewMutationCoordinator creates a coordinator. epochs must be the instance
// shared with the QueryService.
func NewMutationCoordinator(store registrystore.ArchiveStore, cache registrycache.Cache, epochs *Epochs) *MutationCoordinator {
	return &MutationCoordinator{store: store, cache: cache, epochs: epochs, MaxNameSuffix: DefaultMaxNameSuffix}
}

// Ingest decodes and combines the fragments of one export, then stores it
// under a fresh conversation name. Nothing is written unless every fragment
// parses.
func (m *MutationCoordinator) Ingest(ctx context.Context, fragments []archive.Fragment) (*IngestResult, error) {
	conv, err := archive.Combine(fragments)
	if err != nil {
		monitoring.Upload("rejected")
		return nil, err
	}

	name, err := m.createUnique(ctx, archive.CollectionName(conv.ConversationMeta), conv.ConversationMeta)
	if err != nil {
		monitoring.Upload("failed")
		return nil, err
	}

	msgs := conv.Messages
	// Every message carries sanitized content, empty when it has no text.
	for i := range msgs {
		s := archive.SanitizeMessage(msgs[i])
		msgs[i].SanitizedContent = &s
	}
	n, insertErr := m.store.InsertMany(ctx, name, msgs)
	m.invalidate(ctx, name)
	if insertErr != nil {
		monitoring.Upload("partial")
		log.Error("Upload stored partially", "collection", name, "inserted", n, "total", len(msgs), "err", insertErr)
		return nil, &PartialUploadError{Collection: name, Inserted: n, Total: len(msgs), Err: insertErr}
	}
	monitoring.Upload("stored")
	log.Info("Stored upload", "collection", name, "count", n)
	return &IngestResult{CollectionName: name, MessageCount: n}, nil
}

func (m *MutationCoordinator) createUnique(ctx context.Context, base string, meta model.ConversationMeta) (string, error) {
	for i := 0; i <= m.MaxNameSuffix; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s_%d", base, i)
		}
		err := m.store.Create(ctx, name, meta)
		if err == nil {
			return name, nil
		}
		if !registrystore.IsConflict(err) {
			return "", err
		}
	}
	return "", &registrystore.ConflictError{
		Message: fmt.Sprintf("no free conversation name for %s after %d attempts", base, m.MaxNameSuffix+1),
		Code:    "name_collision",
		Details: map[string]interface{}{"collectionName": base},
	}
}

// Rename moves a conversation to a new name.
func (m *MutationCoordinator) Rename(ctx context.Context, oldName, newName string) error {
	if !archive.ValidCollectionName(newName) {
		return validation("newCollectionName", "must match [A-Za-z0-9_]+, got %q", newName)
	}
	if oldName == newName {
		if _, err := m.store.Describe(ctx, oldName); err != nil {
			return err
		}
		return registrystore.NameCollision(newName)
	}
	if err := m.store.Rename(ctx, oldName, newName); err != nil {
		return err
	}
	m.invalidate(ctx, oldName, newName)
	log.Info("Renamed conversation", "from", oldName, "to", newName)
	return nil
}

// Delete drops a conversation and all its messages.
func (m *MutationCoordinator) Delete(ctx context.Context, name string) error {
	if err := m.store.Drop(ctx, name); err != nil {
		return err
	}
	m.invalidate(ctx, name)
	log.Info("Deleted conversation", "collection", name)
	return nil
}

// SetPhotoAvailable records whether a photo exists for the conversation.
// Conversation metadata is never cached, so nothing is invalidated.
func (m *MutationCoordinator) SetPhotoAvailable(ctx context.Context, name string, available bool) error {
	return m.store.SetPhotoAvailable(ctx, name, available)
}

func (m *MutationCoordinator) invalidate(ctx context.Context, names ...string) {
	m.epochs.Bump(names...)
	if !m.cache.Available() {
		return
	}
	for _, n := range names {
		if err := m.cache.InvalidatePrefix(ctx, registrycache.ConversationPrefix(n)); err != nil {
			log.Error("Cache invalidation failed", "collection", n, "err", err)
		}
	}
	if err := m.cache.Invalidate(ctx, registrycache.CollectionsKey().String()); err != nil {
		log.Error("Cache invalidation failed", "key", "collections", "err", err)
	}
}
