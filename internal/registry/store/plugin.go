package store

import (
	"context"
	"fmt"

	"github.com/chirino/chat-archive/internal/model"
)

// MessageFilter restricts messages to an inclusive timestamp_ms range.
// A nil bound is unbounded.
type MessageFilter struct {
	FromMillis *int64
	ToMillis   *int64
}

// Contains reports whether ms lies inside the filter.
func (f MessageFilter) Contains(ms int64) bool {
	if f.FromMillis != nil && ms < *f.FromMillis {
		return false
	}
	if f.ToMillis != nil && ms > *f.ToMillis {
		return false
	}
	return true
}

// Projection selects which message fields a read returns.
type Projection struct {
	// IncludeInternal also returns the storage id and sanitized content.
	IncludeInternal bool
}

// SanitizedPatch sets the sanitized content of one stored message.
type SanitizedPatch struct {
	ID               string
	SanitizedContent string
}

// ArchiveStore persists conversations and their messages. Every operation is
// scoped to one conversation, identified by its unique name, except ListNames
// and Ping.
type ArchiveStore interface {
	// Create registers an empty conversation. ConflictError if the name is taken.
	Create(ctx context.Context, name string, meta model.ConversationMeta) error
	// InsertMany appends messages in order and returns how many were written.
	// A failure may leave a prefix of messages inserted.
	InsertMany(ctx context.Context, name string, messages []model.Message) (int, error)
	// FindSorted returns messages ascending by timestamp_ms, ties in insertion order.
	FindSorted(ctx context.Context, name string, filter MessageFilter, projection Projection) ([]model.Message, error)
	// Rename moves a conversation. NotFoundError / ConflictError.
	Rename(ctx context.Context, oldName, newName string) error
	// Drop deletes a conversation and its messages. NotFoundError.
	Drop(ctx context.Context, name string) error
	CountDocuments(ctx context.Context, name string) (int64, error)
	// ListNames returns every conversation name, ascending.
	ListNames(ctx context.Context) ([]string, error)
	// BulkUpdate stores sanitized content for the given messages.
	BulkUpdate(ctx context.Context, name string, patches []SanitizedPatch) (int, error)

	Describe(ctx context.Context, name string) (*model.ConversationInfo, error)
	SetPhotoAvailable(ctx context.Context, name string, available bool) error
	// SearchSanitized returns messages whose sanitized content contains term,
	// compared literally and ignoring case. term comes from archive.NormalizeTerm;
	// stores match it against a copy of the content folded the same way.
	SearchSanitized(ctx context.Context, name, term string) ([]model.Message, error)
	// FindMissingSanitized returns up to limit messages that have content but
	// no sanitized content or folded search copy yet, with internal fields populated.
	FindMissingSanitized(ctx context.Context, name string, limit int) ([]model.Message, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Loader creates an ArchiveStore from the config carried by ctx.
type Loader func(ctx context.Context) (ArchiveStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
