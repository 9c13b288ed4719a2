package service

import (
	"context"

	registrycache "github.com/chirino/chat-archive/internal/registry/cache"
	registrystore "github.com/chirino/chat-archive/internal/registry/store"
)

// Archive bundles the request-facing services over one store and cache.
type Archive struct {
	Query     *QueryService
	Search    *SearchService
	Mutations *MutationCoordinator
}

// NewArchive wires the services so that mutations and reads share coherence
// epochs.
func NewArchive(store registrystore.ArchiveStore, cache registrycache.Cache, searchConcurrency int) *Archive {
	epochs := NewEpochs()
	return &Archive{
		Query:     NewQueryService(store, cache, epochs),
		Search:    NewSearchService(store, searchConcurrency),
		Mutations: NewMutationCoordinator(store, cache, epochs),
	}
}

type archiveKey struct{}

// WithArchive returns a context carrying a.
func WithArchive(ctx context.Context, a *Archive) context.Context {
	return context.WithValue(ctx, archiveKey{}, a)
}

// ArchiveFromContext returns the Archive stored by WithArchive, or nil.
func ArchiveFromContext(ctx context.Context) *Archive {
	a, _ := ctx.Value(archiveKey{}).(*Archive)
	return a
}
