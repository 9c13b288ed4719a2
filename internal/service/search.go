package service

import (
	"cmp"
	"context"
	"slices"

	"github.com/chirino/chat-archive/internal/archive"
	"github.com/chirino/chat-archive/internal/model"
	registrystore "github.com/chirino/chat-archive/internal/registry/store"
	"golang.org/x/sync/errgroup"
)

// SearchService matches a term against the sanitized content of every
// conversation. It reads the store directly.
type SearchService struct {
	store       registrystore.ArchiveStore
	concurrency int
}

// NewSearchService creates a search service scanning at most concurrency
// conversations at a time.
func NewSearchService(store registrystore.ArchiveStore, concurrency int) *SearchService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &SearchService{store: store, concurrency: concurrency}
}

// Search returns every message whose sanitized content contains term,
// ignoring case and diacritics, ordered by timestamp then conversation name.
func (s *SearchService) Search(ctx context.Context, term string) ([]model.SearchHit, error) {
	normalized := archive.NormalizeTerm(term)
	if normalized == "" {
		return nil, validation("query", "search term must not be empty")
	}
	names, err := s.store.ListNames(ctx)
	if err != nil {
		return nil, err
	}

	perConversation := make([][]model.SearchHit, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, name := range names {
		g.Go(func() error {
			msgs, err := s.store.SearchSanitized(gctx, name, normalized)
			if registrystore.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			hits := make([]model.SearchHit, len(msgs))
			for j, m := range msgs {
				hits[j] = model.SearchHit{Message: m, CollectionName: name}
			}
			perConversation[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := []model.SearchHit{}
	for _, hits := range perConversation {
		out = append(out, hits...)
	}
	slices.SortStableFunc(out, func(a, b model.SearchHit) int {
		if c := cmp.Compare(a.TimestampMS, b.TimestampMS); c != 0 {
			return c
		}
		return cmp.Compare(a.CollectionName, b.CollectionName)
	})
	return out, nil
}
