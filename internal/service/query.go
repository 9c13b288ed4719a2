package service

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-archive/internal/model"
	registrycache "github.com/chirino/chat-archive/internal/registry/cache"
	registrystore "github.com/chirino/chat-archive/internal/registry/store"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DateLayout is the format of the fromDate/toDate query parameters.
const DateLayout = "2006-01-02"

// countConcurrency bounds the CountDocuments calls of a directory rebuild.
const countConcurrency = 8

// Order selects how ListCollections sorts.
type Order int

const (
	// OrderByCount sorts by message count descending, then name.
	OrderByCount Order = iota
	// OrderAlphabetical sorts by name.
	OrderAlphabetical
)

// ParseDateRange turns YYYY-MM-DD bounds into an inclusive millisecond filter
// covering whole UTC days. Empty bounds are unbounded.
func ParseDateRange(fromDate, toDate string) (registrystore.MessageFilter, error) {
	var f registrystore.MessageFilter
	if fromDate != "" {
		t, err := time.Parse(DateLayout, fromDate)
		if err != nil {
			return f, validation("fromDate", "expected YYYY-MM-DD, got %q", fromDate)
		}
		ms := t.UnixMilli()
		f.FromMillis = &ms
	}
	if toDate != "" {
		t, err := time.Parse(DateLayout, toDate)
		if err != nil {
			return f, validation("toDate", "expected YYYY-MM-DD, got %q", toDate)
		}
		ms := t.AddDate(0, 0, 1).UnixMilli() - 1
		f.ToMillis = &ms
	}
	if f.FromMillis != nil && f.ToMillis != nil && *f.FromMillis > *f.ToMillis {
		return f, validation("fromDate", "%s is after %s", fromDate, toDate)
	}
	return f, nil
}

// QueryService answers read requests, serving message listings and the
// conversation directory from the cache when it can.
type QueryService struct {
	store  registrystore.ArchiveStore
	cache  registrycache.Cache
	epochs *Epochs
	group  singleflight.Group
}

// NewQueryService creates a query service. epochs must be shared with the
// MutationCoordinator writing to the same store and cache.
func NewQueryService(store registrystore.ArchiveStore, cache registrycache.Cache, epochs *Epochs) *QueryService {
	return &QueryService{store: store, cache: cache, epochs: epochs}
}

// readThrough returns the cached value for key or computes it with fetch.
// Concurrent misses in the same epoch share one fetch.
func (q *QueryService) readThrough(ctx context.Context, key string, sc scope, fetch func(context.Context) ([]byte, error)) ([]byte, error) {
	if q.cache.Available() {
		data, ok, err := q.cache.Get(ctx, key)
		if err != nil {
			log.Warn("Cache read failed, using store", "key", key, "err", err)
		} else if ok {
			return data, nil
		}
	}

	epoch := q.epochs.current(sc)
	v, err, _ := q.group.Do(key+"@"+strconv.FormatUint(epoch, 10), func() (any, error) {
		// Followers share this result, so one caller going away must not fail it.
		fctx := context.WithoutCancel(ctx)
		data, err := fetch(fctx)
		if err != nil {
			return nil, err
		}
		if q.cache.Available() {
			q.epochs.setIfCurrent(sc, epoch, func() {
				if err := q.cache.Set(fctx, key, data); err != nil {
					log.Warn("Cache write failed", "key", key, "err", err)
				}
			})
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// GetMessagesJSON returns the JSON array of a conversation's messages in
// timestamp order, optionally limited to a date range.
func (q *QueryService) GetMessagesJSON(ctx context.Context, name, fromDate, toDate string) ([]byte, error) {
	filter, err := ParseDateRange(fromDate, toDate)
	if err != nil {
		return nil, err
	}
	key := registrycache.MessagesKey(name, filter.FromMillis, filter.ToMillis).String()
	return q.readThrough(ctx, key, conversationScope(name), func(ctx context.Context) ([]byte, error) {
		msgs, err := q.store.FindSorted(ctx, name, filter, registrystore.Projection{})
		if err != nil {
			return nil, err
		}
		if msgs == nil {
			msgs = []model.Message{}
		}
		return json.Marshal(msgs)
	})
}

// GetMessages is GetMessagesJSON decoded.
func (q *QueryService) GetMessages(ctx context.Context, name, fromDate, toDate string) ([]model.Message, error) {
	data, err := q.GetMessagesJSON(ctx, name, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	var msgs []model.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListCollections returns every conversation with its message count.
func (q *QueryService) ListCollections(ctx context.Context, order Order) ([]model.CollectionSummary, error) {
	data, err := q.readThrough(ctx, registrycache.CollectionsKey().String(), directoryScope, func(ctx context.Context) ([]byte, error) {
		summaries, err := q.summaries(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(summaries)
	})
	if err != nil {
		return nil, err
	}
	var summaries []model.CollectionSummary
	if err := json.Unmarshal(data, &summaries); err != nil {
		return nil, err
	}
	if order == OrderAlphabetical {
		slices.SortFunc(summaries, func(a, b model.CollectionSummary) int {
			return cmp.Compare(a.Name, b.Name)
		})
	}
	return summaries, nil
}

// summaries lists conversations by message count descending, ties by name.
func (q *QueryService) summaries(ctx context.Context) ([]model.CollectionSummary, error) {
	names, err := q.store.ListNames(ctx)
	if err != nil {
		return nil, err
	}
	var (
		mu  sync.Mutex
		out = make([]model.CollectionSummary, 0, len(names))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(countConcurrency)
	for _, name := range names {
		g.Go(func() error {
			n, err := q.store.CountDocuments(gctx, name)
			if registrystore.IsNotFound(err) {
				// Dropped after ListNames.
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			out = append(out, model.CollectionSummary{Name: name, MessageCount: n})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b model.CollectionSummary) int {
		if c := cmp.Compare(b.MessageCount, a.MessageCount); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out, nil
}

// Describe returns a conversation's metadata. It is never cached.
func (q *QueryService) Describe(ctx context.Context, name string) (*model.ConversationInfo, error) {
	return q.store.Describe(ctx, name)
}
