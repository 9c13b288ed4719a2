package service

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-archive/internal/archive"
	"github.com/chirino/chat-archive/internal/monitoring"
	registrystore "github.com/chirino/chat-archive/internal/registry/store"
)

// SanitizeBackfill fills in sanitizedContent for messages stored before it
// existed, such as collections imported from older deployments.
type SanitizeBackfill struct {
	store    registrystore.ArchiveStore
	interval time.Duration
	batch    int
}

// NewSanitizeBackfill creates a backfill. An interval of zero runs a single
// pass from Start.
func NewSanitizeBackfill(store registrystore.ArchiveStore, batchSize int, interval time.Duration) *SanitizeBackfill {
	if batchSize < 1 {
		batchSize = 1
	}
	return &SanitizeBackfill{store: store, interval: interval, batch: batchSize}
}

// Start runs one pass immediately, then one per interval. Returns when ctx is cancelled.
func (b *SanitizeBackfill) Start(ctx context.Context) {
	b.pass(ctx)
	if b.interval <= 0 {
		return
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.pass(ctx)
		}
	}
}

func (b *SanitizeBackfill) pass(ctx context.Context) {
	n, err := b.RunOnce(ctx)
	if err != nil && ctx.Err() == nil {
		log.Error("Backfill: pass failed", "err", err)
	}
	if n > 0 {
		log.Info("Backfill: sanitized messages", "count", n)
	}
}

// RunOnce sanitizes every message that lacks sanitized content and returns
// how many were updated. A failing conversation does not stop the others.
func (b *SanitizeBackfill) RunOnce(ctx context.Context) (int, error) {
	names, err := b.store.ListNames(ctx)
	if err != nil {
		return 0, err
	}
	var (
		total int
		errs  []error
	)
	for _, name := range names {
		n, err := b.conversation(ctx, name)
		total += n
		if err != nil && !registrystore.IsNotFound(err) {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
	}
	monitoring.Backfilled(total)
	return total, errors.Join(errs...)
}

func (b *SanitizeBackfill) conversation(ctx context.Context, name string) (int, error) {
	total := 0
	for {
		msgs, err := b.store.FindMissingSanitized(ctx, name, b.batch)
		if err != nil {
			return total, err
		}
		if len(msgs) == 0 {
			return total, nil
		}
		patches := make([]registrystore.SanitizedPatch, len(msgs))
		for i, m := range msgs {
			patches[i] = registrystore.SanitizedPatch{ID: m.ID, SanitizedContent: archive.SanitizeMessage(m)}
		}
		n, err := b.store.BulkUpdate(ctx, name, patches)
		total += n
		if err != nil {
			return total, err
		}
		// A short batch was the last one; zero updates means another writer
		// is racing us and the next pass will pick up what is left.
		if len(msgs) < b.batch || n == 0 {
			return total, nil
		}
	}
}
