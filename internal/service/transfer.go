package service

import (
	"context"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-archive/internal/archive"
	registrystore "github.com/chirino/chat-archive/internal/registry/store"
	"golang.org/x/sync/errgroup"
)

// TransferResult lists what a Copy did, by conversation name.
type TransferResult struct {
	Copied  []string
	Skipped []string
	Failed  []string
}

// Transfer copies conversations between two stores, for backups and for
// moving an archive to another backend.
type Transfer struct {
	source      registrystore.ArchiveStore
	target      registrystore.ArchiveStore
	concurrency int
}

// NewTransfer creates a transfer copying at most concurrency conversations at a time.
func NewTransfer(source, target registrystore.ArchiveStore, concurrency int) *Transfer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Transfer{source: source, target: target, concurrency: concurrency}
}

// Copy copies the named conversations, or all of them when names is empty.
// Conversations already present in the target are skipped. With move, the
// source conversation is dropped once its copy is complete.
func (t *Transfer) Copy(ctx context.Context, names []string, move bool) (*TransferResult, error) {
	if len(names) == 0 {
		all, err := t.source.ListNames(ctx)
		if err != nil {
			return nil, err
		}
		names = all
	}

	var (
		mu  sync.Mutex
		res TransferResult
	)
	record := func(list *[]string, name string) {
		mu.Lock()
		*list = append(*list, name)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for _, name := range names {
		g.Go(func() error {
			err := t.copyOne(gctx, name, move)
			switch {
			case err == nil:
				record(&res.Copied, name)
			case registrystore.IsConflict(err):
				log.Warn("Copy: conversation exists in target, skipping", "collection", name)
				record(&res.Skipped, name)
			case gctx.Err() != nil:
				return err
			default:
				log.Error("Copy: conversation failed", "collection", name, "err", err)
				record(&res.Failed, name)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	slices.Sort(res.Copied)
	slices.Sort(res.Skipped)
	slices.Sort(res.Failed)
	return &res, nil
}

func (t *Transfer) copyOne(ctx context.Context, name string, move bool) error {
	info, err := t.source.Describe(ctx, name)
	if err != nil {
		return err
	}
	msgs, err := t.source.FindSorted(ctx, name, registrystore.MessageFilter{}, registrystore.Projection{IncludeInternal: true})
	if err != nil {
		return err
	}
	if err := t.target.Create(ctx, name, info.ConversationMeta); err != nil {
		return err
	}
	for i := range msgs {
		msgs[i].ID = ""
		if msgs[i].SanitizedContent == nil {
			s := archive.SanitizeMessage(msgs[i])
			msgs[i].SanitizedContent = &s
		}
	}
	if _, err := t.target.InsertMany(ctx, name, msgs); err != nil {
		return err
	}
	if info.IsPhotoAvailable {
		if err := t.target.SetPhotoAvailable(ctx, name, true); err != nil {
			return err
		}
	}
	log.Info("Copied conversation", "collection", name, "count", len(msgs))
	if move {
		return t.source.Drop(ctx, name)
	}
	return nil
}
