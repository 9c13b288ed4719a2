package service_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/chirino/chat-archive/internal/model"
	registrystore "github.com/chirino/chat-archive/internal/registry/store"
	"github.com/chirino/chat-archive/internal/service"
	"github.com/chirino/chat-archive/internal/testutil/testsqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// legacyMessages builds messages as older deployments stored them, without
// sanitized content.
func legacyMessages(n int) []model.Message {
	out := make([]model.Message, n)
	for i := range out {
		c := fmt.Sprintf("Zpráva  číslo %d", i)
		out[i] = model.Message{SenderName: "Jan", Content: &c, TimestampMS: int64(i)}
	}
	return out
}

func TestSanitizeBackfill_RunOnce(t *testing.T) {
	s := testsqlite.New(t)
	ctx := context.Background()
	for _, name := range []string{"jan", "eva"} {
		require.NoError(t, s.Create(ctx, name, model.ConversationMeta{Participants: []model.Participant{{Name: name}}}))
		_, err := s.InsertMany(ctx, name, legacyMessages(5))
		require.NoError(t, err)
	}
	require.NoError(t, s.Create(ctx, "empty", model.ConversationMeta{Participants: []model.Participant{{Name: "x"}}}))

	search := service.NewSearchService(s, 2)
	hits, err := search.Search(ctx, "zprava cislo 3")
	require.NoError(t, err)
	assert.Empty(t, hits)

	b := service.NewSanitizeBackfill(s, 2, 0)
	n, err := b.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	msgs, err := s.FindSorted(ctx, "jan", registrystore.MessageFilter{}, registrystore.Projection{IncludeInternal: true})
	require.NoError(t, err)
	for _, m := range msgs {
		require.NotNil(t, m.SanitizedContent)
		assert.Equal(t, fmt.Sprintf("Zprava cislo %d", m.TimestampMS), *m.SanitizedContent)
	}

	hits, err = search.Search(ctx, "zprava cislo 3")
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	// Idempotent.
	n, err = b.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSanitizeBackfill_StartRunsOncePassWithoutInterval(t *testing.T) {
	s := testsqlite.New(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "jan", model.ConversationMeta{Participants: []model.Participant{{Name: "jan"}}}))
	_, err := s.InsertMany(ctx, "jan", legacyMessages(3))
	require.NoError(t, err)

	// Returns on its own because the interval is zero.
	service.NewSanitizeBackfill(s, 10, 0).Start(ctx)

	missing, err := s.FindMissingSanitized(ctx, "jan", 10)
	require.NoError(t, err)
	assert.Empty(t, missing)
}
