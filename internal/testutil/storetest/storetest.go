// Package storetest holds behaviour checks shared by every archive store.
package storetest

import (
	"context"
	"testing"

	"github.com/chirino/chat-archive/internal/archive"
	"github.com/chirino/chat-archive/internal/model"
	registrystore "github.com/chirino/chat-archive/internal/registry/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) registrystore.ArchiveStore

func text(s string) *string { return &s }

// Msg builds a message with sanitized content filled in.
func Msg(sender, content string, ts int64) model.Message {
	c := content
	san := archive.Sanitize(c)
	return model.Message{SenderName: sender, Content: &c, TimestampMS: ts, SanitizedContent: &san}
}

func meta(name string) model.ConversationMeta {
	return model.ConversationMeta{
		Participants:       []model.Participant{{Name: name}, {Name: "Me"}},
		Title:              name,
		IsStillParticipant: true,
		ThreadPath:         "inbox/" + name,
		MagicWords:         []string{},
	}
}

func contents(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		if m.Content != nil {
			out[i] = *m.Content
		}
	}
	return out
}

// Run exercises every ArchiveStore operation.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("create and describe", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, "alice", meta("Alice")))

		info, err := s.Describe(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "alice", info.Name)
		assert.Equal(t, "Alice", info.Title)
		assert.Equal(t, "Alice", info.Participants[0].Name)
		assert.Equal(t, int64(0), info.MessageCount)
		assert.False(t, info.IsPhotoAvailable)

		err = s.Create(ctx, "alice", meta("Alice"))
		assert.True(t, registrystore.IsConflict(err), "got %v", err)
	})

	t.Run("insert and find sorted", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, "bob", meta("Bob")))
		n, err := s.InsertMany(ctx, "bob", []model.Message{
			Msg("Bob", "late", 3000),
			Msg("Bob", "tie-a", 2000),
			Msg("Bob", "tie-b", 2000),
			Msg("Bob", "early", 1000),
		})
		require.NoError(t, err)
		assert.Equal(t, 4, n)

		msgs, err := s.FindSorted(ctx, "bob", registrystore.MessageFilter{}, registrystore.Projection{})
		require.NoError(t, err)
		assert.Equal(t, []string{"early", "tie-a", "tie-b", "late"}, contents(msgs))
		assert.Empty(t, msgs[0].ID)
		assert.Nil(t, msgs[0].SanitizedContent)
		assert.Equal(t, model.DisplayTimestamp(1000), msgs[0].Timestamp)

		// A second insert continues the tie-break order.
		_, err = s.InsertMany(ctx, "bob", []model.Message{Msg("Bob", "tie-c", 2000)})
		require.NoError(t, err)
		msgs, err = s.FindSorted(ctx, "bob", registrystore.MessageFilter{}, registrystore.Projection{IncludeInternal: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"early", "tie-a", "tie-b", "tie-c", "late"}, contents(msgs))
		assert.NotEmpty(t, msgs[0].ID)
		require.NotNil(t, msgs[0].SanitizedContent)

		count, err := s.CountDocuments(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(5), count)
	})

	t.Run("range filter is inclusive", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, "carol", meta("Carol")))
		_, err := s.InsertMany(ctx, "carol", []model.Message{
			Msg("C", "a", 999), Msg("C", "b", 1000), Msg("C", "c", 2000), Msg("C", "d", 2001),
		})
		require.NoError(t, err)

		from, to := int64(1000), int64(2000)
		msgs, err := s.FindSorted(ctx, "carol", registrystore.MessageFilter{FromMillis: &from, ToMillis: &to}, registrystore.Projection{})
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c"}, contents(msgs))

		msgs, err = s.FindSorted(ctx, "carol", registrystore.MessageFilter{FromMillis: &to}, registrystore.Projection{})
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "d"}, contents(msgs))
	})

	t.Run("missing conversation", func(t *testing.T) {
		s := newStore(t)
		_, err := s.FindSorted(ctx, "ghost", registrystore.MessageFilter{}, registrystore.Projection{})
		assert.True(t, registrystore.IsNotFound(err), "got %v", err)
		_, err = s.CountDocuments(ctx, "ghost")
		assert.True(t, registrystore.IsNotFound(err))
		_, err = s.InsertMany(ctx, "ghost", []model.Message{Msg("x", "y", 1)})
		assert.True(t, registrystore.IsNotFound(err))
		assert.True(t, registrystore.IsNotFound(s.Drop(ctx, "ghost")))
		assert.True(t, registrystore.IsNotFound(s.Rename(ctx, "ghost", "spirit")))
		_, err = s.Describe(ctx, "ghost")
		assert.True(t, registrystore.IsNotFound(err))
		assert.True(t, registrystore.IsNotFound(s.SetPhotoAvailable(ctx, "ghost", true)))
	})

	t.Run("rename", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, "dave", meta("Dave")))
		require.NoError(t, s.Create(ctx, "erin", meta("Erin")))
		_, err := s.InsertMany(ctx, "dave", []model.Message{Msg("D", "hello", 1)})
		require.NoError(t, err)

		assert.True(t, registrystore.IsConflict(s.Rename(ctx, "dave", "erin")))

		require.NoError(t, s.Rename(ctx, "dave", "david"))
		_, err = s.FindSorted(ctx, "dave", registrystore.MessageFilter{}, registrystore.Projection{})
		assert.True(t, registrystore.IsNotFound(err))
		msgs, err := s.FindSorted(ctx, "david", registrystore.MessageFilter{}, registrystore.Projection{})
		require.NoError(t, err)
		assert.Equal(t, []string{"hello"}, contents(msgs))

		names, err := s.ListNames(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"david", "erin"}, names)
	})

	t.Run("drop", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, "frank", meta("Frank")))
		_, err := s.InsertMany(ctx, "frank", []model.Message{Msg("F", "bye", 1)})
		require.NoError(t, err)
		require.NoError(t, s.Drop(ctx, "frank"))

		names, err := s.ListNames(ctx)
		require.NoError(t, err)
		assert.Empty(t, names)

		// The name can be reused and starts empty.
		require.NoError(t, s.Create(ctx, "frank", meta("Frank")))
		count, err := s.CountDocuments(ctx, "frank")
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})

	t.Run("photo marker", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, "gina", meta("Gina")))
		require.NoError(t, s.SetPhotoAvailable(ctx, "gina", true))
		info, err := s.Describe(ctx, "gina")
		require.NoError(t, err)
		assert.True(t, info.IsPhotoAvailable)
		assert.Equal(t, "Gina", info.Title)

		require.NoError(t, s.SetPhotoAvailable(ctx, "gina", false))
		info, err = s.Describe(ctx, "gina")
		require.NoError(t, err)
		assert.False(t, info.IsPhotoAvailable)
	})

	t.Run("search sanitized", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, "hana", meta("Hana")))
		_, err := s.InsertMany(ctx, "hana", []model.Message{
			Msg("H", "Dáme si čaj?", 2),
			Msg("H", "CAJ je hotovy", 1),
			Msg("H", "kafe", 3),
			Msg("H", "100% (a+b)*c", 4),
			Msg("H", "ПРИВЕТ из дома", 5),
			Msg("H", "ŁÓDŹ", 6),
		})
		require.NoError(t, err)

		hits, err := s.SearchSanitized(ctx, "hana", "caj")
		require.NoError(t, err)
		assert.Equal(t, []string{"CAJ je hotovy", "Dáme si čaj?"}, contents(hits))
		assert.Nil(t, hits[0].SanitizedContent)

		hits, err = s.SearchSanitized(ctx, "hana", "(a+b)*")
		require.NoError(t, err)
		assert.Equal(t, []string{"100% (a+b)*c"}, contents(hits))

		hits, err = s.SearchSanitized(ctx, "hana", "0%")
		require.NoError(t, err)
		assert.Len(t, hits, 1)

		hits, err = s.SearchSanitized(ctx, "hana", "tea")
		require.NoError(t, err)
		assert.Empty(t, hits)

		// Letters outside ASCII differ only in case.
		hits, err = s.SearchSanitized(ctx, "hana", archive.NormalizeTerm("привет"))
		require.NoError(t, err)
		assert.Equal(t, []string{"ПРИВЕТ из дома"}, contents(hits))

		hits, err = s.SearchSanitized(ctx, "hana", archive.NormalizeTerm("łódź"))
		require.NoError(t, err)
		assert.Equal(t, []string{"ŁÓDŹ"}, contents(hits))
	})

	t.Run("backfill support", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, "ivan", meta("Ivan")))
		raw := model.Message{SenderName: "I", Content: text("Příliš žluťoučký"), TimestampMS: 1}
		noContent := model.Message{SenderName: "I", TimestampMS: 2}
		_, err := s.InsertMany(ctx, "ivan", []model.Message{raw, noContent, Msg("I", "done", 3)})
		require.NoError(t, err)

		missing, err := s.FindMissingSanitized(ctx, "ivan", 10)
		require.NoError(t, err)
		require.Len(t, missing, 1)
		require.NotEmpty(t, missing[0].ID)

		n, err := s.BulkUpdate(ctx, "ivan", []registrystore.SanitizedPatch{
			{ID: missing[0].ID, SanitizedContent: archive.Sanitize(*missing[0].Content)},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		missing, err = s.FindMissingSanitized(ctx, "ivan", 10)
		require.NoError(t, err)
		assert.Empty(t, missing)

		hits, err := s.SearchSanitized(ctx, "ivan", "zlutoucky")
		require.NoError(t, err)
		assert.Len(t, hits, 1)
	})

	t.Run("list names ascending", func(t *testing.T) {
		s := newStore(t)
		for _, n := range []string{"zed", "amy", "Mia"} {
			require.NoError(t, s.Create(ctx, n, meta(n)))
		}
		names, err := s.ListNames(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Mia", "amy", "zed"}, names)
	})

	t.Run("ping", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Ping(ctx))
	})
}
