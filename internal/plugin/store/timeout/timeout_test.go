package timeout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chirino/chat-archive/internal/model"
	registrystore "github.com/chirino/chat-archive/internal/registry/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowStore blocks FindSorted until the context ends and fails Drop with NotFound.
type slowStore struct {
	registrystore.ArchiveStore
}

func (slowStore) FindSorted(ctx context.Context, _ string, _ registrystore.MessageFilter, _ registrystore.Projection) ([]model.Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowStore) Drop(_ context.Context, name string) error {
	return registrystore.ConversationNotFound(name)
}

func (slowStore) Ping(context.Context) error { return nil }

func TestWrap_DeadlineBecomesTimeout(t *testing.T) {
	s := Wrap(slowStore{}, 10*time.Millisecond)

	_, err := s.FindSorted(context.Background(), "alice", registrystore.MessageFilter{}, registrystore.Projection{})
	var ue *registrystore.UnavailableError
	require.ErrorAs(t, err, &ue)
	assert.True(t, ue.Timeout)

	var oe *registrystore.OpError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "FindSorted", oe.Op)
	assert.Equal(t, "alice", oe.Collection)
}

func TestWrap_KeepsTypedErrors(t *testing.T) {
	s := Wrap(slowStore{}, time.Second)
	err := s.Drop(context.Background(), "bob")
	require.True(t, registrystore.IsNotFound(err))

	var oe *registrystore.OpError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "Drop", oe.Op)
}

func TestWrap_CallerCancellationIsNotATimeout(t *testing.T) {
	s := Wrap(slowStore{}, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.FindSorted(ctx, "alice", registrystore.MessageFilter{}, registrystore.Projection{})
	require.True(t, errors.Is(err, context.Canceled))
	var ue *registrystore.UnavailableError
	assert.False(t, errors.As(err, &ue))
}

func TestWrap_SuccessPassesThrough(t *testing.T) {
	require.NoError(t, Wrap(slowStore{}, 0).Ping(context.Background()))
}
