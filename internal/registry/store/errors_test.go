package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpErrorUnwrapsToTypedErrors(t *testing.T) {
	err := &OpError{Op: "Drop", Collection: "alice", Err: ConversationNotFound("alice")}
	require.True(t, IsNotFound(err))
	require.False(t, IsConflict(err))
	assert.Equal(t, "Drop alice: conversation not found: alice", err.Error())

	wrapped := fmt.Errorf("delete: %w", &OpError{Op: "Create", Collection: "bob", Err: NameCollision("bob")})
	require.True(t, IsConflict(wrapped))
}

func TestUnavailableErrorUnwraps(t *testing.T) {
	err := &UnavailableError{Timeout: true, Err: context.DeadlineExceeded}
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Contains(t, err.Error(), "timeout")
}

func TestMessageFilterContains(t *testing.T) {
	from, to := int64(10), int64(20)
	f := MessageFilter{FromMillis: &from, ToMillis: &to}
	assert.True(t, f.Contains(10))
	assert.True(t, f.Contains(20))
	assert.False(t, f.Contains(9))
	assert.False(t, f.Contains(21))
	assert.True(t, MessageFilter{}.Contains(-5))
}
