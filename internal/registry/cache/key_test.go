package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyString(t *testing.T) {
	from, to := int64(1000), int64(2000)
	assert.Equal(t, "messages:alice::", MessagesKey("alice", nil, nil).String())
	assert.Equal(t, "messages:alice:1000:2000", MessagesKey("alice", &from, &to).String())
	assert.Equal(t, "messages:alice::2000", MessagesKey("alice", nil, &to).String())
	assert.Equal(t, "collections", CollectionsKey().String())
}

func TestConversationPrefixDoesNotCollide(t *testing.T) {
	// "a:b" must not share a prefix with "a".
	key := MessagesKey("a:b", nil, nil).String()
	assert.False(t, strings.HasPrefix(key, ConversationPrefix("a")))
	assert.True(t, strings.HasPrefix(key, ConversationPrefix("a:b")))

	// "alice" must not match "alice_1".
	assert.False(t, strings.HasPrefix(MessagesKey("alice_1", nil, nil).String(), ConversationPrefix("alice")))
}
