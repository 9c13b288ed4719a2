package cache

import (
	"net/url"
	"strconv"
	"strings"
)

// Kind is the family a cache key belongs to.
type Kind string

const (
	KindMessages    Kind = "messages"
	KindCollections Kind = "collections"
)

// Key identifies a cached query result.
type Key struct {
	Kind         Kind
	Conversation string
	FromMillis   *int64
	ToMillis     *int64
}

// MessagesKey is the key of a (possibly range-bounded) message listing.
func MessagesKey(conversation string, from, to *int64) Key {
	return Key{Kind: KindMessages, Conversation: conversation, FromMillis: from, ToMillis: to}
}

// CollectionsKey is the key of the conversation directory.
func CollectionsKey() Key {
	return Key{Kind: KindCollections}
}

// String renders the key as messages:{conversation}:{from}:{to} or collections.
// Unbounded ends are empty. The conversation is query-escaped so it never
// contains the separator.
func (k Key) String() string {
	if k.Kind != KindMessages {
		return string(k.Kind)
	}
	var b strings.Builder
	b.WriteString(ConversationPrefix(k.Conversation))
	writeBound(&b, k.FromMillis)
	b.WriteByte(':')
	writeBound(&b, k.ToMillis)
	return b.String()
}

// ConversationPrefix matches every message key of one conversation.
func ConversationPrefix(conversation string) string {
	return string(KindMessages) + ":" + url.QueryEscape(conversation) + ":"
}

func writeBound(b *strings.Builder, v *int64) {
	if v != nil {
		b.WriteString(strconv.FormatInt(*v, 10))
	}
}
