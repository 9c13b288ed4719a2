package model

import "time"

// DisplayTimestampLayout is the layout of Message.Timestamp.
const DisplayTimestampLayout = "15:04 02/01/2006"

// Participant is one member of an exported conversation.
type Participant struct {
	Name string `json:"name"`
}

// PhotoRef points at a photo attached to a message in the export.
type PhotoRef struct {
	URI               string `json:"uri"`
	CreationTimestamp int64  `json:"creation_timestamp,omitempty"`
}

// Message is a single archived chat message.
//
// ID and SanitizedContent are internal and never serialized to API clients.
type Message struct {
	ID               string     `json:"-"`
	SenderName       string     `json:"sender_name"`
	Content          *string    `json:"content,omitempty"`
	TimestampMS      int64      `json:"timestamp_ms"`
	Timestamp        string     `json:"timestamp,omitempty"`
	Photos           []PhotoRef `json:"photos,omitempty"`
	SanitizedContent *string    `json:"-"`
}

// DisplayTimestamp formats a millisecond epoch the way Message.Timestamp is stored.
func DisplayTimestamp(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(DisplayTimestampLayout)
}

// ConversationMeta is the conversation-level metadata taken from the first fragment.
type ConversationMeta struct {
	Participants       []Participant `json:"participants"`
	Title              string        `json:"title"`
	IsStillParticipant bool          `json:"is_still_participant"`
	ThreadPath         string        `json:"thread_path"`
	MagicWords         []string      `json:"magic_words"`
}

// Conversation is a fully combined archive ready to be stored.
type Conversation struct {
	ConversationMeta
	Messages []Message `json:"messages"`
}

// ConversationInfo describes a stored conversation.
type ConversationInfo struct {
	Name string `json:"name"`
	ConversationMeta
	MessageCount     int64 `json:"messageCount"`
	IsPhotoAvailable bool  `json:"isPhotoAvailable"`
}

// CollectionSummary is one row of the conversation directory.
type CollectionSummary struct {
	Name         string `json:"name"`
	MessageCount int64  `json:"messageCount"`
}

// SearchHit is a message matched by cross-collection search.
type SearchHit struct {
	Message
	CollectionName string `json:"collectionName"`
}
