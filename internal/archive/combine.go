package archive

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/chirino/chat-archive/internal/model"
)

// MalformedArchiveError reports a fragment that is not a usable export.
type MalformedArchiveError struct {
	Fragment string
	Reason   string
}

func (e *MalformedArchiveError) Error() string {
	if e.Fragment != "" {
		return fmt.Sprintf("malformed archive %s: %s", e.Fragment, e.Reason)
	}
	return "malformed archive: " + e.Reason
}

// Fragment is one raw export file of a conversation.
type Fragment struct {
	Name string
	Data []byte
}

type fragmentDoc struct {
	Participants       *[]model.Participant `json:"participants"`
	Messages           *[]model.Message     `json:"messages"`
	Title              string               `json:"title"`
	IsStillParticipant *bool                `json:"is_still_participant"`
	ThreadPath         string               `json:"thread_path"`
	MagicWords         []string             `json:"magic_words"`
}

func (d *fragmentDoc) meta() model.ConversationMeta {
	still := true
	if d.IsStillParticipant != nil {
		still = *d.IsStillParticipant
	}
	magic := d.MagicWords
	if magic == nil {
		magic = []string{}
	}
	return model.ConversationMeta{
		Participants:       *d.Participants,
		Title:              d.Title,
		IsStillParticipant: still,
		ThreadPath:         d.ThreadPath,
		MagicWords:         magic,
	}
}

// ParseFragment decodes and validates a single fragment.
func ParseFragment(f Fragment) (model.ConversationMeta, []model.Message, error) {
	decoded, err := Decode(f.Data)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.Fragment = f.Name
		}
		return model.ConversationMeta{}, nil, err
	}

	var doc fragmentDoc
	if err := json.Unmarshal(decoded, &doc); err != nil {
		return model.ConversationMeta{}, nil, &MalformedArchiveError{Fragment: f.Name, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if doc.Participants == nil || len(*doc.Participants) == 0 {
		return model.ConversationMeta{}, nil, &MalformedArchiveError{Fragment: f.Name, Reason: "missing participants"}
	}
	if doc.Messages == nil {
		return model.ConversationMeta{}, nil, &MalformedArchiveError{Fragment: f.Name, Reason: "missing messages"}
	}
	return doc.meta(), *doc.Messages, nil
}

// Combine merges the fragments of one conversation.
//
// Metadata comes from the first fragment only. Messages from all fragments are
// concatenated in fragment order, given a display timestamp, and stable-sorted
// by timestamp_ms so equal timestamps keep their fragment order.
func Combine(fragments []Fragment) (*model.Conversation, error) {
	if len(fragments) == 0 {
		return nil, &MalformedArchiveError{Reason: "no fragments"}
	}

	conv := &model.Conversation{}
	for i, f := range fragments {
		meta, messages, err := ParseFragment(f)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			conv.ConversationMeta = meta
		}
		conv.Messages = append(conv.Messages, messages...)
	}
	if conv.Messages == nil {
		conv.Messages = []model.Message{}
	}

	for i := range conv.Messages {
		if ms := conv.Messages[i].TimestampMS; ms != 0 {
			conv.Messages[i].Timestamp = model.DisplayTimestamp(ms)
		}
	}
	slices.SortStableFunc(conv.Messages, func(a, b model.Message) int {
		return cmp.Compare(a.TimestampMS, b.TimestampMS)
	})
	return conv, nil
}
