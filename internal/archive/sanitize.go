package archive

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/chirino/chat-archive/internal/model"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nameSeparators = regexp.MustCompile(`[^A-Za-z0-9_]+`)
	validName      = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// Sanitize strips diacritics and collapses whitespace. It is idempotent.
func Sanitize(content string) string {
	// transform chains keep state, so one is built per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(t, content)
	if err != nil {
		s = content
	}
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeTerm prepares a search term for case-insensitive matching against
// sanitized content.
func NormalizeTerm(term string) string {
	return strings.ToLower(Sanitize(term))
}

// SanitizeMessage returns the sanitized form of a message's content.
func SanitizeMessage(m model.Message) string {
	if m.Content == nil {
		return ""
	}
	return Sanitize(*m.Content)
}

// ValidCollectionName reports whether name is usable as a conversation name.
func ValidCollectionName(name string) bool {
	return validName.MatchString(name)
}

// CollectionName derives the conversation name from the first participant.
func CollectionName(meta model.ConversationMeta) string {
	var name string
	if len(meta.Participants) > 0 {
		name = Sanitize(meta.Participants[0].Name)
	}
	name = strings.Trim(nameSeparators.ReplaceAllString(name, "_"), "_")
	if name == "" {
		return "conversation"
	}
	return name
}
