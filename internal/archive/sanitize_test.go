package archive

import (
	"testing"

	"github.com/chirino/chat-archive/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"Čaj  s   mlékem":   "Caj s mlekem",
		"  leading\tand\n": "leading and",
		"Žluťoučký kůň":     "Zlutoucky kun",
		"":                  "",
		"plain":             "plain",
	}
	for in, want := range cases {
		assert.Equal(t, want, Sanitize(in), "input %q", in)
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	for _, in := range []string{"Čaj  s mlékem", "a\u0301b", "  x  y ", "ñandú"} {
		once := Sanitize(in)
		assert.Equal(t, once, Sanitize(once))
	}
}

func TestNormalizeTerm(t *testing.T) {
	assert.Equal(t, "caj s mlekem", NormalizeTerm("  ČAJ s  MLÉKEM "))
	assert.Equal(t, "", NormalizeTerm("   "))
}

func TestSanitizeMessage_NilContent(t *testing.T) {
	assert.Equal(t, "", SanitizeMessage(model.Message{}))
	c := "Ahoj  světe"
	assert.Equal(t, "Ahoj svete", SanitizeMessage(model.Message{Content: &c}))
}

func TestCollectionName(t *testing.T) {
	meta := func(name string) model.ConversationMeta {
		return model.ConversationMeta{Participants: []model.Participant{{Name: name}}}
	}
	assert.Equal(t, "Jan_Novak", CollectionName(meta("Jan Novák")))
	assert.Equal(t, "Anna", CollectionName(meta("  Anna!! ")))
	assert.Equal(t, "conversation", CollectionName(meta("😀")))
	assert.Equal(t, "conversation", CollectionName(model.ConversationMeta{}))
}

func TestValidCollectionName(t *testing.T) {
	assert.True(t, ValidCollectionName("Jan_Novak_1"))
	assert.False(t, ValidCollectionName(""))
	assert.False(t, ValidCollectionName("a b"))
	assert.False(t, ValidCollectionName("a:b"))
}
