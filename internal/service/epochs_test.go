package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEpochs_BumpAdvancesNamedAndDirectory(t *testing.T) {
	e := NewEpochs()
	assert.Zero(t, e.current(conversationScope("a")))
	assert.Zero(t, e.current(directoryScope))

	e.Bump("a")
	assert.Equal(t, uint64(1), e.current(conversationScope("a")))
	assert.Zero(t, e.current(conversationScope("b")))
	assert.Equal(t, uint64(1), e.current(directoryScope))

	e.Bump("a", "b")
	assert.Equal(t, uint64(2), e.current(conversationScope("a")))
	assert.Equal(t, uint64(1), e.current(conversationScope("b")))
	assert.Equal(t, uint64(2), e.current(directoryScope))
}

func TestEpochs_SetIfCurrent(t *testing.T) {
	e := NewEpochs()
	sc := conversationScope("a")
	want := e.current(sc)

	ran := false
	assert.True(t, e.setIfCurrent(sc, want, func() { ran = true }))
	assert.True(t, ran)

	e.Bump("a")
	ran = false
	assert.False(t, e.setIfCurrent(sc, want, func() { ran = true }))
	assert.False(t, ran)

	// Another conversation's mutation leaves this one alone.
	want = e.current(sc)
	e.Bump("b")
	assert.True(t, e.setIfCurrent(sc, want, func() {}))
	assert.False(t, e.setIfCurrent(directoryScope, 0, func() {}))
}
