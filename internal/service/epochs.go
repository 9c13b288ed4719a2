package service

import "sync"

// scope names what a cached value was computed from: one conversation's
// messages, or the directory of all conversations.
type scope struct {
	conversation string
	directory    bool
}

func conversationScope(name string) scope { return scope{conversation: name} }

var directoryScope = scope{directory: true}

// Epochs counts mutations per conversation and for the directory. A reader
// remembers the epoch before querying the store and only populates the cache
// if no mutation happened in between.
type Epochs struct {
	mu   sync.RWMutex
	conv map[string]uint64
	dir  uint64
}

// NewEpochs returns counters starting at zero.
func NewEpochs() *Epochs {
	return &Epochs{conv: map[string]uint64{}}
}

func (e *Epochs) current(s scope) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentLocked(s)
}

func (e *Epochs) currentLocked(s scope) uint64 {
	if s.directory {
		return e.dir
	}
	return e.conv[s.conversation]
}

// Bump advances the directory and every named conversation.
func (e *Epochs) Bump(names ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dir++
	for _, n := range names {
		e.conv[n]++
	}
}

// setIfCurrent runs set only if s is still at want, and no Bump can
// interleave with it. Mutations bump before they invalidate, so a set that
// wins the race is removed by the invalidation that follows.
func (e *Epochs) setIfCurrent(s scope, want uint64, set func()) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.currentLocked(s) != want {
		return false
	}
	set()
	return true
}
