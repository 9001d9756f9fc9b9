// Package convo stores conversation history per caller identity.
// History is keyed by who is calling, not by connection, so a second
// overlapping call from the same number shares one transcript.
package convo

import (
	"sync"
	"time"
)

// DefaultMaxTurns bounds the context window handed to the generator.
const DefaultMaxTurns = 10

// Role tags a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance in a conversation.
type Turn struct {
	Role Role
	Text string
	At   time.Time
}

// Store holds bounded per-caller conversation history. Mutation of one
// caller's history is serialized on that caller's lock; distinct
// callers never contend.
type Store struct {
	maxTurns int

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu    sync.Mutex
	turns []Turn
}

// NewStore creates a store keeping at most maxTurns per caller.
// A non-positive bound falls back to DefaultMaxTurns.
func NewStore(maxTurns int) *Store {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Store{
		maxTurns: maxTurns,
		entries:  make(map[string]*entry),
	}
}

// Append records one turn for the caller, discarding the oldest once
// the bound is exceeded.
func (s *Store) Append(callerID string, role Role, text string) {
	e := s.entryFor(callerID)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.turns = append(e.turns, Turn{Role: role, Text: text, At: time.Now()})
	if len(e.turns) > s.maxTurns {
		excess := len(e.turns) - s.maxTurns
		e.turns = append([]Turn(nil), e.turns[excess:]...)
	}
}

// Window returns a copy of the caller's most recent n turns, oldest
// first. n <= 0 means the store's own bound.
func (s *Store) Window(callerID string, n int) []Turn {
	if n <= 0 || n > s.maxTurns {
		n = s.maxTurns
	}

	s.mu.Lock()
	e, ok := s.entries[callerID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.turns) == 0 {
		return nil
	}
	start := 0
	if len(e.turns) > n {
		start = len(e.turns) - n
	}
	out := make([]Turn, len(e.turns)-start)
	copy(out, e.turns[start:])
	return out
}

// Clear drops the caller's history entirely.
func (s *Store) Clear(callerID string) {
	s.mu.Lock()
	delete(s.entries, callerID)
	s.mu.Unlock()
}

// Len reports how many turns are currently retained for the caller.
func (s *Store) Len(callerID string) int {
	s.mu.Lock()
	e, ok := s.entries[callerID]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.turns)
}

func (s *Store) entryFor(callerID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[callerID]
	if !ok {
		e = &entry{}
		s.entries[callerID] = e
	}
	return e
}
