// Package conversation holds the in-memory tutoring transcript.
//
// A Session lives for one browser session and is never persisted. Turns are
// immutable values; the only way to remove them is Reset.
package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MediaRef records that a turn carried non-text media.
// The bytes themselves are not retained.
type MediaRef struct {
	MIMEType string `json:"mime_type"`
	Bytes    int    `json:"bytes"`
}

// Turn is one exchange entry.
type Turn struct {
	ID    string     `json:"id"`
	Role  Role       `json:"role"`
	Text  string     `json:"text"`
	Media []MediaRef `json:"media,omitempty"`
	Time  time.Time  `json:"time"`
}

// NewTurn creates a turn with a fresh ID and timestamp.
func NewTurn(role Role, text string, media ...MediaRef) Turn {
	return Turn{
		ID:    uuid.NewString(),
		Role:  role,
		Text:  text,
		Media: media,
		Time:  time.Now(),
	}
}

// Session is an ordered list of turns. Safe for concurrent use.
type Session struct {
	mu      sync.RWMutex
	id      string
	started time.Time
	turns   []Turn
}

// NewSession creates an empty session with a unique ID.
func NewSession() *Session {
	return &Session{
		id:      uuid.NewString(),
		started: time.Now(),
	}
}

// ID returns the session identifier. It changes on Reset.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Started returns when the session (or its last reset) began.
func (s *Session) Started() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Append adds turns to the end of the session.
func (s *Session) Append(turns ...Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range turns {
		if len(t.Media) > 0 {
			t.Media = append([]MediaRef(nil), t.Media...)
		}
		s.turns = append(s.turns, t)
	}
}

// All returns a copy of every turn in conversation order.
func (s *Session) All() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of turns.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Reset clears every turn and starts a new session ID.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	s.id = uuid.NewString()
	s.started = time.Now()
}
