package tutor

import (
	"sync"

	"github.com/teslashibe/robotbox/pkg/conversation"
)

// recorder implements every sink and remembers what it was given.
type recorder struct {
	mu     sync.Mutex
	turns  []conversation.Turn
	audio  [][]byte
	mimes  []string
	errors []error
}

func (r *recorder) ShowTurn(t conversation.Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, t)
}

func (r *recorder) PlayAudio(data []byte, mimeType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio = append(r.audio, data)
	r.mimes = append(r.mimes, mimeType)
}

func (r *recorder) ShowError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

func (r *recorder) counts() (turns, audio, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.turns), len(r.audio), len(r.errors)
}
