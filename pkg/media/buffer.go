package media

import (
	"sync"

	"github.com/teslashibe/robotbox/pkg/metrics"
)

// FrameBuffer is a single-slot mailbox holding the most recent frame.
//
// Publish overwrites unconditionally and Snapshot returns whatever is held.
// Both hold the lock only for a pointer swap, so the capture goroutine is
// never delayed by encoding or network work on the reader side.
type FrameBuffer struct {
	metrics *metrics.Metrics

	mu        sync.Mutex
	frame     *Frame
	seq       uint64
	read      bool
	published uint64
	overwrote uint64
}

// BufferStats is a point-in-time view of buffer activity.
type BufferStats struct {
	Seq         uint64
	Published   uint64
	Overwritten uint64
	HasFrame    bool
}

// NewFrameBuffer creates an empty buffer. m may be nil.
func NewFrameBuffer(m *metrics.Metrics) *FrameBuffer {
	return &FrameBuffer{metrics: m}
}

// Publish replaces the held frame. A nil frame is ignored.
func (b *FrameBuffer) Publish(f *Frame) {
	if f == nil {
		return
	}
	b.mu.Lock()
	overwritten := b.frame != nil && !b.read
	b.frame = f
	b.seq++
	b.read = false
	b.published++
	if overwritten {
		b.overwrote++
	}
	b.mu.Unlock()

	b.metrics.FramePublished(overwritten)
}

// Snapshot returns the held frame, or false when nothing has been published.
// The returned frame must not be modified.
func (b *FrameBuffer) Snapshot() (*Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frame == nil {
		return nil, false
	}
	b.read = true
	return b.frame, true
}

// Stats returns buffer counters.
func (b *FrameBuffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Seq:         b.seq,
		Published:   b.published,
		Overwritten: b.overwrote,
		HasFrame:    b.frame != nil,
	}
}
