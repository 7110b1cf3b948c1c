package media

import (
	"errors"
	"sync"
	"time"
)

// Audio MIME types.
const (
	MIMEWAV = "audio/wav"
	MIMEPCM = "audio/pcm"
)

var (
	// ErrNotRecording is returned by Stop when no recording is in progress.
	ErrNotRecording = errors.New("media: not recording")

	// ErrEmptyClip is returned when a recording captured no samples.
	ErrEmptyClip = errors.New("media: empty clip")
)

// Clip is one push-to-talk recording. It is produced at most once per turn.
type Clip struct {
	Data     []byte
	MIMEType string
	Duration time.Duration
}

// ClipSlot hands a recorded clip to exactly one turn.
type ClipSlot struct {
	mu   sync.Mutex
	clip *Clip
}

// Put stores c, replacing any clip that was never taken.
func (s *ClipSlot) Put(c *Clip) {
	s.mu.Lock()
	s.clip = c
	s.mu.Unlock()
}

// Take returns the stored clip and empties the slot.
func (s *ClipSlot) Take() (*Clip, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.clip
	s.clip = nil
	return c, c != nil
}

// Pending reports whether a clip is waiting.
func (s *ClipSlot) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clip != nil
}

// Recorder accumulates PCM while push-to-talk is held.
type Recorder struct {
	rate    int
	outRate int

	mu        sync.Mutex
	recording bool
	samples   []int16
}

// NewRecorder records mono PCM arriving at inRate and produces WAV clips at
// outRate.
func NewRecorder(inRate, outRate int) *Recorder {
	if outRate <= 0 {
		outRate = inRate
	}
	return &Recorder{rate: inRate, outRate: outRate}
}

// Start begins a new recording, discarding any unfinished one.
func (r *Recorder) Start() {
	r.mu.Lock()
	r.recording = true
	r.samples = r.samples[:0]
	r.mu.Unlock()
}

// Recording reports whether push-to-talk is held.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Write appends samples while recording and drops them otherwise.
func (r *Recorder) Write(samples []int16) {
	r.mu.Lock()
	if r.recording {
		r.samples = append(r.samples, samples...)
	}
	r.mu.Unlock()
}

// Stop ends the recording and returns it as a WAV clip.
func (r *Recorder) Stop() (*Clip, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	r.recording = false
	samples := make([]int16, len(r.samples))
	copy(samples, r.samples)
	r.samples = r.samples[:0]
	r.mu.Unlock()

	if len(samples) == 0 {
		return nil, ErrEmptyClip
	}

	out := Resample(samples, r.rate, r.outRate)
	return &Clip{
		Data:     EncodeWAV(out, r.outRate, 1),
		MIMEType: MIMEWAV,
		Duration: time.Duration(len(samples)) * time.Second / time.Duration(r.rate),
	}, nil
}
