package media

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/teslashibe/robotbox/pkg/metrics"
)

// CaptureError describes a frame the capture callback could not publish.
type CaptureError struct {
	Order  ChannelOrder
	Width  int
	Height int
	Err    error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("media: capture %v %dx%d: %v", e.Order, e.Width, e.Height, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Capture is the per-frame hook the capture transport invokes.
type Capture struct {
	buffer  *FrameBuffer
	logger  *slog.Logger
	metrics *metrics.Metrics
	enabled atomic.Bool
	failed  atomic.Uint64
	onError func(error)
}

// CaptureOption configures a Capture.
type CaptureOption func(*Capture)

// WithCaptureLogger sets the logger.
func WithCaptureLogger(l *slog.Logger) CaptureOption {
	return func(c *Capture) { c.logger = l }
}

// WithCaptureMetrics sets the metrics handle.
func WithCaptureMetrics(m *metrics.Metrics) CaptureOption {
	return func(c *Capture) { c.metrics = m }
}

// WithCaptureErrorHandler is called with every *CaptureError.
func WithCaptureErrorHandler(fn func(error)) CaptureOption {
	return func(c *Capture) { c.onError = fn }
}

// NewCapture creates a callback publishing into buf. Publishing starts enabled.
func NewCapture(buf *FrameBuffer, opts ...CaptureOption) *Capture {
	c := &Capture{buffer: buf, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "media.capture")
	c.enabled.Store(true)
	return c
}

// SetEnabled turns publishing on or off. Frames still pass through when off.
func (c *Capture) SetEnabled(on bool) {
	c.enabled.Store(on)
}

// Enabled reports whether frames are being published.
func (c *Capture) Enabled() bool {
	return c.enabled.Load()
}

// Failures returns how many frames could not be converted.
func (c *Capture) Failures() uint64 {
	return c.failed.Load()
}

// OnFrame normalizes raw to RGB, publishes it and returns raw unchanged for
// display. It never panics and never fails: a frame that cannot be converted
// is logged and skipped, leaving the previous frame in the buffer.
func (c *Capture) OnFrame(raw RawFrame) RawFrame {
	if !c.enabled.Load() {
		return raw
	}

	f, err := c.convert(raw)
	if err != nil {
		c.failed.Add(1)
		c.metrics.FrameRejected()
		cerr := &CaptureError{Order: raw.Order, Width: raw.Width, Height: raw.Height, Err: err}
		c.logger.Warn("frame dropped", "error", cerr)
		if c.onError != nil {
			c.onError(cerr)
		}
		return raw
	}

	c.buffer.Publish(f)
	return raw
}

func (c *Capture) convert(raw RawFrame) (f *Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			f, err = nil, fmt.Errorf("panic during conversion: %v", r)
		}
	}()
	return Normalize(raw)
}
