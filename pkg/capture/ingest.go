package capture

import (
	"log/slog"
	"sync/atomic"

	"github.com/gofiber/contrib/websocket"

	"github.com/teslashibe/robotbox/pkg/media"
)

// maxStillSize bounds a single JPEG still from the browser.
const maxStillSize = 4 << 20

// Ingest receives camera stills from the page over a websocket.
type Ingest struct {
	capture *media.Capture
	decode  FrameDecoder
	logger  *slog.Logger

	clients  atomic.Int32
	received atomic.Uint64
	dropped  atomic.Uint64
}

// IngestOption configures an Ingest.
type IngestOption func(*Ingest)

// WithFrameDecoder replaces DecodeBGR.
func WithFrameDecoder(fn FrameDecoder) IngestOption {
	return func(i *Ingest) { i.decode = fn }
}

// WithIngestLogger sets the logger.
func WithIngestLogger(l *slog.Logger) IngestOption {
	return func(i *Ingest) { i.logger = l }
}

// NewIngest creates an ingest that hands frames to c.
func NewIngest(c *media.Capture, opts ...IngestOption) *Ingest {
	i := &Ingest{capture: c, decode: DecodeBGR, logger: slog.Default()}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With("component", "capture.ingest")
	return i
}

// Handle decodes one still and passes it through the capture callback.
func (i *Ingest) Handle(data []byte) error {
	i.received.Add(1)
	raw, err := i.decode(data)
	if err != nil {
		i.dropped.Add(1)
		return err
	}
	i.capture.OnFrame(raw)
	return nil
}

// Serve reads binary stills until the socket closes. It is meant to be
// passed to websocket.New.
func (i *Ingest) Serve(conn *websocket.Conn) {
	n := i.clients.Add(1)
	i.logger.Info("capture client connected", "clients", n)
	defer func() {
		n := i.clients.Add(-1)
		i.logger.Info("capture client disconnected", "clients", n)
	}()

	conn.SetReadLimit(maxStillSize)
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				i.logger.Warn("capture socket closed", "error", err)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		if err := i.Handle(data); err != nil {
			i.logger.Debug("still dropped", "error", err, "bytes", len(data))
		}
	}
}

// Active reports whether a client is streaming and capture is enabled.
func (i *Ingest) Active() bool {
	return i.clients.Load() > 0 && i.capture.Enabled()
}

// Clients returns the number of connected capture sockets.
func (i *Ingest) Clients() int {
	return int(i.clients.Load())
}

// Stats returns how many stills were received and dropped.
func (i *Ingest) Stats() (received, dropped uint64) {
	return i.received.Load(), i.dropped.Load()
}
