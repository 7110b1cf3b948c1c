package tutor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/teslashibe/robotbox/pkg/inference"
	"github.com/teslashibe/robotbox/pkg/media"
	"github.com/teslashibe/robotbox/pkg/metrics"
)

// DefaultPushInterval is the minimum time between two frame pushes.
const DefaultPushInterval = time.Second

// LiveState is the streaming gateway state.
type LiveState int

const (
	LiveDisconnected LiveState = iota
	LiveConnecting
	LiveConnected
)

func (s LiveState) String() string {
	switch s {
	case LiveDisconnected:
		return "disconnected"
	case LiveConnecting:
		return "connecting"
	case LiveConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// errInactive ends the push loop when capture stops.
var errInactive = errors.New("tutor: capture stopped")

// LiveSession streams frames to a live gateway and dispatches whatever the
// model says back. A session runs once; after it ends a new one must be
// created.
type LiveSession struct {
	gateway    inference.LiveGateway
	frames     *media.FrameBuffer
	builder    *Builder
	dispatcher *Dispatcher

	active      func() bool
	interval    time.Duration
	instruction string
	modalities  []inference.Modality
	errs        ErrorSink
	onState     func(LiveState)
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu      sync.Mutex
	state   LiveState
	started bool
	stopped bool
	cancel  context.CancelFunc
	conn    inference.LiveConn
	pushes  int
	done    chan struct{}
}

// LiveOption configures a LiveSession.
type LiveOption func(*LiveSession)

// WithActive sets the capture liveness check. It is consulted before the
// session connects and before every push.
func WithActive(fn func() bool) LiveOption {
	return func(s *LiveSession) { s.active = fn }
}

// WithPushInterval sets the minimum interval between pushes.
func WithPushInterval(d time.Duration) LiveOption {
	return func(s *LiveSession) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLiveInstruction sets the system instruction sent at setup.
func WithLiveInstruction(text string) LiveOption {
	return func(s *LiveSession) { s.instruction = text }
}

// WithLiveModalities sets the requested response modalities.
func WithLiveModalities(m ...inference.Modality) LiveOption {
	return func(s *LiveSession) { s.modalities = m }
}

// WithLiveErrors sets where connection failures are shown.
func WithLiveErrors(e ErrorSink) LiveOption {
	return func(s *LiveSession) { s.errs = e }
}

// WithStateHook is called on every state change.
func WithStateHook(fn func(LiveState)) LiveOption {
	return func(s *LiveSession) { s.onState = fn }
}

// WithLiveMetrics sets the metrics handle.
func WithLiveMetrics(m *metrics.Metrics) LiveOption {
	return func(s *LiveSession) { s.metrics = m }
}

// WithLiveLogger sets the logger.
func WithLiveLogger(l *slog.Logger) LiveOption {
	return func(s *LiveSession) { s.logger = l }
}

// NewLiveSession creates a live session. Frames are encoded by builder and
// responses are routed through dispatcher.
func NewLiveSession(gw inference.LiveGateway, frames *media.FrameBuffer, builder *Builder, dispatcher *Dispatcher, opts ...LiveOption) *LiveSession {
	s := &LiveSession{
		gateway:     gw,
		frames:      frames,
		builder:     builder,
		dispatcher:  dispatcher,
		active:      func() bool { return true },
		interval:    DefaultPushInterval,
		instruction: SocraticInstruction,
		modalities:  []inference.Modality{inference.ModalityAudio},
		logger:      slog.Default(),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "tutor.live")
	return s
}

// State returns the current connection state.
func (s *LiveSession) State() LiveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pushes returns how many frames were pushed.
func (s *LiveSession) Pushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushes
}

func (s *LiveSession) setState(st LiveState) {
	s.mu.Lock()
	s.state = st
	hook := s.onState
	s.mu.Unlock()
	if hook != nil {
		hook(st)
	}
}

// Done is closed once Run has returned.
func (s *LiveSession) Done() <-chan struct{} {
	return s.done
}

// Run connects and streams until capture stops, ctx is cancelled, Stop is
// called or the server drops the connection. It returns nil on a
// cooperative stop, including a Stop that arrived before Run. A dropped
// connection is returned as a GatewayError and is also shown on the error
// sink; it is never retried.
func (s *LiveSession) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	s.started = true
	defer close(s.done)
	if s.stopped {
		s.mu.Unlock()
		s.logger.Info("live session stopped before connecting")
		return nil
	}
	if !s.active() {
		s.mu.Unlock()
		return ErrCaptureInactive
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	s.setState(LiveConnecting)
	conn, err := s.gateway.Connect(ctx, inference.LiveConfig{
		SystemInstruction: s.instruction,
		Modalities:        s.modalities,
	})
	if err != nil {
		s.setState(LiveDisconnected)
		return s.surface(classify(err))
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.setState(LiveConnected)
	s.metrics.LiveSessionStarted()
	s.logger.Info("live session connected", "interval", s.interval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.pushLoop(gctx, conn) })
	g.Go(func() error { return s.receiveLoop(gctx, conn) })
	err = g.Wait()

	conn.Close()
	s.setState(LiveDisconnected)
	s.metrics.LiveSessionEnded()

	switch {
	case err == nil, errors.Is(err, errInactive), errors.Is(err, context.Canceled):
		s.logger.Info("live session ended", "pushes", s.Pushes())
		return nil
	default:
		s.logger.Error("live session failed", "error", err, "pushes", s.Pushes())
		return s.surface(err)
	}
}

// Stop ends the session. It is safe to call at any time; a Stop before Run
// makes Run return without connecting.
func (s *LiveSession) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *LiveSession) surface(err error) error {
	if s.errs != nil {
		s.errs.ShowError(err)
	}
	return err
}

// pushLoop pushes the latest frame at most once per interval. The first
// push happens immediately.
func (s *LiveSession) pushLoop(ctx context.Context, conn inference.LiveConn) error {
	limiter := rate.NewLimiter(rate.Every(s.interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}
		if !s.active() {
			return errInactive
		}

		frame, ok := s.frames.Snapshot()
		if !ok {
			continue
		}
		part, err := s.builder.FramePart(frame)
		if err != nil {
			s.logger.Warn("frame skipped", "error", err)
			continue
		}
		if err := conn.Push(ctx, part); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-conn.Done():
				return s.closed(conn)
			default:
			}
			return classify(err)
		}
		s.mu.Lock()
		s.pushes++
		s.mu.Unlock()
		s.metrics.LivePush()
	}
}

// receiveLoop drains responses as they arrive. Responses are buffered by
// the connection so a slow dispatch never blocks the push loop.
func (s *LiveSession) receiveLoop(ctx context.Context, conn inference.LiveConn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-conn.Responses():
			if !ok {
				return s.closed(conn)
			}
			s.handle(p)
		case <-conn.Done():
			for {
				select {
				case p, ok := <-conn.Responses():
					if !ok {
						return s.closed(conn)
					}
					s.handle(p)
				default:
					return s.closed(conn)
				}
			}
		}
	}
}

func (s *LiveSession) closed(conn inference.LiveConn) error {
	if err := conn.Err(); err != nil {
		return classify(err)
	}
	return &GatewayError{Category: "network", Err: ErrConnectionClosed}
}

func (s *LiveSession) handle(p *inference.Payload) {
	if p == nil || p.Empty() {
		return
	}
	s.metrics.LiveResponse()
	if _, err := s.dispatcher.Dispatch(p); err != nil {
		s.logger.Debug("live payload ignored", "error", err)
	}
}
