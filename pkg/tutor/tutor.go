// Package tutor turns student input into model requests and model
// responses into conversation turns.
//
// Tutor drives the turn-based flavour: one blocking gateway call per user
// action, with the session updated only on success. LiveSession drives the
// streaming flavour, pushing frames on a fixed cadence while responses are
// dispatched as they arrive.
package tutor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/robotbox/pkg/conversation"
	"github.com/teslashibe/robotbox/pkg/inference"
	"github.com/teslashibe/robotbox/pkg/media"
	"github.com/teslashibe/robotbox/pkg/metrics"
)

// State is the turn-based gateway state.
type State int

const (
	StateIdle State = iota
	StateSending
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Exchange is the outcome of a successful Ask.
type Exchange struct {
	User      conversation.Turn   `json:"user"`
	Replies   []conversation.Turn `json:"replies"`
	Audio     int                 `json:"audio"`
	LatencyMs int64               `json:"latency_ms"`
}

// Tutor runs turn-based exchanges against one session.
type Tutor struct {
	gateway    inference.Gateway
	session    *conversation.Session
	frames     *media.FrameBuffer
	builder    *Builder
	dispatcher *Dispatcher
	instr      func() string
	text       TextSink
	audio      AudioSink
	errs       ErrorSink
	metrics    *metrics.Metrics
	logger     *slog.Logger
	vision     bool

	inflight sync.Mutex

	mu          sync.Mutex
	state       State
	lastErr     error
	instruction string
}

// Option configures a Tutor.
type Option func(*Tutor)

// WithInstruction sets the instruction source. It is read when the tutor
// is created and on every Reset.
func WithInstruction(fn func() string) Option {
	return func(t *Tutor) { t.instr = fn }
}

// WithFrames attaches the frame buffer snapshotted on each turn.
func WithFrames(b *media.FrameBuffer) Option {
	return func(t *Tutor) { t.frames = b }
}

// WithVision turns frame attachment on or off.
func WithVision(on bool) Option {
	return func(t *Tutor) { t.vision = on }
}

// WithBuilder replaces the default request builder.
func WithBuilder(b *Builder) Option {
	return func(t *Tutor) { t.builder = b }
}

// WithSinks sets where turns, audio and errors are shown.
func WithSinks(text TextSink, audio AudioSink, errs ErrorSink) Option {
	return func(t *Tutor) {
		t.text = text
		t.audio = audio
		t.errs = errs
	}
}

// WithMetrics sets the metrics handle.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tutor) { t.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tutor) { t.logger = l }
}

// New creates a tutor bound to session.
func New(gw inference.Gateway, session *conversation.Session, opts ...Option) *Tutor {
	t := &Tutor{
		gateway: gw,
		session: session,
		instr:   func() string { return SocraticInstruction },
		logger:  slog.Default(),
		vision:  true,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.builder == nil {
		t.builder = NewBuilder(gw.Capabilities(), media.JPEGOptions{
			Quality: media.DefaultJPEGQuality,
			MaxEdge: media.DefaultMaxEdge,
		}, true)
	}
	t.dispatcher = NewDispatcher(session, t.text, t.audio, t.metrics, t.logger)
	t.logger = t.logger.With("component", "tutor")
	t.instruction = t.instr()
	return t
}

// Session returns the bound session.
func (t *Tutor) Session() *conversation.Session {
	return t.session
}

// Instruction returns the instruction used by the current session.
func (t *Tutor) Instruction() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.instruction
}

// State returns the gateway state and the last failure, if any.
func (t *Tutor) State() (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, t.lastErr
}

func (t *Tutor) setState(s State, err error) {
	t.mu.Lock()
	t.state = s
	if s == StateSending {
		t.lastErr = nil
	}
	if err != nil {
		t.lastErr = err
	}
	t.mu.Unlock()
}

// Ask sends one student turn. On success the user turn and every reply are
// appended to the session; on any failure the session is untouched.
// Only one Ask runs at a time; a concurrent call returns ErrBusy.
func (t *Tutor) Ask(ctx context.Context, text string, clip *media.Clip) (*Exchange, error) {
	if !t.inflight.TryLock() {
		return nil, ErrBusy
	}
	defer t.inflight.Unlock()

	t.setState(StateSending, nil)
	defer t.setState(StateIdle, nil)

	var frame *media.Frame
	if t.vision && t.frames != nil {
		frame, _ = t.frames.Snapshot()
	}
	text = strings.TrimSpace(text)

	req, err := t.builder.Build(t.Instruction(), Input{
		Text:    text,
		Frame:   frame,
		Clip:    clip,
		History: t.session.All(),
	})
	if err != nil {
		t.setState(StateFailed, err)
		return nil, err
	}

	start := time.Now()
	payload, err := t.gateway.Send(ctx, req)
	t.metrics.GatewayCall(metrics.FlavourTurn, err, time.Since(start))
	if err == nil {
		err = t.dispatcher.Validate(payload)
	}
	if err != nil {
		return nil, t.fail(err)
	}

	user := conversation.NewTurn(conversation.RoleUser, text, MediaRefs(req)...)
	t.session.Append(user)
	if t.text != nil {
		t.text.ShowTurn(user)
	}

	res, err := t.dispatcher.Dispatch(payload)
	if err != nil {
		return nil, t.fail(err)
	}

	t.setState(StateSucceeded, nil)
	t.logger.Info("turn complete",
		"session", t.session.ID(),
		"replies", len(res.Turns),
		"audio", res.Audio,
		"has_frame", frame != nil,
		"has_clip", clip != nil,
		"latency_ms", payload.LatencyMs,
	)

	return &Exchange{
		User:      user,
		Replies:   res.Turns,
		Audio:     res.Audio,
		LatencyMs: payload.LatencyMs,
	}, nil
}

func (t *Tutor) fail(err error) error {
	err = classify(err)
	t.setState(StateFailed, err)

	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		t.logger.Warn("response had no usable content", "reason", malformed.Reason)
		return err
	}

	t.logger.Error("gateway call failed", "error", err)
	if t.errs != nil {
		t.errs.ShowError(err)
	}
	return err
}

// Reset clears the session and picks up the latest instruction.
// It waits for any in-flight Ask to finish.
func (t *Tutor) Reset() {
	t.inflight.Lock()
	defer t.inflight.Unlock()

	t.session.Reset()
	t.mu.Lock()
	t.instruction = t.instr()
	t.state = StateIdle
	t.lastErr = nil
	t.mu.Unlock()
	t.logger.Info("session reset", "session", t.session.ID())
}
