package tutor

import (
	"log/slog"

	"github.com/teslashibe/robotbox/pkg/conversation"
	"github.com/teslashibe/robotbox/pkg/inference"
	"github.com/teslashibe/robotbox/pkg/metrics"
)

// TextSink renders turns in the conversation pane.
type TextSink interface {
	ShowTurn(t conversation.Turn)
}

// AudioSink plays audio responses.
type AudioSink interface {
	PlayAudio(data []byte, mimeType string)
}

// ErrorSink shows failures inline.
type ErrorSink interface {
	ShowError(err error)
}

// Result counts what a dispatch produced.
type Result struct {
	Turns []conversation.Turn
	Audio int
}

// Dispatcher routes response parts to the session and the sinks.
type Dispatcher struct {
	session *conversation.Session
	text    TextSink
	audio   AudioSink
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher. Any sink may be nil.
func NewDispatcher(session *conversation.Session, text TextSink, audio AudioSink, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		session: session,
		text:    text,
		audio:   audio,
		metrics: m,
		logger:  logger.With("component", "tutor.dispatcher"),
	}
}

// Validate checks a payload without touching any state.
func (d *Dispatcher) Validate(p *inference.Payload) error {
	if p.Empty() {
		return &MalformedResponseError{Reason: "empty payload"}
	}
	usable := 0
	for _, part := range p.Parts {
		if part.Kind != inference.KindText && part.Kind != inference.KindAudio {
			continue
		}
		if err := part.Validate(); err != nil {
			return &MalformedResponseError{Reason: err.Error()}
		}
		usable++
	}
	if usable == 0 {
		return &MalformedResponseError{Reason: "no text or audio part"}
	}
	return nil
}

// Dispatch appends one assistant turn per text part and plays each audio
// part. An invalid payload changes nothing.
func (d *Dispatcher) Dispatch(p *inference.Payload) (Result, error) {
	if err := d.Validate(p); err != nil {
		d.logger.Debug("payload ignored", "error", err)
		return Result{}, err
	}

	var res Result
	for _, part := range p.Parts {
		switch part.Kind {
		case inference.KindText:
			turn := conversation.NewTurn(conversation.RoleAssistant, part.Text)
			d.session.Append(turn)
			if d.text != nil {
				d.text.ShowTurn(turn)
			}
			res.Turns = append(res.Turns, turn)
			d.metrics.PartDispatched("text")
		case inference.KindAudio:
			if d.audio != nil {
				d.audio.PlayAudio(part.Data, part.MIMEType)
			}
			res.Audio++
			d.metrics.PartDispatched("audio")
		}
	}
	return res, nil
}
