package hub

import (
	"errors"

	"github.com/teslashibe/robotbox/pkg/conversation"
	"github.com/teslashibe/robotbox/pkg/media"
	"github.com/teslashibe/robotbox/pkg/tutor"
)

// Sinks renders tutor output as hub events.
type Sinks struct {
	hub *Hub
}

// NewSinks creates sinks that publish on h.
func NewSinks(h *Hub) *Sinks {
	return &Sinks{hub: h}
}

func (s *Sinks) ShowTurn(t conversation.Turn) {
	s.publish(Event{Type: EventTurn, Turn: &t})
}

// PlayAudio sends audio the browser can play directly. Raw PCM is wrapped
// in a WAV container first.
func (s *Sinks) PlayAudio(data []byte, mimeType string) {
	data, mimeType = media.Playable(data, mimeType)
	s.publish(Event{Type: EventAudio, Audio: &Audio{MIMEType: mimeType, Data: data}})
}

func (s *Sinks) ShowError(err error) {
	info := &ErrorInfo{Message: err.Error()}
	var gwErr *tutor.GatewayError
	if errors.As(err, &gwErr) {
		info.Category = gwErr.Category
	}
	s.publish(Event{Type: EventError, Error: info})
}

// ShowStatus publishes the current status.
func (s *Sinks) ShowStatus(st Status) {
	s.publish(Event{Type: EventStatus, Status: &st})
}

func (s *Sinks) publish(e Event) {
	if err := s.hub.Publish(e); err != nil {
		s.hub.logger.Error("encode event", "type", e.Type, "error", err)
	}
}

var (
	_ tutor.TextSink  = (*Sinks)(nil)
	_ tutor.AudioSink = (*Sinks)(nil)
	_ tutor.ErrorSink = (*Sinks)(nil)
)
