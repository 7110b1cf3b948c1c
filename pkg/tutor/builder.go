package tutor

import (
	"fmt"
	"strings"

	"github.com/teslashibe/robotbox/pkg/conversation"
	"github.com/teslashibe/robotbox/pkg/inference"
	"github.com/teslashibe/robotbox/pkg/media"
)

// Input is everything a single turn may carry.
type Input struct {
	Text    string
	Frame   *media.Frame // nil when no frame was captured or vision is off
	Clip    *media.Clip  // nil when push-to-talk was not used this turn
	History []conversation.Turn
}

// Builder assembles gateway requests.
type Builder struct {
	caps    inference.Capabilities
	jpeg    media.JPEGOptions
	history bool
}

// NewBuilder creates a builder for a gateway with caps. includeHistory
// controls whether prior turns are serialized for turn-based calls.
func NewBuilder(caps inference.Capabilities, jpeg media.JPEGOptions, includeHistory bool) *Builder {
	return &Builder{caps: caps, jpeg: jpeg, history: includeHistory}
}

// Build creates the request for one turn.
func (b *Builder) Build(instruction string, in Input) (*inference.Request, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" && in.Clip == nil && in.Frame == nil {
		return nil, ErrEmptyInput
	}

	req := &inference.Request{}

	if instruction != "" {
		if b.caps.SystemInstruction {
			req.SystemInstruction = instruction
		} else {
			req.History = append(req.History,
				inference.Content{Role: inference.RoleUser, Parts: []inference.Part{inference.TextPart(instruction)}},
				inference.Content{Role: inference.RoleModel, Parts: []inference.Part{inference.TextPart(ModelAck)}},
			)
		}
	}

	if b.history {
		req.History = append(req.History, SerializeHistory(in.History)...)
	}

	if text != "" {
		req.Parts = append(req.Parts, inference.TextPart(text))
	}
	if in.Frame != nil {
		part, err := b.FramePart(in.Frame)
		if err != nil {
			return nil, err
		}
		req.Parts = append(req.Parts, part)
	}
	if in.Clip != nil && len(in.Clip.Data) > 0 {
		req.Parts = append(req.Parts, inference.AudioPart(in.Clip.Data, in.Clip.MIMEType))
	}
	if len(req.Parts) == 0 {
		return nil, ErrEmptyInput
	}
	return req, nil
}

// FramePart encodes a frame as a JPEG image part.
func (b *Builder) FramePart(f *media.Frame) (inference.Part, error) {
	data, err := media.EncodeJPEG(f, b.jpeg)
	if err != nil {
		return inference.Part{}, fmt.Errorf("tutor: encode frame: %w", err)
	}
	return inference.ImagePart(data, media.MIMEJPEG), nil
}

// SerializeHistory converts session turns into role-tagged contents.
// Consecutive turns from the same role are merged; turns without text are
// skipped because their media is not retained.
func SerializeHistory(turns []conversation.Turn) []inference.Content {
	var out []inference.Content
	for _, t := range turns {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		role := inference.RoleUser
		if t.Role == conversation.RoleAssistant {
			role = inference.RoleModel
		}
		part := inference.TextPart(t.Text)
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, part)
			continue
		}
		out = append(out, inference.Content{Role: role, Parts: []inference.Part{part}})
	}
	return out
}

// MediaRefs describes the media attached to a request, for the user turn.
func MediaRefs(req *inference.Request) []conversation.MediaRef {
	var refs []conversation.MediaRef
	for _, p := range req.Parts {
		if p.Kind == inference.KindImage || p.Kind == inference.KindAudio {
			refs = append(refs, conversation.MediaRef{MIMEType: p.MIMEType, Bytes: len(p.Data)})
		}
	}
	return refs
}
