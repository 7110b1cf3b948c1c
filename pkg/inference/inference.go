// Package inference is the boundary to the hosted multimodal model.
//
// Requests and responses are expressed as ordered lists of typed Parts.
// Vendor JSON never leaves this package: each gateway translates the wire
// shape into Parts as soon as a message is received.
//
// Two flavours are provided. Gateway is turn-based: one blocking Send per
// user action. LiveGateway opens a persistent bidirectional session where
// media is pushed continuously and responses arrive on a channel.
//
// Example usage:
//
//	gw, _ := inference.NewGemini(
//	    inference.WithAPIKey(os.Getenv("GOOGLE_API_KEY")),
//	    inference.WithModel("gemini-2.5-flash"),
//	)
//	defer gw.Close()
//
//	payload, _ := gw.Send(ctx, &inference.Request{
//	    SystemInstruction: "Be Socratic.",
//	    Parts: []inference.Part{
//	        inference.TextPart("What is this component?"),
//	        inference.ImagePart(jpegBytes, "image/jpeg"),
//	    },
//	})
//	fmt.Println(payload.Text())
package inference

import (
	"context"
	"fmt"
	"strings"
)

// Gateway is a turn-based model endpoint.
type Gateway interface {
	// Send performs one blocking request/response exchange.
	Send(ctx context.Context, req *Request) (*Payload, error)

	// Capabilities reports what this gateway supports.
	Capabilities() Capabilities

	// Close releases any resources held by the gateway.
	Close() error
}

// LiveGateway opens streaming sessions.
type LiveGateway interface {
	// Connect dials and configures a session. It returns once the
	// server has acknowledged the setup.
	Connect(ctx context.Context, cfg LiveConfig) (LiveConn, error)

	// Capabilities reports what this gateway supports.
	Capabilities() Capabilities
}

// LiveConn is one open streaming session.
type LiveConn interface {
	// Push sends media to the model without waiting for a response.
	Push(ctx context.Context, parts ...Part) error

	// Responses yields payloads in arrival order. It is closed when the
	// connection ends.
	Responses() <-chan *Payload

	// Done is closed when the connection ends for any reason.
	Done() <-chan struct{}

	// Err returns why the connection ended, or nil after a clean Close.
	Err() error

	// Close ends the session.
	Close() error
}

// Capabilities describes what a gateway supports.
type Capabilities struct {
	SystemInstruction bool // Accepts an out-of-band system instruction
	Image             bool // Accepts image parts
	Audio             bool // Accepts audio parts
	AudioOut          bool // Can respond with audio
	Streaming         bool // Persistent bidirectional sessions
}

// Kind tags the variant held by a Part.
type Kind int

const (
	KindText Kind = iota + 1
	KindImage
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Part is one typed content unit. Text parts use Text; image and audio parts
// carry raw bytes in Data tagged with MIMEType. Encoding for the wire is the
// gateway's concern.
type Part struct {
	Kind     Kind
	Text     string
	Data     []byte
	MIMEType string
}

// TextPart creates a text part.
func TextPart(text string) Part {
	return Part{Kind: KindText, Text: text}
}

// ImagePart creates an image part.
func ImagePart(data []byte, mimeType string) Part {
	return Part{Kind: KindImage, Data: data, MIMEType: mimeType}
}

// AudioPart creates an audio part.
func AudioPart(data []byte, mimeType string) Part {
	return Part{Kind: KindAudio, Data: data, MIMEType: mimeType}
}

// Validate reports whether the part carries usable content.
func (p Part) Validate() error {
	switch p.Kind {
	case KindText:
		if strings.TrimSpace(p.Text) == "" {
			return fmt.Errorf("%w: empty text part", ErrMalformedResponse)
		}
	case KindImage, KindAudio:
		if len(p.Data) == 0 {
			return fmt.Errorf("%w: empty %s part", ErrMalformedResponse, p.Kind)
		}
		if p.MIMEType == "" {
			return fmt.Errorf("%w: %s part without media type", ErrMalformedResponse, p.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown part kind %d", ErrMalformedResponse, int(p.Kind))
	}
	return nil
}

// Role tags history entries.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Content is one role-tagged history entry.
type Content struct {
	Role  Role
	Parts []Part
}

// Modality is a response modality.
type Modality string

const (
	ModalityText  Modality = "TEXT"
	ModalityAudio Modality = "AUDIO"
)

// Request is one turn-based model call.
type Request struct {
	// SystemInstruction goes in the out-of-band config field.
	SystemInstruction string

	// History holds prior turns, oldest first.
	History []Content

	// Parts is the new user content.
	Parts []Part

	// Modalities requests specific response modalities.
	Modalities []Modality

	// Model overrides the configured model.
	Model string
}

// LiveConfig configures a streaming session.
type LiveConfig struct {
	SystemInstruction string
	Modalities        []Modality
	Model             string
	Voice             string
}

// Payload is a model response translated into Parts.
type Payload struct {
	Parts []Part

	// TurnComplete is set when the model finished its turn.
	TurnComplete bool

	// Interrupted is set when a live response was cut short.
	Interrupted bool

	// FinishReason as reported by the model, if any.
	FinishReason string

	// Model used for generation.
	Model string

	// LatencyMs is the round trip time for turn-based calls.
	LatencyMs int64
}

// Empty reports whether the payload has no parts.
func (p *Payload) Empty() bool {
	return p == nil || len(p.Parts) == 0
}

// Text joins all text parts.
func (p *Payload) Text() string {
	if p == nil {
		return ""
	}
	var texts []string
	for _, part := range p.Parts {
		if part.Kind == KindText {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "")
}

// Audio returns all audio parts.
func (p *Payload) Audio() []Part {
	if p == nil {
		return nil
	}
	var out []Part
	for _, part := range p.Parts {
		if part.Kind == KindAudio {
			out = append(out, part)
		}
	}
	return out
}
