// Package hub fans tutor events out to browser websocket clients using a
// channel-based register/unregister/broadcast loop.
package hub

import (
	"encoding/json"

	"github.com/teslashibe/robotbox/pkg/conversation"
)

// Message is one JSON frame queued for every client.
type Message struct {
	Data []byte
}

// NewJSONMessage wraps pre-encoded JSON.
func NewJSONMessage(data []byte) Message {
	return Message{Data: data}
}

// EventType names a UI event.
type EventType string

const (
	EventTurn   EventType = "turn"
	EventAudio  EventType = "audio"
	EventError  EventType = "error"
	EventStatus EventType = "status"
)

// Event is the JSON envelope sent to the page.
type Event struct {
	Type   EventType          `json:"type"`
	Turn   *conversation.Turn `json:"turn,omitempty"`
	Audio  *Audio             `json:"audio,omitempty"`
	Error  *ErrorInfo         `json:"error,omitempty"`
	Status *Status            `json:"status,omitempty"`
}

// Audio is a playable clip. Data is base64 encoded by encoding/json.
type Audio struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// ErrorInfo is a failure shown inline in the tutor pane.
type ErrorInfo struct {
	Category string `json:"category,omitempty"`
	Message  string `json:"message"`
}

// Status is the state shown in the page header.
type Status struct {
	Session   string `json:"session"`
	Turns     int    `json:"turns"`
	Capture   bool   `json:"capture"`
	HasFrame  bool   `json:"has_frame"`
	Gateway   string `json:"gateway"`
	Live      string `json:"live"`
	Recording bool   `json:"recording"`
	Export    bool   `json:"export"`

	// Frames counts frames published since start.
	Frames uint64 `json:"frames"`
	// Streams is the number of websocket capture clients.
	Streams int `json:"streams"`
	// ClipReady is set while a push-to-talk clip waits for the next turn.
	ClipReady bool `json:"clip_ready"`
}

func (e Event) encode() (Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return Message{}, err
	}
	return NewJSONMessage(data), nil
}
