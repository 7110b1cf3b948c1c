package tutor

import (
	"context"
	"errors"
	"fmt"

	"github.com/teslashibe/robotbox/pkg/inference"
)

// Sentinel errors for the tutor package.
var (
	// ErrBusy is returned when a turn is already in flight.
	ErrBusy = errors.New("tutor: a request is already in flight")

	// ErrEmptyInput is returned when a turn has no text, audio or frame.
	ErrEmptyInput = errors.New("tutor: nothing to send")

	// ErrSessionEnded is returned when running a live session twice.
	ErrSessionEnded = errors.New("tutor: live session already ended")

	// ErrCaptureInactive is returned when starting a live session without capture.
	ErrCaptureInactive = errors.New("tutor: capture is not active")

	// ErrConnectionClosed is returned when the live server ends the session.
	ErrConnectionClosed = errors.New("tutor: live connection closed by server")
)

// GatewayError is a failed model call. The session is left unchanged and
// the user may try again.
type GatewayError struct {
	// Category is one of network, auth, quota, model or request.
	Category string
	Err      error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("tutor: %s error: %v", e.Category, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// MalformedResponseError is a response with no usable part. It is a no-op.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return "tutor: malformed response: " + e.Reason
}

func (e *MalformedResponseError) Unwrap() error {
	return inference.ErrMalformedResponse
}

// classify wraps a gateway failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return malformed
	}
	if errors.Is(err, inference.ErrMalformedResponse) {
		return &MalformedResponseError{Reason: err.Error()}
	}
	category := "network"
	var apiErr *inference.APIError
	switch {
	case errors.As(err, &apiErr):
		category = apiErr.Category()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		category = "cancelled"
	}
	return &GatewayError{Category: category, Err: err}
}
