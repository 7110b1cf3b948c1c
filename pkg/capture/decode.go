// Package capture feeds browser camera and microphone media into
// media.Capture and media.Recorder.
//
// Two transports are provided: Ingest accepts JPEG stills over a websocket,
// Receiver negotiates a WebRTC peer connection and decodes H264 video and
// Opus audio.
package capture

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/teslashibe/robotbox/pkg/media"
)

// ErrEmptyImage is returned when an image decodes to nothing.
var ErrEmptyImage = errors.New("capture: empty image")

// FrameDecoder turns encoded image bytes into a transport-native frame.
type FrameDecoder func(data []byte) (media.RawFrame, error)

// DecodeBGR decodes a JPEG or PNG into OpenCV's native BGR order.
func DecodeBGR(data []byte) (media.RawFrame, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return media.RawFrame{}, fmt.Errorf("capture: decode image: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return media.RawFrame{}, ErrEmptyImage
	}

	return media.RawFrame{
		Width:  mat.Cols(),
		Height: mat.Rows(),
		Stride: mat.Step(),
		Order:  media.OrderBGR,
		Pix:    mat.ToBytes(),
	}, nil
}
