package capture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// DefaultDecodeTimeout bounds one ffmpeg run.
const DefaultDecodeTimeout = 500 * time.Millisecond

var jpegSOI = []byte{0xFF, 0xD8, 0xFF}

// Decoder turns an H264 Annex-B stream into a JPEG using an ffmpeg pipe.
// Decoding is rate limited to one run per interval.
type Decoder struct {
	path     string
	interval time.Duration
	timeout  time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewDecoder creates a decoder running the ffmpeg binary at path.
func NewDecoder(path string, interval time.Duration) *Decoder {
	if path == "" {
		path = "ffmpeg"
	}
	return &Decoder{path: path, interval: interval, timeout: DefaultDecodeTimeout}
}

// Due reports whether enough time has passed for another decode, and
// claims the slot if so.
func (d *Decoder) Due() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if time.Since(d.last) < d.interval {
		return false
	}
	d.last = time.Now()
	return true
}

// Decode returns the last frame of stream as a JPEG.
func (d *Decoder) Decode(ctx context.Context, stream []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.path,
		"-loglevel", "error",
		"-f", "h264",
		"-i", "pipe:0",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "3",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(stream)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil && stdout.Len() == 0 {
		return nil, fmt.Errorf("capture: ffmpeg: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	frame := lastJPEG(stdout.Bytes())
	if frame == nil {
		return nil, ErrEmptyImage
	}
	return frame, nil
}

// lastJPEG returns the final image of an MJPEG stream.
func lastJPEG(out []byte) []byte {
	i := bytes.LastIndex(out, jpegSOI)
	if i < 0 {
		return nil
	}
	return out[i:]
}
