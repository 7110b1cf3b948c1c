// Package media holds the captured-media side of the tutor: video frames in
// canonical RGB order, the single-slot frame buffer, the capture callback,
// and push-to-talk audio clips.
package media

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"time"
)

// ChannelOrder is the byte layout of a raw pixel.
type ChannelOrder int

const (
	OrderBGR ChannelOrder = iota
	OrderRGB
	OrderBGRA
	OrderRGBA
	OrderGray
)

var orderNames = map[ChannelOrder]string{
	OrderBGR:  "bgr",
	OrderRGB:  "rgb",
	OrderBGRA: "bgra",
	OrderRGBA: "rgba",
	OrderGray: "gray",
}

func (o ChannelOrder) String() string {
	if s, ok := orderNames[o]; ok {
		return s
	}
	return fmt.Sprintf("order(%d)", int(o))
}

// BytesPerPixel returns the pixel stride, or 0 for an unknown order.
func (o ChannelOrder) BytesPerPixel() int {
	switch o {
	case OrderBGR, OrderRGB:
		return 3
	case OrderBGRA, OrderRGBA:
		return 4
	case OrderGray:
		return 1
	}
	return 0
}

var (
	// ErrBadDimensions is returned for frames with non-positive width or height.
	ErrBadDimensions = errors.New("media: bad frame dimensions")

	// ErrShortBuffer is returned when the pixel data is smaller than the dimensions need.
	ErrShortBuffer = errors.New("media: pixel buffer too short")

	// ErrUnknownOrder is returned for an unsupported channel order.
	ErrUnknownOrder = errors.New("media: unknown channel order")
)

// RawFrame is a frame exactly as the capture transport delivered it.
// Stride may be zero for tightly packed rows.
type RawFrame struct {
	Width  int
	Height int
	Stride int
	Order  ChannelOrder
	Pix    []byte
}

func (r RawFrame) stride() int {
	if r.Stride > 0 {
		return r.Stride
	}
	return r.Width * r.Order.BytesPerPixel()
}

// Validate checks that the frame can be converted.
func (r RawFrame) Validate() error {
	bpp := r.Order.BytesPerPixel()
	if bpp == 0 {
		return fmt.Errorf("%w: %v", ErrUnknownOrder, r.Order)
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrBadDimensions, r.Width, r.Height)
	}
	stride := r.stride()
	if stride < r.Width*bpp {
		return fmt.Errorf("%w: stride %d for width %d", ErrBadDimensions, stride, r.Width)
	}
	need := stride*(r.Height-1) + r.Width*bpp
	if len(r.Pix) < need {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrShortBuffer, len(r.Pix), need)
	}
	return nil
}

// Frame is a still image in canonical RGB order, 3 bytes per pixel, rows
// tightly packed. A Frame is never modified after it is published.
type Frame struct {
	Width    int
	Height   int
	Pix      []byte
	Captured time.Time
}

// Normalize converts raw into a canonical RGB frame. The result never shares
// memory with raw.Pix.
func Normalize(raw RawFrame) (*Frame, error) {
	if err := raw.Validate(); err != nil {
		return nil, err
	}

	w, h := raw.Width, raw.Height
	bpp := raw.Order.BytesPerPixel()
	stride := raw.stride()
	out := make([]byte, w*h*3)

	for y := 0; y < h; y++ {
		src := raw.Pix[y*stride : y*stride+w*bpp]
		dst := out[y*w*3 : (y+1)*w*3]
		switch raw.Order {
		case OrderRGB:
			copy(dst, src)
		case OrderBGR:
			for x := 0; x < w; x++ {
				dst[x*3], dst[x*3+1], dst[x*3+2] = src[x*3+2], src[x*3+1], src[x*3]
			}
		case OrderRGBA:
			for x := 0; x < w; x++ {
				dst[x*3], dst[x*3+1], dst[x*3+2] = src[x*4], src[x*4+1], src[x*4+2]
			}
		case OrderBGRA:
			for x := 0; x < w; x++ {
				dst[x*3], dst[x*3+1], dst[x*3+2] = src[x*4+2], src[x*4+1], src[x*4]
			}
		case OrderGray:
			for x := 0; x < w; x++ {
				dst[x*3], dst[x*3+1], dst[x*3+2] = src[x], src[x], src[x]
			}
		}
	}

	return &Frame{Width: w, Height: h, Pix: out, Captured: time.Now()}, nil
}

// FromImage converts any image into a canonical frame.
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, w*h*3)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			out[i], out[i+1], out[i+2] = c.R, c.G, c.B
			i += 3
		}
	}
	return &Frame{Width: w, Height: h, Pix: out, Captured: time.Now()}
}

// RGBA returns the frame as an *image.RGBA for encoding or scaling.
func (f *Frame) RGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i < len(f.Pix); i, j = i+3, j+4 {
		img.Pix[j] = f.Pix[i]
		img.Pix[j+1] = f.Pix[i+1]
		img.Pix[j+2] = f.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// At returns the RGB value of pixel (x, y).
func (f *Frame) At(x, y int) (r, g, b byte) {
	i := (y*f.Width + x) * 3
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}
