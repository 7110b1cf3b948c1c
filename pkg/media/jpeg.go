package media

import (
	"bytes"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// JPEG defaults for frames sent to the model.
const (
	DefaultJPEGQuality = 70
	DefaultMaxEdge     = 1024
	MIMEJPEG           = "image/jpeg"
)

// JPEGOptions controls frame encoding.
type JPEGOptions struct {
	Quality int // 1-100, 0 means DefaultJPEGQuality
	MaxEdge int // longest side in pixels, 0 means no downscale
}

// EncodeJPEG encodes f, downscaling so its longest edge is at most
// opts.MaxEdge while keeping the aspect ratio.
func EncodeJPEG(f *Frame, opts JPEGOptions) ([]byte, error) {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return nil, ErrBadDimensions
	}
	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	var img image.Image = f.RGBA()
	if w, h, scaled := fitWithin(f.Width, f.Height, opts.MaxEdge); scaled {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeJPEG decodes a JPEG still into a canonical frame.
func DecodeJPEG(data []byte) (*Frame, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return FromImage(img), nil
}

func fitWithin(w, h, maxEdge int) (int, int, bool) {
	if maxEdge <= 0 || (w <= maxEdge && h <= maxEdge) {
		return w, h, false
	}
	if w >= h {
		nh := h * maxEdge / w
		if nh < 1 {
			nh = 1
		}
		return maxEdge, nh, true
	}
	nw := w * maxEdge / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxEdge, true
}
