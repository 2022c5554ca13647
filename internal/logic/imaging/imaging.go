// Package imaging turns camera frames into still images: it rasterizes a
// frame onto an offscreen RGBA surface of the exact same size, encodes it
// losslessly as PNG and wraps encoded payloads into data URIs.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"strings"
)

// MIME types produced by this package.
const (
	MIMEPNG  = "image/png"
	MIMEJPEG = "image/jpeg"
)

// ErrEmptyFrame is returned when a frame has no pixels.
var ErrEmptyFrame = errors.New("empty frame")

// ErrInvalidDataURI is returned by ParseDataURI for malformed input.
var ErrInvalidDataURI = errors.New("invalid data URI")

// Rasterize draws src onto a new RGBA surface sized exactly to src's bounds,
// with the origin moved to (0,0). No scaling, no cropping.
func Rasterize(src image.Image) (*image.RGBA, error) {
	if src == nil {
		return nil, ErrEmptyFrame
	}
	b := src.Bounds()
	if b.Empty() {
		return nil, ErrEmptyFrame
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst, nil
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeJPEG encodes img as JPEG with the given quality (1-100).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Thumbnail returns src scaled down (nearest neighbour) so that its width is
// at most maxWidth, keeping the aspect ratio. Smaller images are returned as is.
func Thumbnail(src image.Image, maxWidth int) image.Image {
	b := src.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return src
	}
	w := maxWidth
	h := b.Dy() * maxWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		sy := b.Min.Y + y*b.Dy()/h
		for x := 0; x < w; x++ {
			sx := b.Min.X + x*b.Dx()/w
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}

// DataURI returns payload as a base64 data URI of the given MIME type.
func DataURI(mime string, payload []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(payload)
}

// ParseDataURI splits a base64 data URI into its MIME type and decoded payload.
func ParseDataURI(uri string) (mime string, payload []byte, err error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing data: prefix", ErrInvalidDataURI)
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing comma", ErrInvalidDataURI)
	}
	mime, ok = strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, fmt.Errorf("%w: only base64 payloads are supported", ErrInvalidDataURI)
	}
	payload, err = base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	return mime, payload, nil
}
