// Package thumbnail renders small inline previews of decoded rasters.
package thumbnail

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/disintegration/imaging"
)

// DefaultSize is the edge of the square previews are fitted into.
const DefaultSize = 64

const dataURIPrefix = "data:image/png;base64,"

// Generator produces PNG data URI previews.
type Generator struct {
	size    int
	encoder *png.Encoder
}

// New returns a generator fitting previews into a size×size square. A
// non-positive size falls back to DefaultSize.
func New(size int) *Generator {
	if size <= 0 {
		size = DefaultSize
	}
	return &Generator{
		size:    size,
		encoder: &png.Encoder{CompressionLevel: png.BestSpeed, BufferPool: &bufferPool{}},
	}
}

// Size reports the edge of the preview box.
func (g *Generator) Size() int { return g.size }

// Generate resamples img to fit the preview box, preserving aspect ratio,
// and returns it as a PNG data URI. scratch is reset before use and its
// contents must not be relied on afterwards; a nil scratch allocates.
func (g *Generator) Generate(img image.Image, scratch *bytes.Buffer) (string, error) {
	if img == nil {
		return "", errors.New("thumbnail: nil raster")
	}
	b := img.Bounds()
	if b.Empty() {
		return "", fmt.Errorf("thumbnail: empty raster %v", b)
	}
	w, h := fitBox(b.Dx(), b.Dy(), g.size)
	resized := imaging.Resize(img, w, h, imaging.Lanczos)

	if scratch == nil {
		scratch = new(bytes.Buffer)
	}
	scratch.Reset()
	if err := g.encoder.Encode(scratch, resized); err != nil {
		return "", fmt.Errorf("thumbnail: encode png: %w", err)
	}
	out := make([]byte, len(dataURIPrefix)+base64.StdEncoding.EncodedLen(scratch.Len()))
	copy(out, dataURIPrefix)
	base64.StdEncoding.Encode(out[len(dataURIPrefix):], scratch.Bytes())
	return string(out), nil
}

// fitBox scales (w, h) up or down so the longer edge equals box.
func fitBox(w, h, box int) (int, int) {
	ratio := math.Min(float64(box)/float64(w), float64(box)/float64(h))
	fw := int(math.Round(float64(w) * ratio))
	fh := int(math.Round(float64(h) * ratio))
	return max(fw, 1), max(fh, 1)
}

// Decode parses a data URI produced by Generate back into an image.
func Decode(uri string) (image.Image, error) {
	if len(uri) < len(dataURIPrefix) || uri[:len(dataURIPrefix)] != dataURIPrefix {
		return nil, errors.New("thumbnail: not a png data uri")
	}
	raw, err := base64.StdEncoding.DecodeString(uri[len(dataURIPrefix):])
	if err != nil {
		return nil, fmt.Errorf("thumbnail: decode base64: %w", err)
	}
	return png.Decode(bytes.NewReader(raw))
}
