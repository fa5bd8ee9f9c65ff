package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"sync"

	"github.com/gen2brain/avif"
	"github.com/xfmoulet/qoi"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"imgconv/internal/format"
)

// EncodeFunc writes img to w in one container format.
type EncodeFunc func(w io.Writer, img image.Image) error

// Engine converts rasters into encoded bytes using a dispatch table keyed by
// target format.
type Engine struct {
	encoders map[format.Format]EncodeFunc
}

// NewEngine returns an engine wired with every built-in encoder.
func NewEngine() *Engine {
	pngEncoder := &png.Encoder{BufferPool: &pngBufferPool{}}
	return &Engine{encoders: map[format.Format]EncodeFunc{
		format.PNG: pngEncoder.Encode,
		format.JPEG: func(w io.Writer, img image.Image) error {
			return jpeg.Encode(w, opaqueRGB(img), &jpeg.Options{Quality: jpeg.DefaultQuality})
		},
		format.GIF: func(w io.Writer, img image.Image) error {
			return gif.Encode(w, img, nil)
		},
		format.BMP: bmp.Encode,
		format.TIFF: func(w io.Writer, img image.Image) error {
			return tiff.Encode(w, img, nil)
		},
		format.QOI: qoi.Encode,
		format.AVIF: func(w io.Writer, img image.Image) error {
			return avif.Encode(w, img)
		},
		format.PNM:      encodePNM,
		format.TGA:      encodeTGA,
		format.ICO:      encodeICO,
		format.HDR:      encodeHDR,
		format.EXR:      encodeEXR,
		format.Farbfeld: encodeFarbfeld,
	}}
}

// Supports reports whether the engine has an encoder for target.
func (e *Engine) Supports(target format.Format) bool {
	_, ok := e.encoders[target]
	return ok
}

// Convert encodes img as target. Missing encoders yield
// *UnsupportedFormatError; encoder failures, including panics, yield
// *ConversionError.
func (e *Engine) Convert(img image.Image, target format.Format) (out []byte, err error) {
	encode, ok := e.encoders[target]
	if !ok {
		return nil, &UnsupportedFormatError{Format: target}
	}
	if img == nil {
		return nil, &ConversionError{Format: target, Err: errors.New("nil raster")}
	}
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &ConversionError{Format: target, Err: fmt.Errorf("encoder panic: %v", r)}
		}
	}()

	var buf bytes.Buffer
	if err := encode(&buf, img); err != nil {
		return nil, &ConversionError{Format: target, Err: err}
	}
	if buf.Len() == 0 {
		return nil, &ConversionError{Format: target, Err: errors.New("encoder produced no data")}
	}
	return buf.Bytes(), nil
}

// opaqueRGB drops alpha. Color channels are kept as stored, not composited
// over a background.
func opaqueRGB(img image.Image) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out.SetRGBA(x, y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return out
}

type pngBufferPool struct {
	pool sync.Pool
}

func (p *pngBufferPool) Get() *png.EncoderBuffer {
	b, _ := p.pool.Get().(*png.EncoderBuffer)
	return b
}

func (p *pngBufferPool) Put(b *png.EncoderBuffer) { p.pool.Put(b) }
