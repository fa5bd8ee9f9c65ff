// Package codec turns raw file bytes into rasters and rasters into encoded
// bytes for a chosen container format.
//
// Detection is content based: a small magic table covers containers that
// generic sniffers misclassify or do not know, and mimetype handles the rest.
// Errors are typed (FormatError, DecodeError, UnsupportedFormatError,
// ConversionError) and carry sentinel markers for errors.Is checks.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gen2brain/avif"
	"github.com/jsummers/gobmp"
	"github.com/xfmoulet/qoi"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"

	"imgconv/internal/format"
)

const (
	maxDimension = 1<<16 - 1
	maxPixels    = 1 << 28
)

// Decoded is a raster together with the container it was read from.
type Decoded struct {
	Format format.Format
	Raster image.Image
}

// Decoder detects and decodes image bytes. The zero value has no size limit.
type Decoder struct {
	maxBytes int64
}

// NewDecoder returns a decoder that rejects inputs larger than maxBytes.
// A non-positive limit disables the check.
func NewDecoder(maxBytes int64) *Decoder {
	return &Decoder{maxBytes: maxBytes}
}

type magicRule struct {
	format format.Format
	match  func([]byte) bool
}

// magicRules run before mimetype. TGA headers collide with the cursor
// signature, so the footer check has to win. Footerless TGA files are only
// considered once mimetype has found nothing.
var magicRules = []magicRule{
	{format.QOI, func(b []byte) bool { return bytes.HasPrefix(b, []byte("qoif")) }},
	{format.Farbfeld, func(b []byte) bool { return bytes.HasPrefix(b, []byte(farbfeldMagic)) }},
	{format.EXR, func(b []byte) bool { return bytes.HasPrefix(b, exrMagic) }},
	{format.HDR, isHDR},
	{format.PNM, isPNM},
	{format.TGA, hasTGAFooter},
	{format.ICO, isICO},
}

var mimeFormats = []struct {
	mime   string
	format format.Format
}{
	{"image/png", format.PNG},
	{"image/jpeg", format.JPEG},
	{"image/gif", format.GIF},
	{"image/webp", format.WEBP},
	{"image/bmp", format.BMP},
	{"image/tiff", format.TIFF},
	{"image/avif", format.AVIF},
	{"image/x-icon", format.ICO},
	{"image/vnd.microsoft.icon", format.ICO},
	{"image/vnd.radiance", format.HDR},
	{"image/x-exr", format.EXR},
	{"image/x-portable-pixmap", format.PNM},
	{"image/x-portable-graymap", format.PNM},
}

func isPNM(data []byte) bool {
	if len(data) < 3 || data[0] != 'P' || data[1] < '1' || data[1] > '7' {
		return false
	}
	switch data[2] {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}

// Detect identifies the container format of data without decoding it.
func (d *Decoder) Detect(data []byte) (format.Format, error) {
	if len(data) == 0 {
		return format.None, &FormatError{Reason: "empty input"}
	}
	for _, rule := range magicRules {
		if rule.match(data) {
			return rule.format, nil
		}
	}
	mtype := mimetype.Detect(data)
	for _, entry := range mimeFormats {
		if mtype.Is(entry.mime) {
			return entry.format, nil
		}
	}
	if plausibleTGAHeader(data) {
		return format.TGA, nil
	}
	if strings.HasPrefix(mtype.String(), "image/") {
		return format.None, &FormatError{Detected: mtype.String(), Reason: "no decoder available"}
	}
	return format.None, &FormatError{}
}

// Decode detects the container format of data and decodes it into a raster.
func (d *Decoder) Decode(data []byte) (result Decoded, err error) {
	if d != nil && d.maxBytes > 0 && int64(len(data)) > d.maxBytes {
		return Decoded{}, &DecodeError{
			Format: format.None,
			Err:    fmt.Errorf("input of %d bytes exceeds limit of %d", len(data), d.maxBytes),
		}
	}
	f, err := d.Detect(data)
	if err != nil {
		return Decoded{}, err
	}

	defer func() {
		if r := recover(); r != nil {
			result = Decoded{}
			err = &DecodeError{Format: f, Err: fmt.Errorf("decoder panic: %v", r)}
		}
	}()

	img, err := decodeAs(f, data)
	if err != nil {
		var (
			decodeErr *DecodeError
			formatErr *FormatError
		)
		if errors.As(err, &decodeErr) || errors.As(err, &formatErr) {
			return Decoded{}, err
		}
		return Decoded{}, &DecodeError{Format: f, Err: err}
	}
	if img == nil {
		return Decoded{}, corrupt(f, "decoder returned no raster")
	}
	b := img.Bounds()
	if err := checkDimensions(f, b.Dx(), b.Dy()); err != nil {
		return Decoded{}, err
	}
	return Decoded{Format: f, Raster: img}, nil
}

func decodeAs(f format.Format, data []byte) (image.Image, error) {
	r := bytes.NewReader(data)
	switch f {
	case format.PNG:
		return png.Decode(r)
	case format.JPEG:
		return jpeg.Decode(r)
	case format.GIF:
		return gif.Decode(r)
	case format.WEBP:
		return webp.Decode(r)
	case format.BMP:
		return gobmp.Decode(r)
	case format.TIFF:
		return tiff.Decode(r)
	case format.QOI:
		return qoi.Decode(r)
	case format.AVIF:
		return avif.Decode(r)
	case format.PNM:
		return decodePNM(data)
	case format.Farbfeld:
		return decodeFarbfeld(r)
	case format.HDR:
		return decodeHDR(r)
	case format.EXR:
		return decodeEXR(data)
	case format.TGA:
		return decodeTGA(r)
	case format.ICO:
		return decodeICO(data)
	default:
		return nil, &FormatError{Detected: f.Label(), Reason: "no decoder available"}
	}
}

// checkDimensions guards allocations sized from untrusted headers.
func checkDimensions(f format.Format, width, height int) error {
	switch {
	case width <= 0 || height <= 0:
		return corrupt(f, "invalid dimensions %dx%d", width, height)
	case width > maxDimension || height > maxDimension:
		return corrupt(f, "dimensions %dx%d exceed %d", width, height, maxDimension)
	case width*height > maxPixels:
		return corrupt(f, "%d pixels exceed limit of %d", width*height, maxPixels)
	}
	return nil
}

// CanDecode reports whether Decode accepts input in f. Every known format has
// a decoder.
func (d *Decoder) CanDecode(f format.Format) bool {
	return f.Known()
}
