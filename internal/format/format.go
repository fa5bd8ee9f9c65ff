// Package format enumerates the image container formats the converter knows
// about.
//
// Each Format carries a canonical file extension (the first extension a user
// would expect for the container), a MIME type, and a display label. The
// package also defines which formats are offered to users for selection and
// which ones the conversion engine can actually produce.
package format

import (
	"fmt"
	"strings"
)

// Format identifies an image container format.
type Format string

const (
	None     Format = ""
	PNG      Format = "png"
	JPEG     Format = "jpeg"
	GIF      Format = "gif"
	WEBP     Format = "webp"
	PNM      Format = "pnm"
	TIFF     Format = "tiff"
	TGA      Format = "tga"
	BMP      Format = "bmp"
	ICO      Format = "ico"
	HDR      Format = "hdr"
	EXR      Format = "exr"
	Farbfeld Format = "farbfeld"
	AVIF     Format = "avif"
	QOI      Format = "qoi"
)

type descriptor struct {
	label      string
	extensions []string
	mime       string
}

var descriptors = map[Format]descriptor{
	PNG:      {label: "PNG", extensions: []string{"png"}, mime: "image/png"},
	JPEG:     {label: "JPEG", extensions: []string{"jpg", "jpeg"}, mime: "image/jpeg"},
	GIF:      {label: "GIF", extensions: []string{"gif"}, mime: "image/gif"},
	WEBP:     {label: "WEBP", extensions: []string{"webp"}, mime: "image/webp"},
	PNM:      {label: "PNM", extensions: []string{"pnm", "ppm", "pgm", "pbm", "pam"}, mime: "image/x-portable-anymap"},
	TIFF:     {label: "TIFF", extensions: []string{"tiff", "tif"}, mime: "image/tiff"},
	TGA:      {label: "TGA", extensions: []string{"tga"}, mime: "image/x-tga"},
	BMP:      {label: "BMP", extensions: []string{"bmp"}, mime: "image/bmp"},
	ICO:      {label: "ICO", extensions: []string{"ico"}, mime: "image/x-icon"},
	HDR:      {label: "HDR", extensions: []string{"hdr"}, mime: "image/vnd.radiance"},
	EXR:      {label: "EXR", extensions: []string{"exr"}, mime: "image/x-exr"},
	Farbfeld: {label: "Farbfeld", extensions: []string{"ff"}, mime: "image/x-farbfeld"},
	AVIF:     {label: "AVIF", extensions: []string{"avif"}, mime: "image/avif"},
	QOI:      {label: "QOI", extensions: []string{"qoi"}, mime: "image/x-qoi"},
}

// selectable mirrors the list offered to users when choosing a target.
var selectable = []Format{PNG, BMP, GIF, HDR, ICO, JPEG, EXR, PNM, TGA, TIFF, WEBP}

// supported lists every target the conversion engine has an encoder for.
var supported = []Format{PNG, JPEG, GIF, PNM, TIFF, TGA, BMP, ICO, HDR, EXR, Farbfeld, AVIF, QOI}

// Selectable returns the formats offered for target selection, in display order.
func Selectable() []Format {
	cp := make([]Format, len(selectable))
	copy(cp, selectable)
	return cp
}

// Supported returns the formats the conversion engine can encode.
func Supported() []Format {
	cp := make([]Format, len(supported))
	copy(cp, supported)
	return cp
}

// All returns every known format, selectable ones first.
func All() []Format {
	out := Selectable()
	seen := make(map[Format]struct{}, len(out))
	for _, f := range out {
		seen[f] = struct{}{}
	}
	for _, f := range supported {
		if _, ok := seen[f]; !ok {
			out = append(out, f)
		}
	}
	return out
}

// Known reports whether f is a recognized format.
func (f Format) Known() bool {
	_, ok := descriptors[f]
	return ok
}

// Extension returns the canonical extension without a leading dot.
func (f Format) Extension() string {
	if d, ok := descriptors[f]; ok {
		return d.extensions[0]
	}
	return ""
}

// Extensions returns every extension conventionally used for f.
func (f Format) Extensions() []string {
	d, ok := descriptors[f]
	if !ok {
		return nil
	}
	cp := make([]string, len(d.extensions))
	copy(cp, d.extensions)
	return cp
}

// MIME returns the MIME type associated with f.
func (f Format) MIME() string {
	return descriptors[f].mime
}

// Label returns the user-facing name of f.
func (f Format) Label() string {
	if d, ok := descriptors[f]; ok {
		return d.label
	}
	if f == None {
		return "none"
	}
	return strings.ToUpper(string(f))
}

func (f Format) String() string { return string(f) }

// Parse converts user input (format name, label, or any known extension with
// or without a leading dot) into a Format.
func Parse(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.TrimPrefix(normalized, ".")
	if normalized == "" {
		return None, fmt.Errorf("format: empty value")
	}
	switch normalized {
	case "openexr":
		return EXR, nil
	case "radiance":
		return HDR, nil
	case "targa":
		return TGA, nil
	}
	for f, d := range descriptors {
		if string(f) == normalized || strings.ToLower(d.label) == normalized {
			return f, nil
		}
		for _, ext := range d.extensions {
			if ext == normalized {
				return f, nil
			}
		}
	}
	return None, fmt.Errorf("format: unknown value %q", value)
}
