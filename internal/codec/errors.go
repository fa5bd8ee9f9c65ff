package codec

import (
	"errors"
	"fmt"
	"strings"

	"imgconv/internal/format"
)

// Sentinel markers used for errors.Is classification.
var (
	ErrUnrecognized = errors.New("unrecognized image format")
	ErrCorrupt      = errors.New("corrupt image data")
	ErrUnsupported  = errors.New("unsupported target format")
	ErrEncode       = errors.New("encode failure")
)

// FormatError reports bytes whose container format could not be recognized or
// has no decoder.
type FormatError struct {
	Detected string
	Reason   string
}

func (e *FormatError) Error() string {
	msg := "unrecognized image format"
	if e.Detected != "" {
		msg = fmt.Sprintf("%s (detected %s)", msg, e.Detected)
	}
	if reason := strings.TrimSpace(e.Reason); reason != "" {
		msg += ": " + reason
	}
	return msg
}

func (e *FormatError) Is(target error) bool { return target == ErrUnrecognized }

// ErrorKind classifies the error for logging.
func (e *FormatError) ErrorKind() string { return "format" }

// DecodeError reports data in a recognized format that failed to decode.
type DecodeError struct {
	Format format.Format
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Format.Label(), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrCorrupt }

func (e *DecodeError) ErrorKind() string { return "decode" }

// UnsupportedFormatError reports a conversion target with no wired encoder.
type UnsupportedFormatError struct {
	Format format.Format
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("no encoder available for target format %s", e.Format.Label())
}

func (e *UnsupportedFormatError) Is(target error) bool { return target == ErrUnsupported }

func (e *UnsupportedFormatError) ErrorKind() string { return "unsupported" }

// ConversionError reports an encoder failure for a specific target.
type ConversionError struct {
	Format format.Format
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Format.Label(), e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

func (e *ConversionError) Is(target error) bool { return target == ErrEncode }

func (e *ConversionError) ErrorKind() string { return "conversion" }

// Kind returns the classification of err, or "unknown" for errors outside the
// codec taxonomy.
func Kind(err error) string {
	var classifier interface{ ErrorKind() string }
	if errors.As(err, &classifier) {
		return classifier.ErrorKind()
	}
	return "unknown"
}

func corrupt(f format.Format, msg string, args ...any) error {
	return &DecodeError{Format: f, Err: fmt.Errorf(msg, args...)}
}
