// Package archive packages converted images into a single tar stream.
package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"imgconv/internal/store"
)

// DefaultMaxNameLength caps the stem of each archived file name, in runes.
const DefaultMaxNameLength = 64

const entryMode = 0o644

// ErrInvalidEntry marks an entity that cannot be archived.
var ErrInvalidEntry = errors.New("invalid archive entry")

// Builder serializes converted entities into a tar archive.
type Builder struct {
	maxNameLength int
}

// NewBuilder returns a builder truncating stems to maxNameLength runes. Values
// below one use DefaultMaxNameLength.
func NewBuilder(maxNameLength int) *Builder {
	if maxNameLength < 1 {
		maxNameLength = DefaultMaxNameLength
	}
	return &Builder{maxNameLength: maxNameLength}
}

// Build writes one regular-file entry per entity, in order. An empty input
// produces no archive and no error. Any invalid entity fails the whole build.
// Entities that map to an already used name, compared case-insensitively, get
// a " (n)" counter before the extension.
func (b *Builder) Build(entities []store.Entity) ([]byte, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	taken := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		stem, ext, err := b.entryParts(e)
		if err != nil {
			return nil, err
		}
		name := b.uniqueName(stem, ext, taken)
		if len(e.EncodedResult) == 0 {
			return nil, fmt.Errorf("%w: %s has no converted output", ErrInvalidEntry, e.Name)
		}
		modTime := e.CompletedAt
		if modTime.IsZero() {
			modTime = time.Now()
		}
		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     name,
			Mode:     entryMode,
			Size:     int64(len(e.EncodedResult)),
			ModTime:  modTime,
			Format:   tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("write header for %s: %w", name, err)
		}
		if _, err := tw.Write(e.EncodedResult); err != nil {
			return nil, fmt.Errorf("write contents of %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

// EntryName derives the archived file name: the source extension is removed
// when it is an exact suffix, the stem is NFC-normalized and truncated, and
// the target extension is appended.
func (b *Builder) EntryName(e store.Entity) (string, error) {
	stem, ext, err := b.entryParts(e)
	if err != nil {
		return "", err
	}
	return stem + "." + ext, nil
}

func (b *Builder) entryParts(e store.Entity) (stem, ext string, err error) {
	if !e.TargetFormat.Known() {
		return "", "", fmt.Errorf("%w: %s has no target format", ErrInvalidEntry, e.Name)
	}
	stem = e.Name
	if ext := e.SourceFormat.Extension(); ext != "" {
		stem = strings.TrimSuffix(stem, "."+ext)
	}
	stem = norm.NFC.String(stem)
	if err := validateStem(stem); err != nil {
		return "", "", fmt.Errorf("%w: %q: %v", ErrInvalidEntry, e.Name, err)
	}
	return truncateRunes(stem, b.maxNameLength), e.TargetFormat.Extension(), nil
}

// uniqueName returns stem.ext, or the first free "stem (n).ext", and records
// it in taken. The counter counts against the stem length limit.
func (b *Builder) uniqueName(stem, ext string, taken map[string]struct{}) string {
	name := stem + "." + ext
	for n := 1; ; n++ {
		key := strings.ToLower(name)
		if _, dup := taken[key]; !dup {
			taken[key] = struct{}{}
			return name
		}
		suffix := fmt.Sprintf(" (%d)", n)
		keep := max(b.maxNameLength-utf8.RuneCountInString(suffix), 1)
		name = truncateRunes(stem, keep) + suffix + "." + ext
	}
}

func validateStem(stem string) error {
	switch {
	case strings.TrimSpace(stem) == "":
		return errors.New("empty name")
	case stem == "." || stem == "..":
		return errors.New("relative path component")
	case strings.ContainsAny(stem, "/\\"):
		return errors.New("contains a path separator")
	case strings.ContainsRune(stem, 0):
		return errors.New("contains NUL")
	case !utf8.ValidString(stem):
		return errors.New("not valid UTF-8")
	}
	return nil
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
