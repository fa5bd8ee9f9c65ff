// Package download hands a built archive to the user's file system.
package download

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 25 * time.Millisecond

// ErrEmpty is returned when there is nothing to write.
var ErrEmpty = errors.New("download: empty archive")

// Result describes a completed write.
type Result struct {
	Path   string
	Bytes  int64
	SHA256 string
}

// Writer places archives in a directory. Concurrent writers targeting the
// same file are serialized through a hidden lock file next to it, which is
// left in place.
type Writer struct {
	dir string
}

// NewWriter returns a writer rooted at dir.
func NewWriter(dir string) *Writer {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	return &Writer{dir: dir}
}

// Dir returns the destination directory.
func (w *Writer) Dir() string { return w.dir }

// Write atomically replaces dir/name with data. The bytes land in a temporary
// file in the same directory first and are renamed into place once flushed,
// so readers never observe a partial archive.
func (w *Writer) Write(ctx context.Context, name string, data []byte) (Result, error) {
	if len(data) == 0 {
		return Result{}, ErrEmpty
	}
	name = strings.TrimSpace(name)
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return Result{}, fmt.Errorf("download: invalid file name %q", name)
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create download directory: %w", err)
	}

	dst := filepath.Join(w.dir, name)
	lock := flock.New(filepath.Join(w.dir, "."+name+".lock"))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return Result{}, fmt.Errorf("acquire download lock: %w", err)
	}
	if !locked {
		return Result{}, fmt.Errorf("acquire download lock: %s is busy", dst)
	}
	defer func() { _ = lock.Unlock() }()

	tmp, err := os.CreateTemp(w.dir, "."+name+".*.tmp")
	if err != nil {
		return Result{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("write archive: %w", err)
	}
	if written != int64(len(data)) {
		return Result{}, fmt.Errorf("write size mismatch: expected %d bytes, wrote %d", len(data), written)
	}
	if err := tmp.Sync(); err != nil {
		return Result{}, fmt.Errorf("sync archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Result{}, fmt.Errorf("close archive: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return Result{}, fmt.Errorf("chmod archive: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return Result{}, fmt.Errorf("move archive into place: %w", err)
	}
	committed = true

	return Result{Path: dst, Bytes: written, SHA256: hex.EncodeToString(hasher.Sum(nil))}, nil
}
