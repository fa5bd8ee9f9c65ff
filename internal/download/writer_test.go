package download_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"imgconv/internal/download"
)

func TestWriteCreatesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w := download.NewWriter(dir)

	payload := []byte("archive-bytes")
	res, err := w.Write(context.Background(), "output.tar", payload)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res.Path != filepath.Join(dir, "output.tar") {
		t.Fatalf("unexpected path %q", res.Path)
	}
	got, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("expected %q, got %q", payload, got)
	}
	sum := sha256.Sum256(payload)
	if res.SHA256 != hex.EncodeToString(sum[:]) || res.Bytes != int64(len(payload)) {
		t.Fatalf("unexpected result %+v", res)
	}

	info, err := os.Stat(res.Path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Fatalf("expected 0644, got %v", info.Mode().Perm())
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			t.Fatalf("temp file %s left behind", entry.Name())
		}
	}
}

func TestWriteReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	w := download.NewWriter(dir)
	if _, err := w.Write(context.Background(), "a.tar", []byte("first")); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	if _, err := w.Write(context.Background(), "a.tar", []byte("second")); err != nil {
		t.Fatalf("second Write: %v", err)
	}
	got, _ := os.ReadFile(filepath.Join(dir, "a.tar"))
	if string(got) != "second" {
		t.Fatalf("expected replacement, got %q", got)
	}
}

func TestWriteRejectsBadInput(t *testing.T) {
	w := download.NewWriter(t.TempDir())
	if _, err := w.Write(context.Background(), "a.tar", nil); !errors.Is(err, download.ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	for _, name := range []string{"", "..", "../a.tar", "dir/a.tar"} {
		if _, err := w.Write(context.Background(), name, []byte("x")); err == nil {
			t.Fatalf("expected error for name %q", name)
		}
	}
}

func TestConcurrentWritesSerialize(t *testing.T) {
	dir := t.TempDir()
	w := download.NewWriter(dir)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.Write(context.Background(), "shared.tar", []byte("payload"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent write failed: %v", err)
		}
	}
	got, err := os.ReadFile(filepath.Join(dir, "shared.tar"))
	if err != nil || string(got) != "payload" {
		t.Fatalf("unexpected final contents %q (%v)", got, err)
	}
}
