package pipeline_test

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"imgconv/internal/codec"
	"imgconv/internal/config"
	"imgconv/internal/download"
	"imgconv/internal/format"
	"imgconv/internal/pipeline"
	"imgconv/internal/store"
	"imgconv/internal/testsupport"
)

func newSession(t *testing.T, cfg *config.Config) *pipeline.Session {
	t.Helper()
	s, err := pipeline.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIngestReportsPerFile(t *testing.T) {
	dir := t.TempDir()
	good := testsupport.WritePNG(t, dir, "good.png", 4, 3)
	other := testsupport.WritePNG(t, dir, "other.png", 2, 2)
	bad := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(bad, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	missing := filepath.Join(dir, "missing.png")

	s := newSession(t, testsupport.NewConfig(t))
	results := s.Ingest(context.Background(), []string{good, bad, other, missing})
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Fatalf("expected png inputs to succeed: %v, %v", results[0].Err, results[2].Err)
	}
	if !errors.Is(results[1].Err, codec.ErrUnrecognized) {
		t.Fatalf("expected unrecognized error for text file, got %v", results[1].Err)
	}
	if !errors.Is(results[3].Err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", results[3].Err)
	}

	entity := results[0].Entity
	if entity.Name != "good.png" || entity.SourceFormat != format.PNG {
		t.Fatalf("unexpected entity %+v", entity)
	}
	if entity.Width != 4 || entity.Height != 3 || entity.Preview == "" {
		t.Fatalf("expected dimensions and preview, got %+v", entity)
	}
	if got := s.Store().Counts().Uploaded; got != 2 {
		t.Fatalf("expected 2 uploaded images, got %d", got)
	}
}

func TestIngestRespectsSizeLimit(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxFileBytes(16))
	path := testsupport.WritePNG(t, t.TempDir(), "big.png", 8, 8)

	s := newSession(t, cfg)
	results := s.Ingest(context.Background(), []string{path})
	if !errors.Is(results[0].Err, codec.ErrCorrupt) {
		t.Fatalf("expected size limit decode error, got %v", results[0].Err)
	}
}

func TestConvertAndExport(t *testing.T) {
	dir := t.TempDir()
	cfg := testsupport.NewConfig(t, testsupport.WithJournal())
	completed := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)

	s, err := pipeline.New(context.Background(), cfg, nil, pipeline.WithClock(func() time.Time { return completed }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	paths := []string{testsupport.WritePNG(t, dir, "a.png", 3, 3), testsupport.WritePNG(t, dir, "b.png", 5, 2)}
	for _, res := range s.Ingest(context.Background(), paths) {
		if res.Err != nil {
			t.Fatalf("ingest %s: %v", res.Path, res.Err)
		}
	}

	if n := s.Store().ToggleSelectAll(store.StageUploaded, true); n != 2 {
		t.Fatalf("expected 2 selected, got %d", n)
	}
	ids, err := s.QueueSelected(context.Background(), format.TGA)
	if err != nil || len(ids) != 2 {
		t.Fatalf("QueueSelected: ids=%v err=%v", ids, err)
	}

	n, err := s.Drain(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Drain: n=%d err=%v", n, err)
	}
	if c := s.Store().Counts(); c.Output != 2 || c.Queued != 0 {
		t.Fatalf("unexpected counts %+v", c)
	}

	empty, err := s.Export(context.Background())
	if err != nil {
		t.Fatalf("expected empty export to be a no-op, got %v", err)
	}
	if empty != (download.Result{}) {
		t.Fatalf("expected zero result, got %+v", empty)
	}
	if _, err := os.Stat(filepath.Join(cfg.Archive.OutputDir, "output.tar")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no archive on disk, got %v", err)
	}
	s.Store().ToggleSelectAll(store.StageOutput, true)
	res, err := s.Export(context.Background())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if res.Path != filepath.Join(cfg.Archive.OutputDir, "output.tar") {
		t.Fatalf("unexpected archive path %q", res.Path)
	}

	f, err := os.Open(res.Path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()
	var names []string
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("read archive: %v", err)
		}
		if !hdr.ModTime.Equal(completed) {
			t.Fatalf("expected mod time %v, got %v", completed, hdr.ModTime)
		}
		names = append(names, hdr.Name)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a.tga" || names[1] != "b.tga" {
		t.Fatalf("unexpected archive entries %v", names)
	}

	history, err := s.Journal().History(context.Background(), 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 journal entries, got %d", len(history))
	}
	if history[0].CorrelationID != s.CorrelationID() {
		t.Fatalf("expected correlation id %q, got %q", s.CorrelationID(), history[0].CorrelationID)
	}
}

func TestBackgroundProcessorFailuresStayVisible(t *testing.T) {
	s := newSession(t, testsupport.NewConfig(t))
	path := testsupport.WritePNG(t, t.TempDir(), "a.png", 2, 2)
	if res := s.Ingest(context.Background(), []string{path}); res[0].Err != nil {
		t.Fatalf("ingest: %v", res[0].Err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.Store().ToggleSelectAll(store.StageUploaded, true)
	if _, err := s.QueueSelected(context.Background(), format.WEBP); err != nil {
		t.Fatalf("QueueSelected: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}

	failed := s.Store().Snapshot(store.StageFailed)
	if len(failed) != 1 {
		t.Fatalf("expected one failed record, got %d", len(failed))
	}
	if failed[0].Err == "" || len(failed[0].EncodedResult) != 0 {
		t.Fatalf("unexpected failed record %+v", failed[0])
	}
	// Counters are updated just after the store commits the move.
	deadline := time.Now().Add(5 * time.Second)
	for {
		status := s.Status(context.Background())
		if status.Running && status.Failed == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("unexpected status %+v", status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewRejectsBadOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Processor.Order = "random"
	if _, err := pipeline.New(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for unknown order")
	}
}

func TestDrainHonorsLIFO(t *testing.T) {
	s := newSession(t, testsupport.NewConfig(t, testsupport.WithOrder(config.OrderLIFO)))
	testsupport.QueueAll(t, s.Store(), format.QOI, "first", "second", "third")

	if n, err := s.Drain(context.Background()); err != nil || n != 3 {
		t.Fatalf("Drain: n=%d err=%v", n, err)
	}
	output := s.Store().Snapshot(store.StageOutput)
	want := []string{"third", "second", "first"}
	for i, e := range output {
		if e.Name != want[i] {
			t.Fatalf("expected drain order %v, got %s at %d", want, e.Name, i)
		}
	}
}

type recordingNotifier struct {
	mu      sync.Mutex
	failed  []string
	batches [][2]int
}

func (n *recordingNotifier) NotifyConversionFailed(_ context.Context, name, target string, _ error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, name+"->"+target)
	return nil
}

func (n *recordingNotifier) NotifyBatchCompleted(_ context.Context, converted, failed int, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, [2]int{converted, failed})
	return errors.New("unreachable topic")
}

func (n *recordingNotifier) TestNotification(context.Context) error { return nil }

func TestNotifierReceivesFailuresAndBatches(t *testing.T) {
	notifier := &recordingNotifier{}
	s, err := pipeline.New(context.Background(), testsupport.NewConfig(t), nil, pipeline.WithNotifier(notifier))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if s.Notifier() != notifier {
		t.Fatal("expected injected notifier")
	}

	testsupport.QueueAll(t, s.Store(), format.WEBP, "a.png")
	if n, err := s.Drain(context.Background()); err != nil || n != 1 {
		t.Fatalf("Drain: n=%d err=%v", n, err)
	}
	s.NotifyBatch(context.Background(), 0, 1, time.Second)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.failed) != 1 || notifier.failed[0] != "a.png->WEBP" {
		t.Fatalf("unexpected failure notifications %v", notifier.failed)
	}
	if len(notifier.batches) != 1 || notifier.batches[0] != [2]int{0, 1} {
		t.Fatalf("unexpected batch notifications %v", notifier.batches)
	}
}
