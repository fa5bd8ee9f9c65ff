package main

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"imgconv/internal/testsupport"
)

type cliTestEnv struct {
	baseDir     string
	configPath  string
	outputDir   string
	journalPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	t.Setenv("IMGCONV_LOG_LEVEL", "")
	t.Chdir(base)

	env := &cliTestEnv{
		baseDir:     base,
		configPath:  filepath.Join(base, "config.toml"),
		outputDir:   filepath.Join(base, "out"),
		journalPath: filepath.Join(base, "journal.db"),
	}
	content := fmt.Sprintf(`[logging]
level = "error"

[archive]
output_dir = %q

[journal]
enabled = true
path = %q
`, env.outputDir, env.journalPath)
	if err := os.WriteFile(env.configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}

func TestFormatsJSON(t *testing.T) {
	out, _, err := runCLI(t, []string{"formats", "--json"}, "")
	if err != nil {
		t.Fatalf("formats: %v", err)
	}
	var entries []formatJSON
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode json: %v\n%s", err, out)
	}
	byName := map[string]formatJSON{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	if webp := byName["webp"]; !webp.Selectable || webp.Encode || !webp.Decode {
		t.Fatalf("unexpected webp entry %+v", webp)
	}
	if pngEntry := byName["png"]; !pngEntry.Encode || !pngEntry.Selectable {
		t.Fatalf("unexpected png entry %+v", pngEntry)
	}
	if qoi := byName["qoi"]; qoi.Selectable || !qoi.Encode {
		t.Fatalf("unexpected qoi entry %+v", qoi)
	}
}

func TestFormatsTable(t *testing.T) {
	out, _, err := runCLI(t, []string{"formats"}, "")
	if err != nil {
		t.Fatalf("formats: %v", err)
	}
	requireContains(t, out, "Farbfeld")
	requireContains(t, out, "image/x-tga")
}

func TestConvertWritesArchive(t *testing.T) {
	env := setupCLITestEnv(t)
	inputs := t.TempDir()
	a := testsupport.WritePNG(t, inputs, "vacation.png", 4, 4)
	b := testsupport.WritePNG(t, inputs, "photo.png", 3, 2)
	junk := filepath.Join(inputs, "notes.txt")
	if err := os.WriteFile(junk, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, _, err := runCLI(t, []string{"convert", "--to", "bmp", "--json", a, junk, b}, env.configPath)
	if err != nil {
		t.Fatalf("convert: %v\n%s", err, out)
	}
	var report convertReportJSON
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if report.Target != "BMP" || report.CorrelationID == "" {
		t.Fatalf("unexpected report header %+v", report)
	}
	if len(report.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(report.Entries))
	}
	if report.Entries[1].Stage != "rejected" || report.Entries[1].Error == "" {
		t.Fatalf("expected rejected text file, got %+v", report.Entries[1])
	}
	for _, i := range []int{0, 2} {
		if e := report.Entries[i]; e.Stage != "output" || e.Conversion != "png -> bmp" || e.Bytes == 0 {
			t.Fatalf("unexpected entry %+v", e)
		}
	}

	wantPath := filepath.Join(env.outputDir, "output.tar")
	if report.Archive != wantPath {
		t.Fatalf("expected archive %s, got %s", wantPath, report.Archive)
	}
	f, err := os.Open(wantPath)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()
	names := map[string]bool{}
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("read archive: %v", err)
		}
		names[hdr.Name] = true
	}
	if !names["vacation.bmp"] || !names["photo.bmp"] || len(names) != 2 {
		t.Fatalf("unexpected archive entries %v", names)
	}

	hist, _, err := runCLI(t, []string{"history", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var entries []historyEntryJSON
	if err := json.Unmarshal([]byte(hist), &entries); err != nil {
		t.Fatalf("decode history: %v\n%s", err, hist)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Outcome != "output" || e.CorrelationID != report.CorrelationID {
			t.Fatalf("unexpected history entry %+v", e)
		}
	}
}

func TestConvertTableOutputReportsFailures(t *testing.T) {
	env := setupCLITestEnv(t)
	big := testsupport.WritePNG(t, t.TempDir(), "large.png", 300, 2)

	out, _, err := runCLI(t, []string{"convert", "--to", "ico", "--name", "icons.tar", big}, env.configPath)
	if err == nil {
		t.Fatal("expected error when nothing converts")
	}
	requireContains(t, out, "large.png")
	requireContains(t, out, "Failed")
	requireContains(t, out, "ERROR")
	if _, statErr := os.Stat(filepath.Join(env.outputDir, "icons.tar")); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("expected no archive, got %v", statErr)
	}
}

func TestConvertRejectsUnknownTarget(t *testing.T) {
	env := setupCLITestEnv(t)
	path := testsupport.WritePNG(t, t.TempDir(), "a.png", 2, 2)
	if _, _, err := runCLI(t, []string{"convert", "--to", "psd", path}, env.configPath); err == nil {
		t.Fatal("expected error for unknown target")
	}
}

func TestConvertNothingDecodes(t *testing.T) {
	env := setupCLITestEnv(t)
	junk := filepath.Join(t.TempDir(), "junk.bin")
	if err := os.WriteFile(junk, []byte{0, 0, 0, 0}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, _, err := runCLI(t, []string{"convert", "--to", "png", junk}, env.configPath)
	if err == nil {
		t.Fatal("expected error when no input decodes")
	}
	requireContains(t, out, "junk.bin")
}

func TestInspectJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	path := testsupport.WritePNG(t, t.TempDir(), "a.png", 5, 7)
	missing := filepath.Join(t.TempDir(), "missing.png")

	out, _, err := runCLI(t, []string{"inspect", "--json", "--preview", path, missing}, env.configPath)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var entries []inspectEntryJSON
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := entries[0]
	if first.Format != "PNG" || first.Width != 5 || first.Height != 7 || first.ColorModel != "nrgba" {
		t.Fatalf("unexpected entry %+v", first)
	}
	if !strings.HasPrefix(first.Preview, "data:image/png;base64,") {
		t.Fatalf("expected preview data URI, got %q", first.Preview)
	}
	if entries[1].Error == "" {
		t.Fatal("expected error for missing file")
	}
}

func TestHistoryDisabled(t *testing.T) {
	env := setupCLITestEnv(t)
	cfgPath := filepath.Join(env.baseDir, "disabled.toml")
	if err := os.WriteFile(cfgPath, []byte("[journal]\nenabled = false\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	out, _, err := runCLI(t, []string{"history"}, cfgPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "Journal is disabled")
}

func TestConfigInitShowValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}

	out, _, err = runCLI(t, []string{"config", "validate"}, target)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	out, _, err = runCLI(t, []string{"config", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "loaded from "+env.configPath)
	requireContains(t, out, "output_dir")
}

func TestTestNotify(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"test-notify"}, env.configPath)
	if err != nil {
		t.Fatalf("test-notify without topic: %v", err)
	}
	requireContains(t, out, "notifications.ntfy_topic")

	var (
		mu     sync.Mutex
		titles []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		titles = append(titles, r.Header.Get("Title"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfgPath := filepath.Join(env.baseDir, "notify.toml")
	if err := os.WriteFile(cfgPath, []byte(fmt.Sprintf("[notifications]\nntfy_topic = %q\n", srv.URL)), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	out, _, err = runCLI(t, []string{"test-notify"}, cfgPath)
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "test notification sent")
	mu.Lock()
	defer mu.Unlock()
	if len(titles) != 1 || titles[0] != "imgconv - Test" {
		t.Fatalf("unexpected requests %v", titles)
	}
}
