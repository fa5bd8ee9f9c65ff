package testsupport

import (
	"path/filepath"
	"testing"

	"imgconv/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config whose archive directory and journal live in a
// unique temp directory per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Logging.Level = "error"
	cfgVal.Archive.OutputDir = filepath.Join(base, "out")
	cfgVal.Journal.Path = filepath.Join(base, "journal.db")

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}
	return builder.cfg
}

// WithJournal enables the conversion journal.
func WithJournal() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Journal.Enabled = true
	}
}

// WithOrder sets processor.order.
func WithOrder(order string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Processor.Order = order
	}
}

// WithMaxFileBytes sets ingest.max_file_bytes.
func WithMaxFileBytes(n int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Ingest.MaxFileBytes = n
	}
}
