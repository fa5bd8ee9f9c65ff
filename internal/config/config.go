package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	File   string `toml:"file"`
}

// Processor contains configuration for the conversion loop.
type Processor struct {
	PollIntervalMillis int    `toml:"poll_interval_ms"`
	Order              string `toml:"order"`
}

// Thumbnail contains configuration for preview rendering.
type Thumbnail struct {
	Size int `toml:"size"`
}

// Ingest contains configuration for reading input files.
type Ingest struct {
	MaxFileBytes int64 `toml:"max_file_bytes"`
	Concurrency  int   `toml:"concurrency"`
}

// Archive contains configuration for the download bundle.
type Archive struct {
	FileName      string `toml:"file_name"`
	OutputDir     string `toml:"output_dir"`
	MaxNameLength int    `toml:"max_name_length"`
}

// Journal contains configuration for the conversion history database.
type Journal struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Notifications contains configuration for ntfy delivery.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_s"`
}

// Config encapsulates all configuration values for imgconv.
//
// Configuration sections by subsystem:
//   - Logging: log format, level, and optional log file
//   - Processor: queue polling interval and drain order
//   - Thumbnail: preview box size
//   - Ingest: input size limit and read concurrency
//   - Archive: download file name, directory, and entry name length
//   - Journal: SQLite conversion history
//   - Notifications: optional ntfy topic for failures and batch summaries
type Config struct {
	Logging       Logging       `toml:"logging"`
	Processor     Processor     `toml:"processor"`
	Thumbnail     Thumbnail     `toml:"thumbnail"`
	Ingest        Ingest        `toml:"ingest"`
	Archive       Archive       `toml:"archive"`
	Journal       Journal       `toml:"journal"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}

	for _, candidate := range []string{defaultPath, projectPath} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true, nil
		}
	}
	return defaultPath, false, nil
}

// PollInterval returns the processor idle wait as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Processor.PollIntervalMillis) * time.Millisecond
}

// ArchivePath returns the absolute path of the download bundle.
func (c *Config) ArchivePath() string {
	return filepath.Join(c.Archive.OutputDir, c.Archive.FileName)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
