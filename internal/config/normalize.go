package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	c.normalizeLogging()
	c.normalizeProcessor()
	if err := c.normalizeArchive(); err != nil {
		return err
	}
	if err := c.normalizeJournal(); err != nil {
		return err
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	return nil
}

func (c *Config) normalizeLogging() {
	if value, ok := os.LookupEnv("IMGCONV_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "":
		c.Logging.Format = defaultLogFormat
	case "pretty", "text":
		c.Logging.Format = "console"
	}
	c.Logging.File = strings.TrimSpace(c.Logging.File)
}

func (c *Config) normalizeProcessor() {
	c.Processor.Order = strings.ToLower(strings.TrimSpace(c.Processor.Order))
	if c.Processor.Order == "" {
		c.Processor.Order = defaultOrder
	}
}

func (c *Config) normalizeArchive() error {
	c.Archive.FileName = strings.TrimSpace(c.Archive.FileName)
	if c.Archive.FileName == "" {
		c.Archive.FileName = defaultArchiveFileName
	}
	if strings.TrimSpace(c.Archive.OutputDir) == "" {
		c.Archive.OutputDir = defaultArchiveOutputDir
	}
	var err error
	if c.Archive.OutputDir, err = expandPath(c.Archive.OutputDir); err != nil {
		return fmt.Errorf("archive.output_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeJournal() error {
	if strings.TrimSpace(c.Journal.Path) == "" {
		c.Journal.Path = defaultJournalPath
	}
	var err error
	if c.Journal.Path, err = expandPath(c.Journal.Path); err != nil {
		return fmt.Errorf("journal.path: %w", err)
	}
	return nil
}
