package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateProcessor(); err != nil {
		return err
	}
	if c.Thumbnail.Size <= 0 || c.Thumbnail.Size > 1024 {
		return errors.New("thumbnail.size must be between 1 and 1024")
	}
	if err := c.validateIngest(); err != nil {
		return err
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	return c.validateNotifications()
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (expected console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateProcessor() error {
	if c.Processor.PollIntervalMillis <= 0 {
		return errors.New("processor.poll_interval_ms must be positive")
	}
	switch c.Processor.Order {
	case OrderFIFO, OrderLIFO:
	default:
		return fmt.Errorf("processor.order: unsupported value %q (expected fifo or lifo)", c.Processor.Order)
	}
	return nil
}

func (c *Config) validateIngest() error {
	if c.Ingest.MaxFileBytes < 0 {
		return errors.New("ingest.max_file_bytes must not be negative")
	}
	if c.Ingest.Concurrency <= 0 {
		return errors.New("ingest.concurrency must be positive")
	}
	return nil
}

func (c *Config) validateArchive() error {
	name := c.Archive.FileName
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." || filepath.Base(name) != name {
		return fmt.Errorf("archive.file_name must be a plain file name, got %q", name)
	}
	if c.Archive.MaxNameLength <= 0 {
		return errors.New("archive.max_name_length must be positive")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic != "" && !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL, got %q", topic)
	}
	if c.Notifications.RequestTimeoutSeconds < 0 {
		return errors.New("notifications.request_timeout_s must not be negative")
	}
	return nil
}
