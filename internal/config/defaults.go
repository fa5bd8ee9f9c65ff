package config

const (
	defaultConfigPath          = "~/.config/imgconv/config.toml"
	projectConfigName          = "imgconv.toml"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultPollIntervalMillis  = 1
	defaultOrder               = OrderFIFO
	defaultThumbnailSize       = 64
	defaultMaxFileBytes        = 256 << 20
	defaultIngestConcurrency   = 4
	defaultArchiveFileName     = "output.tar"
	defaultArchiveOutputDir    = "."
	defaultArchiveMaxNameRunes = 64
	defaultJournalPath         = "~/.local/share/imgconv/journal.db"
	defaultNotifyTimeoutSecs   = 10
)

// Drain orders accepted by processor.order.
const (
	OrderFIFO = "fifo"
	OrderLIFO = "lifo"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Processor: Processor{
			PollIntervalMillis: defaultPollIntervalMillis,
			Order:              defaultOrder,
		},
		Thumbnail: Thumbnail{
			Size: defaultThumbnailSize,
		},
		Ingest: Ingest{
			MaxFileBytes: defaultMaxFileBytes,
			Concurrency:  defaultIngestConcurrency,
		},
		Archive: Archive{
			FileName:      defaultArchiveFileName,
			OutputDir:     defaultArchiveOutputDir,
			MaxNameLength: defaultArchiveMaxNameRunes,
		},
		Journal: Journal{
			Enabled: false,
			Path:    defaultJournalPath,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeoutSecs,
		},
	}
}
