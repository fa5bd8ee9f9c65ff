package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"imgconv/internal/archive"
	"imgconv/internal/codec"
	"imgconv/internal/config"
	"imgconv/internal/download"
	"imgconv/internal/format"
	"imgconv/internal/journal"
	"imgconv/internal/logging"
	"imgconv/internal/notifications"
	"imgconv/internal/processor"
	"imgconv/internal/stage"
	"imgconv/internal/store"
	"imgconv/internal/thumbnail"
)


// Session owns one conversion pipeline: the store, its collaborators, and the
// processor that drains it.
type Session struct {
	cfg           *config.Config
	logger        *slog.Logger
	correlationID string

	store     *store.Store
	decoder   *codec.Decoder
	thumbs    *thumbnail.Generator
	engine    *codec.Engine
	stage     stage.Handler
	processor *processor.Processor
	builder   *archive.Builder
	writer    *download.Writer
	journal   *journal.Journal
	notifier  notifications.Service
}

type sessionOptions struct {
	reporter processor.FailureReporter
	notifier notifications.Service
	clock    func() time.Time
	journal  *journal.Journal
}

// Option customizes a Session.
type Option func(*sessionOptions)

// WithFailureReporter forwards failed conversions to r.
func WithFailureReporter(r processor.FailureReporter) Option {
	return func(o *sessionOptions) { o.reporter = r }
}

// WithNotifier replaces the notification service built from the config.
func WithNotifier(svc notifications.Service) Option {
	return func(o *sessionOptions) { o.notifier = svc }
}

// WithClock overrides the store clock.
func WithClock(now func() time.Time) Option {
	return func(o *sessionOptions) { o.clock = now }
}

// WithJournal uses an already opened journal instead of the configured one.
// The session takes ownership and closes it.
func WithJournal(j *journal.Journal) Option {
	return func(o *sessionOptions) { o.journal = j }
}

// New wires a session from cfg. A nil cfg uses defaults. When the journal is
// enabled it is opened here and closed by Close.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Session, error) {
	if cfg == nil {
		def := config.Default()
		cfg = &def
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var options sessionOptions
	for _, opt := range opts {
		opt(&options)
	}

	order, err := store.ParseOrder(cfg.Processor.Order)
	if err != nil {
		return nil, fmt.Errorf("processor order: %w", err)
	}

	s := &Session{
		cfg:           cfg,
		correlationID: uuid.NewString(),
		store:         store.New(),
		decoder:       codec.NewDecoder(cfg.Ingest.MaxFileBytes),
		thumbs:        thumbnail.New(cfg.Thumbnail.Size),
		engine:        codec.NewEngine(),
		builder:       archive.NewBuilder(cfg.Archive.MaxNameLength),
		writer:        download.NewWriter(cfg.Archive.OutputDir),
		journal:       options.journal,
		notifier:      options.notifier,
	}
	if s.notifier == nil {
		s.notifier = notifications.NewService(cfg)
	}
	s.logger = logger.With(logging.String(logging.FieldCorrelationID, s.correlationID))
	if options.clock != nil {
		s.store.SetClock(options.clock)
	}

	if s.journal == nil && cfg.Journal.Enabled {
		j, err := journal.Open(ctx, cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		s.journal = j
	}

	s.stage = stage.NewConvert(s.engine, s.logger)
	procOpts := []processor.Option{
		processor.WithOrder(order),
		processor.WithPollInterval(cfg.PollInterval()),
		processor.WithLogger(s.logger),
	}
	reporter := options.reporter
	if reporter == nil && notifications.Enabled(s.notifier) {
		reporter = notifications.NewReporter(s.notifier, s.logger)
	}
	if reporter != nil {
		procOpts = append(procOpts, processor.WithFailureReporter(reporter))
	}
	if s.journal != nil {
		procOpts = append(procOpts, processor.WithRecorder(s.journal))
	}
	s.processor = processor.New(s.store, s.stage, procOpts...)
	return s, nil
}

// CorrelationID identifies this session in logs and the journal.
func (s *Session) CorrelationID() string { return s.correlationID }

// Store exposes the session's collections for rendering and selection.
func (s *Session) Store() *store.Store { return s.store }

// Journal returns the conversion journal, or nil when disabled.
func (s *Session) Journal() *journal.Journal { return s.journal }

// Notifier returns the session's notification service. It is never nil.
func (s *Session) Notifier() notifications.Service { return s.notifier }

// Config returns the configuration the session was built with.
func (s *Session) Config() *config.Config { return s.cfg }

func (s *Session) context(ctx context.Context) context.Context {
	return logging.WithCorrelationID(ctx, s.correlationID)
}

// Start launches the background processor.
func (s *Session) Start(ctx context.Context) error {
	return s.processor.Start(s.context(ctx))
}

// Close stops the processor and releases the journal.
func (s *Session) Close() error {
	s.processor.Stop()
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			return fmt.Errorf("close journal: %w", err)
		}
	}
	return nil
}

// QueueSelected moves the selected uploaded images to the queue with target.
func (s *Session) QueueSelected(ctx context.Context, target format.Format) ([]string, error) {
	ids, err := s.store.QueueSelected(target)
	if err != nil {
		return nil, err
	}
	logging.WithContext(s.context(ctx), s.logger).Info("queued images",
		logging.Int("count", len(ids)),
		logging.String("target", target.Label()),
		logging.String(logging.FieldEventType, "images_queued"),
	)
	return ids, nil
}

// Drain converts queued images on the calling goroutine until none are
// eligible and returns how many were converted or failed. It is the
// synchronous alternative to Start.
func (s *Session) Drain(ctx context.Context) (int, error) {
	ctx = s.context(ctx)
	n := 0
	for {
		drained, err := s.processor.Step(ctx)
		if err != nil {
			return n, err
		}
		if !drained {
			return n, nil
		}
		n++
	}
}

// WaitIdle blocks until the queue is empty and nothing is in flight.
func (s *Session) WaitIdle(ctx context.Context) error {
	changed := make(chan struct{}, 1)
	unsubscribe := s.store.Subscribe(func(store.Event) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	poll := max(s.cfg.PollInterval(), 10*time.Millisecond)
	for {
		if c := s.store.Counts(); c.Queued == 0 && c.InFlight == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		case <-time.After(poll):
		}
	}
}

// Export archives the selected output images and writes the archive to the
// configured download location. With nothing selected it writes no file and
// returns a zero Result.
func (s *Session) Export(ctx context.Context) (download.Result, error) {
	ctx = s.context(ctx)
	selected := s.store.Selected(store.StageOutput)
	if len(selected) == 0 {
		logging.WithContext(ctx, s.logger).Debug("export skipped, nothing selected")
		return download.Result{}, nil
	}
	data, err := s.builder.Build(selected)
	if err != nil {
		return download.Result{}, fmt.Errorf("build archive: %w", err)
	}
	res, err := s.writer.Write(ctx, s.cfg.Archive.FileName, data)
	if err != nil {
		return download.Result{}, err
	}
	logging.WithContext(ctx, s.logger).Info("archive written",
		logging.String("path", res.Path),
		logging.Int("entries", len(selected)),
		logging.Int64("bytes", res.Bytes),
		logging.String(logging.FieldEventType, "archive_written"),
	)
	return res, nil
}

// NotifyBatch publishes a summary of a finished batch. Delivery errors are
// logged, not returned.
func (s *Session) NotifyBatch(ctx context.Context, converted, failed int, elapsed time.Duration) {
	ctx = s.context(ctx)
	if err := s.notifier.NotifyBatchCompleted(ctx, converted, failed, elapsed); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, s.logger), "batch notification not delivered", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}

// Status reports processor and store state.
func (s *Session) Status(ctx context.Context) processor.StatusSummary {
	return s.processor.Status(ctx)
}
