package processor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"imgconv/internal/logging"
	"imgconv/internal/stage"
	"imgconv/internal/store"
)

// DefaultPollInterval is the idle wait between queue checks.
const DefaultPollInterval = time.Millisecond

// FailureReporter is notified of every failed conversion.
type FailureReporter interface {
	ReportFailure(ctx context.Context, entity store.Entity, err error)
}

// Recorder persists conversion outcomes.
type Recorder interface {
	RecordOutcome(ctx context.Context, result store.DrainResult) error
}

// Processor drains the queued collection through a stage handler on a single
// goroutine.
type Processor struct {
	store        *store.Store
	handler      stage.Handler
	logger       *slog.Logger
	order        store.Order
	pollInterval time.Duration
	reporter     FailureReporter
	recorder     Recorder

	wake chan struct{}

	mu          sync.RWMutex
	running     bool
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
	lastErr     error
	lastEntity  *store.Entity
	processed   int
	failed      int
}

// Option configures optional Processor behavior.
type Option func(*Processor)

// WithOrder selects FIFO or LIFO draining.
func WithOrder(order store.Order) Option {
	return func(p *Processor) { p.order = order }
}

// WithPollInterval sets the idle wait. Non-positive values keep the default.
func WithPollInterval(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// WithFailureReporter registers a failure callback.
func WithFailureReporter(r FailureReporter) Option {
	return func(p *Processor) { p.reporter = r }
}

// WithRecorder registers an outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Processor) { p.recorder = r }
}

// New constructs a processor over st that runs handler for each queued entity.
func New(st *store.Store, handler stage.Handler, opts ...Option) *Processor {
	p := &Processor{
		store:        st,
		handler:      handler,
		order:        store.FIFO,
		pollInterval: DefaultPollInterval,
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.NewComponentLogger(p.logger, "processor")
	return p
}

// Start begins background processing.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("processor already running")
	}
	if p.store == nil || p.handler == nil {
		p.mu.Unlock()
		return errors.New("processor requires a store and a stage handler")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.unsubscribe = p.store.Subscribe(p.onStoreEvent)
	p.wg.Add(1)
	p.mu.Unlock()

	p.logger.Debug("processor started",
		logging.String("order", p.order.String()),
		logging.Duration("poll_interval", p.pollInterval),
	)
	go p.run(runCtx)
	return nil
}

// Stop terminates background processing and waits for the loop to exit. An
// in-flight conversion finishes first.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	unsubscribe := p.unsubscribe
	p.running = false
	p.cancel = nil
	p.unsubscribe = nil
	p.mu.Unlock()

	unsubscribe()
	cancel()
	p.wg.Wait()
	p.logger.Debug("processor stopped")
}

// Running reports whether the background loop is active.
func (p *Processor) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Processor) onStoreEvent(ev store.Event) {
	switch ev.Kind {
	case store.EventQueued, store.EventRetried:
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Drain everything eligible one entity at a time, then idle.
		for {
			drained, err := p.Step(ctx)
			if err != nil || !drained {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-time.After(p.pollInterval):
		}
	}
}

// Step converts at most one queued entity. It reports whether an entity was
// taken; an empty queue is not an error.
func (p *Processor) Step(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	stageName := p.handler.Name()
	result, err := p.store.DrainOneToOutput(p.order, func(e store.Entity) ([]byte, error) {
		// The conversion itself is not interrupted; cancellation is observed
		// between entities.
		entityCtx := logging.WithEntityID(logging.WithStage(context.WithoutCancel(ctx), stageName), e.ID)
		return p.handler.Execute(entityCtx, e)
	})
	if errors.Is(err, store.ErrQueueEmpty) {
		return false, nil
	}
	if err != nil {
		p.setLastError(err)
		return false, err
	}

	entityCtx := logging.WithEntityID(logging.WithStage(ctx, stageName), result.Entity.ID)
	if result.Stage == store.StageFailed {
		p.handleFailure(entityCtx, result)
	} else {
		p.handleSuccess(entityCtx, result)
	}
	p.record(entityCtx, result)
	return true, nil
}

func (p *Processor) handleSuccess(ctx context.Context, result store.DrainResult) {
	p.mu.Lock()
	p.processed++
	p.setLastEntityLocked(result.Entity)
	p.mu.Unlock()

	logging.WithContext(ctx, p.logger).Info("converted image",
		logging.String("name", result.Entity.Name),
		logging.String("conversion", result.Entity.ConversionLabel()),
		logging.Int("bytes", len(result.Entity.EncodedResult)),
		logging.String(logging.FieldEventType, "conversion_succeeded"),
	)
}

func (p *Processor) record(ctx context.Context, result store.DrainResult) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordOutcome(context.WithoutCancel(ctx), result); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, p.logger), "failed to record conversion outcome",
			"journal_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check journal.path permissions"),
		)
	}
}

// StatusSummary represents lightweight processor diagnostics.
type StatusSummary struct {
	Running     bool
	Order       store.Order
	Processed   int
	Failed      int
	LastError   string
	LastEntity  *store.Entity
	Counts      store.Counts
	StageHealth map[string]stage.Health
}

// Status returns the latest processor information.
func (p *Processor) Status(ctx context.Context) StatusSummary {
	p.mu.RLock()
	summary := StatusSummary{
		Running:   p.running,
		Order:     p.order,
		Processed: p.processed,
		Failed:    p.failed,
	}
	if p.lastErr != nil {
		summary.LastError = p.lastErr.Error()
	}
	if p.lastEntity != nil {
		last := *p.lastEntity
		summary.LastEntity = &last
	}
	p.mu.RUnlock()

	if p.store != nil {
		summary.Counts = p.store.Counts()
	}
	summary.StageHealth = map[string]stage.Health{}
	if p.handler != nil {
		summary.StageHealth[p.handler.Name()] = p.handler.HealthCheck(ctx)
	}
	return summary
}

func (p *Processor) setLastError(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

func (p *Processor) setLastEntityLocked(e store.Entity) {
	e.Raster = nil
	e.EncodedResult = nil
	p.lastEntity = &e
}
