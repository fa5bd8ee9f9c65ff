package processor

import (
	"context"
	"errors"
	"strings"

	"imgconv/internal/codec"
	"imgconv/internal/logging"
	"imgconv/internal/store"
)

func (p *Processor) handleFailure(ctx context.Context, result store.DrainResult) {
	convErr := result.Err
	if convErr == nil {
		convErr = errors.New(strings.TrimSpace(result.Entity.Err))
	}

	p.mu.Lock()
	p.failed++
	p.lastErr = convErr
	p.setLastEntityLocked(result.Entity)
	p.mu.Unlock()

	attrs := []logging.Attr{
		logging.String("name", result.Entity.Name),
		logging.String("conversion", result.Entity.ConversionLabel()),
		logging.Int("attempts", result.Entity.Attempts),
		logging.String(logging.FieldErrorKind, codec.Kind(convErr)),
		logging.String(logging.FieldErrorHint, failureHint(convErr)),
		logging.Error(convErr),
	}
	logging.ErrorWithContext(logging.WithContext(ctx, p.logger), "conversion failed", "conversion_failed", attrs...)

	if p.reporter != nil {
		p.reporter.ReportFailure(ctx, result.Entity, convErr)
	}
}

func failureHint(err error) string {
	switch {
	case errors.Is(err, codec.ErrUnsupported):
		return "choose a target format with an encoder (see 'imgconv formats')"
	case errors.Is(err, codec.ErrEncode):
		return "the image cannot be represented in the target format; pick another target"
	default:
		return "retry the conversion or check logs for details"
	}
}
