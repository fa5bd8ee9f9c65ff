package notifications

import (
	"context"
	"log/slog"

	"imgconv/internal/format"
	"imgconv/internal/logging"
	"imgconv/internal/store"
)

// Reporter forwards failed conversions to a Service. Delivery errors are
// logged and never surface to the processor.
type Reporter struct {
	svc    Service
	logger *slog.Logger
}

// NewReporter wraps svc for use as a processor failure reporter.
func NewReporter(svc Service, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reporter{svc: svc, logger: logger}
}

// ReportFailure publishes one failed entity.
func (r *Reporter) ReportFailure(ctx context.Context, e store.Entity, err error) {
	if r == nil || r.svc == nil {
		return
	}
	target := ""
	if e.TargetFormat != format.None {
		target = e.TargetFormat.Label()
	}
	if sendErr := r.svc.NotifyConversionFailed(ctx, e.Name, target, err); sendErr != nil {
		logging.WarnWithContext(logging.WithContext(ctx, r.logger), "failure notification not delivered", "notification_failed",
			logging.String(logging.FieldEntityID, e.ID),
			logging.Error(sendErr),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}
