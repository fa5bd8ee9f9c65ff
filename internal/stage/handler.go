// Package stage defines the contract between the queue processor and the
// work it runs for each queued image.
package stage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"imgconv/internal/codec"
	"imgconv/internal/format"
	"imgconv/internal/logging"
	"imgconv/internal/store"
)

// Handler describes what the processor needs from a stage.
type Handler interface {
	Name() string
	Execute(context.Context, store.Entity) ([]byte, error)
	HealthCheck(context.Context) Health
}

// Convert encodes queued entities into their target format.
type Convert struct {
	engine *codec.Engine
	logger *slog.Logger
}

// NewConvert returns the conversion stage backed by engine.
func NewConvert(engine *codec.Engine, logger *slog.Logger) *Convert {
	return &Convert{engine: engine, logger: logging.NewComponentLogger(logger, "convert")}
}

// Name identifies the stage in logs and health reports.
func (c *Convert) Name() string { return "convert" }

// Execute encodes the entity's raster as its target format.
func (c *Convert) Execute(ctx context.Context, e store.Entity) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.engine == nil {
		return nil, fmt.Errorf("convert stage: no engine configured")
	}
	start := time.Now()
	out, err := c.engine.Convert(e.Raster, e.TargetFormat)
	logger := logging.WithContext(ctx, c.logger)
	if err != nil {
		logger.Debug("encoder returned error",
			logging.String("target", string(e.TargetFormat)),
			logging.String(logging.FieldErrorKind, codec.Kind(err)),
			logging.Error(err),
		)
		return nil, err
	}
	logger.Debug("encoded image",
		logging.String("target", string(e.TargetFormat)),
		logging.Int("bytes", len(out)),
		logging.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

// HealthCheck reports which selectable targets have no encoder.
func (c *Convert) HealthCheck(context.Context) Health {
	if c.engine == nil {
		return Unhealthy(c.Name(), "no engine configured")
	}
	var missing []format.Format
	for _, f := range format.Selectable() {
		if !c.engine.Supports(f) {
			missing = append(missing, f)
		}
	}
	return Degraded(c.Name(), missing)
}
