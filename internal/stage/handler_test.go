package stage_test

import (
	"context"
	"errors"
	"image"
	"strings"
	"testing"

	"imgconv/internal/codec"
	"imgconv/internal/format"
	"imgconv/internal/logging"
	"imgconv/internal/stage"
	"imgconv/internal/store"
)

func queuedEntity(target format.Format) store.Entity {
	e := store.NewEntity("a.png", format.PNG, image.NewNRGBA(image.Rect(0, 0, 3, 3)), "")
	e.TargetFormat = target
	return e
}

func TestConvertExecute(t *testing.T) {
	h := stage.NewConvert(codec.NewEngine(), logging.NewNop())
	out, err := h.Execute(context.Background(), queuedEntity(format.BMP))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(string(out), "BM") {
		t.Fatalf("expected bmp output, got %q", out[:2])
	}
}

func TestConvertExecuteUnsupported(t *testing.T) {
	h := stage.NewConvert(codec.NewEngine(), logging.NewNop())
	_, err := h.Execute(context.Background(), queuedEntity(format.WEBP))
	if !errors.Is(err, codec.ErrUnsupported) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestConvertExecuteHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := stage.NewConvert(codec.NewEngine(), nil).Execute(ctx, queuedEntity(format.PNG))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestConvertHealthCheck(t *testing.T) {
	health := stage.NewConvert(codec.NewEngine(), nil).HealthCheck(context.Background())
	if !health.Ready {
		t.Fatalf("expected ready stage, got %+v", health)
	}
	if !strings.Contains(health.Detail, "WEBP") {
		t.Fatalf("expected WEBP gap in detail, got %q", health.Detail)
	}
	if health.CanEncode(format.WEBP) || !health.CanEncode(format.PNG) {
		t.Fatalf("unexpected encodable set %v", health.Unencodable)
	}

	missing := stage.NewConvert(nil, nil).HealthCheck(context.Background())
	if missing.Ready || missing.CanEncode(format.PNG) {
		t.Fatal("expected stage without engine to be unhealthy")
	}
}

func TestDegradedWithoutGapsIsHealthy(t *testing.T) {
	if h := stage.Degraded("convert", nil); !h.Ready || h.Detail != "" {
		t.Fatalf("expected healthy record, got %+v", h)
	}
}
