package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"imgconv/internal/config"
	"imgconv/internal/format"
	"imgconv/internal/notifications"
	"imgconv/internal/store"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newServer(t *testing.T, status int) (*httptest.Server, func() []captured) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []captured
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), reqs...)
	}
}

func configFor(topic string) *config.Config {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = topic
	return &cfg
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	svc := notifications.NewService(configFor(""))
	if notifications.Enabled(svc) {
		t.Fatal("expected noop service")
	}
	if err := svc.NotifyBatchCompleted(context.Background(), 1, 0, time.Second); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if err := notifications.Test(context.Background(), svc); !errors.Is(err, notifications.ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	if notifications.Enabled(notifications.NewService(nil)) {
		t.Fatal("expected nil config to disable notifications")
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	srv, requests := newServer(t, http.StatusOK)
	svc := notifications.NewService(configFor(srv.URL))
	ctx := context.Background()

	if err := svc.NotifyConversionFailed(ctx, "photo.png", "ICO", errors.New("too large")); err != nil {
		t.Fatalf("NotifyConversionFailed: %v", err)
	}
	if err := svc.NotifyBatchCompleted(ctx, 3, 0, 1500*time.Millisecond); err != nil {
		t.Fatalf("NotifyBatchCompleted: %v", err)
	}
	if err := svc.NotifyBatchCompleted(ctx, 2, 1, time.Second); err != nil {
		t.Fatalf("NotifyBatchCompleted: %v", err)
	}
	if err := notifications.Test(ctx, svc); err != nil {
		t.Fatalf("Test: %v", err)
	}

	got := requests()
	want := []captured{
		{title: "imgconv - Conversion Failed", tags: "imgconv,convert,failed", priority: "high", body: "Could not convert photo.png to ICO: too large"},
		{title: "imgconv - Batch Complete", tags: "imgconv,batch,completed", body: "Converted 3 images in 1.5s"},
		{title: "imgconv - Batch Complete (with errors)", tags: "imgconv,batch,completed", body: "2 converted, 1 failed in 1s"},
		{title: "imgconv - Test", tags: "imgconv,test", priority: "low", body: "Notification system test"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d requests, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("request %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	srv, _ := newServer(t, http.StatusForbidden)
	svc := notifications.NewService(configFor(srv.URL))
	err := svc.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "ntfy returned 403") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestReporterForwardsFailures(t *testing.T) {
	srv, requests := newServer(t, http.StatusOK)
	reporter := notifications.NewReporter(notifications.NewService(configFor(srv.URL)), nil)

	e := store.Entity{ID: "1", Name: "scan.tiff", TargetFormat: format.BMP}
	reporter.ReportFailure(context.Background(), e, errors.New("boom"))

	got := requests()
	if len(got) != 1 || got[0].body != "Could not convert scan.tiff to BMP: boom" {
		t.Fatalf("unexpected requests %+v", got)
	}
}

func TestReporterSwallowsDeliveryErrors(t *testing.T) {
	srv, requests := newServer(t, http.StatusInternalServerError)
	reporter := notifications.NewReporter(notifications.NewService(configFor(srv.URL)), nil)
	reporter.ReportFailure(context.Background(), store.Entity{ID: "1", Name: "a.png"}, errors.New("boom"))
	if len(requests()) != 1 {
		t.Fatal("expected one delivery attempt")
	}
}
