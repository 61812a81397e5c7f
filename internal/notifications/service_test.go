package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"uplink/internal/config"
	"uplink/internal/notifications"
)

type captured struct {
	body     string
	title    string
	tags     string
	priority string
}

func newCaptureServer(t *testing.T, status int) (*httptest.Server, *[]captured) {
	t.Helper()
	var requests []captured
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read notification body: %v", err)
		}
		requests = append(requests, captured{
			body:     string(body),
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
		})
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func serviceFor(endpoint string) notifications.Service {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = endpoint
	cfg.Notifications.RequestTimeout = 2
	return notifications.NewService(&cfg)
}

func TestNotifyUploadCompletedSendsNtfyRequest(t *testing.T) {
	server, requests := newCaptureServer(t, http.StatusOK)
	svc := serviceFor(server.URL)

	if err := svc.NotifyUploadCompleted(context.Background(), "Beach Day", "/media/beach.mp4"); err != nil {
		t.Fatalf("NotifyUploadCompleted failed: %v", err)
	}
	if len(*requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(*requests))
	}
	got := (*requests)[0]
	if !strings.Contains(got.body, "Beach Day") {
		t.Fatalf("body = %q, want title included", got.body)
	}
	if got.title != "Uplink - Upload Complete" {
		t.Fatalf("title header = %q", got.title)
	}
	if !strings.Contains(got.tags, "upload") {
		t.Fatalf("tags header = %q", got.tags)
	}
}

func TestNotifyUploadFailedUsesHighPriority(t *testing.T) {
	server, requests := newCaptureServer(t, http.StatusOK)
	svc := serviceFor(server.URL)

	if err := svc.NotifyUploadFailed(context.Background(), "clip.mp4", "endpoint rejected payload"); err != nil {
		t.Fatalf("NotifyUploadFailed failed: %v", err)
	}
	got := (*requests)[0]
	if got.priority != "high" {
		t.Fatalf("priority header = %q, want high", got.priority)
	}
	if !strings.Contains(got.body, "endpoint rejected payload") {
		t.Fatalf("body = %q, want failure reason included", got.body)
	}
}

func TestNotifyErrorIncludesContextLabel(t *testing.T) {
	server, requests := newCaptureServer(t, http.StatusOK)
	svc := serviceFor(server.URL)

	if err := svc.NotifyError(context.Background(), errors.New("disk full"), "retention pruner"); err != nil {
		t.Fatalf("NotifyError failed: %v", err)
	}
	got := (*requests)[0]
	if !strings.Contains(got.body, "retention pruner") || !strings.Contains(got.body, "disk full") {
		t.Fatalf("body = %q", got.body)
	}
}

func TestSendSurfacesServerErrors(t *testing.T) {
	server, _ := newCaptureServer(t, http.StatusForbidden)
	svc := serviceFor(server.URL)

	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error for non-2xx ntfy response")
	}
}

func TestUnconfiguredTopicYieldsNoop(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = "   "
	svc := notifications.NewService(&cfg)

	if err := svc.NotifyQueueDrained(context.Background(), 3, 1); err != nil {
		t.Fatalf("noop service returned error: %v", err)
	}
}
