package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
)

func TestNewClient(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Error("expected error for empty endpoint")
	}

	c, err := NewClient(Config{Endpoint: "http://localhost:9999/events"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.config.Timeout != 10*time.Second {
		t.Errorf("expected default timeout 10s, got %v", c.config.Timeout)
	}
	if c.config.MaxConcurrent != 10 {
		t.Errorf("expected default max concurrent 10, got %d", c.config.MaxConcurrent)
	}
}

func TestNewEvent(t *testing.T) {
	e := NewEvent(EventWakeword, 7, "session-1")
	if e.ID == "" {
		t.Error("expected generated event ID")
	}
	if e.Type != EventWakeword || e.StreamID != 7 || e.SessionID != "session-1" {
		t.Errorf("unexpected event fields: %+v", e)
	}
	if e.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}

	other := NewEvent(EventSpeechStart, 7, "session-1")
	if other.ID == e.ID {
		t.Error("expected unique event IDs")
	}
}

func TestNotifyJSON(t *testing.T) {
	var received Event
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		if err := sonic.Unmarshal(body, &received); err != nil {
			t.Errorf("failed to unmarshal event: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c, _ := NewClient(Config{Endpoint: server.URL})
	event := NewEvent(EventSpeechStart, 42, "sess")
	event.Score = 0.85

	if err := c.Notify(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if contentType != "application/json" {
		t.Errorf("expected JSON content type, got %q", contentType)
	}
	if received.Type != EventSpeechStart || received.StreamID != 42 || received.Score != 0.85 {
		t.Errorf("unexpected delivered event: %+v", received)
	}

	stats := c.GetStats()
	if stats.TotalEvents != 1 || stats.DeliveredEvents != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestNotifyMultipartSnapshot(t *testing.T) {
	var snapshotSize int
	var eventType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("failed to parse multipart form: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var e Event
		if err := sonic.Unmarshal([]byte(r.FormValue("event")), &e); err != nil {
			t.Errorf("failed to unmarshal event field: %v", err)
		}
		eventType = e.Type

		file, _, err := r.FormFile("snapshot")
		if err != nil {
			t.Errorf("missing snapshot file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		snapshotSize = len(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c, _ := NewClient(Config{Endpoint: server.URL})
	event := NewEvent(EventWakeword, 1, "sess")
	event.Snapshot = make([]byte, 1024)

	if err := c.Notify(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eventType != EventWakeword {
		t.Errorf("expected wakeword event in form, got %q", eventType)
	}
	if snapshotSize != 1024 {
		t.Errorf("expected 1024-byte snapshot, got %d", snapshotSize)
	}
}

func TestNotifyRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var hookCalls atomic.Int32
	c, _ := NewClient(Config{
		Endpoint:   server.URL,
		MaxRetries: 2,
		RetryHook:  func() { hookCalls.Add(1) },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Notify(ctx, NewEvent(EventSpeechEnd, 1, "sess")); err != nil {
		t.Fatalf("expected retry to succeed, got: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}

	stats := c.GetStats()
	if stats.TotalRetries != 1 {
		t.Errorf("expected 1 retry recorded, got %d", stats.TotalRetries)
	}
	if hookCalls.Load() != 1 {
		t.Errorf("expected retry hook called once, got %d", hookCalls.Load())
	}
}

func TestNotifyDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c, _ := NewClient(Config{Endpoint: server.URL, MaxRetries: 3})

	err := c.Notify(context.Background(), NewEvent(EventSpeechEnd, 1, "sess"))
	if err == nil {
		t.Fatal("expected delivery error")
	}
	if !strings.Contains(err.Error(), "HTTP error 400") {
		t.Errorf("expected 400 in error, got: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected no retries on 4xx, got %d calls", calls.Load())
	}

	stats := c.GetStats()
	if stats.FailedEvents != 1 {
		t.Errorf("expected 1 failed event, got %d", stats.FailedEvents)
	}
}

func TestNotifyContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c, _ := NewClient(Config{Endpoint: server.URL, MaxRetries: 5})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := c.Notify(ctx, NewEvent(EventSpeechStart, 1, "sess"))
	if err == nil {
		t.Fatal("expected error when context expires mid-backoff")
	}
}
