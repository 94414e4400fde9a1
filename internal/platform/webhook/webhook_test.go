package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSignPayload(t *testing.T) {
	sig := SignPayload([]byte(`{"a":1}`), "secret")
	if len(sig) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(sig))
	}
	if sig != SignPayload([]byte(`{"a":1}`), "secret") {
		t.Error("signature must be deterministic")
	}
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"a":1}`)
	sig := SignPayload(payload, "secret")
	if !VerifySignature(payload, "secret", sig) {
		t.Error("expected bare signature to verify")
	}
	if !VerifySignature(payload, "secret", "sha256="+sig) {
		t.Error("expected prefixed signature to verify")
	}
	if VerifySignature(payload, "other", sig) {
		t.Error("wrong secret must not verify")
	}
}

func TestNewSender_ValidatesURL(t *testing.T) {
	for _, u := range []string{"", "ftp://example.com", "http://", "://bad"} {
		if _, err := NewSender(u, "s"); err == nil {
			t.Errorf("expected error for %q", u)
		}
	}
}

func TestSender_Send(t *testing.T) {
	var got Event
	var sigHeader, eventHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		sigHeader = r.Header.Get("X-Webhook-Signature")
		eventHeader = r.Header.Get("X-Webhook-Event")
		if !VerifySignature(body, "secret", sigHeader) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s, err := NewSender(srv.URL, "secret", WithRetryDelays())
	if err != nil {
		t.Fatal(err)
	}
	ev, err := NewEvent("chifa.rejection.written_off", "chifa_rejection", "rej-1", map[string]string{"amount": "128.00"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Send(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != ev.ID || got.ResourceID != "rej-1" {
		t.Errorf("unexpected event received: %+v", got)
	}
	if eventHeader != "chifa.rejection.written_off" {
		t.Errorf("event header %q", eventHeader)
	}
}

func TestSender_RetriesUntilSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, _ := NewSender(srv.URL, "secret", WithRetryDelays(time.Millisecond, time.Millisecond, time.Millisecond))
	ev, _ := NewEvent("test", "x", "1", nil)
	if err := s.Send(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestSender_GivesUp(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, _ := NewSender(srv.URL, "secret", WithRetryDelays(time.Millisecond))
	ev, _ := NewEvent("test", "x", "1", nil)
	err := s.Send(context.Background(), ev)

	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if len(de.Attempts) != 2 || de.Attempts[1].StatusCode != http.StatusInternalServerError {
		t.Errorf("unexpected attempts: %+v", de.Attempts)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestSender_StopsOnCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, _ := NewSender(srv.URL, "secret", WithRetryDelays(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ev, _ := NewEvent("test", "x", "1", nil)

	done := make(chan error, 1)
	go func() { done <- s.Send(ctx, ev) }()
	select {
	case err := <-done:
		if err == nil {
			t.Error("expected error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return after cancellation")
	}
}
