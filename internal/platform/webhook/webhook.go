// Package webhook delivers signed JSON events to a single downstream endpoint,
// such as the accounting service that books Chifa write-offs.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope POSTed to the endpoint.
type Event struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	TenantID     string          `json:"tenant_id,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	Timestamp    time.Time       `json:"timestamp"`
}

// NewEvent wraps payload in an envelope with a fresh id.
func NewEvent(eventType, resourceType, resourceID string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:           uuid.New().String(),
		Type:         eventType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Payload:      raw,
		Timestamp:    time.Now().UTC(),
	}, nil
}

// SignPayload computes the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches payload under secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, "sha256=")))
}

// Option configures a Sender.
type Option func(*Sender)

// WithHTTPClient overrides the default HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) { s.httpClient = c }
}

// WithRetryDelays sets the wait before each retry. The number of delays is the
// number of retries.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(s *Sender) { s.retryDelays = delays }
}

// Attempt records one delivery try.
type Attempt struct {
	Number     int
	StatusCode int
	Duration   time.Duration
	Err        error
}

// DeliveryError is returned when every attempt failed.
type DeliveryError struct {
	EventID  string
	Attempts []Attempt
}

func (e *DeliveryError) Error() string {
	last := e.Attempts[len(e.Attempts)-1]
	if last.Err != nil {
		return fmt.Sprintf("webhook %s: %d attempts failed, last: %v", e.EventID, len(e.Attempts), last.Err)
	}
	return fmt.Sprintf("webhook %s: %d attempts failed, last status %d", e.EventID, len(e.Attempts), last.StatusCode)
}

// Sender POSTs events to one URL with an HMAC signature header.
type Sender struct {
	url         string
	secret      string
	httpClient  *http.Client
	retryDelays []time.Duration
}

// NewSender validates rawURL and returns a Sender with three retries.
func NewSender(rawURL, secret string, opts ...Option) (*Sender, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	s := &Sender{
		url:         rawURL,
		secret:      secret,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host")
	}
	return nil
}

// Send delivers event, retrying on transport errors and non-2xx responses
// until the retry delays run out or ctx is done.
func (s *Sender) Send(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	sig := SignPayload(payload, s.secret)

	failed := &DeliveryError{EventID: event.ID}
	for n := 0; ; n++ {
		a := s.attempt(ctx, payload, sig, event)
		a.Number = n + 1
		if a.Err == nil && a.StatusCode >= 200 && a.StatusCode < 300 {
			return nil
		}
		failed.Attempts = append(failed.Attempts, a)
		if n >= len(s.retryDelays) {
			return failed
		}
		select {
		case <-ctx.Done():
			return failed
		case <-time.After(s.retryDelays[n]):
		}
	}
}

func (s *Sender) attempt(ctx context.Context, payload []byte, sig string, event Event) Attempt {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return Attempt{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+sig)
	req.Header.Set("X-Webhook-Event", event.Type)
	req.Header.Set("X-Webhook-ID", event.ID)
	req.Header.Set("X-Webhook-Timestamp", event.Timestamp.UTC().Format(time.RFC3339))

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	a := Attempt{Duration: time.Since(start), Err: err}
	if err != nil {
		return a
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	a.StatusCode = resp.StatusCode
	return a
}
