// Package webhookstore pushes events to an HTTPS endpoint. It is write-only.
package webhookstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PaulFidika/authstudio/events"
)

const providerName = "https"

// Config describes the receiving endpoint.
type Config struct {
	URL     string
	Headers map[string]string
	// Transform reshapes each event before it is encoded. Nil sends the
	// event as is.
	Transform func(events.AuthEvent) any
	Client    *http.Client
	Timeout   time.Duration // default 10s
}

type EventStore struct {
	cfg    Config
	client *http.Client
}

func NewEventStore(cfg Config) (*EventStore, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return nil, fmt.Errorf("webhookstore: invalid url %q", cfg.URL)
	}
	cfg.URL = u.String()
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &EventStore{cfg: cfg, client: client}, nil
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

func (s *EventStore) shape(e events.AuthEvent) any {
	if s.cfg.Transform != nil {
		return s.cfg.Transform(e)
	}
	return e
}

func (s *EventStore) Ingest(ctx context.Context, e events.AuthEvent) error {
	return events.WrapErr(providerName, "post", s.post(ctx, s.shape(e)))
}

// IngestBatch posts {"events": [...]} in one request.
func (s *EventStore) IngestBatch(ctx context.Context, es []events.AuthEvent) error {
	if len(es) == 0 {
		return nil
	}
	body := struct {
		Events []any `json:"events"`
	}{Events: make([]any, len(es))}
	for i, e := range es {
		body.Events[i] = s.shape(e)
	}
	return events.WrapErr(providerName, "post batch", s.post(ctx, body))
}

func (s *EventStore) post(ctx context.Context, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// HealthCheck only validates configuration; the endpoint is not probed.
func (s *EventStore) HealthCheck(context.Context) error {
	if s.cfg.URL == "" {
		return events.WrapErr(providerName, "health", errors.New("no url"))
	}
	return nil
}
