// Package events defines the canonical auth event record, the closed event
// type catalog, and the capability interfaces storage providers implement.
package events

import (
	"net/http"
	"strings"
	"time"
)

// Status reports whether the underlying auth operation succeeded.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Severity is the display severity shown by readers.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityFailed  Severity = "failed"
)

// DefaultSource tags events produced by the application itself.
const DefaultSource = "app"

// Display is derived from the type and status when the event is built and
// stored alongside it so readers never recompute it.
type Display struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// AuthEvent is the canonical unit written to and read from providers.
// Once ingested it is never updated.
type AuthEvent struct {
	ID             string         `json:"id"`
	Type           Type           `json:"type"`
	Timestamp      time.Time      `json:"timestamp"`
	Status         Status         `json:"status"`
	UserID         *string        `json:"userId,omitempty"`
	SessionID      *string        `json:"sessionId,omitempty"`
	OrganizationID *string        `json:"organizationId,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	IPAddress      *string        `json:"ipAddress,omitempty"`
	UserAgent      *string        `json:"userAgent,omitempty"`
	Source         string         `json:"source"`
	Display        Display        `json:"display"`
}

// EventData carries the caller-supplied part of an event. Headers, when set,
// are used to fill IPAddress and UserAgent if those are empty.
type EventData struct {
	Status         Status
	UserID         string
	SessionID      string
	OrganizationID string
	Metadata       map[string]any
	IPAddress      string
	UserAgent      string
	Headers        http.Header
}

// Now returns the current UTC time truncated to microseconds, which every
// supported backend stores without loss.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// StringPtr returns nil for blank strings.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ClientIP extracts the caller address from proxy headers: the first entry of
// X-Forwarded-For, then X-Real-IP.
func ClientIP(h http.Header) string {
	if h == nil {
		return ""
	}
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return strings.TrimSpace(h.Get("X-Real-IP"))
}

// MetaString returns the first non-empty string value among keys.
func (e *AuthEvent) MetaString(keys ...string) string {
	for _, k := range keys {
		if v, ok := e.Metadata[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

// Less orders events by (timestamp, id) ascending.
func Less(a, b *AuthEvent) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}
