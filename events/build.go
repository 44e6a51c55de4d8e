package events

import (
	"fmt"

	"github.com/google/uuid"
)

// NewID returns a time-ordered UUIDv7 string.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// New builds a complete event from caller data: it assigns id, timestamp and
// source, resolves request provenance from headers, maps the failure reason,
// and derives Display.
func New(t Type, d EventData) AuthEvent {
	status := d.Status
	if status == "" {
		status = StatusSuccess
	}
	meta := make(map[string]any, len(d.Metadata)+1)
	for k, v := range d.Metadata {
		meta[k] = v
	}
	if status == StatusFailed {
		reason, _ := meta["reason"].(string)
		if reason == "" && meta["reason"] != nil {
			reason = fmt.Sprint(meta["reason"])
		}
		meta["reason"] = ReasonMessage(reason)
	}

	ip := d.IPAddress
	if ip == "" {
		ip = ClientIP(d.Headers)
	}
	ua := d.UserAgent
	if ua == "" && d.Headers != nil {
		ua = d.Headers.Get("User-Agent")
	}

	e := AuthEvent{
		ID:             NewID(),
		Type:           t,
		Timestamp:      Now(),
		Status:         status,
		UserID:         StringPtr(d.UserID),
		SessionID:      StringPtr(d.SessionID),
		OrganizationID: StringPtr(d.OrganizationID),
		Metadata:       meta,
		IPAddress:      StringPtr(ip),
		UserAgent:      StringPtr(ua),
		Source:         DefaultSource,
	}
	e.Display = DisplayFor(&e)
	return e
}
