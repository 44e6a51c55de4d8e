package core

import (
	"net"
	"net/http"
	"net/url"

	"github.com/PaulFidika/authstudio/events"
)

// Request is the framework-neutral shape every HTTP adapter produces.
// Path has the adapter's base path stripped.
type Request struct {
	URL     string
	Path    string
	Method  string
	Headers http.Header
	Query   url.Values
	// RemoteAddr is the peer address, used when no proxy header names the client.
	RemoteAddr string
	// Body is a decoded JSON value, url.Values for forms, or a string.
	Body any
}

// Response is written back by the adapter. Body is JSON-encoded unless it is
// a string or []byte.
type Response struct {
	Status  int
	Headers http.Header
	Body    any
}

// JSON builds a response with a JSON content type.
func JSON(status int, body any) Response {
	return Response{
		Status:  status,
		Headers: http.Header{"Content-Type": []string{"application/json"}},
		Body:    body,
	}
}

// Error builds {"error": msg}.
func Error(status int, msg string) Response {
	return JSON(status, map[string]any{"error": msg})
}

// Bearer returns the token of an "Authorization: Bearer" header.
func (r Request) Bearer() string {
	h := r.Headers.Get("Authorization")
	if len(h) > 7 && (h[:7] == "Bearer " || h[:7] == "bearer ") {
		return h[7:]
	}
	return ""
}

// ClientIP prefers proxy headers and falls back to RemoteAddr.
func (r Request) ClientIP() string {
	if ip := events.ClientIP(r.Headers); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
