// Package authhttp mounts the studio read API on net/http. It converts a
// native request into core.Request and writes core.Response back.
package authhttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/PaulFidika/authstudio/core"
)

// MaxBodyBytes caps how much of a request body Normalize reads.
const MaxBodyBytes = 1 << 20

// ErrBodyTooLarge is returned for bodies over MaxBodyBytes.
var ErrBodyTooLarge = errors.New("authhttp: request body too large")

// Normalize converts r into a core.Request with basePath stripped from the path.
func Normalize(r *http.Request, basePath string) (core.Request, error) {
	req := core.Request{
		URL:        r.URL.String(),
		Path:       StripBasePath(r.URL.Path, basePath),
		Method:     r.Method,
		Headers:    r.Header.Clone(),
		Query:      r.URL.Query(),
		RemoteAddr: r.RemoteAddr,
	}
	if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return req, nil
	}
	body, err := parseBody(r)
	if err != nil {
		return req, err
	}
	req.Body = body
	return req, nil
}

// StripBasePath removes basePath when path is equal to it or nested under it.
func StripBasePath(path, basePath string) string {
	base := "/" + strings.Trim(basePath, "/")
	if path == "" {
		path = "/"
	}
	if base == "/" {
		return path
	}
	if path == base {
		return "/"
	}
	if rest, ok := strings.CutPrefix(path, base); ok && strings.HasPrefix(rest, "/") {
		return rest
	}
	return path
}

// parseBody tries JSON, then form or multipart, then raw text. Text that
// parses as JSON is returned decoded.
func parseBody(r *http.Request) (any, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("authhttp: read body: %w", err)
	}
	if len(raw) > MaxBodyBytes {
		return nil, ErrBodyTooLarge
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	ct, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case ct == "application/json" || strings.HasSuffix(ct, "+json"):
		if v, ok := decodeJSON(raw); ok {
			return v, nil
		}
	case ct == "application/x-www-form-urlencoded":
		if v, err := url.ParseQuery(string(raw)); err == nil {
			return v, nil
		}
	case ct == "multipart/form-data" && params["boundary"] != "":
		if v, err := parseMultipart(r, raw); err == nil {
			return v, nil
		}
	}
	if v, ok := decodeJSON(raw); ok {
		return v, nil
	}
	return string(raw), nil
}

func decodeJSON(raw []byte) (any, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

// parseMultipart keeps the value parts; file parts are dropped.
func parseMultipart(r *http.Request, raw []byte) (url.Values, error) {
	clone := r.Clone(r.Context())
	clone.Body = io.NopCloser(bytes.NewReader(raw))
	if err := clone.ParseMultipartForm(MaxBodyBytes); err != nil {
		return nil, err
	}
	defer func() { _ = clone.MultipartForm.RemoveAll() }()
	return url.Values(clone.MultipartForm.Value), nil
}
