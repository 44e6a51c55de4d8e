package authhttp

import (
	"context"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/PaulFidika/authstudio/core"
)

const (
	// ServerInitUserAgent marks the startup ping in access logs.
	ServerInitUserAgent = "authstudio-server-init"
	DefaultStudioPath   = "/api/studio"
	defaultBaseURL      = "http://localhost:3000"
)

// ServerInit pings the studio health route once so the ingestion provider is
// bound before the first auth request. Failures are ignored; the provider is
// then bound lazily by the first emit.
type ServerInit struct {
	Client *http.Client
	once   sync.Once
}

var defaultServerInit ServerInit

// PingServerInit runs the process-wide ping. See ServerInit.Ping.
func PingServerInit(ctx context.Context, baseURL, basePath string) <-chan struct{} {
	return defaultServerInit.Ping(ctx, baseURL, basePath)
}

// PingURL resolves the ping target. Empty arguments fall back to
// AUTHSTUDIO_URL, then AUTH_URL, then http://localhost:3000, and to
// AUTHSTUDIO_PATH, then /api/studio.
func PingURL(baseURL, basePath string) string {
	base := firstNonEmpty(baseURL, os.Getenv("AUTHSTUDIO_URL"), os.Getenv("AUTH_URL"), defaultBaseURL)
	path := firstNonEmpty(basePath, os.Getenv("AUTHSTUDIO_PATH"), DefaultStudioPath)
	return strings.TrimRight(base, "/") + "/" + strings.Trim(path, "/") + core.PathHealth
}

// Ping starts the request in the background and returns a channel closed
// when it finishes. Only the first call pings; later calls return nil.
func (s *ServerInit) Ping(ctx context.Context, baseURL, basePath string) <-chan struct{} {
	var done chan struct{}
	s.once.Do(func() {
		done = make(chan struct{})
		target := PingURL(baseURL, basePath)
		client := s.Client
		if client == nil {
			client = &http.Client{Timeout: 10 * time.Second}
		}
		ctx := context.WithoutCancel(ctx)
		go func() {
			defer close(done)
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
			if err != nil {
				return
			}
			req.Header.Set("User-Agent", ServerInitUserAgent)
			resp, err := client.Do(req)
			if err != nil {
				return
			}
			_ = resp.Body.Close()
		}()
	})
	return done
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
