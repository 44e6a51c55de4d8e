package hooks

import (
	"context"
	"strings"
	"time"

	"github.com/PaulFidika/authstudio/authhost"
	"github.com/PaulFidika/authstudio/ingest"
)

const (
	LastSeenPluginID      = "authstudio-last-seen"
	DefaultLastSeenColumn = "lastSeenAt"

	markLastSeen = "authstudio:last-seen"
)

type LastSeenOptions struct {
	Enabled bool
	// Column is the user field to stamp (default "lastSeenAt").
	Column string
}

// InjectLastSeen registers the last-seen plugin and declares its user field.
// A field the host already declares is left untouched.
func InjectLastSeen(auth *authhost.Auth, disp *ingest.Dispatcher, opts LastSeenOptions) {
	if auth == nil || disp == nil || !opts.Enabled || !auth.MarkOnce(markLastSeen) {
		return
	}
	col := strings.TrimSpace(opts.Column)
	if col == "" {
		col = DefaultLastSeenColumn
	}
	field := authhost.Field{Type: "date", Required: false, Input: false, Returned: true}
	auth.RegisterPlugin(&authhost.Plugin{
		ID:     LastSeenPluginID,
		Schema: map[string]map[string]authhost.Field{"user": {col: field}},
		Hooks: authhost.Hooks{After: []authhost.Hook{{
			Matcher: func(c *authhost.Context) bool { return lastSeenPath(c.Path) != "" },
			Handler: func(c *authhost.Context) error {
				touchLastSeen(c, disp, col)
				return nil
			},
		}}},
	})
	uo := &auth.Options.User
	if uo.AdditionalFields == nil {
		uo.AdditionalFields = map[string]authhost.Field{}
	}
	if _, exists := uo.AdditionalFields[col]; !exists {
		uo.AdditionalFields[col] = field
	}
}

func lastSeenPath(path string) string {
	p := strings.TrimLeft(path, "/")
	for _, kind := range []string{"sign-up", "sign-in", "callback", "get-session"} {
		if strings.Contains(p, kind) {
			return kind
		}
	}
	return ""
}

func touchLastSeen(c *authhost.Context, disp *ingest.Dispatcher, col string) {
	res := c.Returned
	if res.IsError() || (res == nil && c.Session == nil) {
		return
	}
	uid := lastSeenUser(c)
	if uid == "" {
		return
	}
	up, ok := c.Adapter.(authhost.UserUpdater)
	if !ok {
		return
	}
	disp.Go(c.Context(), "last seen", func(ctx context.Context) error {
		return up.UpdateUser(ctx, uid, map[string]any{col: time.Now().UTC()})
	})
}

func lastSeenUser(c *authhost.Context) string {
	res := c.Returned
	if lastSeenPath(c.Path) == "get-session" {
		if c.Session != nil {
			return c.Session.User.ID
		}
		if res != nil && res.User != nil {
			return res.User.ID
		}
		return ""
	}
	if c.NewSession != nil && c.NewSession.User.ID != "" {
		return c.NewSession.User.ID
	}
	if res != nil && res.User != nil {
		return res.User.ID
	}
	return ""
}
