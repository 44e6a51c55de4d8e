package core

import (
	"context"
	"net/http"
	"slices"
	"strings"

	jwtkit "github.com/PaulFidika/authstudio/jwt"
)

// AccessConfig restricts the read API to studio tokens carrying one of
// Roles or an email in AllowEmails. Both empty admits any valid token.
type AccessConfig struct {
	Roles       []string
	AllowEmails []string
}

func (a AccessConfig) allows(c *jwtkit.Claims) bool {
	if len(a.Roles) == 0 && len(a.AllowEmails) == 0 {
		return true
	}
	for _, r := range a.Roles {
		if c.HasRole(r) {
			return true
		}
	}
	email := strings.TrimSpace(c.Email)
	return email != "" && slices.ContainsFunc(a.AllowEmails, func(e string) bool {
		return strings.EqualFold(strings.TrimSpace(e), email)
	})
}

type claimsKey struct{}

// WithClaims attaches verified studio claims to ctx.
func WithClaims(ctx context.Context, c *jwtkit.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext reads the claims attached by the access check.
func ClaimsFromContext(ctx context.Context) (*jwtkit.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*jwtkit.Claims)
	return c, ok && c != nil
}

// Authorize verifies the bearer token against the access rules. With no
// verifier configured every request is admitted with nil claims; the host
// is then expected to guard the mount point itself.
func (r *Router) Authorize(ctx context.Context, req Request) (*jwtkit.Claims, *Response) {
	if r.verifier == nil {
		return nil, nil
	}
	raw := req.Bearer()
	if raw == "" {
		resp := Error(http.StatusUnauthorized, "missing bearer token")
		return nil, &resp
	}
	claims, err := r.verifier.Verify(ctx, raw)
	if err != nil {
		r.log.WithError(err).Debug("studio token rejected")
		resp := Error(http.StatusUnauthorized, "invalid token")
		return nil, &resp
	}
	if !r.access.allows(claims) {
		r.log.WithField("sub", claims.Subject).Info("studio access denied")
		resp := Error(http.StatusForbidden, "forbidden")
		return nil, &resp
	}
	return claims, nil
}

// limitKey identifies the caller for rate limiting: token subject, then client IP.
func limitKey(c *jwtkit.Claims, req Request) string {
	if c != nil && c.Subject != "" {
		return "sub:" + c.Subject
	}
	if ip := req.ClientIP(); ip != "" {
		return "ip:" + ip
	}
	return "anonymous"
}
