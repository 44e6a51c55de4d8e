// Package authhost is the contract between an auth library and the plugins
// that observe it. A host builds an Auth, lets plugins register hooks and
// wrap callbacks, then drives every endpoint through Auth.Run.
package authhost

import (
	"context"
	"net/http"
	"time"
)

type User struct {
	ID            string         `json:"id"`
	Email         string         `json:"email"`
	Name          string         `json:"name"`
	Image         string         `json:"image,omitempty"`
	EmailVerified bool           `json:"emailVerified"`
	CreatedAt     time.Time      `json:"createdAt"`
	Fields        map[string]any `json:"fields,omitempty"`
}

type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionWithUser is what session lookups return.
type SessionWithUser struct {
	Session Session `json:"session"`
	User    User    `json:"user"`
}

type Account struct {
	ID         string `json:"id"`
	UserID     string `json:"userId"`
	ProviderID string `json:"providerId"`
	AccountID  string `json:"accountId"`
}

type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type Member struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type TeamMember struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	TeamID string `json:"teamId"`
}

type Invitation struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	TeamID         string `json:"teamId,omitempty"`
}

// Result is the outcome of an endpoint. Body carries the error payload
// (code, message) on failure and any extra response data on success.
type Result struct {
	StatusCode int
	User       *User
	Session    *Session
	Invitation *Invitation
	Body       map[string]any
}

// IsError reports whether the endpoint failed.
func (r *Result) IsError() bool { return r != nil && r.StatusCode >= 400 }

// BodyString returns the first non-empty string among keys in Body.
func (r *Result) BodyString(keys ...string) string {
	if r == nil {
		return ""
	}
	return stringAt(r.Body, keys...)
}

// Context is the per-request state handed to hooks.
type Context struct {
	Ctx     context.Context
	Path    string
	Method  string
	Headers http.Header
	Body    map[string]any
	Params  map[string]string

	// Session is the authenticated caller, if any.
	Session *SessionWithUser
	// NewSession is set by endpoints that create a session.
	NewSession *SessionWithUser
	// ExistingUser is set by OAuth callbacks that matched an existing user.
	ExistingUser *User
	// Returned is set once the endpoint has run.
	Returned *Result
	Adapter  any

	locals map[string]any
}

// Context returns Ctx or context.Background.
func (c *Context) Context() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}

// Set stores a value for later hooks of the same request.
func (c *Context) Set(key string, v any) {
	if c.locals == nil {
		c.locals = make(map[string]any)
	}
	c.locals[key] = v
}

func (c *Context) Get(key string) (any, bool) {
	v, ok := c.locals[key]
	return v, ok
}

// BodyString returns the first non-empty string among keys in the request body.
func (c *Context) BodyString(keys ...string) string {
	return stringAt(c.Body, keys...)
}

func stringAt(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// SessionFinder resolves a session token.
type SessionFinder interface {
	FindSession(ctx context.Context, token string) (*SessionWithUser, error)
}

// UserUpdater writes arbitrary user columns.
type UserUpdater interface {
	UpdateUser(ctx context.Context, userID string, fields map[string]any) error
}

// AccountFinder looks up users and their linked accounts.
type AccountFinder interface {
	FindUserByID(ctx context.Context, id string) (*User, error)
	FindAccounts(ctx context.Context, userID string) ([]Account, error)
}
