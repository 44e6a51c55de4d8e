package authhost

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Endpoint executes the auth operation for a request.
type Endpoint func(c *Context) *Result

// Auth owns the host options and the plugin registry. Plugins are
// registered once per ID; MarkOnce gives wrappers an idempotency key so
// repeated initialization does not wrap a callback twice.
type Auth struct {
	Options *Options
	// Adapter is the host database adapter handed to hooks. It may
	// implement SessionFinder, UserUpdater and AccountFinder.
	Adapter any

	log   logrus.FieldLogger
	mu    sync.Mutex
	ids   map[string]struct{}
	marks map[string]struct{}
}

func New(opts *Options, adapter any, log logrus.FieldLogger) *Auth {
	if opts == nil {
		opts = &Options{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	a := &Auth{
		Options: opts,
		Adapter: adapter,
		log:     log.WithField("component", "authhost"),
		ids:     make(map[string]struct{}),
		marks:   make(map[string]struct{}),
	}
	for _, p := range opts.Plugins {
		if p != nil {
			a.ids[p.ID] = struct{}{}
		}
	}
	return a
}

// RegisterPlugin appends p unless a plugin with the same ID exists. It
// reports whether p was added.
func (a *Auth) RegisterPlugin(p *Plugin) bool {
	if p == nil || strings.TrimSpace(p.ID) == "" {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.ids[p.ID]; ok {
		return false
	}
	a.ids[p.ID] = struct{}{}
	a.Options.Plugins = append(a.Options.Plugins, p)
	return true
}

// Plugin returns the registered plugin with id, or nil.
func (a *Auth) Plugin(id string) *Plugin {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.Options.Plugins {
		if p != nil && p.ID == id {
			return p
		}
	}
	return nil
}

// MarkOnce returns true the first time key is seen.
func (a *Auth) MarkOnce(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.marks[key]; ok {
		return false
	}
	a.marks[key] = struct{}{}
	return true
}

func (a *Auth) hooks() (before, after []Hook) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.Options.Plugins {
		if p == nil {
			continue
		}
		before = append(before, p.Hooks.Before...)
		after = append(after, p.Hooks.After...)
	}
	return before, after
}

// Run executes matching before hooks, the endpoint, then matching after
// hooks. Hook errors and panics are logged and never change the result.
func (a *Auth) Run(c *Context, ep Endpoint) *Result {
	if c.Adapter == nil {
		c.Adapter = a.Adapter
	}
	if c.Headers == nil {
		c.Headers = http.Header{}
	}
	before, after := a.hooks()
	for _, h := range before {
		a.runHook(c, "before", h)
	}
	res := ep(c)
	if res == nil {
		res = &Result{StatusCode: http.StatusOK}
	}
	if res.StatusCode == 0 {
		res.StatusCode = http.StatusOK
	}
	c.Returned = res
	for _, h := range after {
		a.runHook(c, "after", h)
	}
	return res
}

func (a *Auth) runHook(c *Context, phase string, h Hook) {
	defer func() {
		if r := recover(); r != nil {
			a.log.WithFields(logrus.Fields{"phase": phase, "path": c.Path}).
				WithError(fmt.Errorf("panic: %v", r)).Error("hook panicked")
		}
	}()
	if h.Handler == nil || (h.Matcher != nil && !h.Matcher(c)) {
		return
	}
	if err := h.Handler(c); err != nil {
		a.log.WithFields(logrus.Fields{"phase": phase, "path": c.Path}).WithError(err).Warn("hook failed")
	}
}

// AccountCreated runs the account create database hooks for a.
func (a *Auth) AccountCreated(ctx context.Context, acct Account) error {
	if fn := a.Options.DatabaseHooks.Account.Create.After; fn != nil {
		return fn(ctx, acct)
	}
	return nil
}
