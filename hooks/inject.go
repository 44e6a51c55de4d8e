// Package hooks plugs event ingestion into an authhost.Auth. Outcomes are
// mapped to events synchronously in the request goroutine and emitted
// asynchronously, so recording an event never fails or delays the auth
// operation.
package hooks

import (
	"context"
	"net/http"

	"github.com/PaulFidika/authstudio/authhost"
	"github.com/PaulFidika/authstudio/events"
	"github.com/PaulFidika/authstudio/ingest"
	"github.com/sirupsen/logrus"
)

const (
	EventsPluginID = "authstudio-events"

	markOrganization = "authstudio:organization-hooks"
	markEmailOTP     = "authstudio:email-otp"
	markDeleteUser   = "authstudio:delete-user"
	markEmailVerify  = "authstudio:email-verification"
	markPassword     = "authstudio:password-change"
	markAccount      = "authstudio:account-create"

	localSignOut = "authstudio.signOutSession"
	localOldUser = "authstudio.oldUser"
)

// Emitter is the part of *ingest.Pipeline the hook layer needs.
type Emitter interface {
	EmitAsync(ctx context.Context, t events.Type, d events.EventData)
	Dispatcher() *ingest.Dispatcher
	Config() ingest.Config
}

type Options struct {
	LastSeen LastSeenOptions
	Logger   logrus.FieldLogger
}

type injector struct {
	auth *authhost.Auth
	em   Emitter
	log  logrus.FieldLogger
}

// Inject registers the events plugin and wraps the host callbacks. The
// last-seen plugin is installed whenever opts.LastSeen.Enabled, even with
// event ingestion disabled. Repeated calls are no-ops.
func Inject(auth *authhost.Auth, em Emitter, opts Options) {
	if auth == nil || em == nil {
		return
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.LastSeen.Enabled {
		InjectLastSeen(auth, em.Dispatcher(), opts.LastSeen)
	}
	if !em.Config().Enabled {
		return
	}
	in := &injector{auth: auth, em: em, log: log.WithField("component", "authstudio.hooks")}
	in.auth.RegisterPlugin(in.plugin())
	in.wrapOrganization()
	in.wrapEmailOTP()
	in.wrapCallbacks()
	in.wrapAccountCreate()
}

func (in *injector) plugin() *authhost.Plugin {
	return &authhost.Plugin{
		ID: EventsPluginID,
		Hooks: authhost.Hooks{
			Before: []authhost.Hook{
				{Matcher: pathIs("/sign-out"), Handler: in.captureSignOut},
				{Matcher: pathIs("/update-user"), Handler: captureOldUser},
			},
			After: []authhost.Hook{
				{Matcher: func(c *authhost.Context) bool { return tracked(c.Path) }, Handler: in.after},
			},
		},
	}
}

func pathIs(p string) authhost.Matcher {
	return func(c *authhost.Context) bool { return c.Path == p }
}

// captureSignOut keeps the session that is about to be destroyed.
func (in *injector) captureSignOut(c *authhost.Context) error {
	if c.Session != nil {
		c.Set(localSignOut, c.Session)
		return nil
	}
	token := c.BodyString("token")
	finder, ok := c.Adapter.(authhost.SessionFinder)
	if token == "" || !ok {
		return nil
	}
	s, err := finder.FindSession(c.Context(), token)
	if err != nil {
		return err
	}
	if s != nil {
		c.Set(localSignOut, s)
	}
	return nil
}

type userSnapshot struct {
	Name, Image, Email string
}

func captureOldUser(c *authhost.Context) error {
	if c.Session != nil {
		u := c.Session.User
		c.Set(localOldUser, userSnapshot{Name: u.Name, Image: u.Image, Email: u.Email})
	}
	return nil
}

// after maps the outcome and hands every event to the pipeline.
func (in *injector) after(c *authhost.Context) error {
	for _, e := range mapOutcome(c) {
		in.em.EmitAsync(c.Context(), e.typ, e.data)
	}
	return nil
}

func (in *injector) emit(ctx context.Context, t events.Type, d events.EventData) {
	in.em.EmitAsync(ctx, t, d)
}

func headersOf(r *http.Request) http.Header {
	if r == nil {
		return nil
	}
	return r.Header
}
