package authhost

import (
	"context"
	"net/http"
)

// Field declares a model column contributed by a plugin or the host config.
type Field struct {
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Input    bool   `json:"input"`
	Returned bool   `json:"returned"`
}

// Matcher selects the requests a hook runs for.
type Matcher func(c *Context) bool

// Handler runs for a matched request. Errors are logged by the host and
// never change the response.
type Handler func(c *Context) error

type Hook struct {
	Matcher Matcher
	Handler Handler
}

type Hooks struct {
	Before []Hook
	After  []Hook
}

// Plugin is identified by ID. Schema maps a model name to its extra fields.
// Options holds plugin specific settings, e.g. *OrganizationOptions.
type Plugin struct {
	ID      string
	Hooks   Hooks
	Schema  map[string]map[string]Field
	Options any
}

type Options struct {
	BasePath          string
	Plugins           []*Plugin
	User              UserOptions
	EmailVerification EmailVerificationOptions
	EmailAndPassword  EmailAndPasswordOptions
	DatabaseHooks     DatabaseHooks
}

type UserOptions struct {
	AdditionalFields map[string]Field
	DeleteUser       DeleteUserOptions
}

// The trailing *http.Request of each callback may be nil.
type DeleteUserOptions struct {
	AfterDelete func(ctx context.Context, u User, r *http.Request) error
}

type EmailVerificationOptions struct {
	OnEmailVerification func(ctx context.Context, u User, r *http.Request) error
}

type PasswordChange struct {
	User                User
	RevokeOtherSessions bool
}

type EmailAndPasswordOptions struct {
	OnPasswordChange func(ctx context.Context, pc PasswordChange, r *http.Request) error
}

type DatabaseHooks struct {
	Account AccountHooks
}

type AccountHooks struct {
	Create AccountCreateHooks
}

type AccountCreateHooks struct {
	Before func(ctx context.Context, a Account) error
	After  func(ctx context.Context, a Account) error
}

// Organization plugin.

const OrganizationPluginID = "organization"

type OrganizationData struct {
	Organization Organization
	User         User
}

type MemberData struct {
	Organization Organization
	Member       Member
	User         User
	PreviousRole string
}

type TeamData struct {
	Organization Organization
	Team         Team
	User         *User
}

type TeamMemberData struct {
	Organization Organization
	Team         Team
	TeamMember   TeamMember
	User         User
}

type InvitationData struct {
	Organization Organization
	Invitation   Invitation
	// Inviter is set on create, CancelledBy on cancel, User and Member on
	// accept and reject.
	Inviter     *User
	CancelledBy *User
	User        *User
	Member      *Member
}

type OrganizationHooks struct {
	AfterCreateOrganization func(ctx context.Context, d OrganizationData) error
	AfterUpdateOrganization func(ctx context.Context, d OrganizationData) error
	AfterDeleteOrganization func(ctx context.Context, d OrganizationData) error

	AfterAddMember        func(ctx context.Context, d MemberData) error
	AfterRemoveMember     func(ctx context.Context, d MemberData) error
	AfterUpdateMemberRole func(ctx context.Context, d MemberData) error

	AfterCreateTeam       func(ctx context.Context, d TeamData) error
	AfterUpdateTeam       func(ctx context.Context, d TeamData) error
	AfterDeleteTeam       func(ctx context.Context, d TeamData) error
	AfterAddTeamMember    func(ctx context.Context, d TeamMemberData) error
	AfterRemoveTeamMember func(ctx context.Context, d TeamMemberData) error

	AfterCreateInvitation func(ctx context.Context, d InvitationData) error
	AfterAcceptInvitation func(ctx context.Context, d InvitationData) error
	AfterRejectInvitation func(ctx context.Context, d InvitationData) error
	AfterCancelInvitation func(ctx context.Context, d InvitationData) error
}

type OrganizationOptions struct {
	Hooks OrganizationHooks
}

// Email OTP plugin.

const EmailOTPPluginID = "email-otp"

type OTPRequest struct {
	Email string
	OTP   string
	// Type is "sign-in", "email-verification" or "forget-password".
	Type string
}

type EmailOTPOptions struct {
	SendVerificationOTP func(ctx context.Context, req OTPRequest, r *http.Request) error
}
