package events

import "fmt"

// Type identifies what auth lifecycle action occurred.
type Type string

const (
	UserJoined          Type = "user.joined"
	UserLoggedIn        Type = "user.logged_in"
	UserLoggedOut       Type = "user.logged_out"
	UserUpdated         Type = "user.updated"
	UserDeleted         Type = "user.deleted"
	UserBanned          Type = "user.banned"
	UserUnbanned        Type = "user.unbanned"
	UserEmailVerified   Type = "user.email_verified"
	UserPasswordChanged Type = "user.password_changed"

	SessionCreated Type = "session.created"
	SessionRevoked Type = "session.revoked"

	OAuthSignIn   Type = "oauth.sign_in"
	OAuthLinked   Type = "oauth.linked"
	OAuthUnlinked Type = "oauth.unlinked"

	OrganizationCreated Type = "organization.created"
	OrganizationUpdated Type = "organization.updated"
	OrganizationDeleted Type = "organization.deleted"

	MemberAdded       Type = "member.added"
	MemberRemoved     Type = "member.removed"
	MemberRoleChanged Type = "member.role_changed"

	TeamCreated       Type = "team.created"
	TeamUpdated       Type = "team.updated"
	TeamDeleted       Type = "team.deleted"
	TeamMemberAdded   Type = "team.member.added"
	TeamMemberRemoved Type = "team.member.removed"

	InvitationCreated   Type = "invitation.created"
	InvitationAccepted  Type = "invitation.accepted"
	InvitationRejected  Type = "invitation.rejected"
	InvitationCancelled Type = "invitation.cancelled"

	PhoneNumberOTPRequested Type = "phone_number.otp_requested"
	PhoneNumberVerification Type = "phone_number.verification"

	PasswordResetRequested    Type = "password.reset_requested"
	PasswordResetRequestedOTP Type = "password.reset_requested_otp"
	PasswordResetCompleted    Type = "password.reset_completed"
)

type typeInfo struct {
	severity Severity
	template func(e *AuthEvent) string
}

var catalog = map[Type]typeInfo{
	UserJoined: {SeveritySuccess, func(e *AuthEvent) string {
		if e.Status == StatusFailed {
			return fmt.Sprintf("Sign up failed for %s", who(e))
		}
		return fmt.Sprintf("%s joined", who(e))
	}},
	UserLoggedIn: {SeveritySuccess, func(e *AuthEvent) string {
		if e.Status == StatusFailed {
			return fmt.Sprintf("Login failed for %s", who(e))
		}
		return fmt.Sprintf("%s logged in", who(e))
	}},
	UserLoggedOut: {SeverityInfo, func(e *AuthEvent) string {
		return fmt.Sprintf("%s logged out", who(e))
	}},
	UserUpdated: {SeverityInfo, func(e *AuthEvent) string {
		if e.Status == StatusFailed {
			return fmt.Sprintf("Profile update failed for %s", who(e))
		}
		return fmt.Sprintf("%s updated their profile", who(e))
	}},
	UserDeleted: {SeverityWarning, func(e *AuthEvent) string {
		return fmt.Sprintf("%s deleted their account", who(e))
	}},
	UserBanned: {SeverityWarning, func(e *AuthEvent) string {
		return fmt.Sprintf("%s was banned", who(e))
	}},
	UserUnbanned: {SeverityWarning, func(e *AuthEvent) string {
		return fmt.Sprintf("%s was unbanned", who(e))
	}},
	UserEmailVerified: {SeveritySuccess, func(e *AuthEvent) string {
		return fmt.Sprintf("%s verified their email", who(e))
	}},
	UserPasswordChanged: {SeverityWarning, func(e *AuthEvent) string {
		return fmt.Sprintf("%s changed their password", who(e))
	}},
	SessionCreated: {SeveritySuccess, func(e *AuthEvent) string {
		return fmt.Sprintf("New session for %s", who(e))
	}},
	SessionRevoked: {SeverityInfo, func(e *AuthEvent) string {
		return fmt.Sprintf("Session revoked for %s", who(e))
	}},
	OAuthSignIn: {SeveritySuccess, func(e *AuthEvent) string {
		if e.Status == StatusFailed {
			return fmt.Sprintf("%s sign in failed", provider(e))
		}
		return fmt.Sprintf("%s signed in with %s", who(e), provider(e))
	}},
	OAuthLinked: {SeveritySuccess, func(e *AuthEvent) string {
		return fmt.Sprintf("%s linked %s", who(e), provider(e))
	}},
	OAuthUnlinked: {SeverityWarning, func(e *AuthEvent) string {
		return fmt.Sprintf("%s unlinked %s", who(e), provider(e))
	}},
	OrganizationCreated: {SeveritySuccess, func(e *AuthEvent) string {
		return fmt.Sprintf("Organization %s created", org(e))
	}},
	OrganizationUpdated: {SeverityInfo, func(e *AuthEvent) string {
		return fmt.Sprintf("Organization %s updated", org(e))
	}},
	OrganizationDeleted: {SeverityWarning, func(e *AuthEvent) string {
		return fmt.Sprintf("Organization %s deleted", org(e))
	}},
	MemberAdded: {SeveritySuccess, func(e *AuthEvent) string {
		return fmt.Sprintf("%s added to %s", member(e), org(e))
	}},
	MemberRemoved: {SeverityWarning, func(e *AuthEvent) string {
		return fmt.Sprintf("%s removed from %s", member(e), org(e))
	}},
	MemberRoleChanged: {SeverityWarning, func(e *AuthEvent) string {
		if r := e.MetaString("newRole", "role"); r != "" {
			return fmt.Sprintf("%s is now %s in %s", member(e), r, org(e))
		}
		return fmt.Sprintf("%s role changed in %s", member(e), org(e))
	}},
	TeamCreated: {SeveritySuccess, func(e *AuthEvent) string {
		return fmt.Sprintf("Team %s created", team(e))
	}},
	TeamUpdated: {SeverityInfo, func(e *AuthEvent) string {
		return fmt.Sprintf("Team %s updated", team(e))
	}},
	TeamDeleted: {SeverityWarning, func(e *AuthEvent) string {
		return fmt.Sprintf("Team %s deleted", team(e))
	}},
	TeamMemberAdded: {SeveritySuccess, func(e *AuthEvent) string {
		return fmt.Sprintf("%s added to team %s", member(e), team(e))
	}},
	TeamMemberRemoved: {SeverityWarning, func(e *AuthEvent) string {
		return fmt.Sprintf("%s removed from team %s", member(e), team(e))
	}},
	InvitationCreated: {SeverityInfo, func(e *AuthEvent) string {
		return fmt.Sprintf("%s invited to %s", invitee(e), org(e))
	}},
	InvitationAccepted: {SeveritySuccess, func(e *AuthEvent) string {
		return fmt.Sprintf("%s accepted an invitation to %s", invitee(e), org(e))
	}},
	InvitationRejected: {SeverityWarning, func(e *AuthEvent) string {
		return fmt.Sprintf("%s rejected an invitation to %s", invitee(e), org(e))
	}},
	InvitationCancelled: {SeverityWarning, func(e *AuthEvent) string {
		return fmt.Sprintf("Invitation for %s cancelled", invitee(e))
	}},
	PhoneNumberOTPRequested: {SeverityInfo, func(e *AuthEvent) string {
		return fmt.Sprintf("Code requested for %s", phone(e))
	}},
	PhoneNumberVerification: {SeveritySuccess, func(e *AuthEvent) string {
		if e.Status == StatusFailed {
			return fmt.Sprintf("Verification failed for %s", phone(e))
		}
		return fmt.Sprintf("%s verified", phone(e))
	}},
	PasswordResetRequested: {SeverityWarning, func(e *AuthEvent) string {
		return fmt.Sprintf("Password reset requested for %s", who(e))
	}},
	PasswordResetRequestedOTP: {SeverityWarning, func(e *AuthEvent) string {
		return fmt.Sprintf("Password reset code requested for %s", who(e))
	}},
	PasswordResetCompleted: {SeverityWarning, func(e *AuthEvent) string {
		return fmt.Sprintf("Password reset completed for %s", who(e))
	}},
}

// Known reports whether t belongs to the catalog.
func Known(t Type) bool {
	_, ok := catalog[t]
	return ok
}

// Types returns every catalog type. Order is unspecified.
func Types() []Type {
	out := make([]Type, 0, len(catalog))
	for t := range catalog {
		out = append(out, t)
	}
	return out
}

// SeverityOf derives the display severity. Failed operations are always
// SeverityFailed; types outside the catalog default to SeverityInfo.
func SeverityOf(t Type, s Status) Severity {
	if s == StatusFailed {
		return SeverityFailed
	}
	if info, ok := catalog[t]; ok {
		return info.severity
	}
	return SeverityInfo
}

// Message renders the per-type template, falling back to the raw type.
func Message(e *AuthEvent) string {
	if e.Type == "" {
		return "unknown event"
	}
	info, ok := catalog[e.Type]
	if !ok || info.template == nil {
		return string(e.Type)
	}
	if m := info.template(e); m != "" {
		return m
	}
	return string(e.Type)
}

// DisplayFor computes the stored Display for e.
func DisplayFor(e *AuthEvent) Display {
	return Display{Message: Message(e), Severity: SeverityOf(e.Type, e.Status)}
}

func who(e *AuthEvent) string {
	if s := e.MetaString("name", "email", "userName", "userEmail"); s != "" {
		return s
	}
	if e.UserID != nil && *e.UserID != "" {
		return *e.UserID
	}
	return "Someone"
}

func provider(e *AuthEvent) string {
	if s := e.MetaString("provider", "providerId"); s != "" {
		return s
	}
	return "OAuth"
}

func org(e *AuthEvent) string {
	if s := e.MetaString("organizationName", "organizationSlug"); s != "" {
		return s
	}
	if e.OrganizationID != nil && *e.OrganizationID != "" {
		return *e.OrganizationID
	}
	return "an organization"
}

func member(e *AuthEvent) string {
	if s := e.MetaString("memberName", "memberEmail", "name", "email", "memberId"); s != "" {
		return s
	}
	return "A member"
}

func team(e *AuthEvent) string {
	if s := e.MetaString("teamName", "teamId"); s != "" {
		return s
	}
	return "unnamed"
}

func invitee(e *AuthEvent) string {
	if s := e.MetaString("inviteeEmail", "email"); s != "" {
		return s
	}
	return "Someone"
}

func phone(e *AuthEvent) string {
	if s := e.MetaString("phoneNumber"); s != "" {
		return s
	}
	return "phone number"
}
