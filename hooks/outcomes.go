package hooks

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/PaulFidika/authstudio/authhost"
	"github.com/PaulFidika/authstudio/events"
)

type emission struct {
	typ  events.Type
	data events.EventData
}

var exactPaths = map[string]bool{
	"/sign-up": true, "/sign-up/email": true,
	"/sign-in": true, "/sign-in/email": true,
	"/sign-out":               true,
	"/unlink-account":         true,
	"/update-user":            true,
	"/revoke-session":         true,
	"/forget-password":        true,
	"/request-password-reset": true,
	"/reset-password":         true,
	"/phone-number/send-otp":  true,
	"/phone-number/verify":    true,
}

var prefixPaths = []string{
	"/callback",
	"/oauth2/callback",
	"/admin/",
	"/organization/",
	"/member/",
	"/team/",
	"/invitation/",
}

// tracked reports whether path has an after-hook mapping.
func tracked(path string) bool {
	if exactPaths[path] {
		return true
	}
	for _, p := range prefixPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// failureReasons maps status codes to reason codes per endpoint family.
type failureReasons map[int]string

// reason prefers the status mapping, then the error body, then fallback.
func (m failureReasons) reason(res *authhost.Result, fallback string) string {
	if r, ok := m[res.StatusCode]; ok {
		return r
	}
	if s := res.BodyString("code", "message"); s != "" {
		return s
	}
	return fallback
}

var (
	signUpReasons = failureReasons{
		http.StatusBadRequest:          "validation_failed",
		http.StatusConflict:            "user_already_exists",
		http.StatusUnprocessableEntity: "user_already_exists",
	}
	signInReasons     = failureReasons{http.StatusUnauthorized: "invalid_credentials"}
	invalidRequest    = failureReasons{http.StatusBadRequest: "invalid_request"}
	memberReasons     = failureReasons{http.StatusNotFound: "member_not_found"}
	teamCreateReasons = failureReasons{http.StatusBadRequest: "validation_failed"}
	updateUserReasons = failureReasons{
		http.StatusBadRequest:   "validation_failed",
		http.StatusUnauthorized: "unauthorized",
		http.StatusForbidden:    "forbidden",
	}
	noReasons = failureReasons{}
)

type mapper func(c *authhost.Context, res *authhost.Result) []emission

// orgPaths emit failures only; success comes from the organization plugin
// hooks, which see the persisted entities.
var orgPaths = []struct {
	paths   []string
	typ     events.Type
	reasons failureReasons
	meta    func(c *authhost.Context) map[string]any
}{
	{[]string{"/organization/create"}, events.OrganizationCreated, noReasons, func(c *authhost.Context) map[string]any {
		return map[string]any{"organizationName": orDefault(c.BodyString("name"), "Unknown")}
	}},
	{[]string{"/organization/update"}, events.OrganizationUpdated, noReasons, orgMeta},
	{[]string{"/organization/delete"}, events.OrganizationDeleted, noReasons, orgMeta},
	{[]string{"/organization/add-member", "/member/add"}, events.MemberAdded, noReasons, func(c *authhost.Context) map[string]any {
		return map[string]any{"memberId": c.BodyString("userId"), "role": c.BodyString("role")}
	}},
	{[]string{"/organization/remove-member", "/member/remove"}, events.MemberRemoved, memberReasons, func(c *authhost.Context) map[string]any {
		return map[string]any{"memberId": c.BodyString("memberIdOrEmail", "memberId")}
	}},
	{[]string{"/organization/update-member-role", "/member/update-role"}, events.MemberRoleChanged, memberReasons, func(c *authhost.Context) map[string]any {
		return map[string]any{"memberId": c.BodyString("memberId"), "oldRole": c.BodyString("oldRole"), "newRole": c.BodyString("role")}
	}},
	{[]string{"/organization/create-team", "/team/create"}, events.TeamCreated, teamCreateReasons, teamMeta},
	{[]string{"/organization/update-team", "/team/update"}, events.TeamUpdated, noReasons, teamMeta},
	{[]string{"/organization/remove-team", "/team/delete", "/team/remove"}, events.TeamDeleted, noReasons, teamMeta},
	{[]string{"/organization/add-team-member", "/team/add-member"}, events.TeamMemberAdded, noReasons, teamMeta},
	{[]string{"/organization/remove-team-member", "/team/remove-member"}, events.TeamMemberRemoved, noReasons, teamMeta},
	{[]string{"/organization/invite-member", "/invitation/create"}, events.InvitationCreated, noReasons, func(c *authhost.Context) map[string]any {
		return map[string]any{"email": orDefault(c.BodyString("email"), "Unknown"), "role": orDefault(c.BodyString("role"), "member")}
	}},
	{[]string{"/organization/accept-invitation", "/invitation/accept"}, events.InvitationAccepted, noReasons, invitationMeta},
	{[]string{"/organization/reject-invitation", "/invitation/reject"}, events.InvitationRejected, noReasons, invitationMeta},
	{[]string{"/organization/cancel-invitation", "/invitation/cancel"}, events.InvitationCancelled, noReasons, invitationMeta},
}

var mappers = map[string]mapper{
	"/sign-up":                signUp,
	"/sign-up/email":          signUp,
	"/sign-in":                signIn,
	"/sign-in/email":          signIn,
	"/sign-out":               signOut,
	"/unlink-account":         unlink,
	"/update-user":            updateUser,
	"/revoke-session":         revokeSession,
	"/forget-password":        resetRequested,
	"/request-password-reset": resetRequested,
	"/reset-password":         resetCompleted,
	"/admin/ban-user":         banned(events.UserBanned),
	"/admin/unban-user":       banned(events.UserUnbanned),
	"/phone-number/send-otp":  phoneOTP,
	"/phone-number/verify":    phoneVerify,
}

// mapOutcome turns a finished request into zero or more events.
func mapOutcome(c *authhost.Context) []emission {
	res := c.Returned
	if res == nil {
		return nil
	}
	if m, ok := mappers[c.Path]; ok {
		return m(c, res)
	}
	if strings.HasPrefix(c.Path, "/callback") || strings.HasPrefix(c.Path, "/oauth2/callback") {
		return oauthCallback(c, res)
	}
	if !res.IsError() {
		return nil
	}
	for _, op := range orgPaths {
		for _, p := range op.paths {
			if c.Path == p || strings.HasPrefix(c.Path, p+"/") {
				meta := op.meta(c)
				orgID := c.BodyString("organizationId")
				if orgID == "" {
					orgID, _ = meta["organizationId"].(string)
				}
				e := failed(c, op.typ, sessionUserID(c), op.reasons.reason(res, "unknown"), meta)
				e.data.OrganizationID = orgID
				return []emission{e}
			}
		}
	}
	return nil
}

func succeeded(c *authhost.Context, t events.Type, userID, sessionID string, meta map[string]any) emission {
	return emission{t, events.EventData{
		Status:    events.StatusSuccess,
		UserID:    userID,
		SessionID: sessionID,
		Metadata:  meta,
		Headers:   c.Headers,
	}}
}

func failed(c *authhost.Context, t events.Type, userID, reason string, meta map[string]any) emission {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["reason"] = reason
	return emission{t, events.EventData{
		Status:   events.StatusFailed,
		UserID:   userID,
		Metadata: meta,
		Headers:  c.Headers,
	}}
}

func signUp(c *authhost.Context, res *authhost.Result) []emission {
	if res.IsError() {
		return []emission{failed(c, events.UserJoined, "", signUpReasons.reason(res, "unknown"), map[string]any{
			"email": c.BodyString("email"),
			"name":  c.BodyString("name"),
		})}
	}
	u := returnedUser(c, res)
	if u == nil {
		return nil
	}
	return []emission{succeeded(c, events.UserJoined, u.ID, "", map[string]any{"email": u.Email, "name": u.Name})}
}

func signIn(c *authhost.Context, res *authhost.Result) []emission {
	if res.IsError() {
		return []emission{failed(c, events.UserLoggedIn, "", signInReasons.reason(res, "unknown"), map[string]any{
			"email": c.BodyString("email"),
		})}
	}
	u := returnedUser(c, res)
	if u == nil {
		return nil
	}
	sid := newSessionID(c, res)
	out := []emission{succeeded(c, events.UserLoggedIn, u.ID, sid, map[string]any{"name": u.Name, "email": u.Email})}
	if sid != "" {
		out = append(out, succeeded(c, events.SessionCreated, u.ID, sid, map[string]any{"name": u.Name, "email": u.Email}))
	}
	return out
}

func signOut(c *authhost.Context, res *authhost.Result) []emission {
	v, _ := c.Get(localSignOut)
	s, _ := v.(*authhost.SessionWithUser)
	if res.IsError() || s == nil {
		return nil
	}
	return []emission{succeeded(c, events.UserLoggedOut, s.User.ID, s.Session.ID, map[string]any{
		"email": s.User.Email,
		"name":  s.User.Name,
	})}
}

func unlink(c *authhost.Context, res *authhost.Result) []emission {
	provider := c.BodyString("providerId", "provider")
	if res.IsError() {
		return []emission{failed(c, events.OAuthUnlinked, sessionUserID(c), invalidRequest.reason(res, "unknown"), map[string]any{
			"provider": provider,
		})}
	}
	if c.Session == nil {
		return nil
	}
	return []emission{succeeded(c, events.OAuthUnlinked, c.Session.User.ID, "", map[string]any{
		"provider":  provider,
		"accountId": c.BodyString("accountId"),
		"email":     c.Session.User.Email,
	})}
}

func oauthCallback(c *authhost.Context, res *authhost.Result) []emission {
	provider := c.Params["id"]
	if provider == "" {
		provider = lastSegment(c.Path)
	}
	if res.IsError() {
		return []emission{failed(c, events.SessionCreated, "", "authentication_failed", map[string]any{
			"provider": provider,
		})}
	}
	u := returnedUser(c, res)
	if u == nil {
		return nil
	}
	if c.ExistingUser != nil {
		return []emission{succeeded(c, events.OAuthLinked, u.ID, "", map[string]any{
			"provider": provider,
			"email":    u.Email,
			"name":     u.Name,
		})}
	}
	sid := newSessionID(c, res)
	return []emission{
		succeeded(c, events.OAuthSignIn, u.ID, sid, map[string]any{
			"provider":      provider,
			"providerId":    provider,
			"userEmail":     u.Email,
			"email":         u.Email,
			"name":          u.Name,
			"emailVerified": u.EmailVerified,
		}),
		succeeded(c, events.SessionCreated, u.ID, sid, map[string]any{
			"name":     u.Name,
			"email":    u.Email,
			"provider": provider,
		}),
	}
}

func banned(t events.Type) mapper {
	return func(c *authhost.Context, res *authhost.Result) []emission {
		target := c.BodyString("userId")
		if res.IsError() {
			return []emission{failed(c, t, target, noReasons.reason(res, "unknown"), nil)}
		}
		meta := map[string]any{}
		if u := res.User; u != nil {
			if target == "" {
				target = u.ID
			}
			meta["email"] = u.Email
			meta["name"] = u.Name
		}
		if r := c.BodyString("banReason"); r != "" && t == events.UserBanned {
			meta["banReason"] = r
		}
		return []emission{succeeded(c, t, target, "", meta)}
	}
}

func updateUser(c *authhost.Context, res *authhost.Result) []emission {
	uid := sessionUserID(c)
	if res.IsError() {
		return []emission{failed(c, events.UserUpdated, uid, updateUserReasons.reason(res, "unknown"), nil)}
	}
	v, _ := c.Get(localOldUser)
	old, _ := v.(userSnapshot)
	before := map[string]string{"name": old.Name, "image": old.Image, "email": old.Email}
	var changed []string
	oldValues := map[string]any{}
	for field, prev := range before {
		next, ok := c.Body[field].(string)
		if !ok || next == prev {
			continue
		}
		changed = append(changed, field)
		oldValues[field] = prev
	}
	if len(changed) == 0 {
		return nil
	}
	sort.Strings(changed)
	return []emission{succeeded(c, events.UserUpdated, uid, "", map[string]any{
		"email":         orDefault(c.BodyString("email"), old.Email),
		"name":          orDefault(c.BodyString("name"), old.Name),
		"updatedFields": changed,
		"oldValues":     oldValues,
		"updatedAt":     time.Now().UTC().Format(time.RFC3339),
	})}
}

func revokeSession(c *authhost.Context, res *authhost.Result) []emission {
	if res.IsError() || c.Session == nil {
		return nil
	}
	return []emission{succeeded(c, events.SessionRevoked, c.Session.User.ID, "", map[string]any{
		"email": c.Session.User.Email,
		"name":  c.Session.User.Name,
	})}
}

func resetRequested(c *authhost.Context, res *authhost.Result) []emission {
	if res.IsError() {
		return nil
	}
	return []emission{succeeded(c, events.PasswordResetRequested, "", "", map[string]any{
		"email":       c.BodyString("email"),
		"requestedAt": time.Now().UTC().Format(time.RFC3339),
	})}
}

func resetCompleted(c *authhost.Context, res *authhost.Result) []emission {
	if res.IsError() {
		return nil
	}
	meta := map[string]any{"completedAt": time.Now().UTC().Format(time.RFC3339)}
	uid := ""
	if u := res.User; u != nil {
		uid = u.ID
		meta["email"] = u.Email
		meta["name"] = u.Name
	}
	return []emission{succeeded(c, events.PasswordResetCompleted, uid, "", meta)}
}

func phoneOTP(c *authhost.Context, res *authhost.Result) []emission {
	phone := c.BodyString("phoneNumber")
	if res.IsError() {
		return []emission{failed(c, events.PhoneNumberOTPRequested, "", noReasons.reason(res, "unknown"), map[string]any{
			"phoneNumber": phone,
		})}
	}
	meta := map[string]any{"phoneNumber": phone}
	if c.Session != nil {
		meta["name"] = c.Session.User.Name
		meta["email"] = c.Session.User.Email
	}
	return []emission{succeeded(c, events.PhoneNumberOTPRequested, sessionUserID(c), "", meta)}
}

func phoneVerify(c *authhost.Context, res *authhost.Result) []emission {
	phone := c.BodyString("phoneNumber")
	if res.IsError() {
		return []emission{failed(c, events.PhoneNumberVerification, "", noReasons.reason(res, "invalid_otp"), map[string]any{
			"phoneNumber": phone,
		})}
	}
	u := res.User
	if u == nil {
		return nil
	}
	return []emission{succeeded(c, events.PhoneNumberVerification, u.ID, "", map[string]any{
		"phoneNumber": phone,
		"name":        u.Name,
		"email":       u.Email,
	})}
}

func orgMeta(c *authhost.Context) map[string]any {
	return map[string]any{"organizationId": c.BodyString("organizationId", "id")}
}

func teamMeta(c *authhost.Context) map[string]any {
	return map[string]any{"teamId": c.BodyString("teamId", "id"), "teamName": c.BodyString("name")}
}

func invitationMeta(c *authhost.Context) map[string]any {
	email := c.BodyString("email")
	if inv := c.Returned.Invitation; inv != nil && inv.Email != "" {
		email = inv.Email
	}
	return map[string]any{
		"invitationId": c.BodyString("invitationId", "id"),
		"email":        orDefault(email, "Unknown"),
	}
}

// returnedUser prefers the session the endpoint created over the response body.
func returnedUser(c *authhost.Context, res *authhost.Result) *authhost.User {
	if c.NewSession != nil && c.NewSession.User.ID != "" {
		return &c.NewSession.User
	}
	if res.User != nil && res.User.ID != "" {
		return res.User
	}
	return nil
}

func newSessionID(c *authhost.Context, res *authhost.Result) string {
	if c.NewSession != nil && c.NewSession.Session.ID != "" {
		return c.NewSession.Session.ID
	}
	if res.Session != nil {
		return res.Session.ID
	}
	return ""
}

func sessionUserID(c *authhost.Context) string {
	if c.Session == nil {
		return ""
	}
	return c.Session.User.ID
}

func lastSegment(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	if path == "callback" {
		return ""
	}
	return path
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
