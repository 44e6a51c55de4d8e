package hooks

import (
	"context"
	"net/http"
	"time"

	"github.com/PaulFidika/authstudio/authhost"
	"github.com/PaulFidika/authstudio/events"
)

// chainAfter runs the host's own callback first and only emits when it
// succeeded. A nil callback is replaced by one that just emits.
func chainAfter[T any](user func(context.Context, T) error, emit func(context.Context, T)) func(context.Context, T) error {
	return func(ctx context.Context, d T) error {
		if user != nil {
			if err := user(ctx, d); err != nil {
				return err
			}
		}
		emit(ctx, d)
		return nil
	}
}

// chainCallback is chainAfter for host callbacks that also receive the request.
func chainCallback[T any](user func(context.Context, T, *http.Request) error, emit func(context.Context, T, *http.Request)) func(context.Context, T, *http.Request) error {
	return func(ctx context.Context, d T, r *http.Request) error {
		if user != nil {
			if err := user(ctx, d, r); err != nil {
				return err
			}
		}
		emit(ctx, d, r)
		return nil
	}
}

func (in *injector) wrapOrganization() {
	p := in.auth.Plugin(authhost.OrganizationPluginID)
	if p == nil {
		return
	}
	opts, ok := p.Options.(*authhost.OrganizationOptions)
	if !ok && p.Options != nil {
		in.log.WithField("options", p.Options).Warn("organization plugin options not recognized, hooks not wrapped")
		return
	}
	if !in.auth.MarkOnce(markOrganization) {
		return
	}
	if opts == nil {
		opts = &authhost.OrganizationOptions{}
		p.Options = opts
	}
	h := &opts.Hooks

	h.AfterCreateOrganization = chainAfter(h.AfterCreateOrganization, in.organizationEvent(events.OrganizationCreated))
	h.AfterUpdateOrganization = chainAfter(h.AfterUpdateOrganization, in.organizationEvent(events.OrganizationUpdated))
	h.AfterDeleteOrganization = chainAfter(h.AfterDeleteOrganization, in.organizationEvent(events.OrganizationDeleted))

	h.AfterAddMember = chainAfter(h.AfterAddMember, func(ctx context.Context, d authhost.MemberData) {
		in.emit(ctx, events.MemberAdded, orgEvent(d.Organization, d.Member.UserID, map[string]any{
			"memberId":      d.Member.ID,
			"role":          d.Member.Role,
			"addedByUserId": d.User.ID,
			"addedByEmail":  d.User.Email,
			"addedByName":   d.User.Name,
			"memberEmail":   d.User.Email,
			"memberName":    d.User.Name,
		}))
	})
	h.AfterRemoveMember = chainAfter(h.AfterRemoveMember, func(ctx context.Context, d authhost.MemberData) {
		in.emit(ctx, events.MemberRemoved, orgEvent(d.Organization, d.Member.UserID, map[string]any{
			"memberId":        d.Member.ID,
			"removedByUserId": d.User.ID,
			"removedByEmail":  d.User.Email,
			"removedByName":   d.User.Name,
		}))
	})
	h.AfterUpdateMemberRole = chainAfter(h.AfterUpdateMemberRole, func(ctx context.Context, d authhost.MemberData) {
		in.emit(ctx, events.MemberRoleChanged, orgEvent(d.Organization, d.Member.UserID, map[string]any{
			"memberId":        d.Member.ID,
			"oldRole":         d.PreviousRole,
			"newRole":         d.Member.Role,
			"changedByUserId": d.User.ID,
			"changedByEmail":  d.User.Email,
			"changedByName":   d.User.Name,
		}))
	})

	h.AfterCreateTeam = chainAfter(h.AfterCreateTeam, in.teamEvent(events.TeamCreated))
	h.AfterUpdateTeam = chainAfter(h.AfterUpdateTeam, in.teamEvent(events.TeamUpdated))
	h.AfterDeleteTeam = chainAfter(h.AfterDeleteTeam, in.teamEvent(events.TeamDeleted))
	h.AfterAddTeamMember = chainAfter(h.AfterAddTeamMember, func(ctx context.Context, d authhost.TeamMemberData) {
		in.emit(ctx, events.TeamMemberAdded, orgEvent(d.Organization, d.TeamMember.UserID, map[string]any{
			"teamMemberId":  d.TeamMember.ID,
			"teamId":        d.Team.ID,
			"teamName":      d.Team.Name,
			"memberEmail":   d.User.Email,
			"memberName":    d.User.Name,
			"addedByUserId": d.User.ID,
		}))
	})
	h.AfterRemoveTeamMember = chainAfter(h.AfterRemoveTeamMember, func(ctx context.Context, d authhost.TeamMemberData) {
		in.emit(ctx, events.TeamMemberRemoved, orgEvent(d.Organization, d.TeamMember.UserID, map[string]any{
			"teamMemberId":  d.TeamMember.ID,
			"teamId":        d.Team.ID,
			"teamName":      d.Team.Name,
			"removedUserId": d.User.ID,
			"removedEmail":  d.User.Email,
			"removedName":   d.User.Name,
		}))
	})

	h.AfterCreateInvitation = chainAfter(h.AfterCreateInvitation, func(ctx context.Context, d authhost.InvitationData) {
		meta := invitationFields(d)
		meta["role"] = d.Invitation.Role
		meta["teamId"] = d.Invitation.TeamID
		if u := d.Inviter; u != nil {
			meta["inviterId"] = u.ID
			meta["inviterEmail"] = u.Email
			meta["inviterName"] = u.Name
		}
		in.emit(ctx, events.InvitationCreated, orgEvent(d.Organization, "", meta))
	})
	h.AfterAcceptInvitation = chainAfter(h.AfterAcceptInvitation, in.invitationResponse(events.InvitationAccepted))
	h.AfterRejectInvitation = chainAfter(h.AfterRejectInvitation, in.invitationResponse(events.InvitationRejected))
	h.AfterCancelInvitation = chainAfter(h.AfterCancelInvitation, func(ctx context.Context, d authhost.InvitationData) {
		meta := invitationFields(d)
		uid := ""
		if u := d.CancelledBy; u != nil {
			uid = u.ID
			meta["cancelledByEmail"] = u.Email
			meta["cancelledByName"] = u.Name
		}
		in.emit(ctx, events.InvitationCancelled, orgEvent(d.Organization, uid, meta))
	})
}

func (in *injector) organizationEvent(t events.Type) func(context.Context, authhost.OrganizationData) {
	return func(ctx context.Context, d authhost.OrganizationData) {
		if d.Organization.ID == "" {
			return
		}
		in.emit(ctx, t, orgEvent(d.Organization, d.User.ID, map[string]any{
			"email": d.User.Email,
			"name":  d.User.Name,
		}))
	}
}

func (in *injector) teamEvent(t events.Type) func(context.Context, authhost.TeamData) {
	return func(ctx context.Context, d authhost.TeamData) {
		if d.Team.ID == "" {
			return
		}
		meta := map[string]any{"teamId": d.Team.ID, "teamName": d.Team.Name}
		uid := ""
		if u := d.User; u != nil {
			uid = u.ID
			meta["email"] = u.Email
			meta["name"] = u.Name
		}
		in.emit(ctx, t, orgEvent(d.Organization, uid, meta))
	}
}

func (in *injector) invitationResponse(t events.Type) func(context.Context, authhost.InvitationData) {
	return func(ctx context.Context, d authhost.InvitationData) {
		meta := invitationFields(d)
		uid := ""
		if u := d.User; u != nil {
			uid = u.ID
			meta["email"] = u.Email
			meta["name"] = u.Name
		}
		if m := d.Member; m != nil && t == events.InvitationAccepted {
			meta["role"] = m.Role
		}
		in.emit(ctx, t, orgEvent(d.Organization, uid, meta))
	}
}

func invitationFields(d authhost.InvitationData) map[string]any {
	return map[string]any{
		"invitationId": d.Invitation.ID,
		"email":        d.Invitation.Email,
	}
}

// orgEvent adds the organization name and slug every organization event carries.
func orgEvent(o authhost.Organization, userID string, meta map[string]any) events.EventData {
	meta["organizationName"] = o.Name
	meta["organizationSlug"] = o.Slug
	return events.EventData{
		Status:         events.StatusSuccess,
		UserID:         userID,
		OrganizationID: o.ID,
		Metadata:       meta,
	}
}

// wrapEmailOTP records password reset codes. Without a host sender there
// is nothing to wrap.
func (in *injector) wrapEmailOTP() {
	p := in.auth.Plugin(authhost.EmailOTPPluginID)
	if p == nil {
		return
	}
	opts, ok := p.Options.(*authhost.EmailOTPOptions)
	if !ok || opts == nil || opts.SendVerificationOTP == nil {
		return
	}
	if !in.auth.MarkOnce(markEmailOTP) {
		return
	}
	opts.SendVerificationOTP = chainCallback(opts.SendVerificationOTP, func(ctx context.Context, req authhost.OTPRequest, r *http.Request) {
		if req.Type != "forget-password" {
			return
		}
		in.emit(ctx, events.PasswordResetRequestedOTP, events.EventData{
			Metadata: map[string]any{
				"email":       req.Email,
				"type":        req.Type,
				"requestedAt": time.Now().UTC().Format(time.RFC3339),
			},
			Headers: headersOf(r),
		})
	})
}

func (in *injector) wrapCallbacks() {
	o := in.auth.Options
	if in.auth.MarkOnce(markDeleteUser) {
		o.User.DeleteUser.AfterDelete = chainCallback(o.User.DeleteUser.AfterDelete, func(ctx context.Context, u authhost.User, r *http.Request) {
			in.emit(ctx, events.UserDeleted, events.EventData{
				UserID:   u.ID,
				Metadata: map[string]any{"email": u.Email, "name": u.Name},
				Headers:  headersOf(r),
			})
		})
	}
	if in.auth.MarkOnce(markEmailVerify) {
		o.EmailVerification.OnEmailVerification = chainCallback(o.EmailVerification.OnEmailVerification, func(ctx context.Context, u authhost.User, r *http.Request) {
			in.emit(ctx, events.UserEmailVerified, events.EventData{
				UserID: u.ID,
				Metadata: map[string]any{
					"email":      u.Email,
					"name":       u.Name,
					"verifiedAt": time.Now().UTC().Format(time.RFC3339),
				},
				Headers: headersOf(r),
			})
		})
	}
	if in.auth.MarkOnce(markPassword) {
		o.EmailAndPassword.OnPasswordChange = chainCallback(o.EmailAndPassword.OnPasswordChange, func(ctx context.Context, pc authhost.PasswordChange, r *http.Request) {
			in.emit(ctx, events.UserPasswordChanged, events.EventData{
				UserID: pc.User.ID,
				Metadata: map[string]any{
					"email":               pc.User.Email,
					"name":                pc.User.Name,
					"revokeOtherSessions": pc.RevokeOtherSessions,
					"changedAt":           time.Now().UTC().Format(time.RFC3339),
				},
				Headers: headersOf(r),
			})
		})
	}
}

// wrapAccountCreate tells OAuth sign-ins from account links by counting the
// user's accounts once the new one exists. The lookups run on the
// dispatcher so account creation is never slowed down.
func (in *injector) wrapAccountCreate() {
	if !in.auth.MarkOnce(markAccount) {
		return
	}
	hooks := &in.auth.Options.DatabaseHooks.Account.Create
	existing := hooks.After
	hooks.After = func(ctx context.Context, a authhost.Account) error {
		if existing != nil {
			if err := existing(ctx, a); err != nil {
				return err
			}
		}
		if a.UserID == "" || a.ProviderID == "" || a.ProviderID == "credential" {
			return nil
		}
		finder, ok := in.auth.Adapter.(authhost.AccountFinder)
		if !ok {
			return nil
		}
		in.em.Dispatcher().Go(ctx, "account create", func(ctx context.Context) error {
			return in.accountCreated(ctx, finder, a)
		})
		return nil
	}
}

func (in *injector) accountCreated(ctx context.Context, finder authhost.AccountFinder, a authhost.Account) error {
	u, err := finder.FindUserByID(ctx, a.UserID)
	if err != nil || u == nil {
		return err
	}
	accounts, err := finder.FindAccounts(ctx, a.UserID)
	if err != nil {
		return err
	}
	meta := map[string]any{
		"provider":   a.ProviderID,
		"providerId": a.ProviderID,
		"userEmail":  u.Email,
		"email":      u.Email,
		"name":       u.Name,
		"accountId":  a.AccountID,
	}
	if len(accounts) > 1 {
		meta["linkedAt"] = time.Now().UTC().Format(time.RFC3339)
		in.emit(ctx, events.OAuthLinked, events.EventData{UserID: a.UserID, Metadata: meta})
		return nil
	}
	meta["emailVerified"] = u.EmailVerified
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	meta["createdAt"] = created.UTC().Format(time.RFC3339)
	in.emit(ctx, events.OAuthSignIn, events.EventData{UserID: a.UserID, Metadata: meta})
	return nil
}
