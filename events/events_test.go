package events

import (
	"net/http"
	"testing"
)

func TestSeverityTable(t *testing.T) {
	cases := map[Type]Severity{
		UserJoined:             SeveritySuccess,
		UserLoggedIn:           SeveritySuccess,
		UserLoggedOut:          SeverityInfo,
		OrganizationUpdated:    SeverityInfo,
		MemberRoleChanged:      SeverityWarning,
		UserBanned:             SeverityWarning,
		MemberRemoved:          SeverityWarning,
		PasswordResetRequested: SeverityWarning,
		Type("custom.thing"):   SeverityInfo,
	}
	for typ, want := range cases {
		if got := SeverityOf(typ, StatusSuccess); got != want {
			t.Errorf("SeverityOf(%s, success) = %s, want %s", typ, got, want)
		}
	}
}

func TestEveryCatalogTypeRendersAMessage(t *testing.T) {
	for _, typ := range Types() {
		for _, st := range []Status{StatusSuccess, StatusFailed} {
			e := &AuthEvent{Type: typ, Status: st}
			if m := Message(e); m == "" || m == string(typ) {
				t.Errorf("%s/%s: expected templated message, got %q", typ, st, m)
			}
		}
	}
}

func TestMessage_UnknownTypeFallsBackToRawType(t *testing.T) {
	e := &AuthEvent{Type: "billing.charged", Status: StatusSuccess}
	if got := Message(e); got != "billing.charged" {
		t.Fatalf("got %q", got)
	}
}

func TestMessage_UsesMetadata(t *testing.T) {
	e := &AuthEvent{Type: UserJoined, Status: StatusSuccess, Metadata: map[string]any{"email": "a@b.com"}}
	if got := Message(e); got != "a@b.com joined" {
		t.Fatalf("got %q", got)
	}
	e = &AuthEvent{Type: MemberRoleChanged, Metadata: map[string]any{"memberEmail": "m@b.com", "newRole": "admin", "organizationName": "Acme"}}
	if got := Message(e); got != "m@b.com is now admin in Acme" {
		t.Fatalf("got %q", got)
	}
}

func TestReasonMessage(t *testing.T) {
	cases := map[string]string{
		"invalid_credentials": "Invalid email or password",
		"user_already_exists": "User already exists with this email",
		"member_not_found":    "Member not found",
		"invalid_otp":         "Invalid or expired code",
		"unknown":             "Unknown error",
		"":                    "Unknown error",
		"   ":                 "Unknown error",
		"  Email is taken ":   "Email is taken",
	}
	for in, want := range cases {
		if got := ReasonMessage(in); got != want {
			t.Errorf("ReasonMessage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClientIP(t *testing.T) {
	h := http.Header{}
	h.Set("X-Forwarded-For", " 10.0.0.1 , 10.0.0.2")
	h.Set("X-Real-IP", "192.168.1.1")
	if got := ClientIP(h); got != "10.0.0.1" {
		t.Fatalf("expected first forwarded address, got %q", got)
	}
	h.Del("X-Forwarded-For")
	if got := ClientIP(h); got != "192.168.1.1" {
		t.Fatalf("expected real ip, got %q", got)
	}
	if got := ClientIP(nil); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestPage(t *testing.T) {
	rows := []AuthEvent{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	res := Page(rows, 2)
	if !res.HasMore || len(res.Events) != 2 || res.NextCursor == nil || *res.NextCursor != "b" {
		t.Fatalf("unexpected page: %+v", res)
	}
	res = Page(rows, 3)
	if res.HasMore || res.NextCursor != nil || len(res.Events) != 3 {
		t.Fatalf("unexpected last page: %+v", res)
	}
	if res := Page(nil, 5); res.Events == nil {
		t.Fatalf("expected non-nil empty slice")
	}
}

func TestQueryOptionsNormalized(t *testing.T) {
	o := QueryOptions{}.Normalized()
	if o.Limit != DefaultQueryLimit || o.Sort != SortDesc {
		t.Fatalf("unexpected defaults: %+v", o)
	}
	o = QueryOptions{Limit: 1000, Sort: SortAsc}.Normalized()
	if o.Limit != MaxQueryLimit || o.Sort != SortAsc {
		t.Fatalf("unexpected clamp: %+v", o)
	}
}

func TestNew_FailedEventMapsReason(t *testing.T) {
	e := New(UserLoggedIn, EventData{Status: StatusFailed, Metadata: map[string]any{"reason": "invalid_credentials"}})
	if e.Metadata["reason"] != "Invalid email or password" {
		t.Fatalf("unexpected reason %v", e.Metadata["reason"])
	}
	if e.Display.Severity != SeverityFailed {
		t.Fatalf("expected failed severity, got %s", e.Display.Severity)
	}
	e = New(UserLoggedIn, EventData{Status: StatusFailed})
	if e.Metadata["reason"] != UnknownReason {
		t.Fatalf("expected unknown reason, got %v", e.Metadata["reason"])
	}
}

func TestNew_FillsProvenance(t *testing.T) {
	h := http.Header{}
	h.Set("User-Agent", "curl/8")
	h.Set("X-Real-IP", "1.2.3.4")
	e := New(UserJoined, EventData{UserID: "u1", Headers: h, Metadata: map[string]any{"email": "a@b.com"}})
	if e.ID == "" || e.Source != DefaultSource || e.Status != StatusSuccess {
		t.Fatalf("unexpected defaults: %+v", e)
	}
	if Deref(e.IPAddress) != "1.2.3.4" || Deref(e.UserAgent) != "curl/8" || Deref(e.UserID) != "u1" {
		t.Fatalf("unexpected provenance: %+v", e)
	}
	if e.SessionID != nil {
		t.Fatalf("blank session id must stay nil")
	}
	if e.Display.Message != "a@b.com joined" || e.Display.Severity != SeveritySuccess {
		t.Fatalf("unexpected display: %+v", e.Display)
	}
	if e.Timestamp.Location().String() != "UTC" {
		t.Fatalf("expected UTC timestamp")
	}
}

func TestNewID_IsTimeOrdered(t *testing.T) {
	prev := NewID()
	for i := 0; i < 100; i++ {
		next := NewID()
		if next <= prev {
			t.Fatalf("ids not increasing: %s <= %s", next, prev)
		}
		prev = next
	}
}
