package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sandeepkv93/learning-platform-auth/internal/domain"
	"github.com/sandeepkv93/learning-platform-auth/internal/security"
)

type stubGeoLocator struct {
	loc   domain.Location
	err   error
	calls int
}

func (g *stubGeoLocator) Lookup(context.Context, string) (domain.Location, error) {
	g.calls++
	return g.loc, g.err
}

const iphoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 Mobile/15E148 Safari/604.1"

func seedSessions(t *testing.T, svc *SessionService, userID uint, n int) []*IssuedSession {
	t.Helper()
	out := make([]*IssuedSession, 0, n)
	for i := 0; i < n; i++ {
		issued, err := svc.Create(context.Background(), userID, "curl/8.5.0", "203.0.113.5")
		if err != nil {
			t.Fatalf("create session: %v", err)
		}
		out = append(out, issued)
	}
	return out
}

func TestSessionServiceCreateStoresOnlyTokenHash(t *testing.T) {
	f := newAuthFixture(t)
	issued, err := f.sessions.Create(context.Background(), 1, iphoneUA, "203.0.113.5")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if issued.Token == "" || issued.Session.TokenHash == "" || issued.Token == issued.Session.TokenHash {
		t.Fatalf("expected raw token distinct from stored hash: %+v", issued.Session)
	}
	if issued.Session.DeviceType != domain.DeviceMobile || issued.Session.DeviceModel != "Safari on iOS" {
		t.Fatalf("expected device parsed at creation, got %s / %s", issued.Session.DeviceType, issued.Session.DeviceModel)
	}
	found, err := f.sessions.FindByToken(context.Background(), issued.Token)
	if err != nil || found.ID != issued.Session.ID {
		t.Fatalf("find by token: %v %+v", err, found)
	}
	if _, err := f.sessions.FindByToken(context.Background(), issued.Session.TokenHash); err == nil {
		t.Fatal("expected hash to be rejected as a token")
	}
}

func TestSessionServiceCreateKeepsUserAgentValidUTF8(t *testing.T) {
	f := newAuthFixture(t)
	ua := strings.Repeat("a", 511) + "é"
	issued, err := f.sessions.Create(context.Background(), 1, ua, "203.0.113.5")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	found, err := f.sessions.FindByToken(context.Background(), issued.Token)
	if err != nil {
		t.Fatalf("find by token: %v", err)
	}
	if !utf8.ValidString(found.UserAgent) || found.UserAgent != strings.Repeat("a", 511) {
		t.Fatalf("expected rune-safe truncation, got len=%d valid=%v", len(found.UserAgent), utf8.ValidString(found.UserAgent))
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short", in: "curl/8.0", n: 512, want: "curl/8.0"},
		{name: "ascii cut", in: "abcdef", n: 3, want: "abc"},
		{name: "multibyte boundary", in: "ab€", n: 4, want: "ab"},
		{name: "invalid bytes dropped", in: "Mozilla\xff\xfe/5.0", n: 512, want: "Mozilla/5.0"},
		{name: "emoji kept whole", in: "x🙂", n: 5, want: "x🙂"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := truncate(tc.in, tc.n)
			if got != tc.want || !utf8.ValidString(got) {
				t.Fatalf("truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
			}
		})
	}
}

func TestSessionServiceRevokeSetsLogoutRequiredForCurrent(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	mine := seedSessions(t, f.sessions, 1, 3)
	theirs := seedSessions(t, f.sessions, 2, 1)
	current := mine[0].Session.ID

	res, err := f.sessions.RevokeSession(ctx, 1, mine[1].Session.ID, current)
	if err != nil {
		t.Fatalf("revoke other session: %v", err)
	}
	if res.DeletedCount != 1 || res.LogoutRequired {
		t.Fatalf("unexpected result for non-current revoke: %+v", res)
	}

	res, err = f.sessions.RevokeSession(ctx, 1, theirs[0].Session.ID, current)
	if err != nil {
		t.Fatalf("revoke foreign session: %v", err)
	}
	if res.DeletedCount != 0 {
		t.Fatalf("expected ownership filter to protect other user's session, got %+v", res)
	}
	if _, err := f.sessions.Find(ctx, 2, theirs[0].Session.ID); err != nil {
		t.Fatalf("expected foreign session intact: %v", err)
	}

	res, err = f.sessions.RevokeMultipleSessions(ctx, 1, []string{current, mine[2].Session.ID, current, " "}, current)
	if err != nil {
		t.Fatalf("revoke multiple: %v", err)
	}
	if res.DeletedCount != 2 || !res.LogoutRequired {
		t.Fatalf("expected current session revocation to require logout: %+v", res)
	}
}

func TestSessionServiceRevokeAll(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	seedSessions(t, f.sessions, 1, 2)
	other := seedSessions(t, f.sessions, 2, 1)
	res, err := f.sessions.RevokeAllSessions(ctx, 1)
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if res.DeletedCount != 2 || !res.LogoutRequired {
		t.Fatalf("unexpected revoke-all result: %+v", res)
	}
	if _, err := f.sessions.Find(ctx, 2, other[0].Session.ID); err != nil {
		t.Fatalf("other user's session must survive: %v", err)
	}
	events, _ := f.events.ByType(ctx, domain.EventSessionRevoked, 10)
	if len(events) != 1 || events[0].Metadata["mode"] != "all" {
		t.Fatalf("expected session_revoked event, got %+v", events)
	}
}

func TestSessionServiceRevokeMultipleRequiresIDs(t *testing.T) {
	f := newAuthFixture(t)
	if _, err := f.sessions.RevokeMultipleSessions(context.Background(), 1, []string{"", "  "}, ""); err == nil {
		t.Fatal("expected validation error for empty id list")
	}
}

func TestSessionServiceRevokeMultipleCapsIDs(t *testing.T) {
	f := newAuthFixture(t)
	ids := make([]string, MaxRevokeSessionIDs+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("session-%d", i)
	}
	_, err := f.sessions.RevokeMultipleSessions(context.Background(), 1, ids, "")
	var verr *security.ValidationError
	if !errors.As(err, &verr) || verr.Field != "session_ids" {
		t.Fatalf("expected session_ids validation error, got %v", err)
	}
	res, err := f.sessions.RevokeMultipleSessions(context.Background(), 1, ids[:MaxRevokeSessionIDs], "")
	if err != nil || res.DeletedCount != 0 {
		t.Fatalf("expected a full batch of unknown ids to be accepted, got %+v %v", res, err)
	}
}

func TestSessionServiceListingExcludesExpiredAndOrdersByActivity(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	seeded := seedSessions(t, f.sessions, 1, 3)

	expired := seeded[2].Session
	if err := f.db.Model(&domain.Session{}).Where("id = ?", expired.ID).
		Update("expires_at", f.clock.Now().Add(-time.Minute)).Error; err != nil {
		t.Fatalf("expire session: %v", err)
	}
	if err := f.db.Model(&domain.Session{}).Where("id = ?", seeded[0].Session.ID).
		UpdateColumn("updated_at", f.clock.Now().Add(time.Hour)).Error; err != nil {
		t.Fatalf("touch session: %v", err)
	}

	views, err := f.sessions.GetAllActiveSessions(ctx, 1, seeded[1].Session.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(views))
	}
	if views[0].ID != seeded[0].Session.ID {
		t.Fatalf("expected most recently active first, got %s", views[0].ID)
	}
	for i := 1; i < len(views); i++ {
		if views[i].LastActive.After(views[i-1].LastActive) {
			t.Fatal("sessions not ordered by last activity descending")
		}
	}
	if views[0].IsCurrent || !views[1].IsCurrent {
		t.Fatalf("unexpected is_current flags: %+v", views)
	}
	for _, v := range views {
		if v.ID == expired.ID {
			t.Fatal("expired session listed")
		}
	}
}

func TestSessionServiceUpdateSessionInfo(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	lat, lon := 52.52, 13.40
	geo := &stubGeoLocator{loc: domain.Location{City: "Berlin", Country: "Germany", Latitude: &lat, Longitude: &lon}}
	f.sessions.geo = geo
	issued := seedSessions(t, f.sessions, 1, 1)[0]

	ok, err := f.sessions.UpdateSessionInfo(ctx, SessionInfoUpdate{Token: issued.Token, UserID: 1, UserAgent: iphoneUA, IP: "203.0.113.9"})
	if err != nil || !ok {
		t.Fatalf("enrich by token: ok=%v err=%v", ok, err)
	}
	got, err := f.sessions.Find(ctx, 1, issued.Session.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.City != "Berlin" || got.DeviceType != domain.DeviceMobile || got.IP != "203.0.113.9" {
		t.Fatalf("unexpected enrichment: %+v", got)
	}

	geo.err = ErrGeoUnavailable
	geo.loc = domain.Location{}
	ok, err = f.sessions.UpdateSessionInfo(ctx, SessionInfoUpdate{SessionID: issued.Session.ID, UserID: 1, UserAgent: "curl/8.5.0", IP: "203.0.113.10"})
	if err != nil || !ok {
		t.Fatalf("enrich with failing geo: ok=%v err=%v", ok, err)
	}
	got, _ = f.sessions.Find(ctx, 1, issued.Session.ID)
	if got.City != "Berlin" || got.IP != "203.0.113.10" {
		t.Fatalf("expected geo fields kept after failed lookup: %+v", got)
	}

	ok, err = f.sessions.UpdateSessionInfo(ctx, SessionInfoUpdate{Token: "unknown", UserID: 1})
	if err != nil || ok {
		t.Fatalf("expected silent no-op for unknown token, got ok=%v err=%v", ok, err)
	}
	ok, err = f.sessions.UpdateSessionInfo(ctx, SessionInfoUpdate{Token: issued.Token, UserID: 2})
	if err != nil || ok {
		t.Fatalf("expected no-op for foreign user, got ok=%v err=%v", ok, err)
	}
}

func TestSessionServiceResolveCurrentFallsBackToLatest(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	seeded := seedSessions(t, f.sessions, 1, 2)
	if err := f.db.Model(&domain.Session{}).Where("id = ?", seeded[1].Session.ID).
		UpdateColumn("updated_at", f.clock.Now().Add(time.Hour)).Error; err != nil {
		t.Fatalf("touch: %v", err)
	}
	id, err := f.sessions.ResolveCurrentSessionID(ctx, 1, seeded[0].Session.ID)
	if err != nil || id != seeded[0].Session.ID {
		t.Fatalf("expected explicit session, got %s %v", id, err)
	}
	id, err = f.sessions.ResolveCurrentSessionID(ctx, 1, "missing")
	if err != nil || id != seeded[1].Session.ID {
		t.Fatalf("expected latest active fallback, got %s %v", id, err)
	}
}

func TestSessionServiceCleanupExpired(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	seedSessions(t, f.sessions, 1, 2)
	f.clock.Advance(25 * time.Hour)
	n, err := f.sessions.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 expired sessions removed, got %d", n)
	}
}

func TestSessionServiceRunCleanupStopsOnCancel(t *testing.T) {
	f := newAuthFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sessions.RunCleanup(ctx, 10*time.Millisecond) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil on cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop")
	}
}
