package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestUserCanAuthenticate(t *testing.T) {
	hash := "$2a$12$abc"
	empty := ""
	provider := "google"
	tests := []struct {
		name string
		user User
		want bool
	}{
		{name: "password only", user: User{PasswordHash: &hash}, want: true},
		{name: "oauth only", user: User{OAuthProvider: &provider}, want: true},
		{name: "neither", user: User{}, want: false},
		{name: "empty password hash", user: User{PasswordHash: &empty}, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.user.CanAuthenticate(); got != tc.want {
				t.Fatalf("CanAuthenticate()=%v want %v", got, tc.want)
			}
		})
	}
}

func TestUserSanitizeDropsSecrets(t *testing.T) {
	hash := "secret-hash"
	reset := "reset-token"
	now := time.Now()
	u := User{ID: 7, Email: "ann@example.com", Name: "Ann", Role: RoleStudent, IsActive: true, PasswordHash: &hash, PasswordResetToken: &reset, EmailVerifiedAt: &now}
	view := u.Sanitize()
	if view.ID != 7 || view.Email != "ann@example.com" || !view.EmailVerified {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.Preferences == nil {
		t.Fatal("expected non-nil preferences map")
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole(" Teacher "); !ok || r != RoleTeacher {
		t.Fatalf("expected teacher, got %q ok=%v", r, ok)
	}
	if _, ok := ParseRole("user"); ok {
		t.Fatal("expected unknown role to be rejected")
	}
}

func TestProjectNormalize(t *testing.T) {
	p := Project{Name: "  Intro to Go  ", Tags: []string{" Go ", "go", "", "Basics", "GO"}}
	if err := p.Normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if p.Name != "Intro to Go" {
		t.Fatalf("expected trimmed name, got %q", p.Name)
	}
	if p.Visibility != VisibilityPrivate {
		t.Fatalf("expected private default, got %q", p.Visibility)
	}
	if len(p.Tags) != 2 || p.Tags[0] != "go" || p.Tags[1] != "basics" {
		t.Fatalf("unexpected tags: %#v", p.Tags)
	}
}

func TestProjectNormalizeRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		project Project
		want    error
	}{
		{name: "blank name", project: Project{Name: "   "}, want: ErrProjectNameRequired},
		{name: "long name", project: Project{Name: strings.Repeat("a", 101)}, want: ErrProjectNameTooLong},
		{name: "bad visibility", project: Project{Name: "x", Visibility: "secret"}, want: ErrInvalidVisibility},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.project.Normalize(); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestNormalizeTagsCapsAtTen(t *testing.T) {
	tags := make([]string, 0, 15)
	for i := 0; i < 15; i++ {
		tags = append(tags, string(rune('a'+i)))
	}
	got := NormalizeTags(tags)
	if len(got) != MaxProjectTags {
		t.Fatalf("expected %d tags, got %d", MaxProjectTags, len(got))
	}
}

func FuzzNormalizeTagsInvariants(f *testing.F) {
	f.Add("Go,go, GO ,rust")
	f.Add(",,,")
	f.Add("a,b,c,d,e,f,g,h,i,j,k,l")
	f.Fuzz(func(t *testing.T, raw string) {
		got := NormalizeTags(strings.Split(raw, ","))
		if len(got) > MaxProjectTags {
			t.Fatalf("too many tags: %d", len(got))
		}
		seen := map[string]bool{}
		for _, tag := range got {
			if tag == "" || tag != strings.ToLower(strings.TrimSpace(tag)) {
				t.Fatalf("tag not canonical: %q", tag)
			}
			if seen[tag] {
				t.Fatalf("duplicate tag %q", tag)
			}
			seen[tag] = true
		}
	})
}

func TestRunTransitions(t *testing.T) {
	now := time.Now()
	r := Run{Status: RunPending}
	if err := r.Transition(RunCompleted, now); !errors.Is(err, ErrInvalidRunTransition) {
		t.Fatalf("expected pending->completed to fail, got %v", err)
	}
	if err := r.Transition(RunRunning, now); err != nil {
		t.Fatalf("pending->running: %v", err)
	}
	if r.StartedAt == nil {
		t.Fatal("expected started_at to be set")
	}
	if err := r.Transition(RunTimeout, now); err != nil {
		t.Fatalf("running->timeout: %v", err)
	}
	if r.FinishedAt == nil {
		t.Fatal("expected finished_at to be set")
	}
	for _, next := range []RunStatus{RunPending, RunRunning, RunCompleted, RunFailed, RunCancelled, RunTimeout} {
		if err := r.Transition(next, now); !errors.Is(err, ErrInvalidRunTransition) {
			t.Fatalf("terminal state must be irreversible, %s -> %s returned %v", r.Status, next, err)
		}
	}
}

func TestSessionIsActive(t *testing.T) {
	now := time.Now()
	if (&Session{ExpiresAt: now}).IsActive(now) {
		t.Fatal("session expiring now must not be active")
	}
	if !(&Session{ExpiresAt: now.Add(time.Second)}).IsActive(now) {
		t.Fatal("future expiry must be active")
	}
}
