package service

import (
	"context"
	"errors"
	"testing"

	"github.com/sandeepkv93/learning-platform-auth/internal/domain"
	"github.com/sandeepkv93/learning-platform-auth/internal/repository"
	"github.com/sandeepkv93/learning-platform-auth/internal/security"
)

func newProjectFixture(t *testing.T) (*ProjectService, Actor, Actor, Actor) {
	t.Helper()
	db := newTestDB(t)
	rbac := NewRBACService()
	svc := NewProjectService(repository.NewProjectRepository(db), repository.NewRunRepository(db))
	owner := Actor{UserID: 1, Permissions: rbac.PermissionsFor(domain.RoleStudent)}
	other := Actor{UserID: 2, Permissions: rbac.PermissionsFor(domain.RoleStudent)}
	admin := Actor{UserID: 3, Permissions: rbac.PermissionsFor(domain.RoleAdmin)}
	return svc, owner, other, admin
}

func TestProjectServiceCreateNormalizesAndValidates(t *testing.T) {
	svc, owner, _, _ := newProjectFixture(t)
	ctx := context.Background()
	p, err := svc.Create(ctx, owner, ProjectInput{Name: "  Loops  ", Tags: []string{"Go", " go ", "", "Intro"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Name != "Loops" || p.Visibility != domain.VisibilityPrivate || len(p.Tags) != 2 || p.Tags[0] != "go" {
		t.Fatalf("unexpected project: %+v", p)
	}

	var verr *security.ValidationError
	if _, err := svc.Create(ctx, owner, ProjectInput{Name: "  "}); !errors.As(err, &verr) || verr.Field != "name" {
		t.Fatalf("expected name validation error, got %v", err)
	}
	if _, err := svc.Create(ctx, owner, ProjectInput{Name: "x", Visibility: "secret"}); !errors.As(err, &verr) || verr.Field != "visibility" {
		t.Fatalf("expected visibility validation error, got %v", err)
	}
}

func TestProjectServiceAccessControl(t *testing.T) {
	svc, owner, other, admin := newProjectFixture(t)
	ctx := context.Background()
	private, _ := svc.Create(ctx, owner, ProjectInput{Name: "Private"})
	public, _ := svc.Create(ctx, owner, ProjectInput{Name: "Public", Visibility: "public"})

	if _, err := svc.Get(ctx, other, private.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for stranger, got %v", err)
	}
	if _, err := svc.Get(ctx, other, public.ID); err != nil {
		t.Fatalf("expected public project readable: %v", err)
	}
	if _, err := svc.Update(ctx, other, public.ID, ProjectPatch{Name: strPtr("Hijack")}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden update, got %v", err)
	}
	if _, err := svc.Get(ctx, admin, private.ID); err != nil {
		t.Fatalf("expected admin access: %v", err)
	}
	if _, err := svc.Get(ctx, owner, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	page, err := svc.List(ctx, other, "", repository.PageRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 1 || page.Items[0].ID != public.ID {
		t.Fatalf("expected only the public project for stranger, got %+v", page.Items)
	}
	page, _ = svc.List(ctx, admin, "", repository.PageRequest{})
	if page.Total != 2 {
		t.Fatalf("expected admin to list all projects, got %d", page.Total)
	}

	updated, err := svc.Update(ctx, owner, private.ID, ProjectPatch{Visibility: strPtr("shared"), Tags: &[]string{"A", "b"}})
	if err != nil {
		t.Fatalf("owner update: %v", err)
	}
	if updated.Visibility != domain.VisibilityShared || len(updated.Tags) != 2 {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	if err := svc.Delete(ctx, other, private.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden delete, got %v", err)
	}
	if err := svc.Delete(ctx, admin, private.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if _, err := svc.Get(ctx, owner, private.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted project gone, got %v", err)
	}
}

func TestProjectServiceRunLifecycle(t *testing.T) {
	svc, owner, other, _ := newProjectFixture(t)
	ctx := context.Background()
	p, _ := svc.Create(ctx, owner, ProjectInput{Name: "Runs", Visibility: "public"})

	var verr *security.ValidationError
	if _, err := svc.CreateRun(ctx, owner, p.ID, RunInput{Language: "python"}); !errors.As(err, &verr) {
		t.Fatalf("expected sources validation error, got %v", err)
	}
	run, err := svc.CreateRun(ctx, owner, p.ID, RunInput{Language: "Python", Sources: []SourceInput{{Path: "main.py", Content: "print(1)"}}})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if run.Status != domain.RunPending || run.Language != "python" || len(run.Sources) != 1 || run.Sources[0].Language != "python" {
		t.Fatalf("unexpected run: %+v", run)
	}

	if _, err := svc.AppendTraceEvents(ctx, owner, run.ID, []TraceEventInput{{Kind: "line"}}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict appending to pending run, got %v", err)
	}
	if _, err := svc.TransitionRun(ctx, other, run.ID, RunTransitionInput{Status: "running"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden transition by stranger, got %v", err)
	}
	if _, err := svc.TransitionRun(ctx, owner, run.ID, RunTransitionInput{Status: "completed"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict skipping running, got %v", err)
	}
	run, err = svc.TransitionRun(ctx, owner, run.ID, RunTransitionInput{Status: "running"})
	if err != nil || run.StartedAt == nil {
		t.Fatalf("start run: %v", err)
	}

	events, err := svc.AppendTraceEvents(ctx, owner, run.ID, []TraceEventInput{{Kind: "line", Payload: map[string]any{"line": "1"}}, {Kind: "stdout"}})
	if err != nil {
		t.Fatalf("append trace: %v", err)
	}
	if len(events) != 2 || events[0].Seq != 1 || events[1].Seq != 2 {
		t.Fatalf("unexpected trace seqs: %+v", events)
	}
	listed, err := svc.ListTraceEvents(ctx, other, run.ID, 1, 10)
	if err != nil {
		t.Fatalf("list trace: %v", err)
	}
	if len(listed) != 1 || listed[0].Kind != "stdout" {
		t.Fatalf("unexpected listed events: %+v", listed)
	}

	code := 0
	run, err = svc.TransitionRun(ctx, owner, run.ID, RunTransitionInput{Status: "completed", ExitCode: &code, Output: strPtr("1\n")})
	if err != nil || run.FinishedAt == nil || run.ExitCode == nil || *run.ExitCode != 0 {
		t.Fatalf("complete run: %v %+v", err, run)
	}
	if _, err := svc.TransitionRun(ctx, owner, run.ID, RunTransitionInput{Status: "running"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected terminal state to be final, got %v", err)
	}

	runs, err := svc.ListRuns(ctx, other, p.ID, repository.PageRequest{})
	if err != nil || runs.Total != 1 {
		t.Fatalf("list runs: %v %+v", err, runs)
	}
	got, err := svc.GetRun(ctx, other, run.ID)
	if err != nil || got.Status != domain.RunCompleted {
		t.Fatalf("get run: %v %+v", err, got)
	}
}
