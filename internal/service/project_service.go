package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sandeepkv93/learning-platform-auth/internal/domain"
	"github.com/sandeepkv93/learning-platform-auth/internal/repository"
	"github.com/sandeepkv93/learning-platform-auth/internal/security"
)

const (
	maxRunSources     = 50
	maxSourceBytes    = 256 * 1024
	maxTraceBatchSize = 500
)

type ProjectInput struct {
	Name       string         `json:"name"`
	Visibility string         `json:"visibility"`
	Tags       []string       `json:"tags"`
	Metadata   map[string]any `json:"metadata"`
}

type ProjectPatch struct {
	Name       *string        `json:"name"`
	Visibility *string        `json:"visibility"`
	Tags       *[]string      `json:"tags"`
	Metadata   map[string]any `json:"metadata"`
}

type SourceInput struct {
	Path     string `json:"path"`
	Language string `json:"language"`
	Content  string `json:"content"`
}

type RunInput struct {
	Language string        `json:"language"`
	Sources  []SourceInput `json:"sources"`
}

type RunTransitionInput struct {
	Status   string  `json:"status"`
	ExitCode *int    `json:"exit_code"`
	Output   *string `json:"output"`
}

type TraceEventInput struct {
	Kind      string         `json:"kind"`
	Timestamp *time.Time     `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

type ProjectService struct {
	projects repository.ProjectRepository
	runs     repository.RunRepository
	now      func() time.Time
}

func NewProjectService(projects repository.ProjectRepository, runs repository.RunRepository) *ProjectService {
	return &ProjectService{projects: projects, runs: runs, now: time.Now}
}

func (s *ProjectService) Create(ctx context.Context, actor Actor, in ProjectInput) (*domain.Project, error) {
	p := &domain.Project{
		Name:       in.Name,
		OwnerID:    actor.UserID,
		Visibility: domain.Visibility(in.Visibility),
		Tags:       in.Tags,
		Metadata:   in.Metadata,
	}
	if err := p.Normalize(); err != nil {
		return nil, projectValidationError(err)
	}
	if err := s.projects.Create(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *ProjectService) Get(ctx context.Context, actor Actor, id string) (*domain.Project, error) {
	p, err := s.find(id)
	if err != nil {
		return nil, err
	}
	if !CanAccessProject(actor, p) {
		return nil, ErrForbidden
	}
	return p, nil
}

func (s *ProjectService) List(ctx context.Context, actor Actor, tag string, page repository.PageRequest) (repository.PageResult[domain.Project], error) {
	query := repository.ProjectListQuery{PageRequest: page, ViewerID: actor.UserID, Tag: strings.ToLower(strings.TrimSpace(tag))}
	if actor.Has(PermProjectsReadAny) {
		query.ViewerID = 0
	}
	return s.projects.ListPaged(query)
}

func (s *ProjectService) Update(ctx context.Context, actor Actor, id string, patch ProjectPatch) (*domain.Project, error) {
	p, err := s.find(id)
	if err != nil {
		return nil, err
	}
	if !CanModifyProject(actor, p) {
		return nil, ErrForbidden
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Visibility != nil {
		p.Visibility = domain.Visibility(*patch.Visibility)
	}
	if patch.Tags != nil {
		p.Tags = *patch.Tags
	}
	if patch.Metadata != nil {
		p.Metadata = patch.Metadata
	}
	if err := p.Normalize(); err != nil {
		return nil, projectValidationError(err)
	}
	if err := s.projects.Update(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *ProjectService) Delete(ctx context.Context, actor Actor, id string) error {
	p, err := s.find(id)
	if err != nil {
		return err
	}
	if !CanModifyProject(actor, p) {
		return ErrForbidden
	}
	if err := s.projects.Delete(p.ID); err != nil {
		if errors.Is(err, repository.ErrProjectNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *ProjectService) CreateRun(ctx context.Context, actor Actor, projectID string, in RunInput) (*domain.Run, error) {
	p, err := s.Get(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	lang := strings.ToLower(strings.TrimSpace(in.Language))
	if lang == "" {
		return nil, &security.ValidationError{Field: "language", Message: "language is required"}
	}
	if len(in.Sources) == 0 || len(in.Sources) > maxRunSources {
		return nil, &security.ValidationError{Field: "sources", Message: "between 1 and 50 source files are required"}
	}
	run := &domain.Run{ProjectID: p.ID, UserID: actor.UserID, Language: lang, Status: domain.RunPending}
	for _, src := range in.Sources {
		path := strings.TrimSpace(src.Path)
		if path == "" {
			return nil, &security.ValidationError{Field: "sources.path", Message: "source path is required"}
		}
		if len(src.Content) > maxSourceBytes {
			return nil, &security.ValidationError{Field: "sources.content", Message: "source file exceeds 256 KiB"}
		}
		srcLang := strings.ToLower(strings.TrimSpace(src.Language))
		if srcLang == "" {
			srcLang = lang
		}
		run.Sources = append(run.Sources, domain.SourceFile{Path: path, Language: srcLang, Content: src.Content})
	}
	if err := s.runs.Create(run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *ProjectService) ListRuns(ctx context.Context, actor Actor, projectID string, page repository.PageRequest) (repository.PageResult[domain.Run], error) {
	if _, err := s.Get(ctx, actor, projectID); err != nil {
		return repository.PageResult[domain.Run]{}, err
	}
	return s.runs.ListByProject(projectID, page)
}

func (s *ProjectService) GetRun(ctx context.Context, actor Actor, runID string) (*domain.Run, error) {
	run, _, err := s.runWithProject(actor, runID)
	return run, err
}

func (s *ProjectService) TransitionRun(ctx context.Context, actor Actor, runID string, in RunTransitionInput) (*domain.Run, error) {
	run, p, err := s.runWithProject(actor, runID)
	if err != nil {
		return nil, err
	}
	if !CanModifyRun(actor, p, run) {
		return nil, ErrForbidden
	}
	next, ok := domain.ParseRunStatus(strings.ToLower(strings.TrimSpace(in.Status)))
	if !ok {
		return nil, &security.ValidationError{Field: "status", Message: "unknown run status"}
	}
	from := run.Status
	if err := run.Transition(next, s.now()); err != nil {
		return nil, ErrConflict
	}
	if in.ExitCode != nil {
		run.ExitCode = in.ExitCode
	}
	if in.Output != nil {
		run.Output = *in.Output
	}
	if err := s.runs.SaveTransition(run, from); err != nil {
		if errors.Is(err, repository.ErrRunStatusConflict) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return run, nil
}

func (s *ProjectService) AppendTraceEvents(ctx context.Context, actor Actor, runID string, in []TraceEventInput) ([]domain.TraceEvent, error) {
	run, p, err := s.runWithProject(actor, runID)
	if err != nil {
		return nil, err
	}
	if !CanModifyRun(actor, p, run) {
		return nil, ErrForbidden
	}
	if run.Status != domain.RunRunning {
		return nil, ErrConflict
	}
	if len(in) == 0 || len(in) > maxTraceBatchSize {
		return nil, &security.ValidationError{Field: "events", Message: "between 1 and 500 events are required"}
	}
	events := make([]domain.TraceEvent, 0, len(in))
	for _, e := range in {
		kind := strings.TrimSpace(e.Kind)
		if kind == "" {
			return nil, &security.ValidationError{Field: "events.kind", Message: "event kind is required"}
		}
		ev := domain.TraceEvent{Kind: kind, Payload: e.Payload}
		if e.Timestamp != nil {
			ev.Timestamp = e.Timestamp.UTC()
		}
		events = append(events, ev)
	}
	return s.runs.AppendTraceEvents(run.ID, events)
}

func (s *ProjectService) ListTraceEvents(ctx context.Context, actor Actor, runID string, afterSeq, limit int) ([]domain.TraceEvent, error) {
	run, _, err := s.runWithProject(actor, runID)
	if err != nil {
		return nil, err
	}
	return s.runs.ListTraceEvents(run.ID, afterSeq, limit)
}

func (s *ProjectService) find(id string) (*domain.Project, error) {
	p, err := s.projects.FindByID(id)
	if err != nil {
		if errors.Is(err, repository.ErrProjectNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *ProjectService) runWithProject(actor Actor, runID string) (*domain.Run, *domain.Project, error) {
	run, err := s.runs.FindByID(runID)
	if err != nil {
		if errors.Is(err, repository.ErrRunNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	p, err := s.find(run.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	if !CanAccessProject(actor, p) {
		return nil, nil, ErrForbidden
	}
	return run, p, nil
}

func projectValidationError(err error) error {
	switch {
	case errors.Is(err, domain.ErrProjectNameRequired), errors.Is(err, domain.ErrProjectNameTooLong):
		return &security.ValidationError{Field: "name", Message: err.Error()}
	case errors.Is(err, domain.ErrInvalidVisibility):
		return &security.ValidationError{Field: "visibility", Message: err.Error()}
	default:
		return err
	}
}
