package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/learning-platform-auth/internal/domain"
	"github.com/sandeepkv93/learning-platform-auth/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrRunNotFound = errors.New("run not found")
	// ErrRunStatusConflict means the stored status changed between read and write.
	ErrRunStatusConflict = errors.New("run status changed concurrently")
)

type RunRepository interface {
	Create(run *domain.Run) error
	FindByID(id string) (*domain.Run, error)
	ListByProject(projectID string, page PageRequest) (PageResult[domain.Run], error)
	SaveTransition(run *domain.Run, from domain.RunStatus) error
	AppendTraceEvents(runID string, events []domain.TraceEvent) ([]domain.TraceEvent, error)
	ListTraceEvents(runID string, afterSeq, limit int) ([]domain.TraceEvent, error)
}

type GormRunRepository struct{ db *gorm.DB }

func NewRunRepository(db *gorm.DB) RunRepository { return &GormRunRepository{db: db} }

func (r *GormRunRepository) Create(run *domain.Run) error {
	if err := r.db.Create(run).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "run", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "run", "create", "success")
	return nil
}

func (r *GormRunRepository) FindByID(id string) (*domain.Run, error) {
	var run domain.Run
	err := r.db.Preload("Sources").Where("id = ?", id).First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "run", "find_by_id", "not_found")
			return nil, ErrRunNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "run", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "run", "find_by_id", "success")
	return &run, nil
}

func (r *GormRunRepository) ListByProject(projectID string, page PageRequest) (PageResult[domain.Run], error) {
	req := normalizePageRequest(page)
	result := PageResult[domain.Run]{Page: req.Page, PageSize: req.PageSize, Items: []domain.Run{}}
	base := r.db.Model(&domain.Run{}).Where("project_id = ?", projectID)
	if err := base.Session(&gorm.Session{}).Count(&result.Total).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "run", "list_by_project", "error")
		return PageResult[domain.Run]{}, err
	}
	if err := base.Order("created_at DESC").Order("id ASC").Offset(pageOffset(req)).Limit(req.PageSize).Find(&result.Items).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "run", "list_by_project", "error")
		return PageResult[domain.Run]{}, err
	}
	result.TotalPages = calcTotalPages(result.Total, req.PageSize)
	observability.RecordRepositoryOperation(context.Background(), "run", "list_by_project", "success")
	return result, nil
}

// SaveTransition persists a status change only if the row still holds from.
func (r *GormRunRepository) SaveTransition(run *domain.Run, from domain.RunStatus) error {
	res := r.db.Model(&domain.Run{}).
		Where("id = ? AND status = ?", run.ID, from).
		Updates(map[string]any{
			"status":      run.Status,
			"exit_code":   run.ExitCode,
			"output":      run.Output,
			"started_at":  run.StartedAt,
			"finished_at": run.FinishedAt,
		})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "run", "save_transition", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "run", "save_transition", "conflict")
		return ErrRunStatusConflict
	}
	observability.RecordRepositoryOperation(context.Background(), "run", "save_transition", "success")
	return nil
}

// AppendTraceEvents assigns consecutive sequence numbers after the current
// maximum for the run.
func (r *GormRunRepository) AppendTraceEvents(runID string, events []domain.TraceEvent) ([]domain.TraceEvent, error) {
	if len(events) == 0 {
		return []domain.TraceEvent{}, nil
	}
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		if err := tx.Model(&domain.TraceEvent{}).
			Where("run_id = ?", runID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}
		for i := range events {
			events[i].ID = 0
			events[i].RunID = runID
			events[i].Seq = maxSeq + i + 1
			if events[i].Timestamp.IsZero() {
				events[i].Timestamp = time.Now().UTC()
			}
		}
		return tx.Create(&events).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "trace_event", "append", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "trace_event", "append", "success")
	return events, nil
}

func (r *GormRunRepository) ListTraceEvents(runID string, afterSeq, limit int) ([]domain.TraceEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	events := []domain.TraceEvent{}
	err := r.db.Where("run_id = ? AND seq > ?", runID, afterSeq).Order("seq ASC").Limit(limit).Find(&events).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "trace_event", "list", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "trace_event", "list", "success")
	return events, nil
}
