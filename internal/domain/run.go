package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrInvalidRunTransition = errors.New("invalid run status transition")

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
	RunTimeout   RunStatus = "timeout"
)

var runTransitions = map[RunStatus][]RunStatus{
	RunPending: {RunRunning},
	RunRunning: {RunCompleted, RunFailed, RunCancelled, RunTimeout},
}

func ParseRunStatus(raw string) (RunStatus, bool) {
	switch s := RunStatus(raw); s {
	case RunPending, RunRunning, RunCompleted, RunFailed, RunCancelled, RunTimeout:
		return s, true
	default:
		return "", false
	}
}

func (s RunStatus) IsTerminal() bool {
	_, ok := runTransitions[s]
	return !ok
}

func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Run struct {
	ID         string       `gorm:"primaryKey;size:36" json:"id"`
	ProjectID  string       `gorm:"size:36;index;not null" json:"project_id"`
	UserID     uint         `gorm:"index;not null" json:"user_id"`
	Language   string       `gorm:"size:32;not null" json:"language"`
	Status     RunStatus    `gorm:"size:16;index;not null" json:"status"`
	ExitCode   *int         `json:"exit_code,omitempty"`
	Output     string       `gorm:"type:text" json:"output,omitempty"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Sources    []SourceFile `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"sources,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func (r *Run) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = RunPending
	}
	return nil
}

// Transition moves the run along pending -> running -> terminal. Terminal
// states never change again.
func (r *Run) Transition(next RunStatus, now time.Time) error {
	if !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidRunTransition, r.Status, next)
	}
	r.Status = next
	t := now.UTC()
	if next == RunRunning {
		r.StartedAt = &t
	}
	if next.IsTerminal() {
		r.FinishedAt = &t
	}
	return nil
}

type SourceFile struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RunID     string    `gorm:"size:36;index;not null" json:"run_id"`
	Path      string    `gorm:"size:255;not null" json:"path"`
	Language  string    `gorm:"size:32" json:"language,omitempty"`
	Content   string    `gorm:"type:text" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type TraceEvent struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	RunID     string            `gorm:"size:36;uniqueIndex:idx_trace_run_seq;not null" json:"run_id"`
	Seq       int               `gorm:"uniqueIndex:idx_trace_run_seq;not null" json:"seq"`
	Timestamp time.Time         `gorm:"not null" json:"timestamp"`
	Kind      string            `gorm:"size:32;not null" json:"kind"`
	Payload   datatypes.JSONMap `json:"payload,omitempty"`
}
