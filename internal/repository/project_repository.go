package repository

import (
	"context"
	"errors"

	"github.com/sandeepkv93/learning-platform-auth/internal/domain"
	"github.com/sandeepkv93/learning-platform-auth/internal/observability"

	"gorm.io/gorm"
)

var ErrProjectNotFound = errors.New("project not found")

type ProjectListQuery struct {
	PageRequest
	// ViewerID limits results to projects the viewer owns plus public ones.
	// Zero lists everything.
	ViewerID uint
	Tag      string
}

type ProjectRepository interface {
	Create(p *domain.Project) error
	FindByID(id string) (*domain.Project, error)
	Update(p *domain.Project) error
	Delete(id string) error
	ListPaged(query ProjectListQuery) (PageResult[domain.Project], error)
}

type GormProjectRepository struct{ db *gorm.DB }

func NewProjectRepository(db *gorm.DB) ProjectRepository { return &GormProjectRepository{db: db} }

func (r *GormProjectRepository) Create(p *domain.Project) error {
	if err := r.db.Create(p).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "project", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "project", "create", "success")
	return nil
}

func (r *GormProjectRepository) FindByID(id string) (*domain.Project, error) {
	var p domain.Project
	err := r.db.Where("id = ?", id).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "project", "find_by_id", "not_found")
			return nil, ErrProjectNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "project", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "project", "find_by_id", "success")
	return &p, nil
}

func (r *GormProjectRepository) Update(p *domain.Project) error {
	if err := r.db.Save(p).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "project", "update", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "project", "update", "success")
	return nil
}

// Delete removes the project together with its runs, sources and trace events.
func (r *GormProjectRepository) Delete(id string) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		runIDs := tx.Model(&domain.Run{}).Select("id").Where("project_id = ?", id)
		if err := tx.Where("run_id IN (?)", runIDs).Delete(&domain.TraceEvent{}).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id IN (?)", runIDs).Delete(&domain.SourceFile{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", id).Delete(&domain.Run{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.Project{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrProjectNotFound
		}
		return nil
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrProjectNotFound) {
			outcome = "not_found"
		}
		observability.RecordRepositoryOperation(context.Background(), "project", "delete", outcome)
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "project", "delete", "success")
	return nil
}

func (r *GormProjectRepository) ListPaged(query ProjectListQuery) (PageResult[domain.Project], error) {
	req := normalizePageRequest(query.PageRequest)
	result := PageResult[domain.Project]{Page: req.Page, PageSize: req.PageSize, Items: []domain.Project{}}

	base := r.db.Model(&domain.Project{})
	if query.ViewerID != 0 {
		base = base.Where("owner_id = ? OR visibility = ?", query.ViewerID, domain.VisibilityPublic)
	}
	if query.Tag != "" {
		base = base.Where("tags LIKE ?", `%"`+query.Tag+`"%`)
	}
	if err := base.Session(&gorm.Session{}).Count(&result.Total).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "project", "list_paged", "error")
		return PageResult[domain.Project]{}, err
	}
	if err := base.Order("updated_at DESC").Order("id ASC").Offset(pageOffset(req)).Limit(req.PageSize).Find(&result.Items).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "project", "list_paged", "error")
		return PageResult[domain.Project]{}, err
	}
	result.TotalPages = calcTotalPages(result.Total, req.PageSize)
	observability.RecordRepositoryOperation(context.Background(), "project", "list_paged", "success")
	return result, nil
}
