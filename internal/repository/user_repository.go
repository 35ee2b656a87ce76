package repository

import (
	"context"
	"errors"

	"github.com/sandeepkv93/learning-platform-auth/internal/domain"
	"github.com/sandeepkv93/learning-platform-auth/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

type UserListQuery struct {
	PageRequest
	EmailPrefix string
	Role        domain.Role
	Active      *bool
}

type UserRepository interface {
	FindByID(id uint) (*domain.User, error)
	FindByEmail(email string) (*domain.User, error)
	FindByOAuthIdentity(provider, subject string) (*domain.User, error)
	Create(user *domain.User) error
	Update(user *domain.User) error
	ListPaged(query UserListQuery) (PageResult[domain.User], error)
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) FindByID(id uint) (*domain.User, error) {
	var u domain.User
	err := r.db.First(&u, id).Error
	return r.found(&u, err, "find_by_id")
}

// FindByEmail matches case-insensitively. Emails are stored normalized, the
// lower() guard covers rows written before normalization.
func (r *GormUserRepository) FindByEmail(email string) (*domain.User, error) {
	var u domain.User
	err := r.db.Where("lower(email) = ?", domain.NormalizeEmail(email)).First(&u).Error
	return r.found(&u, err, "find_by_email")
}

func (r *GormUserRepository) FindByOAuthIdentity(provider, subject string) (*domain.User, error) {
	var u domain.User
	err := r.db.Where("oauth_provider = ? AND oauth_subject = ?", provider, subject).First(&u).Error
	return r.found(&u, err, "find_by_oauth_identity")
}

func (r *GormUserRepository) found(u *domain.User, err error, op string) (*domain.User, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "user", op, "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "user", op, "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", op, "success")
	return u, nil
}

func (r *GormUserRepository) Create(user *domain.User) error {
	user.Email = domain.NormalizeEmail(user.Email)
	err := r.db.Create(user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			observability.RecordRepositoryOperation(context.Background(), "user", "create", "conflict")
			return ErrEmailTaken
		}
		observability.RecordRepositoryOperation(context.Background(), "user", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "create", "success")
	return nil
}

func (r *GormUserRepository) Update(user *domain.User) error {
	err := r.db.Save(user).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "update", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "update", "success")
	return nil
}

func (r *GormUserRepository) ListPaged(query UserListQuery) (PageResult[domain.User], error) {
	req := normalizePageRequest(query.PageRequest)
	result := PageResult[domain.User]{
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    []domain.User{},
	}

	base := r.db.Model(&domain.User{})
	if query.EmailPrefix != "" {
		base = base.Where("email LIKE ?", domain.NormalizeEmail(query.EmailPrefix)+"%")
	}
	if query.Role != "" {
		base = base.Where("role = ?", query.Role)
	}
	if query.Active != nil {
		base = base.Where("is_active = ?", *query.Active)
	}

	if err := base.Session(&gorm.Session{}).Count(&result.Total).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "list_paged", "error")
		return PageResult[domain.User]{}, err
	}
	if err := base.Order("id ASC").Offset(pageOffset(req)).Limit(req.PageSize).Find(&result.Items).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "list_paged", "error")
		return PageResult[domain.User]{}, err
	}
	result.TotalPages = calcTotalPages(result.Total, req.PageSize)
	observability.RecordRepositoryOperation(context.Background(), "user", "list_paged", "success")
	return result, nil
}
