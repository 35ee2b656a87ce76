package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/learning-platform-auth/internal/domain"
	"github.com/sandeepkv93/learning-platform-auth/internal/observability"

	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionEnrichment holds the request-derived fields merged into a session row.
// Geo fields are only written when Location is non-empty so a failed lookup
// keeps whatever an earlier enrichment stored.
type SessionEnrichment struct {
	IP          string
	UserAgent   string
	DeviceType  domain.DeviceType
	DeviceModel string
	Location    domain.Location
}

type SessionRepository interface {
	Create(s *domain.Session) error
	FindActiveByTokenHash(hash string, now time.Time) (*domain.Session, error)
	FindActiveByIDForUser(userID uint, sessionID string, now time.Time) (*domain.Session, error)
	FindLatestActiveByUserID(userID uint, now time.Time) (*domain.Session, error)
	ListActiveByUserID(userID uint, now time.Time) ([]domain.Session, error)
	UpdateEnrichment(userID uint, sessionID string, fields SessionEnrichment, now time.Time) (bool, error)
	DeleteByIDsForUser(userID uint, sessionIDs []string) (int64, error)
	DeleteByUserID(userID uint) (int64, error)
	CleanupExpired(now time.Time) (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(s *domain.Session) error {
	err := r.db.Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindActiveByTokenHash(hash string, now time.Time) (*domain.Session, error) {
	var s domain.Session
	err := r.db.Where("token_hash = ? AND expires_at > ?", hash, now.UTC()).First(&s).Error
	return r.found(&s, err, "find_active_by_token_hash")
}

func (r *GormSessionRepository) FindActiveByIDForUser(userID uint, sessionID string, now time.Time) (*domain.Session, error) {
	var s domain.Session
	err := r.db.Where("user_id = ? AND id = ? AND expires_at > ?", userID, sessionID, now.UTC()).First(&s).Error
	return r.found(&s, err, "find_active_by_id_for_user")
}

func (r *GormSessionRepository) FindLatestActiveByUserID(userID uint, now time.Time) (*domain.Session, error) {
	var s domain.Session
	err := r.db.Where("user_id = ? AND expires_at > ?", userID, now.UTC()).
		Order("updated_at DESC").
		Order("created_at DESC").
		First(&s).Error
	return r.found(&s, err, "find_latest_active_by_user_id")
}

func (r *GormSessionRepository) found(s *domain.Session, err error, op string) (*domain.Session, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", op, "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "session", op, "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", op, "success")
	return s, nil
}

func (r *GormSessionRepository) ListActiveByUserID(userID uint, now time.Time) ([]domain.Session, error) {
	sessions := []domain.Session{}
	err := r.db.Where("user_id = ? AND expires_at > ?", userID, now.UTC()).
		Order("updated_at DESC").
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "list_active_by_user_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "list_active_by_user_id", "success")
	return sessions, nil
}

func (r *GormSessionRepository) UpdateEnrichment(userID uint, sessionID string, fields SessionEnrichment, now time.Time) (bool, error) {
	updates := map[string]any{
		"ip":           fields.IP,
		"user_agent":   fields.UserAgent,
		"device_type":  fields.DeviceType,
		"device_model": fields.DeviceModel,
		"updated_at":   now.UTC(),
	}
	if !fields.Location.IsZero() {
		updates["city"] = fields.Location.City
		updates["country"] = fields.Location.Country
		updates["latitude"] = fields.Location.Latitude
		updates["longitude"] = fields.Location.Longitude
	}
	res := r.db.Model(&domain.Session{}).
		Where("user_id = ? AND id = ? AND expires_at > ?", userID, sessionID, now.UTC()).
		Updates(updates)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "update_enrichment", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "update_enrichment", "success")
	return res.RowsAffected > 0, nil
}

// DeleteByIDsForUser removes only rows owned by userID; ids belonging to other
// users are ignored.
func (r *GormSessionRepository) DeleteByIDsForUser(userID uint, sessionIDs []string) (int64, error) {
	if len(sessionIDs) == 0 {
		return 0, nil
	}
	res := r.db.Where("user_id = ? AND id IN ?", userID, sessionIDs).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "delete_by_ids_for_user", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "delete_by_ids_for_user", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) DeleteByUserID(userID uint) (int64, error) {
	res := r.db.Where("user_id = ?", userID).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "delete_by_user_id", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "delete_by_user_id", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) CleanupExpired(now time.Time) (int64, error) {
	res := r.db.Where("expires_at <= ?", now.UTC()).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "cleanup_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "cleanup_expired", "success")
	return res.RowsAffected, nil
}
