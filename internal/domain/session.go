package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
)

// Session is one authenticated browser or device. A row exists exactly as long
// as the session is valid; revocation deletes it.
type Session struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	TokenHash   string     `gorm:"size:64;uniqueIndex;not null" json:"-"`
	UserID      uint       `gorm:"index;not null" json:"user_id"`
	ExpiresAt   time.Time  `gorm:"index;not null" json:"expires_at"`
	IP          string     `gorm:"size:64" json:"ip,omitempty"`
	UserAgent   string     `gorm:"size:512" json:"user_agent,omitempty"`
	DeviceType  DeviceType `gorm:"size:16" json:"device_type,omitempty"`
	DeviceModel string     `gorm:"size:128" json:"device_model,omitempty"`
	City        string     `gorm:"size:128" json:"city,omitempty"`
	Country     string     `gorm:"size:128" json:"country,omitempty"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `gorm:"index" json:"updated_at"`
}

func (s *Session) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

func (s *Session) IsActive(now time.Time) bool {
	return s.ExpiresAt.After(now)
}

// Location is the geo part of session enrichment.
type Location struct {
	City      string   `json:"city,omitempty"`
	Country   string   `json:"country,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

func (l Location) IsZero() bool {
	return l.City == "" && l.Country == "" && l.Latitude == nil && l.Longitude == nil
}
