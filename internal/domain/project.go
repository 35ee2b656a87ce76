package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	MaxProjectNameLength = 100
	MaxProjectTags       = 10
)

var (
	ErrProjectNameRequired = errors.New("project name is required")
	ErrProjectNameTooLong  = errors.New("project name must be at most 100 characters")
	ErrInvalidVisibility   = errors.New("invalid project visibility")
)

type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityShared  Visibility = "shared"
	VisibilityPublic  Visibility = "public"
)

func ParseVisibility(raw string) (Visibility, bool) {
	switch v := Visibility(strings.ToLower(strings.TrimSpace(raw))); v {
	case VisibilityPrivate, VisibilityShared, VisibilityPublic:
		return v, true
	case "":
		return VisibilityPrivate, true
	default:
		return "", false
	}
}

type Project struct {
	ID         string                      `gorm:"primaryKey;size:36" json:"id"`
	Name       string                      `gorm:"size:100;not null" json:"name"`
	OwnerID    uint                        `gorm:"index;not null" json:"owner_id"`
	Visibility Visibility                  `gorm:"size:16;index;not null" json:"visibility"`
	Tags       datatypes.JSONSlice[string] `json:"tags"`
	Metadata   datatypes.JSONMap           `json:"metadata,omitempty"`
	CreatedAt  time.Time                   `json:"created_at"`
	UpdatedAt  time.Time                   `json:"updated_at"`
}

func (p *Project) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// Normalize trims the name, defaults the visibility and canonicalizes tags.
func (p *Project) Normalize() error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return ErrProjectNameRequired
	}
	if utf8.RuneCountInString(p.Name) > MaxProjectNameLength {
		return ErrProjectNameTooLong
	}
	v, ok := ParseVisibility(string(p.Visibility))
	if !ok {
		return ErrInvalidVisibility
	}
	p.Visibility = v
	p.Tags = NormalizeTags(p.Tags)
	return nil
}

// NormalizeTags lower-cases, trims and deduplicates tags, keeping first-seen
// order and at most MaxProjectTags entries.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, min(len(tags), MaxProjectTags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		t := strings.ToLower(strings.TrimSpace(tag))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == MaxProjectTags {
			break
		}
	}
	return out
}
