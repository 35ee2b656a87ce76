package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sandeepkv93/learning-platform-auth/internal/domain"
	"github.com/sandeepkv93/learning-platform-auth/internal/observability"
	"github.com/sandeepkv93/learning-platform-auth/internal/repository"
	"github.com/sandeepkv93/learning-platform-auth/internal/security"
)

// MaxRevokeSessionIDs bounds a single bulk revocation.
const MaxRevokeSessionIDs = 100

type SessionView struct {
	ID          string            `json:"id"`
	DeviceType  domain.DeviceType `json:"device_type"`
	DeviceModel string            `json:"device_model"`
	IP          string            `json:"ip"`
	UserAgent   string            `json:"user_agent"`
	City        string            `json:"city,omitempty"`
	Country     string            `json:"country,omitempty"`
	Latitude    *float64          `json:"latitude,omitempty"`
	Longitude   *float64          `json:"longitude,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	LastActive  time.Time         `json:"last_active"`
	ExpiresAt   time.Time         `json:"expires_at"`
	IsCurrent   bool              `json:"is_current"`
}

func newSessionView(s domain.Session, currentID string) SessionView {
	return SessionView{
		ID:          s.ID,
		DeviceType:  s.DeviceType,
		DeviceModel: s.DeviceModel,
		IP:          s.IP,
		UserAgent:   s.UserAgent,
		City:        s.City,
		Country:     s.Country,
		Latitude:    s.Latitude,
		Longitude:   s.Longitude,
		CreatedAt:   s.CreatedAt,
		LastActive:  s.UpdatedAt,
		ExpiresAt:   s.ExpiresAt,
		IsCurrent:   currentID != "" && s.ID == currentID,
	}
}

type RevokeResult struct {
	DeletedCount   int64 `json:"deleted_count"`
	LogoutRequired bool  `json:"logout_required"`
}

// IssuedSession carries the persisted row and the raw bearer secret. The raw
// token is never stored.
type IssuedSession struct {
	Session *domain.Session
	Token   string
}

type SessionInfoUpdate struct {
	SessionID string
	Token     string
	UserID    uint
	UserAgent string
	IP        string
	Location  *domain.Location
}

type SessionService struct {
	repo   repository.SessionRepository
	geo    GeoLocator
	events *SecurityEventLogger
	pepper string
	ttl    time.Duration
	now    func() time.Time
}

func NewSessionService(repo repository.SessionRepository, geo GeoLocator, events *SecurityEventLogger, pepper string, ttl time.Duration) *SessionService {
	if geo == nil {
		geo = NewNoopGeoLocator()
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &SessionService{repo: repo, geo: geo, events: events, pepper: pepper, ttl: ttl, now: time.Now}
}

func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	s.now = now
	return s
}

func (s *SessionService) TTL() time.Duration { return s.ttl }

func (s *SessionService) Create(ctx context.Context, userID uint, userAgent, ip string) (*IssuedSession, error) {
	token, err := security.NewSessionToken()
	if err != nil {
		return nil, err
	}
	deviceType, model := ParseDevice(userAgent)
	session := &domain.Session{
		TokenHash:   security.HashSessionToken(token, s.pepper),
		UserID:      userID,
		ExpiresAt:   s.now().UTC().Add(s.ttl),
		IP:          ip,
		UserAgent:   truncate(userAgent, 512),
		DeviceType:  deviceType,
		DeviceModel: model,
	}
	if err := s.repo.Create(session); err != nil {
		return nil, err
	}
	return &IssuedSession{Session: session, Token: token}, nil
}

func (s *SessionService) FindByToken(ctx context.Context, token string) (*domain.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, repository.ErrSessionNotFound
	}
	return s.repo.FindActiveByTokenHash(security.HashSessionToken(token, s.pepper), s.now())
}

func (s *SessionService) Find(ctx context.Context, userID uint, sessionID string) (*domain.Session, error) {
	return s.repo.FindActiveByIDForUser(userID, sessionID, s.now())
}

// GetCurrentSessionInfo returns the most recently active session of the user.
func (s *SessionService) GetCurrentSessionInfo(ctx context.Context, userID uint) (*domain.Session, error) {
	return s.repo.FindLatestActiveByUserID(userID, s.now())
}

// ResolveCurrentSessionID prefers the session bound to the caller's credential
// and falls back to the user's most recently active session.
func (s *SessionService) ResolveCurrentSessionID(ctx context.Context, userID uint, sessionID string) (string, error) {
	if sessionID != "" {
		if _, err := s.Find(ctx, userID, sessionID); err == nil {
			return sessionID, nil
		} else if !errors.Is(err, repository.ErrSessionNotFound) {
			return "", err
		}
	}
	latest, err := s.GetCurrentSessionInfo(ctx, userID)
	if err != nil {
		return "", err
	}
	return latest.ID, nil
}

// UpdateSessionInfo merges device and location details into an active
// session. It is best effort: a missing session or a failed geo lookup leaves
// the row untouched and reports false without error.
func (s *SessionService) UpdateSessionInfo(ctx context.Context, in SessionInfoUpdate) (bool, error) {
	sessionID := in.SessionID
	if sessionID == "" && in.Token != "" {
		session, err := s.FindByToken(ctx, in.Token)
		if err != nil || session.UserID != in.UserID {
			observability.RecordSessionEnrichment(ctx, "session_missing")
			return false, nil
		}
		sessionID = session.ID
	}
	if sessionID == "" {
		observability.RecordSessionEnrichment(ctx, "session_missing")
		return false, nil
	}
	deviceType, model := ParseDevice(in.UserAgent)
	fields := repository.SessionEnrichment{
		IP:          in.IP,
		UserAgent:   truncate(in.UserAgent, 512),
		DeviceType:  deviceType,
		DeviceModel: model,
	}
	if in.Location != nil {
		fields.Location = *in.Location
	} else if in.IP != "" {
		loc, err := s.geo.Lookup(ctx, in.IP)
		if err != nil {
			slog.DebugContext(ctx, "session geo lookup failed", "session_id", sessionID, "error", err)
		} else {
			fields.Location = loc
		}
	}
	updated, err := s.repo.UpdateEnrichment(in.UserID, sessionID, fields, s.now())
	if err != nil {
		observability.RecordSessionEnrichment(ctx, "error")
		slog.WarnContext(ctx, "session enrichment failed", "session_id", sessionID, "error", err)
		return false, nil
	}
	if !updated {
		observability.RecordSessionEnrichment(ctx, "session_missing")
		return false, nil
	}
	observability.RecordSessionEnrichment(ctx, "updated")
	return true, nil
}

func (s *SessionService) GetAllActiveSessions(ctx context.Context, userID uint, currentSessionID string) ([]SessionView, error) {
	sessions, err := s.repo.ListActiveByUserID(userID, s.now())
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, newSessionView(session, currentSessionID))
	}
	return views, nil
}

func (s *SessionService) RevokeSession(ctx context.Context, userID uint, sessionID, currentSessionID string) (RevokeResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return RevokeResult{}, &security.ValidationError{Field: "session_id", Message: "session id is required"}
	}
	return s.revoke(ctx, "single", userID, []string{sessionID}, currentSessionID)
}

func (s *SessionService) RevokeMultipleSessions(ctx context.Context, userID uint, sessionIDs []string, currentSessionID string) (RevokeResult, error) {
	if len(sessionIDs) > MaxRevokeSessionIDs {
		return RevokeResult{}, &security.ValidationError{Field: "session_ids", Message: fmt.Sprintf("at most %d session ids per request", MaxRevokeSessionIDs)}
	}
	ids := make([]string, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return RevokeResult{}, &security.ValidationError{Field: "session_ids", Message: "at least one session id is required"}
	}
	return s.revoke(ctx, "multiple", userID, ids, currentSessionID)
}

func (s *SessionService) RevokeAllSessions(ctx context.Context, userID uint) (RevokeResult, error) {
	n, err := s.repo.DeleteByUserID(userID)
	if err != nil {
		return RevokeResult{}, err
	}
	observability.RecordSessionRevocation(ctx, "all", n)
	s.logRevocation(ctx, userID, "all", n)
	return RevokeResult{DeletedCount: n, LogoutRequired: true}, nil
}

// RevokeCurrent deletes the session backing the caller's credential.
func (s *SessionService) RevokeCurrent(ctx context.Context, userID uint, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	n, err := s.repo.DeleteByIDsForUser(userID, []string{sessionID})
	if err != nil {
		return err
	}
	observability.RecordSessionRevocation(ctx, "logout", n)
	return nil
}

func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.CleanupExpired(s.now())
	if err != nil {
		return 0, err
	}
	observability.RecordSessionCleanup(ctx, n)
	return n, nil
}

// RunCleanup deletes expired sessions every interval until ctx is done.
func (s *SessionService) RunCleanup(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.CleanupExpired(ctx)
			if err != nil {
				slog.WarnContext(ctx, "session cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				slog.InfoContext(ctx, "expired sessions removed", "deleted", n)
			}
		}
	}
}

func (s *SessionService) revoke(ctx context.Context, mode string, userID uint, ids []string, currentSessionID string) (RevokeResult, error) {
	n, err := s.repo.DeleteByIDsForUser(userID, ids)
	if err != nil {
		return RevokeResult{}, err
	}
	observability.RecordSessionRevocation(ctx, mode, n)
	s.logRevocation(ctx, userID, mode, n)
	return RevokeResult{
		DeletedCount:   n,
		LogoutRequired: n > 0 && currentSessionID != "" && slices.Contains(ids, currentSessionID),
	}, nil
}

func (s *SessionService) logRevocation(ctx context.Context, userID uint, mode string, n int64) {
	if s.events == nil || n == 0 {
		return
	}
	s.events.Log(ctx, domain.SecurityEvent{
		Type:     domain.EventSessionRevoked,
		UserID:   userID,
		Metadata: map[string]string{"mode": mode, "count": strconv.FormatInt(n, 10)},
	})
}

// truncate caps v at n bytes without splitting a rune. Invalid byte sequences
// are dropped since Postgres rejects them in text columns.
func truncate(v string, n int) string {
	v = strings.ToValidUTF8(v, "")
	if len(v) <= n {
		return v
	}
	for n > 0 && !utf8.RuneStart(v[n]) {
		n--
	}
	return v[:n]
}
