package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sandeepkv93/learning-platform-auth/internal/domain"
	"github.com/sandeepkv93/learning-platform-auth/internal/observability"
)

const (
	DefaultSecurityEventCapacity    = 1000
	DefaultSecurityEventDedupWindow = time.Second
	DefaultMonitorThreshold         = 3
	DefaultMonitorWindow            = 15 * time.Minute
)

// SecurityEventStore is a bounded, newest-first event log. Append reports
// false when an equivalent event was stored within the dedup window.
type SecurityEventStore interface {
	Append(ctx context.Context, event domain.SecurityEvent, dedupWindow time.Duration) (bool, error)
	Snapshot(ctx context.Context) ([]domain.SecurityEvent, error)
}

type InMemorySecurityEventStore struct {
	mu       sync.Mutex
	buf      []domain.SecurityEvent
	head     int
	size     int
	lastSeen map[string]time.Time
}

func NewInMemorySecurityEventStore(capacity int) *InMemorySecurityEventStore {
	if capacity <= 0 {
		capacity = DefaultSecurityEventCapacity
	}
	return &InMemorySecurityEventStore{
		buf:      make([]domain.SecurityEvent, capacity),
		lastSeen: make(map[string]time.Time),
	}
}

func (s *InMemorySecurityEventStore) Append(_ context.Context, event domain.SecurityEvent, dedupWindow time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := securityEventDedupKey(event)
	if dedupWindow > 0 {
		if seen, ok := s.lastSeen[key]; ok && event.Timestamp.Sub(seen) < dedupWindow && !event.Timestamp.Before(seen) {
			return false, nil
		}
		s.lastSeen[key] = event.Timestamp
		if len(s.lastSeen) > len(s.buf) {
			for k, ts := range s.lastSeen {
				if event.Timestamp.Sub(ts) >= dedupWindow {
					delete(s.lastSeen, k)
				}
			}
		}
	}
	s.buf[s.head] = event
	s.head = (s.head + 1) % len(s.buf)
	if s.size < len(s.buf) {
		s.size++
	}
	return true, nil
}

func (s *InMemorySecurityEventStore) Snapshot(_ context.Context) ([]domain.SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SecurityEvent, 0, s.size)
	for i := 1; i <= s.size; i++ {
		idx := (s.head - i + len(s.buf)) % len(s.buf)
		out = append(out, s.buf[idx])
	}
	return out, nil
}

func securityEventDedupKey(event domain.SecurityEvent) string {
	return fmt.Sprintf("%s|%s|%d", event.Type, domain.NormalizeEmail(event.Email), event.UserID)
}

type SecuritySummary struct {
	Email              string                 `json:"email"`
	RecentFailedLogins int                    `json:"failed_logins"`
	Window             string                 `json:"window"`
	ShouldMonitor      bool                   `json:"monitored"`
	LastEvents         []domain.SecurityEvent `json:"last_events"`
}

type SecurityEventLoggerOptions struct {
	DedupWindow      time.Duration
	MonitorThreshold int
	MonitorWindow    time.Duration
}

// SecurityEventLogger records auth events to the store and the structured log.
// Store failures are logged and never surface to the caller.
type SecurityEventLogger struct {
	store  SecurityEventStore
	opts   SecurityEventLoggerOptions
	logger *slog.Logger
	now    func() time.Time
}

func NewSecurityEventLogger(store SecurityEventStore, logger *slog.Logger, opts SecurityEventLoggerOptions) *SecurityEventLogger {
	if store == nil {
		store = NewInMemorySecurityEventStore(DefaultSecurityEventCapacity)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DedupWindow < 0 {
		opts.DedupWindow = 0
	}
	if opts.MonitorThreshold <= 0 {
		opts.MonitorThreshold = DefaultMonitorThreshold
	}
	if opts.MonitorWindow <= 0 {
		opts.MonitorWindow = DefaultMonitorWindow
	}
	return &SecurityEventLogger{store: store, opts: opts, logger: logger, now: time.Now}
}

func (l *SecurityEventLogger) WithClock(now func() time.Time) *SecurityEventLogger {
	l.now = now
	return l
}

func (l *SecurityEventLogger) Log(ctx context.Context, event domain.SecurityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	event.Email = domain.NormalizeEmail(event.Email)
	stored, err := l.store.Append(ctx, event, l.opts.DedupWindow)
	if err != nil {
		observability.RecordSecurityEvent(ctx, string(event.Type), "error")
		l.logger.WarnContext(ctx, "security event store append failed", "event_type", event.Type, "error", err)
		return
	}
	if !stored {
		observability.RecordSecurityEvent(ctx, string(event.Type), "deduplicated")
		return
	}
	observability.RecordSecurityEvent(ctx, string(event.Type), "stored")
	level := slog.LevelInfo
	if event.Type == domain.EventLoginFailure || event.Type == domain.EventAccountLocked {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "security.event",
		"event_type", event.Type,
		"user_id", event.UserID,
		"email", event.Email,
		"ip", event.IP,
		"user_agent", event.UserAgent,
		"metadata", event.Metadata,
	)
}

func (l *SecurityEventLogger) Recent(ctx context.Context, limit int) ([]domain.SecurityEvent, error) {
	return l.filter(ctx, limit, func(domain.SecurityEvent) bool { return true })
}

func (l *SecurityEventLogger) ByType(ctx context.Context, eventType domain.SecurityEventType, limit int) ([]domain.SecurityEvent, error) {
	return l.filter(ctx, limit, func(e domain.SecurityEvent) bool { return e.Type == eventType })
}

func (l *SecurityEventLogger) ByUser(ctx context.Context, userID uint, limit int) ([]domain.SecurityEvent, error) {
	return l.filter(ctx, limit, func(e domain.SecurityEvent) bool { return e.UserID == userID })
}

// FailedLoginCount counts login failures for email inside window ending now.
func (l *SecurityEventLogger) FailedLoginCount(ctx context.Context, email string, window time.Duration) (int, error) {
	email = domain.NormalizeEmail(email)
	cutoff := l.now().UTC().Add(-window)
	events, err := l.filter(ctx, 0, func(e domain.SecurityEvent) bool {
		return e.Type == domain.EventLoginFailure && e.Email == email && !e.Timestamp.Before(cutoff)
	})
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

func (l *SecurityEventLogger) ShouldMonitor(ctx context.Context, email string) (bool, error) {
	n, err := l.FailedLoginCount(ctx, email, l.opts.MonitorWindow)
	if err != nil {
		return false, err
	}
	return n >= l.opts.MonitorThreshold, nil
}

func (l *SecurityEventLogger) Summary(ctx context.Context, email string, limit int) (*SecuritySummary, error) {
	email = domain.NormalizeEmail(email)
	failed, err := l.FailedLoginCount(ctx, email, l.opts.MonitorWindow)
	if err != nil {
		return nil, err
	}
	last, err := l.filter(ctx, limit, func(e domain.SecurityEvent) bool { return e.Email == email })
	if err != nil {
		return nil, err
	}
	return &SecuritySummary{
		Email:              email,
		RecentFailedLogins: failed,
		Window:             l.opts.MonitorWindow.String(),
		ShouldMonitor:      failed >= l.opts.MonitorThreshold,
		LastEvents:         last,
	}, nil
}

func (l *SecurityEventLogger) filter(ctx context.Context, limit int, keep func(domain.SecurityEvent) bool) ([]domain.SecurityEvent, error) {
	all, err := l.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SecurityEvent, 0)
	for _, e := range all {
		if !keep(e) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
