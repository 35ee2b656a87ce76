package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sandeepkv93/learning-platform-auth/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInMemorySecurityEventStoreEvictsOldestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySecurityEventStore(3)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ev := domain.SecurityEvent{Type: domain.EventLoginFailure, Email: fmt.Sprintf("u%d@example.com", i), Timestamp: base.Add(time.Duration(i) * time.Minute)}
		if _, err := store.Append(ctx, ev, time.Second); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	got, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected capacity-bounded snapshot of 3, got %d", len(got))
	}
	for i, want := range []string{"u4@example.com", "u3@example.com", "u2@example.com"} {
		if got[i].Email != want {
			t.Fatalf("position %d: want %s got %s", i, want, got[i].Email)
		}
	}
}

func TestSecurityEventStoresSuppressDuplicates(t *testing.T) {
	_, client := newRedisClientForTest(t)
	stores := map[string]SecurityEventStore{
		"memory": NewInMemorySecurityEventStore(10),
		"redis":  NewRedisSecurityEventStore(client, "sec_test", 10),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()
			ev := domain.SecurityEvent{Type: domain.EventLoginFailure, Email: "ann@example.com", Timestamp: now}
			stored, err := store.Append(ctx, ev, time.Second)
			if err != nil || !stored {
				t.Fatalf("first append stored=%v err=%v", stored, err)
			}
			ev.Timestamp = now.Add(200 * time.Millisecond)
			stored, err = store.Append(ctx, ev, time.Second)
			if err != nil {
				t.Fatalf("duplicate append: %v", err)
			}
			if stored {
				t.Fatal("expected duplicate inside window to be suppressed")
			}
			other := domain.SecurityEvent{Type: domain.EventLoginSuccess, Email: "ann@example.com", Timestamp: now}
			if stored, _ := store.Append(ctx, other, time.Second); !stored {
				t.Fatal("expected different type to be stored")
			}
			events, err := store.Snapshot(ctx)
			if err != nil {
				t.Fatalf("snapshot: %v", err)
			}
			if len(events) != 2 || events[0].Type != domain.EventLoginSuccess {
				t.Fatalf("unexpected snapshot: %+v", events)
			}
		})
	}
}

func TestInMemorySecurityEventStoreAcceptsAfterWindow(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySecurityEventStore(10)
	now := time.Now().UTC()
	ev := domain.SecurityEvent{Type: domain.EventLogout, UserID: 4, Timestamp: now}
	if stored, _ := store.Append(ctx, ev, time.Second); !stored {
		t.Fatal("expected first append stored")
	}
	ev.Timestamp = now.Add(1500 * time.Millisecond)
	if stored, _ := store.Append(ctx, ev, time.Second); !stored {
		t.Fatal("expected append after window stored")
	}
}

func TestRedisSecurityEventStoreTrimsToCapacity(t *testing.T) {
	ctx := context.Background()
	_, client := newRedisClientForTest(t)
	store := NewRedisSecurityEventStore(client, "sec_cap", 2)
	for i := 0; i < 4; i++ {
		ev := domain.SecurityEvent{Type: domain.EventRegistration, UserID: uint(i + 1), Timestamp: time.Now().UTC()}
		if _, err := store.Append(ctx, ev, 0); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	events, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(events) != 2 || events[0].UserID != 4 || events[1].UserID != 3 {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestSecurityEventLoggerQueriesAndMonitoring(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	logger := NewSecurityEventLogger(NewInMemorySecurityEventStore(100), discardLogger(), SecurityEventLoggerOptions{DedupWindow: time.Second}).WithClock(clock.Now)

	for i := 0; i < 2; i++ {
		logger.Log(ctx, domain.SecurityEvent{Type: domain.EventLoginFailure, Email: "Ann@Example.com"})
		clock.Advance(2 * time.Second)
	}
	monitored, err := logger.ShouldMonitor(ctx, "ann@example.com")
	if err != nil {
		t.Fatalf("should monitor: %v", err)
	}
	if monitored {
		t.Fatal("expected no monitoring below threshold")
	}
	logger.Log(ctx, domain.SecurityEvent{Type: domain.EventLoginFailure, Email: "ann@example.com"})
	monitored, _ = logger.ShouldMonitor(ctx, "ann@example.com")
	if !monitored {
		t.Fatal("expected monitoring at three failures")
	}

	logger.Log(ctx, domain.SecurityEvent{Type: domain.EventLoginSuccess, UserID: 9, Email: "bo@example.com"})
	byType, _ := logger.ByType(ctx, domain.EventLoginSuccess, 10)
	if len(byType) != 1 || byType[0].UserID != 9 {
		t.Fatalf("unexpected by-type result: %+v", byType)
	}
	byUser, _ := logger.ByUser(ctx, 9, 10)
	if len(byUser) != 1 {
		t.Fatalf("unexpected by-user result: %+v", byUser)
	}
	recent, _ := logger.Recent(ctx, 2)
	if len(recent) != 2 || recent[0].Type != domain.EventLoginSuccess {
		t.Fatalf("unexpected recent result: %+v", recent)
	}

	clock.Advance(16 * time.Minute)
	n, err := logger.FailedLoginCount(ctx, "ann@example.com", 15*time.Minute)
	if err != nil {
		t.Fatalf("failed login count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected failures outside window ignored, got %d", n)
	}

	summary, err := logger.Summary(ctx, "ANN@example.com", 5)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.ShouldMonitor || len(summary.LastEvents) != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestSecurityEventLoggerDeduplicatesWithinOneSecond(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	logger := NewSecurityEventLogger(nil, discardLogger(), SecurityEventLoggerOptions{DedupWindow: time.Second}).WithClock(clock.Now)
	logger.Log(ctx, domain.SecurityEvent{Type: domain.EventLoginFailure, Email: "dup@example.com"})
	clock.Advance(500 * time.Millisecond)
	logger.Log(ctx, domain.SecurityEvent{Type: domain.EventLoginFailure, Email: "dup@example.com"})
	events, _ := logger.Recent(ctx, 0)
	if len(events) != 1 {
		t.Fatalf("expected duplicate suppressed, got %d events", len(events))
	}
}
