package service

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/learning-platform-auth/internal/domain"
	"github.com/sandeepkv93/learning-platform-auth/internal/repository"
	"github.com/sandeepkv93/learning-platform-auth/internal/security"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.Session{}, &domain.Project{}, &domain.Run{}, &domain.SourceFile{}, &domain.TraceEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

type authFixture struct {
	db       *gorm.DB
	users    repository.UserRepository
	sessions *SessionService
	events   *SecurityEventLogger
	lockout  *LockoutTracker
	auth     *AuthService
	jwt      *security.JWTManager
	clock    *testClock
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	db := newTestDB(t)
	clock := &testClock{now: time.Now().UTC()}
	users := repository.NewUserRepository(db)
	events := NewSecurityEventLogger(NewInMemorySecurityEventStore(100), slog.New(slog.NewTextHandler(io.Discard, nil)), SecurityEventLoggerOptions{DedupWindow: 0}).WithClock(clock.Now)
	sessions := NewSessionService(repository.NewSessionRepository(db), nil, events, "pepper", 24*time.Hour).WithClock(clock.Now)
	lockout := NewLockoutTracker(NewInMemoryLockoutStore(), DefaultLockoutPolicy()).WithClock(clock.Now)
	jwtMgr := security.NewJWTManager("learning-platform", "learning-platform-api", strings.Repeat("k", 32))
	auth := NewAuthService(users, security.NewPasswordHasher(bcrypt.MinCost), lockout, events, sessions, jwtMgr, AuthServiceOptions{
		AccessTokenTTL:      15 * time.Minute,
		BootstrapAdminEmail: "root@example.com",
	}).WithClock(clock.Now)
	return &authFixture{db: db, users: users, sessions: sessions, events: events, lockout: lockout, auth: auth, jwt: jwtMgr, clock: clock}
}

func strPtr(v string) *string { return &v }
