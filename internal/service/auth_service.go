package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/sandeepkv93/learning-platform-auth/internal/domain"
	"github.com/sandeepkv93/learning-platform-auth/internal/observability"
	"github.com/sandeepkv93/learning-platform-auth/internal/repository"
	"github.com/sandeepkv93/learning-platform-auth/internal/security"
)

const (
	CredentialSourceBearer = "bearer"
	CredentialSourceCookie = "cookie"
)

type ClientInfo struct {
	IP        string
	UserAgent string
}

type LoginResult struct {
	AccessToken  string
	SessionToken string
	Session      *domain.Session
	User         domain.UserView
	ExpiresAt    time.Time
}

type AuthServiceOptions struct {
	AccessTokenTTL      time.Duration
	BootstrapAdminEmail string
}

// AuthService runs the login, registration and logout pipelines. Each step
// exits on the first failure.
type AuthService struct {
	users    repository.UserRepository
	hasher   *security.PasswordHasher
	lockout  *LockoutTracker
	events   *SecurityEventLogger
	sessions *SessionService
	jwt      *security.JWTManager
	opts     AuthServiceOptions
	now      func() time.Time
}

func NewAuthService(
	users repository.UserRepository,
	hasher *security.PasswordHasher,
	lockout *LockoutTracker,
	events *SecurityEventLogger,
	sessions *SessionService,
	jwt *security.JWTManager,
	opts AuthServiceOptions,
) *AuthService {
	if opts.AccessTokenTTL <= 0 {
		opts.AccessTokenTTL = 15 * time.Minute
	}
	return &AuthService{
		users:    users,
		hasher:   hasher,
		lockout:  lockout,
		events:   events,
		sessions: sessions,
		jwt:      jwt,
		opts:     opts,
		now:      time.Now,
	}
}

func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

func (s *AuthService) Login(ctx context.Context, in security.LoginInput, client ClientInfo) (*LoginResult, error) {
	ctx, span := observability.StartSpan(ctx, "auth.login")
	defer span.End()

	if err := security.ValidateLoginInput(in); err != nil {
		observability.RecordAuthLogin(ctx, "password", "invalid_input")
		return nil, err
	}
	email := domain.NormalizeEmail(in.Email)
	if err := s.lockout.Check(ctx, email); err != nil {
		observability.RecordAuthLogin(ctx, "password", "locked")
		return nil, err
	}

	user, err := s.users.FindByEmail(email)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}
	switch {
	case user == nil, !user.HasPassword():
		return nil, s.loginFailed(ctx, email, 0, client, "unknown_account")
	case !user.IsActive:
		observability.RecordAuthLogin(ctx, "password", "disabled")
		return nil, ErrAccountDisabled
	case !user.IsVerified():
		observability.RecordAuthLogin(ctx, "password", "unverified")
		return nil, ErrEmailNotVerified
	}
	if !s.hasher.Verify(in.Password, *user.PasswordHash) {
		return nil, s.loginFailed(ctx, email, user.ID, client, "bad_password")
	}

	if err := s.lockout.Reset(ctx, email); err != nil {
		return nil, err
	}
	s.events.Log(ctx, domain.SecurityEvent{
		Type:      domain.EventLoginSuccess,
		UserID:    user.ID,
		Email:     email,
		IP:        client.IP,
		UserAgent: client.UserAgent,
		Metadata:  map[string]string{"provider": "password"},
	})
	res, err := s.StartSession(ctx, user, client)
	if err != nil {
		return nil, err
	}
	observability.RecordAuthLogin(ctx, "password", "success")
	return res, nil
}

func (s *AuthService) loginFailed(ctx context.Context, email string, userID uint, client ClientInfo, reason string) error {
	observability.RecordAuthLogin(ctx, "password", "failure")
	rec, locked, err := s.lockout.RecordFailure(ctx, email)
	if err != nil {
		return err
	}
	s.events.Log(ctx, domain.SecurityEvent{
		Type:      domain.EventLoginFailure,
		UserID:    userID,
		Email:     email,
		IP:        client.IP,
		UserAgent: client.UserAgent,
		Metadata:  map[string]string{"reason": reason, "fail_count": strconv.Itoa(rec.FailCount)},
	})
	if locked {
		s.events.Log(ctx, domain.SecurityEvent{
			Type:      domain.EventAccountLocked,
			UserID:    userID,
			Email:     email,
			IP:        client.IP,
			UserAgent: client.UserAgent,
			Metadata:  map[string]string{"locked_until": rec.LockedUntil.UTC().Format(time.RFC3339)},
		})
	}
	return ErrInvalidCredentials
}

// StartSession persists a new session for an authenticated user and signs an
// access token bound to it.
func (s *AuthService) StartSession(ctx context.Context, user *domain.User, client ClientInfo) (*LoginResult, error) {
	issued, err := s.sessions.Create(ctx, user.ID, client.UserAgent, client.IP)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signFor(user, issued.Session)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		AccessToken:  token,
		SessionToken: issued.Token,
		Session:      issued.Session,
		User:         user.Sanitize(),
		ExpiresAt:    expiresAt,
	}, nil
}

// RefreshAccessToken signs a new access token for a live session.
func (s *AuthService) RefreshAccessToken(ctx context.Context, p *Principal) (string, time.Time, error) {
	session, err := s.sessions.Find(ctx, p.UserID, p.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return "", time.Time{}, ErrUnauthorized
		}
		return "", time.Time{}, err
	}
	user, err := s.activeUser(p.UserID)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.signFor(user, session)
}

func (s *AuthService) signFor(user *domain.User, session *domain.Session) (string, time.Time, error) {
	ttl := s.opts.AccessTokenTTL
	if remaining := session.ExpiresAt.Sub(s.now()); remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		return "", time.Time{}, ErrUnauthorized
	}
	token, err := s.jwt.SignAccessToken(user.ID, string(user.Role), session.ID, ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, s.now().Add(ttl).UTC(), nil
}

func (s *AuthService) Register(ctx context.Context, in security.RegistrationInput, client ClientInfo) (*domain.UserView, error) {
	ctx, span := observability.StartSpan(ctx, "auth.register")
	defer span.End()

	if err := security.ValidateRegistrationInput(in); err != nil {
		observability.RecordAuthRegister(ctx, "invalid_input")
		return nil, err
	}
	if security.IsCommonPassword(in.Password) {
		observability.RecordAuthRegister(ctx, "weak_password")
		return nil, &security.ValidationError{Field: "password", Message: "password is too common"}
	}
	email := domain.NormalizeEmail(in.Email)
	if _, err := s.users.FindByEmail(email); err == nil {
		observability.RecordAuthRegister(ctx, "conflict")
		return nil, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}
	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	verifiedAt := s.now().UTC()
	user := &domain.User{
		Email:           email,
		Name:            strings.TrimSpace(in.Name),
		Role:            InitialRole(email, s.opts.BootstrapAdminEmail),
		IsActive:        true,
		PasswordHash:    &digest,
		EmailVerifiedAt: &verifiedAt,
	}
	if err := s.users.Create(user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			observability.RecordAuthRegister(ctx, "conflict")
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	s.events.Log(ctx, domain.SecurityEvent{
		Type:      domain.EventRegistration,
		UserID:    user.ID,
		Email:     email,
		IP:        client.IP,
		UserAgent: client.UserAgent,
	})
	observability.RecordAuthRegister(ctx, "success")
	view := user.Sanitize()
	return &view, nil
}

// Logout deletes the session behind the caller's credential. Cookie clearing
// is the transport's job.
func (s *AuthService) Logout(ctx context.Context, p *Principal, client ClientInfo) error {
	if err := s.sessions.RevokeCurrent(ctx, p.UserID, p.SessionID); err != nil {
		observability.RecordAuthLogout(ctx, "error")
		return err
	}
	s.events.Log(ctx, domain.SecurityEvent{
		Type:      domain.EventLogout,
		UserID:    p.UserID,
		IP:        client.IP,
		UserAgent: client.UserAgent,
	})
	observability.RecordAuthLogout(ctx, "success")
	return nil
}

func (s *AuthService) CurrentUser(ctx context.Context, userID uint) (*domain.UserView, error) {
	user, err := s.activeUser(userID)
	if err != nil {
		return nil, err
	}
	view := user.Sanitize()
	return &view, nil
}

// AuthenticateAccessToken accepts a bearer JWT only while the session it
// names is still persisted and unexpired.
func (s *AuthService) AuthenticateAccessToken(ctx context.Context, raw string) (*Principal, error) {
	claims, err := s.jwt.ParseAccessToken(raw)
	if err != nil {
		observability.RecordAccessTokenValidation(ctx, "invalid", CredentialSourceBearer)
		return nil, ErrUnauthorized
	}
	userID, err := claims.UserID()
	if err != nil {
		observability.RecordAccessTokenValidation(ctx, "invalid_subject", CredentialSourceBearer)
		return nil, ErrUnauthorized
	}
	if _, err := s.sessions.Find(ctx, userID, claims.SessionID()); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			observability.RecordAccessTokenValidation(ctx, "session_revoked", CredentialSourceBearer)
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	role, _ := domain.ParseRole(claims.Role)
	observability.RecordAccessTokenValidation(ctx, "success", CredentialSourceBearer)
	return &Principal{UserID: userID, SessionID: claims.SessionID(), Role: role, Source: CredentialSourceBearer}, nil
}

func (s *AuthService) AuthenticateSessionToken(ctx context.Context, raw string) (*Principal, error) {
	session, err := s.sessions.FindByToken(ctx, raw)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			observability.RecordAccessTokenValidation(ctx, "session_missing", CredentialSourceCookie)
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	user, err := s.activeUser(session.UserID)
	if err != nil {
		observability.RecordAccessTokenValidation(ctx, "user_unavailable", CredentialSourceCookie)
		return nil, ErrUnauthorized
	}
	observability.RecordAccessTokenValidation(ctx, "success", CredentialSourceCookie)
	return &Principal{UserID: user.ID, SessionID: session.ID, Role: user.Role, Source: CredentialSourceCookie}, nil
}

func (s *AuthService) activeUser(userID uint) (*domain.User, error) {
	user, err := s.users.FindByID(userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}
	return user, nil
}

// InitialRole grants admin to the configured bootstrap address and student to
// everyone else.
func InitialRole(email, bootstrapAdminEmail string) domain.Role {
	if bootstrapAdminEmail != "" && domain.NormalizeEmail(email) == domain.NormalizeEmail(bootstrapAdminEmail) {
		return domain.RoleAdmin
	}
	return domain.RoleStudent
}
