package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/sandeepkv93/learning-platform-auth/internal/domain"
	"github.com/sandeepkv93/learning-platform-auth/internal/observability"
	"github.com/sandeepkv93/learning-platform-auth/internal/repository"
)

const (
	ProviderGoogle    = "google"
	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

var (
	ErrGoogleEmailNotVerified = errors.New("google email not verified")
	ErrOAuthIdentityConflict  = errors.New("email is linked to a different google account")
	ErrOAuthFailed            = errors.New("google sign-in failed")
)

type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
}

type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error)
}

type GoogleOAuthProvider struct {
	cfg         *oauth2.Config
	userInfoURL string
}

func NewGoogleOAuthProvider(clientID, clientSecret, redirectURL string) *GoogleOAuthProvider {
	return &GoogleOAuthProvider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
	}
}

// WithEndpoint points the provider at a different authorization server, as
// used against local stubs.
func (p *GoogleOAuthProvider) WithEndpoint(endpoint oauth2.Endpoint, userInfoURL string) *GoogleOAuthProvider {
	p.cfg.Endpoint = endpoint
	p.userInfoURL = userInfoURL
	return p
}

func (p *GoogleOAuthProvider) AuthCodeURL(state string) string {
	return p.cfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *GoogleOAuthProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.cfg.Exchange(ctx, code)
}

func (p *GoogleOAuthProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.cfg.Client(ctx, token).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo status: %d", resp.StatusCode)
	}
	var body struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.Sub == "" || body.Email == "" {
		return nil, errors.New("missing required userinfo fields")
	}
	return &OAuthUserInfo{
		ProviderUserID: body.Sub,
		Email:          body.Email,
		EmailVerified:  body.EmailVerified,
		Name:           body.Name,
	}, nil
}

// OAuthService turns a provider callback into a local user. The session is
// started by AuthService exactly as for password logins.
type OAuthService struct {
	provider            OAuthProvider
	users               repository.UserRepository
	events              *SecurityEventLogger
	bootstrapAdminEmail string
	now                 func() time.Time
}

func NewOAuthService(provider OAuthProvider, users repository.UserRepository, events *SecurityEventLogger, bootstrapAdminEmail string) *OAuthService {
	return &OAuthService{
		provider:            provider,
		users:               users,
		events:              events,
		bootstrapAdminEmail: bootstrapAdminEmail,
		now:                 time.Now,
	}
}

func (s *OAuthService) GoogleLoginURL(state string) string {
	return s.provider.AuthCodeURL(state)
}

func (s *OAuthService) HandleGoogleCallback(ctx context.Context, code string) (*domain.User, error) {
	ctx, span := observability.StartSpan(ctx, "auth.google.callback")
	defer span.End()

	token, err := s.provider.Exchange(ctx, code)
	if err != nil {
		observability.RecordAuthLogin(ctx, ProviderGoogle, classifyOAuthError(err))
		return nil, fmt.Errorf("%w: exchange code: %w", ErrOAuthFailed, err)
	}
	info, err := s.provider.FetchUserInfo(ctx, token)
	if err != nil {
		observability.RecordAuthLogin(ctx, ProviderGoogle, classifyOAuthError(err))
		return nil, fmt.Errorf("%w: fetch userinfo: %w", ErrOAuthFailed, err)
	}
	if !info.EmailVerified {
		observability.RecordAuthLogin(ctx, ProviderGoogle, "email_unverified")
		return nil, ErrGoogleEmailNotVerified
	}
	user, err := s.upsert(info)
	if err != nil {
		observability.RecordAuthLogin(ctx, ProviderGoogle, "upsert_failed")
		return nil, err
	}
	if !user.IsActive {
		observability.RecordAuthLogin(ctx, ProviderGoogle, "disabled")
		return nil, ErrAccountDisabled
	}
	if s.events != nil {
		s.events.Log(ctx, domain.SecurityEvent{
			Type:     domain.EventLoginSuccess,
			UserID:   user.ID,
			Email:    user.Email,
			Metadata: map[string]string{"provider": ProviderGoogle},
		})
	}
	observability.RecordAuthLogin(ctx, ProviderGoogle, "success")
	return user, nil
}

func (s *OAuthService) upsert(info *OAuthUserInfo) (*domain.User, error) {
	user, err := s.users.FindByOAuthIdentity(ProviderGoogle, info.ProviderUserID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	provider := ProviderGoogle
	subject := info.ProviderUserID
	verifiedAt := s.now().UTC()
	email := domain.NormalizeEmail(info.Email)

	existing, err := s.users.FindByEmail(email)
	switch {
	case err == nil:
		if existing.HasOAuthIdentity() {
			return nil, ErrOAuthIdentityConflict
		}
		existing.OAuthProvider = &provider
		existing.OAuthSubject = &subject
		if existing.EmailVerifiedAt == nil {
			existing.EmailVerifiedAt = &verifiedAt
		}
		if err := s.users.Update(existing); err != nil {
			return nil, err
		}
		return existing, nil
	case !errors.Is(err, repository.ErrUserNotFound):
		return nil, err
	}

	name := strings.TrimSpace(info.Name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	user = &domain.User{
		Email:           email,
		Name:            name,
		Role:            InitialRole(email, s.bootstrapAdminEmail),
		IsActive:        true,
		OAuthProvider:   &provider,
		OAuthSubject:    &subject,
		EmailVerifiedAt: &verifiedAt,
	}
	if err := s.users.Create(user); err != nil {
		return nil, err
	}
	return user, nil
}

func classifyOAuthError(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled):
		return "context_canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "userinfo status"):
		return "userinfo_status"
	case strings.Contains(msg, "missing required userinfo fields"):
		return "invalid_userinfo"
	case strings.Contains(msg, "oauth2:"):
		return "oauth2_exchange"
	default:
		return "provider_error"
	}
}
