package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/sandeepkv93/learning-platform-auth/internal/domain"
	"github.com/sandeepkv93/learning-platform-auth/internal/http/response"
	"github.com/sandeepkv93/learning-platform-auth/internal/observability"
	"github.com/sandeepkv93/learning-platform-auth/internal/security"
	"github.com/sandeepkv93/learning-platform-auth/internal/service"
)

const oauthStateTTL = 10 * time.Minute

type AuthHandler struct {
	auth        *service.AuthService
	oauth       *service.OAuthService
	cookies     security.CookiePolicy
	stateSecret string
	errs        ErrorWriter
}

// NewAuthHandler accepts a nil oauth service when Google sign-in is disabled.
func NewAuthHandler(auth *service.AuthService, oauth *service.OAuthService, cookies security.CookiePolicy, stateSecret string, errs ErrorWriter) *AuthHandler {
	return &AuthHandler{auth: auth, oauth: oauth, cookies: cookies, stateSecret: stateSecret, errs: errs}
}

type loginResponse struct {
	Token     string          `json:"token"`
	User      domain.UserView `json:"user"`
	ExpiresAt time.Time       `json:"expires_at"`
}

type registerResponse struct {
	Message string           `json:"message"`
	User    *domain.UserView `json:"user"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in security.RegistrationInput
	if !decodeJSON(w, r, &in) {
		return
	}
	user, err := h.auth.Register(r.Context(), in, clientInfo(r))
	if err != nil {
		observability.Audit(r, "auth.register", "failure", auditReason(err))
		h.errs.Write(w, r, err)
		return
	}
	observability.Audit(r, "auth.register", "success", "created", "user_id", user.ID)
	response.JSON(w, r, http.StatusCreated, registerResponse{Message: "registration successful", User: user})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var in security.LoginInput
	if !decodeJSON(w, r, &in) {
		return
	}
	res, err := h.auth.Login(r.Context(), in, clientInfo(r))
	if err != nil {
		observability.Audit(r, "auth.login", "failure", auditReason(err))
		h.errs.Write(w, r, err)
		return
	}
	observability.Audit(r, "auth.login", "success", "password", "user_id", res.User.ID, "session_id", res.Session.ID)
	h.writeSession(w, r, res)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if err := h.auth.Logout(r.Context(), p, clientInfo(r)); err != nil {
		h.errs.Write(w, r, err)
		return
	}
	h.cookies.Clear(w)
	response.NoStore(w)
	w.Header().Set("Clear-Site-Data", `"cookies", "storage"`)
	observability.Audit(r, "auth.logout", "success", p.Source, "user_id", p.UserID, "session_id", p.SessionID)
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	user, err := h.auth.CurrentUser(r.Context(), p.UserID)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	response.NoStore(w)
	response.JSON(w, r, http.StatusOK, user)
}

// Token re-signs an access token for the session behind the caller.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	token, expiresAt, err := h.auth.RefreshAccessToken(r.Context(), p)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	response.NoStore(w)
	response.JSON(w, r, http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt})
}

func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "google sign-in is not enabled", nil)
		return
	}
	state, err := security.SignState(h.stateSecret, oauthStateTTL, time.Now())
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	h.cookies.SetOAuthState(w, state, oauthStateTTL)
	http.Redirect(w, r, h.oauth.GoogleLoginURL(state), http.StatusFound)
}

func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "google sign-in is not enabled", nil)
		return
	}
	state := r.URL.Query().Get("state")
	stored := security.GetCookie(r, security.OAuthStateCookieName)
	h.cookies.ClearOAuthState(w)
	if state == "" || state != stored {
		observability.Audit(r, "auth.google.callback", "failure", "state_mismatch")
		h.errs.Write(w, r, security.ErrInvalidState)
		return
	}
	if err := security.VerifyState(h.stateSecret, state, time.Now()); err != nil {
		observability.Audit(r, "auth.google.callback", "failure", "state_invalid")
		h.errs.Write(w, r, err)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		h.errs.Write(w, r, &security.ValidationError{Field: "code", Message: "authorization code is required"})
		return
	}
	user, err := h.oauth.HandleGoogleCallback(r.Context(), code)
	if err != nil {
		observability.Audit(r, "auth.google.callback", "failure", auditReason(err))
		h.errs.Write(w, r, err)
		return
	}
	res, err := h.auth.StartSession(r.Context(), user, clientInfo(r))
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	observability.Audit(r, "auth.google.callback", "success", service.ProviderGoogle, "user_id", user.ID, "session_id", res.Session.ID)
	h.writeSession(w, r, res)
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, r *http.Request, res *service.LoginResult) {
	h.cookies.SetSession(w, res.SessionToken, res.Session.ExpiresAt)
	if csrf, err := security.NewCSRFToken(); err == nil {
		h.cookies.SetCSRF(w, csrf, res.Session.ExpiresAt)
	}
	response.NoStore(w)
	response.JSON(w, r, http.StatusOK, loginResponse{Token: res.AccessToken, User: res.User, ExpiresAt: res.ExpiresAt})
}

func auditReason(err error) string {
	var validation *security.ValidationError
	var locked *service.LockedError
	switch {
	case errors.As(err, &validation):
		return "validation:" + validation.Field
	case errors.As(err, &locked):
		return "locked"
	case errors.Is(err, service.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, service.ErrEmailTaken):
		return "email_taken"
	case errors.Is(err, service.ErrAccountDisabled):
		return "disabled"
	case errors.Is(err, service.ErrEmailNotVerified), errors.Is(err, service.ErrGoogleEmailNotVerified):
		return "unverified"
	case errors.Is(err, service.ErrOAuthFailed):
		return "oauth_exchange_error"
	case errors.Is(err, service.ErrOAuthIdentityConflict):
		return "identity_conflict"
	}
	return "error"
}
