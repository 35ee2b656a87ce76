package security

import (
	"net/http"
	"time"
)

const (
	SessionCookieName       = "session_token"
	SecureSessionCookieName = "__Host-session_token"
	CSRFCookieName          = "csrf_token"
	OAuthStateCookieName    = "oauth_state"
)

// CookiePolicy is the single place that decides how auth cookies are scoped.
// Set and clear use identical attributes so a clear always hits the cookie
// that was set.
type CookiePolicy struct {
	Secure bool
	Domain string
	TTL    time.Duration
}

func NewCookiePolicy(secure bool, domain string, ttl time.Duration) CookiePolicy {
	return CookiePolicy{Secure: secure, Domain: domain, TTL: ttl}
}

func (p CookiePolicy) SessionCookieName() string {
	if p.Secure && p.Domain == "" {
		return SecureSessionCookieName
	}
	return SessionCookieName
}

func (p CookiePolicy) SetSession(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, p.cookie(p.SessionCookieName(), token, true, expiresAt))
}

// SetCSRF issues the double-submit token. It is readable by scripts on purpose.
func (p CookiePolicy) SetCSRF(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, p.cookie(CSRFCookieName, token, false, expiresAt))
}

func (p CookiePolicy) SetOAuthState(w http.ResponseWriter, state string, ttl time.Duration) {
	c := p.cookie(OAuthStateCookieName, state, true, time.Now().Add(ttl))
	c.Path = "/api/v1/auth/google"
	c.Domain = ""
	http.SetCookie(w, c)
}

func (p CookiePolicy) ClearOAuthState(w http.ResponseWriter) {
	c := p.expired(OAuthStateCookieName, true)
	c.Path = "/api/v1/auth/google"
	c.Domain = ""
	http.SetCookie(w, c)
}

func (p CookiePolicy) Clear(w http.ResponseWriter) {
	http.SetCookie(w, p.expired(p.SessionCookieName(), true))
	http.SetCookie(w, p.expired(CSRFCookieName, false))
}

func (p CookiePolicy) SessionToken(r *http.Request) string {
	return GetCookie(r, p.SessionCookieName())
}

func (p CookiePolicy) cookie(name, value string, httpOnly bool, expiresAt time.Time) *http.Cookie {
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge <= 0 {
		maxAge = int(p.TTL.Seconds())
	}
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expiresAt.UTC(),
		MaxAge:   maxAge,
		HttpOnly: httpOnly,
		Secure:   p.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if name != SecureSessionCookieName {
		c.Domain = p.Domain
	}
	return c
}

func (p CookiePolicy) expired(name string, httpOnly bool) *http.Cookie {
	c := p.cookie(name, "", httpOnly, time.Unix(0, 0))
	c.MaxAge = -1
	return c
}

func GetCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
