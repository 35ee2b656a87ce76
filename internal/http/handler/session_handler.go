package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/learning-platform-auth/internal/http/response"
	"github.com/sandeepkv93/learning-platform-auth/internal/observability"
	"github.com/sandeepkv93/learning-platform-auth/internal/security"
	"github.com/sandeepkv93/learning-platform-auth/internal/service"
)

type SessionHandler struct {
	sessions *service.SessionService
	cookies  security.CookiePolicy
	errs     ErrorWriter
}

func NewSessionHandler(sessions *service.SessionService, cookies security.CookiePolicy, errs ErrorWriter) *SessionHandler {
	return &SessionHandler{sessions: sessions, cookies: cookies, errs: errs}
}

type revokeManyRequest struct {
	IDs []string `json:"ids"`
}

// List is a pure read; enrichment happens only through EnrichCurrent.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	sessions, err := h.sessions.GetAllActiveSessions(r.Context(), p.UserID, p.SessionID)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	response.NoStore(w)
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *SessionHandler) EnrichCurrent(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	client := clientInfo(r)
	updated, err := h.sessions.UpdateSessionInfo(r.Context(), service.SessionInfoUpdate{
		SessionID: p.SessionID,
		UserID:    p.UserID,
		UserAgent: client.UserAgent,
		IP:        client.IP,
	})
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"updated": updated, "session_id": p.SessionID})
}

func (h *SessionHandler) RevokeOne(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	res, err := h.sessions.RevokeSession(r.Context(), p.UserID, chi.URLParam(r, "id"), p.SessionID)
	h.writeRevocation(w, r, p, "single", res, err)
}

func (h *SessionHandler) RevokeMany(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var in revokeManyRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	res, err := h.sessions.RevokeMultipleSessions(r.Context(), p.UserID, in.IDs, p.SessionID)
	h.writeRevocation(w, r, p, "multiple", res, err)
}

func (h *SessionHandler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	res, err := h.sessions.RevokeAllSessions(r.Context(), p.UserID)
	h.writeRevocation(w, r, p, "all", res, err)
}

func (h *SessionHandler) writeRevocation(w http.ResponseWriter, r *http.Request, p *service.Principal, mode string, res service.RevokeResult, err error) {
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	if res.LogoutRequired {
		h.cookies.Clear(w)
	}
	observability.Audit(r, "session.revoke", "success", mode,
		"user_id", p.UserID,
		"deleted_count", res.DeletedCount,
		"logout_required", res.LogoutRequired,
	)
	response.NoStore(w)
	response.JSON(w, r, http.StatusOK, res)
}
