package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/learning-platform-auth/internal/domain"
	"github.com/sandeepkv93/learning-platform-auth/internal/http/response"
	"github.com/sandeepkv93/learning-platform-auth/internal/observability"
	"github.com/sandeepkv93/learning-platform-auth/internal/repository"
	"github.com/sandeepkv93/learning-platform-auth/internal/security"
	"github.com/sandeepkv93/learning-platform-auth/internal/service"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

type AdminHandler struct {
	users  *service.UserService
	events *service.SecurityEventLogger
	errs   ErrorWriter
}

func NewAdminHandler(users *service.UserService, events *service.SecurityEventLogger, errs ErrorWriter) *AdminHandler {
	return &AdminHandler{users: users, events: events, errs: errs}
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := repository.UserListQuery{
		PageRequest: pageRequest(r),
		EmailPrefix: strings.TrimSpace(q.Get("email")),
	}
	if raw := q.Get("role"); raw != "" {
		role, ok := domain.ParseRole(raw)
		if !ok {
			h.errs.Write(w, r, &security.ValidationError{Field: "role", Message: "unknown role"})
			return
		}
		query.Role = role
	}
	if raw := q.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			h.errs.Write(w, r, &security.ValidationError{Field: "active", Message: "active must be a boolean"})
			return
		}
		query.Active = &active
	}
	page, err := h.users.List(r.Context(), query)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	targetID, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || targetID == 0 {
		h.errs.Write(w, r, &security.ValidationError{Field: "id", Message: "invalid user id"})
		return
	}
	var in service.AdminUserUpdate
	if !decodeJSON(w, r, &in) {
		return
	}
	user, err := h.users.AdminUpdate(r.Context(), p.UserID, uint(targetID), in)
	if err != nil {
		observability.Audit(r, "admin.user.update", "failure", auditReason(err), "actor_id", p.UserID, "target_id", targetID)
		h.errs.Write(w, r, err)
		return
	}
	observability.Audit(r, "admin.user.update", "success", "updated", "actor_id", p.UserID, "target_id", targetID)
	response.JSON(w, r, http.StatusOK, user)
}

func (h *AdminHandler) ListSecurityEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := queryInt(r, "limit", defaultEventLimit)
	if limit <= 0 || limit > maxEventLimit {
		limit = defaultEventLimit
	}
	var (
		events []domain.SecurityEvent
		err    error
	)
	switch {
	case q.Get("type") != "":
		events, err = h.events.ByType(r.Context(), domain.SecurityEventType(q.Get("type")), limit)
	case q.Get("user_id") != "":
		userID, parseErr := strconv.ParseUint(q.Get("user_id"), 10, 64)
		if parseErr != nil {
			h.errs.Write(w, r, &security.ValidationError{Field: "user_id", Message: "invalid user id"})
			return
		}
		events, err = h.events.ByUser(r.Context(), uint(userID), limit)
	default:
		events, err = h.events.Recent(r.Context(), limit)
	}
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (h *AdminHandler) SecuritySummary(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if err := security.ValidateEmail(email); err != nil {
		h.errs.Write(w, r, err)
		return
	}
	summary, err := h.events.Summary(r.Context(), email, 20)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, summary)
}
