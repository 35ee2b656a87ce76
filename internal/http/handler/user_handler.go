package handler

import (
	"net/http"

	"github.com/sandeepkv93/learning-platform-auth/internal/http/response"
	"github.com/sandeepkv93/learning-platform-auth/internal/service"
)

type UserHandler struct {
	users *service.UserService
	errs  ErrorWriter
}

func NewUserHandler(users *service.UserService, errs ErrorWriter) *UserHandler {
	return &UserHandler{users: users, errs: errs}
}

func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	user, perms, err := h.users.GetByID(p.UserID)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	response.NoStore(w)
	response.JSON(w, r, http.StatusOK, map[string]any{"user": user.Sanitize(), "permissions": perms})
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var in service.ProfileUpdate
	if !decodeJSON(w, r, &in) {
		return
	}
	user, err := h.users.UpdateProfile(r.Context(), p.UserID, in)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, user)
}
