package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/sandeepkv93/learning-platform-auth/internal/http/middleware"
	"github.com/sandeepkv93/learning-platform-auth/internal/http/response"
	"github.com/sandeepkv93/learning-platform-auth/internal/repository"
	"github.com/sandeepkv93/learning-platform-auth/internal/service"
)

// decodeJSON writes the 400 itself and reports false when the body is unusable.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
			response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "unknown field", map[string]string{"field": field})
		case errors.As(err, &maxErr):
			response.Error(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
		case errors.Is(err, io.EOF):
			response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "request body is required", map[string]string{"field": "body"})
		default:
			response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "malformed JSON body", map[string]string{"field": "body"})
		}
		return false
	}
	return true
}

func clientInfo(r *http.Request) service.ClientInfo {
	return service.ClientInfo{IP: middleware.ClientIP(r), UserAgent: r.UserAgent()}
}

// principal is only called behind AuthMiddleware, so a missing value is a
// routing bug and answered as 401.
func principal(w http.ResponseWriter, r *http.Request) (*service.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
	}
	return p, ok
}

func pageRequest(r *http.Request) repository.PageRequest {
	return repository.PageRequest{
		Page:     queryInt(r, "page", repository.DefaultPage),
		PageSize: queryInt(r, "page_size", repository.DefaultPageSize),
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
