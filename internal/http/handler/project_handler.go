package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/learning-platform-auth/internal/http/response"
	"github.com/sandeepkv93/learning-platform-auth/internal/service"
)

const (
	defaultTraceLimit = 200
	maxTraceLimit     = 1000
)

type ProjectHandler struct {
	projects *service.ProjectService
	errs     ErrorWriter
}

func NewProjectHandler(projects *service.ProjectService, errs ErrorWriter) *ProjectHandler {
	return &ProjectHandler{projects: projects, errs: errs}
}

type traceEventsRequest struct {
	Events []service.TraceEventInput `json:"events"`
}

func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var in service.ProjectInput
	if !decodeJSON(w, r, &in) {
		return
	}
	project, err := h.projects.Create(r.Context(), p.Actor(), in)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, project)
}

func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	page, err := h.projects.List(r.Context(), p.Actor(), r.URL.Query().Get("tag"), pageRequest(r))
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	project, err := h.projects.Get(r.Context(), p.Actor(), chi.URLParam(r, "id"))
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, project)
}

func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var patch service.ProjectPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	project, err := h.projects.Update(r.Context(), p.Actor(), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, project)
}

func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if err := h.projects.Delete(r.Context(), p.Actor(), chi.URLParam(r, "id")); err != nil {
		h.errs.Write(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "project deleted"})
}

func (h *ProjectHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var in service.RunInput
	if !decodeJSON(w, r, &in) {
		return
	}
	run, err := h.projects.CreateRun(r.Context(), p.Actor(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, run)
}

func (h *ProjectHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	page, err := h.projects.ListRuns(r.Context(), p.Actor(), chi.URLParam(r, "id"), pageRequest(r))
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

func (h *ProjectHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	run, err := h.projects.GetRun(r.Context(), p.Actor(), chi.URLParam(r, "id"))
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, run)
}

func (h *ProjectHandler) TransitionRun(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var in service.RunTransitionInput
	if !decodeJSON(w, r, &in) {
		return
	}
	run, err := h.projects.TransitionRun(r.Context(), p.Actor(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, run)
}

func (h *ProjectHandler) AppendTraceEvents(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var in traceEventsRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	events, err := h.projects.AppendTraceEvents(r.Context(), p.Actor(), chi.URLParam(r, "id"), in.Events)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, map[string]any{"events": events})
}

func (h *ProjectHandler) ListTraceEvents(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", defaultTraceLimit)
	if limit <= 0 || limit > maxTraceLimit {
		limit = defaultTraceLimit
	}
	events, err := h.projects.ListTraceEvents(r.Context(), p.Actor(), chi.URLParam(r, "id"), queryInt(r, "after_seq", 0), limit)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"events": events})
}
