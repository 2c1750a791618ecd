package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Strob0t/agentmode/internal/domain/action"
	"github.com/Strob0t/agentmode/internal/domain/strategy"
	"github.com/Strob0t/agentmode/internal/service"
)

const defaultBodyLimit = 1 << 20 // 1 MB

// maxPatternResults caps GET /patterns regardless of the limit parameter.
const maxPatternResults = 100

// Handlers holds the services behind the agent-mode HTTP API.
type Handlers struct {
	Planner   *service.Planner
	Engine    *service.Engine
	Memory    *service.StrategyMemory
	BodyLimit int64
}

func (h *Handlers) bodyLimit() int64 {
	if h.BodyLimit > 0 {
		return h.BodyLimit
	}
	return defaultBodyLimit
}

// PlanTask handles POST /api/v1/plans.
func (h *Handlers) PlanTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.PlanRequest](w, r, h.bodyLimit())
	if !ok || !requireField(w, req.Request, "request") {
		return
	}
	resp, err := h.Planner.PlanTask(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "plan failed")
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// PlanTaskEnhanced handles POST /api/v1/plans/enhanced.
func (h *Handlers) PlanTaskEnhanced(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.PlanRequest](w, r, h.bodyLimit())
	if !ok || !requireField(w, req.Request, "request") {
		return
	}
	resp, err := h.Planner.PlanTaskEnhanced(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "plan failed")
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetTask handles GET /api/v1/tasks/{id}. It returns the chunk currently
// being worked on for the root task id.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Planner.Task(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// RunTask handles POST /api/v1/tasks/{id}/run. The call blocks until the
// current chunk finishes; per-step progress is streamed over /ws. A task
// that ends failed is still a 200 carrying the report. A run started while
// another is in progress gets 409.
func (h *Handlers) RunTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Planner.Task(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	report, err := h.Engine.Run(r.Context(), t)
	var exhausted *service.TaskExhaustionError
	switch {
	case err == nil, errors.As(err, &exhausted):
		writeJSON(w, http.StatusOK, report)
	default:
		writeDomainError(w, err, "task not found")
	}
}

// NextChunk handles POST /api/v1/tasks/{id}/next-chunk. It answers 204 once
// every chunk has been handed out.
func (h *Handlers) NextChunk(w http.ResponseWriter, r *http.Request) {
	resp, err := h.Planner.GetNextTaskChunk(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// AbandonTask handles DELETE /api/v1/tasks/{id}.
func (h *Handlers) AbandonTask(w http.ResponseWriter, r *http.Request) {
	if err := h.Planner.AbandonTask(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResumeTask handles POST /api/v1/tasks/{id}/resume.
func (h *Handlers) ResumeTask(w http.ResponseWriter, r *http.Request) {
	resp, err := h.Planner.ResumeTask(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// QueryPatterns handles GET /api/v1/patterns?problem=...&actionType=...&limit=N.
func (h *Handlers) QueryPatterns(w http.ResponseWriter, r *http.Request) {
	q := strategy.Query{
		ProblemDescription: r.URL.Query().Get("problem"),
		ActionType:         action.Type(r.URL.Query().Get("actionType")),
	}
	if !requireField(w, q.ProblemDescription, "problem") {
		return
	}
	if q.ActionType != "" && !q.ActionType.IsValid() {
		writeError(w, http.StatusBadRequest, "unknown actionType "+strconv.Quote(string(q.ActionType)))
		return
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		q.MaxResults = min(n, maxPatternResults)
	}
	matches, err := h.Memory.QueryPatterns(r.Context(), q)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}
