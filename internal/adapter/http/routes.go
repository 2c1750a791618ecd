package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Version is reported by GET /api/v1/.
const Version = "0.1.0"

// RouteOptions holds the optional pieces mounted next to the API.
type RouteOptions struct {
	// PlanLimiter wraps the planning endpoints when set.
	PlanLimiter func(http.Handler) http.Handler
	// WS serves the live status stream at /ws when set.
	WS http.HandlerFunc
	// MCP serves the MCP streamable HTTP endpoint at /mcp when set.
	MCP http.Handler
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, opts RouteOptions) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.WS != nil {
		r.Get("/ws", opts.WS)
	}
	if opts.MCP != nil {
		r.Handle("/mcp", opts.MCP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": Version})
		})

		// Planning
		r.Group(func(r chi.Router) {
			if opts.PlanLimiter != nil {
				r.Use(opts.PlanLimiter)
			}
			r.Post("/plans", h.PlanTask)
			r.Post("/plans/enhanced", h.PlanTaskEnhanced)
		})

		// Tasks
		r.Route("/tasks/{id}", func(r chi.Router) {
			r.Get("/", h.GetTask)
			r.Delete("/", h.AbandonTask)
			r.Post("/run", h.RunTask)
			r.Post("/next-chunk", h.NextChunk)
			r.Post("/resume", h.ResumeTask)
		})

		// Strategy memory
		r.Get("/patterns", h.QueryPatterns)
	})
}
