package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-orm/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check and metrics (no auth required)
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.With(s.requirePermission(auth.PermStaffRead)).Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/employees", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermStaffRead)).Group(func(r chi.Router) {
					r.Get("/", s.handleListEmployees)
					r.Get("/count", s.handleCountEmployees)
					r.Get("/search", s.handleSearchEmployees)
					r.Get("/stats", s.handleEmployeeStats)
					r.Get("/{id}", s.handleGetEmployee)
					r.Get("/{id}/cars", s.handleListEmployeeCars)
					r.Get("/{id}/projects", s.handleListEmployeeProjects)
				})

				r.With(s.requirePermission(auth.PermStaffWrite)).Group(func(r chi.Router) {
					r.Post("/", s.handleCreateEmployee)
					r.Put("/{id}", s.handleUpdateEmployee)
					r.Delete("/{id}", s.handleDeleteEmployee)
					r.Post("/{id}/cars", s.handleAddEmployeeCar)
					r.Put("/{id}/projects/{projectID}", s.handleAssignProject)
					r.Delete("/{id}/projects/{projectID}", s.handleUnassignProject)
				})
			})

			r.Route("/companies", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermStaffRead)).Group(func(r chi.Router) {
					r.Get("/", s.handleListCompanies)
					r.Get("/{id}", s.handleGetCompany)
					r.Get("/{id}/employees", s.handleListCompanyEmployees)
				})

				r.With(s.requirePermission(auth.PermStaffWrite)).Group(func(r chi.Router) {
					r.Post("/", s.handleCreateCompany)
					r.Delete("/{id}", s.handleDeleteCompany)
				})
			})

			r.Route("/projects", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermStaffRead)).Get("/", s.handleListProjects)
				r.With(s.requirePermission(auth.PermStaffWrite)).Post("/", s.handleCreateProject)
			})

			r.Route("/audit", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermAuditRead))
				r.Get("/", s.handleListAuditLogs)
				r.Get("/history/{entity}/{id}", s.handleEntityHistory)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.factory.DB().PingContext(r.Context()); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":         status,
		"version":        s.version,
		"unit":           s.factory.Unit(),
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}
