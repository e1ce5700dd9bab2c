package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-orm/internal/audit"
)

// handleListAuditLogs returns paginated audit log entries with optional filters.
//
// Query parameters:
//   - action: insert, update or delete
//   - entity_type: employee, company, etc.
//   - entity_id: filter by specific entity ID
//   - revision: every change of one flush
//   - user_id: changes made by one actor
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Revision:   q.Get("revision"),
		UserID:     q.Get("user_id"),
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleEntityHistory returns every revision of one entity, oldest first.
func (s *Server) handleEntityHistory(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit logging not configured")
		return
	}

	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid entity id")
		return
	}

	history, err := s.auditRepo.History(r.Context(), chi.URLParam(r, "entity"), id)
	if err != nil {
		s.logger.Error("failed to read entity history", "error", err)
		writeInternalError(w, "failed to read entity history")
		return
	}
	if history == nil {
		history = []audit.AuditLog{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"history": history, "count": len(history)})
}
