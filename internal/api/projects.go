package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/gray-orm/internal/staff"
)

// handleListProjects returns one page of projects.
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	page, size := s.paging(r)
	result, err := s.projects.FindPage(r.Context(), page, size)
	if err != nil {
		s.writeStoreError(w, err, "list projects")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCreateProject inserts a project. Its key comes from the project
// sequence.
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	project := &staff.Project{}
	if err := json.NewDecoder(r.Body).Decode(project); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if project.Title == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "title is required")
		return
	}

	if err := s.projects.Create(r.Context(), project); err != nil {
		s.writeStoreError(w, err, "create project")
		return
	}
	writeJSON(w, http.StatusCreated, project)
}
