package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-orm/internal/staff"
)

// Pagination fallbacks when the API config leaves them unset.
const (
	fallbackPageSize    = 20
	fallbackMaxPageSize = 100
)

// pathID parses the named chi URL parameter as an entity key.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// paging reads the page and size query parameters, clamped to the
// configured bounds. Pages count from zero.
func (s *Server) paging(r *http.Request) (page, size int) {
	size = s.cfg.DefaultPageSize
	if size <= 0 {
		size = fallbackPageSize
	}
	maxSize := s.cfg.MaxPageSize
	if maxSize <= 0 {
		maxSize = fallbackMaxPageSize
	}

	q := r.URL.Query()
	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(q.Get("size")); err == nil && v > 0 {
		size = v
	}
	if size > maxSize {
		size = maxSize
	}
	return page, size
}

// handleListEmployees returns one page of employees ordered by key.
func (s *Server) handleListEmployees(w http.ResponseWriter, r *http.Request) {
	page, size := s.paging(r)
	result, err := s.employees.FindPage(r.Context(), page, size)
	if err != nil {
		s.writeStoreError(w, err, "list employees")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSearchEmployees filters employees by last name prefix and age.
func (s *Server) handleSearchEmployees(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := staff.SearchFilter{LastName: q.Get("last_name")}
	for param, dst := range map[string]*int{"min_age": &filter.MinAge, "max_age": &filter.MaxAge} {
		raw := q.Get(param)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeBadRequest(w, param+" must be a non-negative integer")
			return
		}
		*dst = v
	}

	page, size := s.paging(r)
	result, err := s.employees.Search(r.Context(), filter, page, size)
	if err != nil {
		s.writeStoreError(w, err, "search employees")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCountEmployees returns the number of employees.
func (s *Server) handleCountEmployees(w http.ResponseWriter, r *http.Request) {
	n, err := s.employees.Count(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "count employees")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": n})
}

// handleEmployeeStats returns salary aggregates.
func (s *Server) handleEmployeeStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.employees.SalaryStats(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "compute salary stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleCreateEmployee inserts an employee. The key and version in the
// body are ignored.
func (s *Server) handleCreateEmployee(w http.ResponseWriter, r *http.Request) {
	var emp staff.Employee
	if err := json.NewDecoder(r.Body).Decode(&emp); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	emp.SetID(0)
	emp.SetVersion(0)

	if err := s.employees.Create(r.Context(), &emp); err != nil {
		s.writeStoreError(w, err, "create employee")
		return
	}
	writeJSON(w, http.StatusCreated, &emp)
}

// handleGetEmployee returns a single employee.
func (s *Server) handleGetEmployee(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid employee id")
		return
	}
	emp, err := s.employees.Get(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "get employee")
		return
	}
	writeJSON(w, http.StatusOK, emp)
}

// handleUpdateEmployee applies a partial document to an employee. A body
// carrying a version older than the stored row is rejected as stale.
func (s *Server) handleUpdateEmployee(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid employee id")
		return
	}

	emp, err := s.employees.Get(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "get employee")
		return
	}
	if err := json.NewDecoder(r.Body).Decode(emp); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	emp.SetID(id)

	updated, err := s.employees.Update(r.Context(), emp)
	if err != nil {
		s.writeStoreError(w, err, "update employee")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteEmployee deletes an employee and their cars.
func (s *Server) handleDeleteEmployee(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid employee id")
		return
	}
	if err := s.employees.Delete(r.Context(), id); err != nil {
		s.writeStoreError(w, err, "delete employee")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListEmployeeCars returns the cars of an employee.
func (s *Server) handleListEmployeeCars(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid employee id")
		return
	}
	cars, err := s.employees.Cars(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "list cars")
		return
	}
	if cars == nil {
		cars = []*staff.Car{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"cars": cars, "count": len(cars)})
}

// handleAddEmployeeCar gives an employee a car.
func (s *Server) handleAddEmployeeCar(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid employee id")
		return
	}
	var car staff.Car
	if err := json.NewDecoder(r.Body).Decode(&car); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := s.employees.AddCar(r.Context(), id, &car); err != nil {
		s.writeStoreError(w, err, "add car")
		return
	}
	writeJSON(w, http.StatusCreated, &car)
}

// handleListEmployeeProjects returns the projects an employee works on.
func (s *Server) handleListEmployeeProjects(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid employee id")
		return
	}
	projects, err := s.employees.Projects(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "list projects")
		return
	}
	if projects == nil {
		projects = []*staff.Project{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects, "count": len(projects)})
}

// handleAssignProject puts an employee on a project. Assigning twice is
// not an error.
func (s *Server) handleAssignProject(w http.ResponseWriter, r *http.Request) {
	s.linkProject(w, r, true)
}

// handleUnassignProject takes an employee off a project.
func (s *Server) handleUnassignProject(w http.ResponseWriter, r *http.Request) {
	s.linkProject(w, r, false)
}

func (s *Server) linkProject(w http.ResponseWriter, r *http.Request, assign bool) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid employee id")
		return
	}
	projectID, ok := pathID(r, "projectID")
	if !ok {
		writeBadRequest(w, "invalid project id")
		return
	}

	var err error
	if assign {
		err = s.employees.AssignProject(r.Context(), id, projectID)
	} else {
		err = s.employees.UnassignProject(r.Context(), id, projectID)
	}
	if err != nil {
		s.writeStoreError(w, err, "update project assignment")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
