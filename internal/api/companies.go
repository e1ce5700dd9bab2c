package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/gray-orm/internal/staff"
)

// companyView is a company with its current headcount.
type companyView struct {
	company   *staff.Company
	employees int
}

func (v companyView) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(v.company)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	fields["employees"] = v.employees
	return json.Marshal(fields)
}

// handleListCompanies returns every company with its headcount, or the
// single company matching the cif query parameter.
func (s *Server) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if cif := r.URL.Query().Get("cif"); cif != "" {
		company, found, err := s.companies.FindByCIF(ctx, cif)
		if err != nil {
			s.writeStoreError(w, err, "find company")
			return
		}
		if !found {
			writeNotFound(w, "company not found")
			return
		}
		writeJSON(w, http.StatusOK, company)
		return
	}

	companies, err := s.companies.FindAll(ctx)
	if err != nil {
		s.writeStoreError(w, err, "list companies")
		return
	}
	headcount, err := s.companies.Headcount(ctx)
	if err != nil {
		s.writeStoreError(w, err, "count staff")
		return
	}

	views := make([]companyView, 0, len(companies))
	for _, c := range companies {
		views = append(views, companyView{company: c, employees: headcount[c.ID()]})
	}
	writeJSON(w, http.StatusOK, map[string]any{"companies": views, "count": len(views)})
}

// handleCreateCompany inserts a company.
func (s *Server) handleCreateCompany(w http.ResponseWriter, r *http.Request) {
	var company staff.Company
	if err := json.NewDecoder(r.Body).Decode(&company); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	company.SetID(0)

	if err := s.companies.Create(r.Context(), &company); err != nil {
		s.writeStoreError(w, err, "create company")
		return
	}
	writeJSON(w, http.StatusCreated, &company)
}

// handleGetCompany returns a single company.
func (s *Server) handleGetCompany(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid company id")
		return
	}
	company, err := s.companies.Get(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "get company")
		return
	}
	writeJSON(w, http.StatusOK, company)
}

// handleDeleteCompany deletes a company. A company that still employs
// staff is refused with 409.
func (s *Server) handleDeleteCompany(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid company id")
		return
	}
	if err := s.companies.Delete(r.Context(), id); err != nil {
		s.writeStoreError(w, err, "delete company")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListCompanyEmployees returns the staff of a company.
func (s *Server) handleListCompanyEmployees(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid company id")
		return
	}
	ctx := r.Context()

	if _, err := s.companies.Get(ctx, id); err != nil {
		s.writeStoreError(w, err, "get company")
		return
	}
	employees, err := s.companies.Employees(ctx, id)
	if err != nil {
		s.writeStoreError(w, err, "list company staff")
		return
	}
	if employees == nil {
		employees = []*staff.Employee{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"employees": employees, "count": len(employees)})
}
