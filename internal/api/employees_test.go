package api

import (
	"net/http"
	"strconv"
	"testing"
)

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

// created is the key and version echoed back by a create or update.
type created struct {
	ID      int64 `json:"id"`
	Version int64 `json:"version"`
}

// mustCreate posts body to path and returns the new key.
func mustCreate(t *testing.T, h http.Handler, path string, body any) int64 {
	t.Helper()
	w := do(t, h, http.MethodPost, path, body, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("POST %s status = %d, body %s", path, w.Code, w.Body.String())
	}
	var c created
	decode(t, w, &c)
	if c.ID == 0 {
		t.Fatalf("POST %s returned no id", path)
	}
	return c.ID
}

func employeeBody(first, last string, age int, salary float64, companyID int64) map[string]any {
	body := map[string]any{
		"first_name": first,
		"last_name":  last,
		"email":      first + "." + last + "@example.com",
		"age":        age,
		"salary":     salary,
	}
	if companyID != 0 {
		body["company_id"] = companyID
	}
	return body
}

// seed creates Acme with three employees and returns their keys.
func seed(t *testing.T, h http.Handler) (companyID int64, employees []int64) {
	t.Helper()
	companyID = mustCreate(t, h, "/api/v1/companies", map[string]any{
		"cif": "B12345678", "legal_name": "Acme", "capital": 10000, "year": 1999,
	})
	for _, e := range []map[string]any{
		employeeBody("Ann", "Garcia", 31, 42000, companyID),
		employeeBody("Bob", "Garcia", 45, 30000, companyID),
		employeeBody("Cid", "Lopez", 27, 27000, companyID),
	} {
		employees = append(employees, mustCreate(t, h, "/api/v1/employees", e))
	}
	return companyID, employees
}

func TestEmployees_CreateAndGet(t *testing.T) {
	srv := testServer(t, "")
	h := srv.Handler()

	body := employeeBody("Ann", "Garcia", 31, 42000, 0)
	body["email"] = "Ann.Garcia@Example.com"
	body["attributes"] = map[string]any{"team": "core"}
	id := mustCreate(t, h, "/api/v1/employees", body)

	w := do(t, h, http.MethodGet, "/api/v1/employees/"+itoa(id), nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want %d", w.Code, http.StatusOK)
	}
	var got struct {
		created
		Email        string         `json:"email"`
		RegisterDate *string        `json:"register_date"`
		Attributes   map[string]any `json:"attributes"`
		CompanyID    *int64         `json:"company_id"`
	}
	decode(t, w, &got)
	if got.Version != 1 {
		t.Errorf("version = %d, want 1", got.Version)
	}
	if got.Email != "ann.garcia@example.com" {
		t.Errorf("email = %q, want it lowercased", got.Email)
	}
	if got.RegisterDate == nil {
		t.Error("register_date not stamped")
	}
	if got.Attributes["team"] != "core" {
		t.Errorf("attributes = %v", got.Attributes)
	}
	if got.CompanyID != nil {
		t.Errorf("company_id = %d, want null", *got.CompanyID)
	}
}

func TestEmployees_Errors(t *testing.T) {
	srv := testServer(t, "")
	h := srv.Handler()
	_, ids := seed(t, h)

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"invalid JSON", http.MethodPost, "/api/v1/employees", "{bad", http.StatusBadRequest, ErrCodeBadRequest},
		{"invalid email", http.MethodPost, "/api/v1/employees", map[string]any{
			"first_name": "Dan", "last_name": "Ruiz", "email": "not-an-email", "age": 30,
		}, http.StatusBadRequest, ErrCodeValidation},
		{"negative age", http.MethodPost, "/api/v1/employees", employeeBody("Dan", "Ruiz", -1, 0, 0), http.StatusBadRequest, ErrCodeValidation},
		{"duplicate email", http.MethodPost, "/api/v1/employees", employeeBody("Ann", "Garcia", 40, 0, 0), http.StatusConflict, ErrCodeConflict},
		{"unknown company", http.MethodPost, "/api/v1/employees", employeeBody("Dan", "Ruiz", 30, 0, 999), http.StatusConflict, ErrCodeConflict},
		{"missing employee", http.MethodGet, "/api/v1/employees/999", nil, http.StatusNotFound, ErrCodeNotFound},
		{"bad id", http.MethodGet, "/api/v1/employees/abc", nil, http.StatusBadRequest, ErrCodeBadRequest},
		{"delete missing", http.MethodDelete, "/api/v1/employees/999", nil, http.StatusNotFound, ErrCodeNotFound},
		{"update missing", http.MethodPut, "/api/v1/employees/999", map[string]any{"age": 1}, http.StatusNotFound, ErrCodeNotFound},
		{"stale version", http.MethodPut, "/api/v1/employees/" + itoa(ids[0]), map[string]any{"version": 0, "age": 32}, http.StatusConflict, ErrCodeStale},
		{"search bad age", http.MethodGet, "/api/v1/employees/search?min_age=x", nil, http.StatusBadRequest, ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, tt.body, "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
			var e Error
			decode(t, w, &e)
			if e.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", e.Code, tt.wantErr)
			}
		})
	}
}

func TestEmployees_Update(t *testing.T) {
	srv := testServer(t, "")
	h := srv.Handler()
	_, ids := seed(t, h)
	path := "/api/v1/employees/" + itoa(ids[0])

	w := do(t, h, http.MethodPut, path, map[string]any{"salary": 45000, "married": true}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body %s", w.Code, w.Body.String())
	}
	var got struct {
		created
		FirstName    string  `json:"first_name"`
		Salary       float64 `json:"salary"`
		Married      bool    `json:"married"`
		LastModified *string `json:"last_modified"`
	}
	decode(t, w, &got)
	if got.Version != 2 {
		t.Errorf("version = %d, want 2", got.Version)
	}
	if got.FirstName != "Ann" || got.Salary != 45000 || !got.Married {
		t.Errorf("updated employee = %+v", got)
	}
	if got.LastModified == nil {
		t.Error("last_modified not stamped")
	}

	// The version read back is current, so a client echoing it succeeds.
	w = do(t, h, http.MethodPut, path, map[string]any{"version": 2, "age": 32}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("PUT with current version status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestEmployees_ListAndPaging(t *testing.T) {
	srv := testServer(t, "")
	h := srv.Handler()
	seed(t, h)

	tests := []struct {
		name      string
		path      string
		wantItems int
		wantPage  int
		wantSize  int
	}{
		{"default size", "/api/v1/employees", 2, 0, 2},
		{"second page", "/api/v1/employees?page=1", 1, 1, 2},
		{"explicit size", "/api/v1/employees?size=5", 3, 0, 5},
		{"size clamped", "/api/v1/employees?size=500", 3, 0, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodGet, tt.path, nil, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			var page struct {
				Items []created `json:"items"`
				Page  int       `json:"page"`
				Size  int       `json:"size"`
				Total int64     `json:"total"`
			}
			decode(t, w, &page)
			if len(page.Items) != tt.wantItems || page.Page != tt.wantPage || page.Size != tt.wantSize || page.Total != 3 {
				t.Errorf("page = {items:%d page:%d size:%d total:%d}, want {items:%d page:%d size:%d total:3}",
					len(page.Items), page.Page, page.Size, page.Total, tt.wantItems, tt.wantPage, tt.wantSize)
			}
		})
	}
}

func TestEmployees_SearchCountStats(t *testing.T) {
	srv := testServer(t, "")
	h := srv.Handler()
	seed(t, h)

	w := do(t, h, http.MethodGet, "/api/v1/employees/search?last_name=Gar&min_age=40&size=10", nil, "")
	var page struct {
		Items []struct {
			FirstName string `json:"first_name"`
		} `json:"items"`
		Total int64 `json:"total"`
	}
	decode(t, w, &page)
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].FirstName != "Bob" {
		t.Errorf("search = %+v, want only Bob", page)
	}

	w = do(t, h, http.MethodGet, "/api/v1/employees/count", nil, "")
	var count map[string]int64
	decode(t, w, &count)
	if count["count"] != 3 {
		t.Errorf("count = %d, want 3", count["count"])
	}

	w = do(t, h, http.MethodGet, "/api/v1/employees/stats", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d, body %s", w.Code, w.Body.String())
	}
	var stats map[string]float64
	decode(t, w, &stats)
	if stats["count"] != 3 || stats["average"] != 33000 || stats["min"] != 27000 || stats["max"] != 42000 {
		t.Errorf("stats = %v", stats)
	}
}

func TestEmployees_DeleteCascadesCars(t *testing.T) {
	srv := testServer(t, "")
	h := srv.Handler()
	_, ids := seed(t, h)
	carsPath := "/api/v1/employees/" + itoa(ids[0]) + "/cars"

	mustCreate(t, h, carsPath, map[string]any{"manufacturer": "Seat", "cc": 1.6, "release_year": 2019})
	mustCreate(t, h, carsPath, map[string]any{"manufacturer": "Fiat", "cc": 1.2, "release_year": 2015})

	w := do(t, h, http.MethodGet, carsPath, nil, "")
	var cars struct {
		Cars []struct {
			Manufacturer string `json:"manufacturer"`
			EmployeeID   int64  `json:"employee_id"`
		} `json:"cars"`
		Count int `json:"count"`
	}
	decode(t, w, &cars)
	if cars.Count != 2 {
		t.Fatalf("cars count = %d, want 2", cars.Count)
	}
	for _, c := range cars.Cars {
		if c.EmployeeID != ids[0] {
			t.Errorf("car %s employee_id = %d, want %d", c.Manufacturer, c.EmployeeID, ids[0])
		}
	}

	if w := do(t, h, http.MethodPost, "/api/v1/employees/999/cars", map[string]any{"manufacturer": "Seat"}, ""); w.Code != http.StatusNotFound {
		t.Errorf("car for missing employee status = %d, want %d", w.Code, http.StatusNotFound)
	}

	if w := do(t, h, http.MethodDelete, "/api/v1/employees/"+itoa(ids[0]), nil, ""); w.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, body %s", w.Code, w.Body.String())
	}
	if w := do(t, h, http.MethodGet, carsPath, nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("cars of deleted employee status = %d, want %d", w.Code, http.StatusNotFound)
	}

	var left int
	err := srv.factory.DB().QueryRow("SELECT COUNT(*) FROM cars").Scan(&left)
	if err != nil {
		t.Fatalf("count cars: %v", err)
	}
	if left != 0 {
		t.Errorf("cars left = %d, want 0", left)
	}
}

func TestEmployees_Projects(t *testing.T) {
	srv := testServer(t, "")
	h := srv.Handler()
	_, ids := seed(t, h)

	first := mustCreate(t, h, "/api/v1/projects", map[string]any{"title": "Migration"})
	second := mustCreate(t, h, "/api/v1/projects", map[string]any{"title": "Audit"})
	if first != 1 || second != 2 {
		t.Errorf("project keys = %d, %d, want 1, 2 from the sequence", first, second)
	}

	if w := do(t, h, http.MethodPost, "/api/v1/projects", map[string]any{"title": ""}, ""); w.Code != http.StatusBadRequest {
		t.Errorf("untitled project status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	base := "/api/v1/employees/" + itoa(ids[1]) + "/projects"
	for _, p := range []int64{first, second, first} {
		if w := do(t, h, http.MethodPut, base+"/"+itoa(p), nil, ""); w.Code != http.StatusNoContent {
			t.Fatalf("assign %d status = %d, body %s", p, w.Code, w.Body.String())
		}
	}
	if w := do(t, h, http.MethodPut, base+"/999", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("assign missing project status = %d, want %d", w.Code, http.StatusNotFound)
	}

	listProjects := func() []int64 {
		t.Helper()
		w := do(t, h, http.MethodGet, base, nil, "")
		var resp struct {
			Projects []created `json:"projects"`
		}
		decode(t, w, &resp)
		var out []int64
		for _, p := range resp.Projects {
			out = append(out, p.ID)
		}
		return out
	}

	if got := listProjects(); len(got) != 2 {
		t.Fatalf("projects = %v, want 2 entries", got)
	}

	if w := do(t, h, http.MethodDelete, base+"/"+itoa(first), nil, ""); w.Code != http.StatusNoContent {
		t.Fatalf("unassign status = %d", w.Code)
	}
	if got := listProjects(); len(got) != 1 || got[0] != second {
		t.Errorf("projects after unassign = %v, want [%d]", got, second)
	}

	w := do(t, h, http.MethodGet, "/api/v1/projects", nil, "")
	var projects struct {
		Total int64 `json:"total"`
	}
	decode(t, w, &projects)
	if projects.Total != 2 {
		t.Errorf("projects total = %d, want 2", projects.Total)
	}
}

func TestCompanies(t *testing.T) {
	srv := testServer(t, "")
	h := srv.Handler()
	companyID, _ := seed(t, h)
	emptyID := mustCreate(t, h, "/api/v1/companies", map[string]any{"cif": "A87654321", "legal_name": "Empty"})

	w := do(t, h, http.MethodGet, "/api/v1/companies", nil, "")
	var list struct {
		Companies []struct {
			created
			CIF       string `json:"cif"`
			Employees int    `json:"employees"`
		} `json:"companies"`
		Count int `json:"count"`
	}
	decode(t, w, &list)
	if list.Count != 2 {
		t.Fatalf("companies count = %d, want 2", list.Count)
	}
	headcount := map[int64]int{}
	for _, c := range list.Companies {
		headcount[c.ID] = c.Employees
	}
	if headcount[companyID] != 3 || headcount[emptyID] != 0 {
		t.Errorf("headcount = %v", headcount)
	}

	w = do(t, h, http.MethodGet, "/api/v1/companies?cif=B12345678", nil, "")
	var byCIF struct {
		created
		LegalName string `json:"legal_name"`
	}
	decode(t, w, &byCIF)
	if byCIF.ID != companyID || byCIF.LegalName != "Acme" {
		t.Errorf("by cif = %+v", byCIF)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/companies?cif=Z00000000", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown cif status = %d, want %d", w.Code, http.StatusNotFound)
	}

	w = do(t, h, http.MethodGet, "/api/v1/companies/"+itoa(companyID)+"/employees", nil, "")
	var staffList struct {
		Count int `json:"count"`
	}
	decode(t, w, &staffList)
	if staffList.Count != 3 {
		t.Errorf("company staff = %d, want 3", staffList.Count)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/companies/999/employees", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("staff of missing company status = %d, want %d", w.Code, http.StatusNotFound)
	}

	if w := do(t, h, http.MethodPost, "/api/v1/companies", map[string]any{"cif": "bad", "legal_name": "X"}, ""); w.Code != http.StatusBadRequest {
		t.Errorf("invalid cif status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if w := do(t, h, http.MethodDelete, "/api/v1/companies/"+itoa(companyID), nil, ""); w.Code != http.StatusConflict {
		t.Errorf("delete staffed company status = %d, want %d", w.Code, http.StatusConflict)
	}
	if w := do(t, h, http.MethodDelete, "/api/v1/companies/"+itoa(emptyID), nil, ""); w.Code != http.StatusNoContent {
		t.Errorf("delete empty company status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/companies/"+itoa(emptyID), nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("deleted company status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
