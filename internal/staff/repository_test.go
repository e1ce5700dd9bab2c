package staff

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/nerrad567/gray-orm/internal/persistence"
)

func TestEmployeeRepository_CreateNormalises(t *testing.T) {
	f := newStaffFactory(t)
	repo := newEmployeeRepo(t, f)
	ctx := context.Background()

	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now = func() time.Time { return fixed }
	t.Cleanup(func() { now = func() time.Time { return time.Now().UTC() } })

	e := &Employee{
		FirstName:  "  Ann ",
		LastName:   "Garcia",
		Email:      "Ann.Garcia@Example.COM",
		Age:        31,
		Attributes: Attributes{"team": "core"},
	}
	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if e.ID() == 0 {
		t.Fatal("Create() assigned no key")
	}
	if e.Version() != 1 {
		t.Errorf("Version() = %d, want 1", e.Version())
	}

	got, err := repo.Get(ctx, e.ID())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.FirstName != "Ann" {
		t.Errorf("FirstName = %q, want trimmed %q", got.FirstName, "Ann")
	}
	if got.Email != "ann.garcia@example.com" {
		t.Errorf("Email = %q, want lower case", got.Email)
	}
	if got.RegisterDate == nil || !got.RegisterDate.Equal(fixed) {
		t.Errorf("RegisterDate = %v, want %v", got.RegisterDate, fixed)
	}
	if got.LastModified != nil {
		t.Errorf("LastModified = %v, want nil before any update", got.LastModified)
	}
	if got.Attributes["team"] != "core" {
		t.Errorf("Attributes = %v, want team=core", got.Attributes)
	}
}

func TestEmployeeRepository_CreateRejected(t *testing.T) {
	f := newStaffFactory(t)
	repo := newEmployeeRepo(t, f)
	ctx := context.Background()

	tests := []struct {
		name    string
		emp     *Employee
		wantErr error
	}{
		{
			name:    "missing last name",
			emp:     &Employee{FirstName: "Ann", Email: "ann@example.com"},
			wantErr: ErrInvalidName,
		},
		{
			name:    "bad email",
			emp:     &Employee{FirstName: "Ann", LastName: "Garcia", Email: "not-an-address"},
			wantErr: ErrInvalidEmail,
		},
		{
			name:    "negative age",
			emp:     &Employee{FirstName: "Ann", LastName: "Garcia", Email: "ann@example.com", Age: -1},
			wantErr: ErrInvalidAge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.Create(ctx, tt.emp)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Create() error = %v, want %v", err, tt.wantErr)
			}
			if tt.emp.ID() != 0 {
				t.Errorf("ID() = %d after failed create, want 0", tt.emp.ID())
			}
		})
	}

	n, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Count() = %d, want 0", n)
	}
}

func TestEmployeeRepository_DuplicateEmail(t *testing.T) {
	f := newStaffFactory(t)
	repo := newEmployeeRepo(t, f)
	ctx := context.Background()

	if err := repo.Create(ctx, newEmployee("Ann", "Garcia", 30, 1)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err := repo.Create(ctx, newEmployee("Ann", "Garcia", 40, 2))
	if !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Errorf("Create() error = %v, want ErrConstraintViolation", err)
	}
}

func TestEmployeeRepository_NamedQueries(t *testing.T) {
	f := newStaffFactory(t)
	repo := newEmployeeRepo(t, f)
	ctx := context.Background()
	seedStaff(t, f)

	tests := []struct {
		name string
		run  func() ([]*Employee, error)
		want []string
	}{
		{
			name: "by last name",
			run:  func() ([]*Employee, error) { return repo.FindByLastName(ctx, "Garcia") },
			want: []string{"Ann", "Bob"},
		},
		{
			name: "age range",
			run:  func() ([]*Employee, error) { return repo.FindByAgeRange(ctx, 25, 35) },
			want: []string{"Cid", "Ann"},
		},
		{
			name: "above average salary",
			run:  func() ([]*Employee, error) { return repo.FindAboveAverageSalary(ctx) },
			want: []string{"Ann"},
		},
		{
			name: "married",
			run:  func() ([]*Employee, error) { return repo.FindMarried(ctx) },
			want: []string{"Bob"},
		},
		{
			name: "no match",
			run:  func() ([]*Employee, error) { return repo.FindByLastName(ctx, "Nobody") },
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := tt.run()
			if err != nil {
				t.Fatalf("query error = %v", err)
			}
			if got := firstNames(list); !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEmployeeRepository_Search(t *testing.T) {
	f := newStaffFactory(t)
	repo := newEmployeeRepo(t, f)
	ctx := context.Background()
	seedStaff(t, f)

	page, err := repo.Search(ctx, SearchFilter{LastName: "Gar", MinAge: 40}, 1, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].FirstName != "Bob" {
		t.Errorf("Search() = %+v, want only Bob", page)
	}

	all, err := repo.Search(ctx, SearchFilter{}, 1, 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if all.Total != 3 || len(all.Items) != 2 {
		t.Errorf("Search() total = %d items = %d, want 3 and 2", all.Total, len(all.Items))
	}
}

func TestEmployeeRepository_SalaryStats(t *testing.T) {
	f := newStaffFactory(t)
	repo := newEmployeeRepo(t, f)
	seedStaff(t, f)

	st, err := repo.SalaryStats(context.Background())
	if err != nil {
		t.Fatalf("SalaryStats() error = %v", err)
	}
	want := SalaryStats{Count: 3, Average: 33000, Min: 27000, Max: 42000, Total: 99000}
	if st != want {
		t.Errorf("SalaryStats() = %+v, want %+v", st, want)
	}
}

func TestEmployeeRepository_UpdateAndStaleCopy(t *testing.T) {
	f := newStaffFactory(t)
	repo := newEmployeeRepo(t, f)
	ctx := context.Background()
	_, staff := seedStaff(t, f)
	id := staff[0].ID()

	first, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	second, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	first.Salary = 50000
	updated, err := repo.Update(ctx, first)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Version() != 2 {
		t.Errorf("Version() = %d, want 2", updated.Version())
	}
	if updated.LastModified == nil {
		t.Error("LastModified not stamped by update")
	}

	second.Salary = 1
	if _, err := repo.Update(ctx, second); !errors.Is(err, persistence.ErrStaleState) {
		t.Errorf("Update(stale) error = %v, want ErrStaleState", err)
	}

	got, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Salary != 50000 {
		t.Errorf("Salary = %v, want 50000", got.Salary)
	}
}

func TestEmployeeRepository_Cars(t *testing.T) {
	f := newStaffFactory(t)
	repo := newEmployeeRepo(t, f)
	ctx := context.Background()
	_, staff := seedStaff(t, f)
	ann := staff[0].ID()

	for _, m := range []string{"Seat", "Audi"} {
		if err := repo.AddCar(ctx, ann, &Car{Manufacturer: m, CC: 1.6, ReleaseYear: 2020}); err != nil {
			t.Fatalf("AddCar(%s) error = %v", m, err)
		}
	}

	cars, err := repo.Cars(ctx, ann)
	if err != nil {
		t.Fatalf("Cars() error = %v", err)
	}
	if len(cars) != 2 {
		t.Fatalf("Cars() returned %d, want 2", len(cars))
	}
	for _, c := range cars {
		if c.Employee.ID() != ann {
			t.Errorf("car %d owner = %d, want %d", c.ID(), c.Employee.ID(), ann)
		}
	}

	if _, err := repo.Cars(ctx, 999); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("Cars(999) error = %v, want ErrNotFound", err)
	}
	if err := repo.AddCar(ctx, 999, &Car{Manufacturer: "Kia"}); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("AddCar(999) error = %v, want ErrNotFound", err)
	}

	// Cars go with their owner.
	if err := repo.Delete(ctx, ann); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	var left int
	if err := f.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM cars").Scan(&left); err != nil {
		t.Fatalf("counting cars: %v", err)
	}
	if left != 0 {
		t.Errorf("cars left = %d, want 0", left)
	}
}

func TestEmployeeRepository_Projects(t *testing.T) {
	f := newStaffFactory(t)
	repo := newEmployeeRepo(t, f)
	ctx := context.Background()
	_, staff := seedStaff(t, f)
	ann := staff[0].ID()

	projects, err := persistence.NewRepository[*Project](f)
	if err != nil {
		t.Fatalf("NewRepository() error = %v", err)
	}
	alpha, beta := &Project{Title: "Alpha"}, &Project{Title: "Beta"}
	if err := projects.SaveAll(ctx, []*Project{alpha, beta}); err != nil {
		t.Fatalf("SaveAll() error = %v", err)
	}
	if alpha.ID() != 1 || beta.ID() != 2 {
		t.Errorf("project keys = %d, %d, want 1, 2 from the sequence", alpha.ID(), beta.ID())
	}

	for _, p := range []*Project{alpha, beta} {
		if err := repo.AssignProject(ctx, ann, p.ID()); err != nil {
			t.Fatalf("AssignProject(%d) error = %v", p.ID(), err)
		}
	}
	// Assigning twice is harmless.
	if err := repo.AssignProject(ctx, ann, alpha.ID()); err != nil {
		t.Fatalf("AssignProject() again error = %v", err)
	}
	if err := repo.UnassignProject(ctx, ann, beta.ID()); err != nil {
		t.Fatalf("UnassignProject() error = %v", err)
	}

	list, err := repo.Projects(ctx, ann)
	if err != nil {
		t.Fatalf("Projects() error = %v", err)
	}
	if len(list) != 1 || list[0].Title != "Alpha" {
		t.Errorf("Projects() = %v, want only Alpha", list)
	}

	if err := repo.AssignProject(ctx, ann, 42); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("AssignProject(unknown project) error = %v, want ErrNotFound", err)
	}
}

func TestCompanyRepository(t *testing.T) {
	f := newStaffFactory(t)
	companies := newCompanyRepo(t, f)
	ctx := context.Background()
	company, _ := seedStaff(t, f)

	empty := &Company{CIF: "A00000000", LegalName: "Empty SL"}
	if err := companies.Create(ctx, empty); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	staff, err := companies.Employees(ctx, company.ID())
	if err != nil {
		t.Fatalf("Employees() error = %v", err)
	}
	if len(staff) != 3 {
		t.Errorf("Employees() returned %d, want 3", len(staff))
	}

	heads, err := companies.Headcount(ctx)
	if err != nil {
		t.Fatalf("Headcount() error = %v", err)
	}
	if heads[company.ID()] != 3 || heads[empty.ID()] != 0 || len(heads) != 2 {
		t.Errorf("Headcount() = %v", heads)
	}

	got, found, err := companies.FindByCIF(ctx, "B12345678")
	if err != nil || !found {
		t.Fatalf("FindByCIF() = %v, %v, %v", got, found, err)
	}
	if got.ID() != company.ID() || got.LegalName != "Acme Ltd" {
		t.Errorf("FindByCIF() = %+v", got)
	}
	if _, found, _ := companies.FindByCIF(ctx, "Z99999999"); found {
		t.Error("FindByCIF(unknown) found a company")
	}

	// A company with staff cannot be deleted.
	if companies.DeleteByID(ctx, company.ID()) {
		t.Error("DeleteByID() deleted a company with employees")
	}
	if err := companies.Delete(ctx, company.ID()); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Errorf("Delete() error = %v, want ErrConstraintViolation", err)
	}
	if !companies.DeleteByID(ctx, empty.ID()) {
		t.Error("DeleteByID() refused an empty company")
	}
}

func TestCompany_InvalidCIF(t *testing.T) {
	f := newStaffFactory(t)
	companies := newCompanyRepo(t, f)

	err := companies.Create(context.Background(), &Company{CIF: "b123", LegalName: "Acme"})
	if !errors.Is(err, ErrInvalidCIF) {
		t.Errorf("Create() error = %v, want ErrInvalidCIF", err)
	}
}

func TestEmployee_Direction(t *testing.T) {
	f := newStaffFactory(t)
	repo := newEmployeeRepo(t, f)
	ctx := context.Background()

	dir := &Direction{Street: "Gran Via 1", City: "Madrid", Country: "ES"}
	e := newEmployee("Ann", "Garcia", 31, 1000)
	e.Direction = persistence.RefOf(dir)
	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if dir.ID() <= 0 {
		t.Fatalf("direction key = %d, want a positive generated key", dir.ID())
	}

	err := f.Do(ctx, func(s *persistence.Session) error {
		got, found, err := persistence.Find[*Employee](ctx, s, e.ID())
		if err != nil || !found {
			t.Fatalf("Find() = %v, %v", found, err)
		}
		d, err := got.Direction.Load(ctx, s)
		if err != nil {
			return err
		}
		if d.City != "Madrid" {
			t.Errorf("City = %q, want Madrid", d.City)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("loading direction: %v", err)
	}
}
