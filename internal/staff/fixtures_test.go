package staff

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nerrad567/gray-orm/internal/infrastructure/config"
	"github.com/nerrad567/gray-orm/internal/infrastructure/database"
	"github.com/nerrad567/gray-orm/internal/persistence"
	_ "github.com/nerrad567/gray-orm/migrations"
)

// newStaffFactory returns a factory over a migrated database with the
// staff mappings registered.
func newStaffFactory(t *testing.T) *persistence.Factory {
	t.Helper()

	unit := config.UnitConfig{
		Database: config.DatabaseConfig{
			Path:           filepath.Join(t.TempDir(), "staff.db"),
			BusyTimeout:    1,
			MaxOpenConns:   2,
			AcquireTimeout: 200,
		},
		NamingStrategy: config.NamingSnakeCase,
	}
	db, err := database.Open(database.Config{
		Path:         unit.Database.Path,
		BusyTimeout:  unit.Database.BusyTimeout,
		MaxOpenConns: unit.Database.MaxOpenConns,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	f := persistence.NewFactory(db, "staff", unit, nil)
	if err := Register(f); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := f.ValidateSchema(context.Background()); err != nil {
		t.Fatalf("ValidateSchema() error = %v", err)
	}
	return f
}

func newEmployee(first, last string, age int, salary float64) *Employee {
	return &Employee{
		FirstName: first,
		LastName:  last,
		Email:     first + "." + last + "@example.com",
		Age:       age,
		Salary:    salary,
	}
}

func newEmployeeRepo(t *testing.T, f *persistence.Factory) *EmployeeRepository {
	t.Helper()
	r, err := NewEmployeeRepository(f)
	if err != nil {
		t.Fatalf("NewEmployeeRepository() error = %v", err)
	}
	return r
}

func newCompanyRepo(t *testing.T, f *persistence.Factory) *CompanyRepository {
	t.Helper()
	r, err := NewCompanyRepository(f)
	if err != nil {
		t.Fatalf("NewCompanyRepository() error = %v", err)
	}
	return r
}

// seedStaff creates one company with three employees.
func seedStaff(t *testing.T, f *persistence.Factory) (*Company, []*Employee) {
	t.Helper()
	ctx := context.Background()

	company := &Company{CIF: "B12345678", LegalName: "Acme Ltd", Capital: 3000, Year: 1999}
	staff := []*Employee{
		newEmployee("Ann", "Garcia", 31, 42000),
		newEmployee("Bob", "Garcia", 45, 30000),
		newEmployee("Cid", "Lopez", 27, 27000),
	}
	staff[1].Married = true
	for _, e := range staff {
		e.Company = persistence.RefOf(company)
	}
	if err := newEmployeeRepo(t, f).SaveAll(ctx, staff); err != nil {
		t.Fatalf("seeding staff: %v", err)
	}
	return company, staff
}

func firstNames(list []*Employee) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.FirstName
	}
	return out
}
