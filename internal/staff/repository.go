package staff

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-orm/internal/persistence"
)

// EmployeeRepository adds employee queries to the generic CRUD operations.
type EmployeeRepository struct {
	*persistence.Repository[*Employee]
	factory *persistence.Factory
}

// NewEmployeeRepository creates the employee repository. The staff schemas
// must be registered with f.
func NewEmployeeRepository(f *persistence.Factory) (*EmployeeRepository, error) {
	base, err := persistence.NewRepository[*Employee](f)
	if err != nil {
		return nil, err
	}
	return &EmployeeRepository{Repository: base, factory: f}, nil
}

// named runs a registered query with its parameters bound.
func (r *EmployeeRepository) named(ctx context.Context, name string, params map[string]any) ([]*Employee, error) {
	var out []*Employee
	err := r.factory.Do(ctx, func(s *persistence.Session) error {
		q, err := s.Named(name)
		if err != nil {
			return err
		}
		for k, v := range params {
			q.Bind(k, v)
		}
		out, err = persistence.List[*Employee](ctx, s, q)
		return err
	})
	return out, err
}

// FindByLastName returns the employees with the exact last name.
func (r *EmployeeRepository) FindByLastName(ctx context.Context, lastName string) ([]*Employee, error) {
	return r.named(ctx, QueryByLastName, map[string]any{"lastName": lastName})
}

// FindByAgeRange returns employees aged min to max inclusive, youngest first.
func (r *EmployeeRepository) FindByAgeRange(ctx context.Context, minAge, maxAge int) ([]*Employee, error) {
	return r.named(ctx, QueryAgeRange, map[string]any{"min": minAge, "max": maxAge})
}

// FindAboveAverageSalary returns employees paid more than the average.
func (r *EmployeeRepository) FindAboveAverageSalary(ctx context.Context) ([]*Employee, error) {
	return r.named(ctx, QueryAboveAvgSalary, nil)
}

// FindMarried returns married employees.
func (r *EmployeeRepository) FindMarried(ctx context.Context) ([]*Employee, error) {
	return r.named(ctx, QueryMarried, nil)
}

// Search filters on any combination of last name and age bounds. Zero
// values are ignored.
func (r *EmployeeRepository) Search(ctx context.Context, f SearchFilter, page, size int) (persistence.Page[*Employee], error) {
	var cond *persistence.Condition
	add := func(c *persistence.Condition) {
		if cond == nil {
			cond = c
		} else {
			cond = cond.And(c)
		}
	}
	if f.LastName != "" {
		add(persistence.Field("lastName").Like(f.LastName + "%"))
	}
	if f.MinAge > 0 {
		add(persistence.Field("age").Gte(f.MinAge))
	}
	if f.MaxAge > 0 {
		add(persistence.Field("age").Lte(f.MaxAge))
	}
	return r.FindPageWhere(ctx, cond, page, size)
}

// SearchFilter narrows Search.
type SearchFilter struct {
	LastName string
	MinAge   int
	MaxAge   int
}

// SalaryStats summarises salaries across all employees.
type SalaryStats struct {
	Count   int64   `json:"count"`
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Total   float64 `json:"total"`
}

// SalaryStats computes salary aggregates.
func (r *EmployeeRepository) SalaryStats(ctx context.Context) (SalaryStats, error) {
	var st SalaryStats
	err := r.factory.Do(ctx, func(s *persistence.Session) error {
		q := persistence.From(EntityEmployee)
		n, err := s.Count(ctx, q)
		if err != nil {
			return err
		}
		st.Count = n
		for agg, dst := range map[persistence.Aggregate]*float64{
			persistence.AggAvg: &st.Average,
			persistence.AggMin: &st.Min,
			persistence.AggMax: &st.Max,
			persistence.AggSum: &st.Total,
		} {
			v, err := s.Aggregate(ctx, q, agg, "salary")
			if err != nil {
				return err
			}
			*dst = v.Float64
		}
		return nil
	})
	return st, err
}

// Cars returns the cars of an employee; ErrNotFound if there is no such employee.
func (r *EmployeeRepository) Cars(ctx context.Context, employeeID int64) ([]*Car, error) {
	var out []*Car
	err := r.factory.Do(ctx, func(s *persistence.Session) error {
		if _, found, err := persistence.Find[*Employee](ctx, s, employeeID); err != nil {
			return err
		} else if !found {
			return fmt.Errorf("%w: employee %d", persistence.ErrNotFound, employeeID)
		}
		var err error
		out, err = persistence.Children[*Car](ctx, s, "employee", employeeID)
		return err
	})
	return out, err
}

// AddCar gives an employee a car.
func (r *EmployeeRepository) AddCar(ctx context.Context, employeeID int64, car *Car) error {
	return r.factory.Do(ctx, func(s *persistence.Session) error {
		emp, found, err := persistence.Find[*Employee](ctx, s, employeeID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: employee %d", persistence.ErrNotFound, employeeID)
		}
		car.Employee = persistence.RefOf(emp)
		if err := s.Persist(ctx, car); err != nil {
			return err
		}
		return s.Flush(ctx)
	})
}

// AssignProject puts an employee on a project.
func (r *EmployeeRepository) AssignProject(ctx context.Context, employeeID, projectID int64) error {
	return r.linkProject(ctx, employeeID, projectID, true)
}

// UnassignProject takes an employee off a project.
func (r *EmployeeRepository) UnassignProject(ctx context.Context, employeeID, projectID int64) error {
	return r.linkProject(ctx, employeeID, projectID, false)
}

func (r *EmployeeRepository) linkProject(ctx context.Context, employeeID, projectID int64, add bool) error {
	return r.factory.Do(ctx, func(s *persistence.Session) error {
		emp, found, err := persistence.Find[*Employee](ctx, s, employeeID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: employee %d", persistence.ErrNotFound, employeeID)
		}
		proj, found, err := persistence.Find[*Project](ctx, s, projectID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: project %d", persistence.ErrNotFound, projectID)
		}
		if add {
			err = s.Associate(ctx, JoinEmployeeProjects, emp, proj)
		} else {
			err = s.Dissociate(ctx, JoinEmployeeProjects, emp, proj)
		}
		if err != nil {
			return err
		}
		return s.Flush(ctx)
	})
}

// Projects returns the projects an employee works on.
func (r *EmployeeRepository) Projects(ctx context.Context, employeeID int64) ([]*Project, error) {
	var out []*Project
	err := r.factory.Do(ctx, func(s *persistence.Session) error {
		emp, found, err := persistence.Find[*Employee](ctx, s, employeeID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: employee %d", persistence.ErrNotFound, employeeID)
		}
		list, err := s.Associated(ctx, JoinEmployeeProjects, emp)
		if err != nil {
			return err
		}
		for _, e := range list {
			if p, ok := e.(*Project); ok {
				out = append(out, p)
			}
		}
		return nil
	})
	return out, err
}

// CompanyRepository adds company queries to the generic CRUD operations.
type CompanyRepository struct {
	*persistence.Repository[*Company]
	factory *persistence.Factory
}

// NewCompanyRepository creates the company repository.
func NewCompanyRepository(f *persistence.Factory) (*CompanyRepository, error) {
	base, err := persistence.NewRepository[*Company](f)
	if err != nil {
		return nil, err
	}
	return &CompanyRepository{Repository: base, factory: f}, nil
}

// Employees returns the staff of a company.
func (r *CompanyRepository) Employees(ctx context.Context, companyID int64) ([]*Employee, error) {
	var out []*Employee
	err := r.factory.Do(ctx, func(s *persistence.Session) error {
		var err error
		out, err = persistence.Children[*Employee](ctx, s, "company", companyID)
		return err
	})
	return out, err
}

// Headcount maps each company key to its number of employees.
func (r *CompanyRepository) Headcount(ctx context.Context) (map[int64]int, error) {
	out := make(map[int64]int)
	err := r.factory.Do(ctx, func(s *persistence.Session) error {
		return s.NativeScan(ctx,
			`SELECT c.id, COUNT(e.id) FROM companies c
			 LEFT JOIN employees e ON e.company_id = c.id
			 GROUP BY c.id`, nil,
			func(scan func(dest ...any) error) error {
				var id int64
				var n int
				if err := scan(&id, &n); err != nil {
					return err
				}
				out[id] = n
				return nil
			})
	})
	return out, err
}

// FindByCIF returns the company with the tax code.
func (r *CompanyRepository) FindByCIF(ctx context.Context, cif string) (*Company, bool, error) {
	var (
		out   *Company
		found bool
	)
	err := r.factory.Do(ctx, func(s *persistence.Session) error {
		schema, err := r.factory.Schema(EntityCompany)
		if err != nil {
			return err
		}
		list, err := s.NativeList(ctx, schema, "SELECT id, cif, legal_name, capital, year, create_on FROM companies WHERE cif = ?", cif)
		if err != nil {
			return err
		}
		if len(list) > 0 {
			out, found = list[0].(*Company), true
		}
		return nil
	})
	return out, found, err
}
