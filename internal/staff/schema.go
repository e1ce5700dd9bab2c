package staff

import (
	"context"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-orm/internal/persistence"
)

// Named queries registered by Register.
const (
	QueryByLastName     = "employee.byLastName"
	QueryAgeRange       = "employee.ageRange"
	QueryAboveAvgSalary = "employee.aboveAverageSalary"
	QueryMarried        = "employee.married"
)

// Schemas returns the mappings of every staff entity.
func Schemas() []*persistence.Schema {
	return []*persistence.Schema{
		{
			Name:  EntityCompany,
			Table: "companies",
			Properties: []persistence.Property{
				{Name: "cif"},
				{Name: "legalName"},
				{Name: "capital"},
				{Name: "year"},
				{Name: "createOn"},
			},
			Generator: persistence.Identity(),
			Audited:   true,
			New:       func() persistence.Entity { return &Company{} },
		},
		{
			Name:  EntityDirection,
			Table: "directions",
			Properties: []persistence.Property{
				{Name: "street"},
				{Name: "city"},
				{Name: "country"},
				{Name: "createOn"},
			},
			Generator: persistence.Custom(persistence.UUIDKey),
			Audited:   true,
			New:       func() persistence.Entity { return &Direction{} },
		},
		{
			Name:  EntityEmployee,
			Table: "employees",
			Properties: []persistence.Property{
				{Name: "firstName"},
				{Name: "lastName"},
				{Name: "email"},
				{Name: "age"},
				{Name: "salary"},
				{Name: "married"},
				{Name: "birthDate"},
				{Name: "registerDate"},
				{Name: "lastModified"},
				{Name: "attributes"},
				{Name: "company", Column: "company_id", Target: EntityCompany, Cascade: true},
				{Name: "direction", Column: "direction_id", Target: EntityDirection, Cascade: true},
			},
			Generator: persistence.Identity(),
			Versioned: true,
			Audited:   true,
			New:       func() persistence.Entity { return &Employee{} },
		},
		{
			Name:  EntityCar,
			Table: "cars",
			Properties: []persistence.Property{
				{Name: "manufacturer"},
				{Name: "cc"},
				{Name: "releaseYear"},
				{Name: "createOn"},
				{Name: "employee", Column: "employee_id", Target: EntityEmployee},
			},
			Generator: persistence.Identity(),
			Audited:   true,
			New:       func() persistence.Entity { return &Car{} },
		},
		{
			Name:  EntityProject,
			Table: "projects",
			Properties: []persistence.Property{
				{Name: "title"},
				{Name: "startDate"},
				{Name: "createOn"},
			},
			Generator: persistence.Sequence("project_seq"),
			Audited:   true,
			New:       func() persistence.Entity { return &Project{} },
		},
	}
}

// Register adds the staff mappings, the employee_projects join table, the
// named queries and the employee interceptor to a factory.
func Register(f *persistence.Factory) error {
	if err := f.Register(Schemas()...); err != nil {
		return fmt.Errorf("registering staff schemas: %w", err)
	}
	if err := f.RegisterJoin(&persistence.JoinTable{
		Name:         JoinEmployeeProjects,
		Table:        "employee_projects",
		OwnerColumn:  "employee_id",
		TargetColumn: "project_id",
		Owner:        EntityEmployee,
		Target:       EntityProject,
	}); err != nil {
		return fmt.Errorf("registering staff joins: %w", err)
	}

	f.RegisterNamed(QueryByLastName, persistence.From(EntityEmployee).
		Filter(persistence.Field("lastName").Eq(persistence.Param("lastName"))).
		Asc("firstName"))
	f.RegisterNamed(QueryAgeRange, persistence.From(EntityEmployee).
		Filter(persistence.Field("age").Between(persistence.Param("min"), persistence.Param("max"))).
		Asc("age"))
	f.RegisterNamed(QueryAboveAvgSalary, persistence.From(EntityEmployee).
		Filter(persistence.Field("salary").Gt(persistence.From(EntityEmployee).Scalar(persistence.AggAvg, "salary"))).
		Desc("salary"))
	f.RegisterNamed(QueryMarried, persistence.From(EntityEmployee).
		Filter(persistence.Field("married").Eq(true)))

	f.AddInterceptor(persistence.InterceptorFunc(normalizeEmployee))
	return nil
}

// normalizeEmployee tidies every employee about to be inserted.
func normalizeEmployee(_ context.Context, e persistence.Entity) error {
	emp, ok := e.(*Employee)
	if !ok {
		return nil
	}
	emp.FirstName = strings.TrimSpace(emp.FirstName)
	emp.LastName = strings.TrimSpace(emp.LastName)
	emp.Email = strings.ToLower(strings.TrimSpace(emp.Email))
	return nil
}
