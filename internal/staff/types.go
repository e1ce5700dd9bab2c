package staff

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-orm/internal/persistence"
)

// Entity type names.
const (
	EntityEmployee  = "employee"
	EntityCompany   = "company"
	EntityCar       = "car"
	EntityDirection = "direction"
	EntityProject   = "project"

	// JoinEmployeeProjects links employees to the projects they work on.
	JoinEmployeeProjects = "employee_projects"
)

// now is replaced in tests.
var now = func() time.Time { return time.Now().UTC() }

// Employee is a member of staff. Its company and address are owner-side
// references; cars and projects are reached through the session.
type Employee struct {
	id           int64
	FirstName    string                      `json:"first_name"`
	LastName     string                      `json:"last_name"`
	Email        string                      `json:"email"`
	Age          int                         `json:"age"`
	Salary       float64                     `json:"salary"`
	Married      bool                        `json:"married"`
	BirthDate    *time.Time                  `json:"birth_date,omitempty"`
	RegisterDate *time.Time                  `json:"register_date,omitempty"`
	LastModified *time.Time                  `json:"last_modified,omitempty"`
	Attributes   Attributes                  `json:"attributes,omitempty"`
	Company      persistence.Ref[*Company]   `json:"company_id"`
	Direction    persistence.Ref[*Direction] `json:"direction_id"`
	version      int64
}

func (e *Employee) EntityName() string { return EntityEmployee }
func (e *Employee) ID() int64          { return e.id }
func (e *Employee) SetID(id int64)     { e.id = id }
func (e *Employee) Version() int64     { return e.version }
func (e *Employee) SetVersion(v int64) { e.version = v }

// Fields lists attributes in employeeSchema property order.
func (e *Employee) Fields() []any {
	return []any{
		&e.FirstName, &e.LastName, &e.Email, &e.Age, &e.Salary, &e.Married,
		&e.BirthDate, &e.RegisterDate, &e.LastModified, &e.Attributes,
		&e.Company, &e.Direction,
	}
}

// BeforeCreate stamps the registration date.
func (e *Employee) BeforeCreate(context.Context) error {
	if e.RegisterDate == nil {
		t := now()
		e.RegisterDate = &t
	}
	return ValidateEmployee(e)
}

// BeforeUpdate stamps the modification date. It only runs when an
// attribute actually changed.
func (e *Employee) BeforeUpdate(context.Context) error {
	t := now()
	e.LastModified = &t
	return ValidateEmployee(e)
}

// MarshalJSON adds the key and version to the exported attributes.
func (e *Employee) MarshalJSON() ([]byte, error) {
	type plain Employee
	return json.Marshal(struct {
		ID      int64 `json:"id"`
		Version int64 `json:"version"`
		*plain
	}{e.id, e.version, (*plain)(e)})
}

// UnmarshalJSON reads the key and version along with the attributes.
// Fields absent from data keep their current value, so a partial document
// can be decoded onto a loaded employee.
func (e *Employee) UnmarshalJSON(data []byte) error {
	type plain Employee
	aux := struct {
		ID      int64 `json:"id"`
		Version int64 `json:"version"`
		*plain
	}{e.id, e.version, (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.id, e.version = aux.ID, aux.Version
	return nil
}

// Company employs staff. Deleting a company that still has employees is
// refused by the store.
type Company struct {
	id        int64
	CIF       string     `json:"cif"`
	LegalName string     `json:"legal_name"`
	Capital   float64    `json:"capital"`
	Year      int        `json:"year"`
	CreateOn  *time.Time `json:"create_on,omitempty"`
}

func (c *Company) EntityName() string { return EntityCompany }
func (c *Company) ID() int64          { return c.id }
func (c *Company) SetID(id int64)     { c.id = id }

func (c *Company) Fields() []any {
	return []any{&c.CIF, &c.LegalName, &c.Capital, &c.Year, &c.CreateOn}
}

// BeforeCreate stamps the creation time.
func (c *Company) BeforeCreate(context.Context) error {
	if c.CreateOn == nil {
		t := now()
		c.CreateOn = &t
	}
	return ValidateCompany(c)
}

func (c *Company) MarshalJSON() ([]byte, error) {
	type plain Company
	return json.Marshal(struct {
		ID int64 `json:"id"`
		*plain
	}{c.id, (*plain)(c)})
}

func (c *Company) UnmarshalJSON(data []byte) error {
	type plain Company
	aux := struct {
		ID int64 `json:"id"`
		*plain
	}{c.id, (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.id = aux.ID
	return nil
}

// Car belongs to an employee and is deleted with them.
type Car struct {
	id           int64
	Manufacturer string                     `json:"manufacturer"`
	CC           float64                    `json:"cc"`
	ReleaseYear  int                        `json:"release_year"`
	CreateOn     *time.Time                 `json:"create_on,omitempty"`
	Employee     persistence.Ref[*Employee] `json:"employee_id"`
}

func (c *Car) EntityName() string { return EntityCar }
func (c *Car) ID() int64          { return c.id }
func (c *Car) SetID(id int64)     { c.id = id }

func (c *Car) Fields() []any {
	return []any{&c.Manufacturer, &c.CC, &c.ReleaseYear, &c.CreateOn, &c.Employee}
}

func (c *Car) BeforeCreate(context.Context) error {
	if c.CreateOn == nil {
		t := now()
		c.CreateOn = &t
	}
	return nil
}

func (c *Car) MarshalJSON() ([]byte, error) {
	type plain Car
	return json.Marshal(struct {
		ID int64 `json:"id"`
		*plain
	}{c.id, (*plain)(c)})
}

// Direction is a postal address, shared one-to-one with an employee.
// Its key is generated from a random UUID.
type Direction struct {
	id       int64
	Street   string     `json:"street"`
	City     string     `json:"city"`
	Country  string     `json:"country"`
	CreateOn *time.Time `json:"create_on,omitempty"`
}

func (d *Direction) EntityName() string { return EntityDirection }
func (d *Direction) ID() int64          { return d.id }
func (d *Direction) SetID(id int64)     { d.id = id }

func (d *Direction) Fields() []any {
	return []any{&d.Street, &d.City, &d.Country, &d.CreateOn}
}

func (d *Direction) BeforeCreate(context.Context) error {
	if d.CreateOn == nil {
		t := now()
		d.CreateOn = &t
	}
	return nil
}

func (d *Direction) MarshalJSON() ([]byte, error) {
	type plain Direction
	return json.Marshal(struct {
		ID int64 `json:"id"`
		*plain
	}{d.id, (*plain)(d)})
}

// Project is staffed by employees through the employee_projects join table.
// Keys come from the project_seq sequence.
type Project struct {
	id        int64
	Title     string     `json:"title"`
	StartDate *time.Time `json:"start_date,omitempty"`
	CreateOn  *time.Time `json:"create_on,omitempty"`
}

func (p *Project) EntityName() string { return EntityProject }
func (p *Project) ID() int64          { return p.id }
func (p *Project) SetID(id int64)     { p.id = id }

func (p *Project) Fields() []any {
	return []any{&p.Title, &p.StartDate, &p.CreateOn}
}

func (p *Project) BeforeCreate(context.Context) error {
	if p.CreateOn == nil {
		t := now()
		p.CreateOn = &t
	}
	return nil
}

func (p *Project) MarshalJSON() ([]byte, error) {
	type plain Project
	return json.Marshal(struct {
		ID int64 `json:"id"`
		*plain
	}{p.id, (*plain)(p)})
}

// Attributes holds free-form employee data stored as a JSON column.
type Attributes map[string]any

// Value implements driver.Valuer.
func (a Attributes) Value() (driver.Value, error) {
	if a == nil {
		return "{}", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encoding attributes: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (a *Attributes) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scanning attributes: unsupported type %T", src)
	}
	m := make(Attributes)
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("decoding attributes: %w", err)
	}
	if len(m) == 0 {
		m = nil
	}
	*a = m
	return nil
}
