// Package staff is the staff directory kept by Gray ORM.
//
// It maps five entities onto the persistence layer: companies employ
// employees, each employee may own cars and one postal address (a
// Direction), and employees are staffed on projects through the
// employee_projects join table. Register adds the mappings, the named
// queries and an interceptor that tidies names and email addresses before
// they are written.
//
// EmployeeRepository and CompanyRepository add domain queries to the
// generic persistence.Repository operations.
//
// # Thread Safety
//
// Repositories open a fresh session per call and are safe for concurrent
// use. Entities returned by them are detached.
package staff
