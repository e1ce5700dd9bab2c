// Package api implements the HTTP REST API and WebSocket server for Gray ORM.
//
// This package provides:
//   - REST endpoints for employees, companies, projects and the audit trail
//   - WebSocket hub relaying committed entity changes
//   - JWT bearer authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - TLS support for production deployments
//
// # Security
//
// When security.jwt.secret is set, mutating routes need a bearer token
// whose role grants staff:write, and the audit routes need audit:read. The
// token subject is recorded as the actor of every revision the request
// writes. Without a secret the API is open, which suits local development.
//
// # Errors
//
// Store failures map onto status codes: not found is 404, constraint
// violations and stale versions are 409, an exhausted connection pool is
// 503 and validation failures are 400.
package api
