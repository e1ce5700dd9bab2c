package auth

import "errors"

// Role represents an authorisation tier.
type Role string

const (
	// RoleViewer can read staff records.
	RoleViewer Role = "viewer"

	// RoleEditor can read and change staff records.
	RoleEditor Role = "editor"

	// RoleAdmin can do everything an editor can plus read the audit trail.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleEditor, RoleAdmin}

// IsValidRole returns true if r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrNoSecret     = errors.New("no signing secret configured")
	ErrForbidden    = errors.New("insufficient permissions")
)
