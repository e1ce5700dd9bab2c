// Package auth issues and verifies the bearer tokens of the Gray ORM API.
//
// Tokens are HS256 JWTs carrying a subject and a role. The subject becomes
// the actor recorded in audit revisions. Roles map statically to
// permissions:
//   - viewer reads staff records
//   - editor also creates, updates and deletes them
//   - admin also reads the audit trail
//
// There is no account store: tokens are minted by the grayorm token
// command from the configured secret.
package auth
