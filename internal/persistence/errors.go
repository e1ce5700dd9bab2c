package persistence

import "errors"

// Store-level failures. Check with errors.Is; each is wrapped with the
// statement or entity that triggered it.
var (
	// ErrNotFound is returned by repositories and the API when no row has the key.
	// Session.Load reports a missing row as found=false instead.
	ErrNotFound = errors.New("entity not found")

	// ErrConstraintViolation is returned when the store rejects a flush
	// (unique, not-null, check or foreign-key constraint). Nothing was written.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrResourceExhausted is returned by Factory.Open when no pooled
	// connection became free within the unit's acquire timeout.
	ErrResourceExhausted = errors.New("connection pool exhausted")

	// ErrStaleState is returned when an update or delete matched no row:
	// the row was deleted, or its version moved on, outside this session.
	ErrStaleState = errors.New("stale entity state")
)

// Session usage errors.
var (
	// ErrSessionClosed is returned by every operation after Close.
	ErrSessionClosed = errors.New("session closed")

	// ErrSessionFailed is returned after a flush has failed; only Close is allowed.
	ErrSessionFailed = errors.New("session failed: close it and open a new one")

	// ErrRecursiveFlush is returned when a lifecycle hook calls back into its session.
	ErrRecursiveFlush = errors.New("flush already in progress")

	// ErrDetachedEntity is returned when an operation needs a tracked instance.
	ErrDetachedEntity = errors.New("entity is not tracked by this session")

	// ErrDetachedReference is returned when an unloaded reference is resolved
	// without an open session.
	ErrDetachedReference = errors.New("reference not loaded and no open session")

	// ErrIdentityConflict is returned when a different instance with the same
	// key is already tracked.
	ErrIdentityConflict = errors.New("another instance with this identity is tracked")

	// ErrTransientReference is returned by Flush when a loaded reference
	// points at an entity that was never saved and is not cascaded.
	ErrTransientReference = errors.New("reference to an unsaved entity")
)

// Mapping errors.
var (
	// ErrUnknownEntity is returned for entity types not registered with the factory.
	ErrUnknownEntity = errors.New("unknown entity type")

	// ErrUnknownProperty is returned when a query names a property the schema lacks.
	ErrUnknownProperty = errors.New("unknown property")

	// ErrUnknownQuery is returned for named queries that were never registered.
	ErrUnknownQuery = errors.New("unknown named query")

	// ErrSchemaMismatch is returned by schema validation when a mapped column is missing.
	ErrSchemaMismatch = errors.New("schema does not match mapping")
)
