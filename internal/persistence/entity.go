package persistence

import (
	"context"
	"time"
)

// Entity is a persistent record identified by a surrogate int64 key.
//
// Fields returns pointers to the entity's scalar attributes, in the order of
// the schema's Properties. The session scans rows into them, binds them as
// statement arguments and snapshots them for dirty checking, so every
// pointed-to type must be scannable by database/sql (or implement sql.Scanner
// and driver.Valuer). The key is not part of Fields.
type Entity interface {
	EntityName() string
	ID() int64
	SetID(id int64)
	Fields() []any
}

// Versioned entities get optimistic locking. The session writes the version
// column and rejects updates and deletes of a row whose version has moved.
type Versioned interface {
	Version() int64
	SetVersion(v int64)
}

// BeforeCreate is implemented by entities that adjust themselves before insertion.
type BeforeCreate interface {
	BeforeCreate(ctx context.Context) error
}

// BeforeUpdate is implemented by entities that adjust themselves before an
// update. It only fires when the dirty check found a changed attribute.
type BeforeUpdate interface {
	BeforeUpdate(ctx context.Context) error
}

// BeforeDelete is implemented by entities that react to their own deletion.
type BeforeDelete interface {
	BeforeDelete(ctx context.Context) error
}

// Interceptor observes every entity about to be inserted by any session of
// a factory. It runs after the entity's own BeforeCreate hook and may
// modify the entity.
type Interceptor interface {
	OnPersist(ctx context.Context, e Entity) error
}

// InterceptorFunc adapts a function to the Interceptor interface.
type InterceptorFunc func(ctx context.Context, e Entity) error

// OnPersist calls f.
func (f InterceptorFunc) OnPersist(ctx context.Context, e Entity) error {
	return f(ctx, e)
}

// Op is the kind of write a change applied.
type Op string

// Write kinds.
const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// RevType returns the audit revision type: 0 create, 1 update, 2 delete.
func (o Op) RevType() int {
	switch o {
	case OpUpdate:
		return 1
	case OpDelete:
		return 2
	default:
		return 0
	}
}

// Change is one committed row write.
type Change struct {
	Entity string `json:"entity"`
	ID     int64  `json:"id"`
	Op     Op     `json:"op"`

	// Values holds the column values written by an insert, or the new
	// values of the changed columns of an update.
	Values map[string]any `json:"values,omitempty"`

	// Previous holds the old values of the changed columns of an update.
	Previous map[string]any `json:"previous,omitempty"`
}

// FlushEvent describes a committed flush.
type FlushEvent struct {
	Unit      string        `json:"unit"`
	SessionID string        `json:"session_id"`
	Revision  string        `json:"revision"`
	Actor     string        `json:"actor,omitempty"`
	Changes   []Change      `json:"changes"`
	Duration  time.Duration `json:"duration"`
	At        time.Time     `json:"at"`
}

// Listener is notified after a flush has committed. Listeners run on the
// flushing goroutine and must not call back into the session.
type Listener interface {
	OnFlush(ctx context.Context, ev FlushEvent)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, ev FlushEvent)

// OnFlush calls f.
func (f ListenerFunc) OnFlush(ctx context.Context, ev FlushEvent) {
	f(ctx, ev)
}

type actorKey struct{}

// WithActor records who is making changes; audit rows carry it.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor stored by WithActor, or "system".
func ActorFrom(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok && a != "" {
		return a
	}
	return "system"
}
