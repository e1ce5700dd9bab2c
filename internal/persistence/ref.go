package persistence

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// Ref is a foreign-key reference to another entity. It is either NotLoaded,
// holding only the key, or Loaded, holding the referenced instance.
//
// A Ref is stored as the key (NULL when empty) and encodes to JSON as the
// bare key, so back-references never serialise object cycles.
type Ref[T Entity] struct {
	id     int64
	target T
	loaded bool
}

// RefTo returns a NotLoaded reference to the key.
func RefTo[T Entity](id int64) Ref[T] {
	return Ref[T]{id: id}
}

// RefOf returns a Loaded reference to e.
func RefOf[T Entity](e T) Ref[T] {
	return Ref[T]{id: e.ID(), target: e, loaded: true}
}

// ID returns the referenced key, reading it from the target when loaded so
// keys assigned at insert are seen.
func (r Ref[T]) ID() int64 {
	if r.loaded {
		return r.target.ID()
	}
	return r.id
}

// IsZero reports whether the reference points nowhere.
func (r Ref[T]) IsZero() bool {
	return !r.loaded && r.id == 0
}

// IsLoaded reports whether the target instance is present.
func (r Ref[T]) IsLoaded() bool {
	return r.loaded
}

// Get returns the target instance and whether it is loaded.
func (r Ref[T]) Get() (T, bool) {
	return r.target, r.loaded
}

// Load returns the target, resolving it through the session's identity map
// when the reference is not loaded. A NotLoaded reference needs an open
// session; with none it fails with ErrDetachedReference. A key with no row
// yields ErrNotFound.
func (r *Ref[T]) Load(ctx context.Context, s *Session) (T, error) {
	var zero T
	if r.loaded {
		return r.target, nil
	}
	if r.id == 0 {
		return zero, nil
	}
	if s == nil || s.isClosed() {
		return zero, ErrDetachedReference
	}

	schema, err := s.factory.schemaOfType(reflect.TypeOf(zero))
	if err != nil {
		return zero, err
	}
	e, found, err := s.Load(ctx, schema, r.id)
	if err != nil {
		return zero, err
	}
	if !found {
		return zero, fmt.Errorf("%w: %s %d", ErrNotFound, schema.Name, r.id)
	}
	t, ok := e.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is not %T", ErrUnknownEntity, schema.Name, zero)
	}
	r.target, r.loaded = t, true
	return t, nil
}

// Set points the reference at e and marks it loaded.
func (r *Ref[T]) Set(e T) {
	r.target, r.id, r.loaded = e, e.ID(), true
}

// Unset clears the reference.
func (r *Ref[T]) Unset() {
	var zero T
	r.target, r.id, r.loaded = zero, 0, false
}

// Value implements driver.Valuer.
func (r Ref[T]) Value() (driver.Value, error) {
	if id := r.ID(); id != 0 {
		return id, nil
	}
	return nil, nil
}

// Scan implements sql.Scanner. A scanned reference is NotLoaded.
func (r *Ref[T]) Scan(src any) error {
	var zero T
	r.target, r.loaded = zero, false
	switch v := src.(type) {
	case nil:
		r.id = 0
	case int64:
		r.id = v
	case []byte:
		id, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return fmt.Errorf("scanning reference: %w", err)
		}
		r.id = id
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("scanning reference: %w", err)
		}
		r.id = id
	default:
		return fmt.Errorf("scanning reference: unsupported type %T", src)
	}
	return nil
}

// MarshalJSON encodes the key, or null for an empty reference.
func (r Ref[T]) MarshalJSON() ([]byte, error) {
	if r.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(r.ID())
}

// UnmarshalJSON decodes a key into a NotLoaded reference.
func (r *Ref[T]) UnmarshalJSON(data []byte) error {
	var id *int64
	if err := json.Unmarshal(data, &id); err != nil {
		return fmt.Errorf("decoding reference: %w", err)
	}
	var zero T
	r.target, r.loaded, r.id = zero, false, 0
	if id != nil {
		r.id = *id
	}
	return nil
}

// reference is the untyped view of a Ref used for cascades.
type reference interface {
	targetEntity() (Entity, bool)
}

func (r *Ref[T]) targetEntity() (Entity, bool) {
	if !r.loaded {
		return nil, false
	}
	return r.target, true
}
