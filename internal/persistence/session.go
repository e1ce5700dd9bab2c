package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-orm/internal/infrastructure/logging"
)

// State is the lifecycle state of an entity relative to a session.
type State int

// Entity states.
const (
	// Transient entities were never persisted and are unknown to the session.
	Transient State = iota
	// New entities are registered and will be inserted by the next flush.
	New
	// Managed entities were loaded or flushed; changes to them are detected.
	Managed
	// Removed entities will be deleted by the next flush.
	Removed
	// Detached entities have a key but are not tracked by the session.
	Detached
)

func (s State) String() string {
	switch s {
	case New:
		return "new"
	case Managed:
		return "managed"
	case Removed:
		return "removed"
	case Detached:
		return "detached"
	default:
		return "transient"
	}
}

// Stats counts the work a session has issued.
type Stats struct {
	Loads      int `json:"loads"`
	Inserts    int `json:"inserts"`
	Updates    int `json:"updates"`
	Deletes    int `json:"deletes"`
	Links      int `json:"links"`
	Flushes    int `json:"flushes"`
	Statements int `json:"statements"`
}

// Writes returns the number of row writes issued.
func (s Stats) Writes() int {
	return s.Inserts + s.Updates + s.Deletes + s.Links
}

type key struct {
	entity string
	id     int64
}

type entry struct {
	schema   *Schema
	entity   Entity
	state    State
	snapshot []any
	version  int64
	seq      int
}

// Session is a unit of work: an identity map of the entities it has loaded
// or registered, and the connection their changes are flushed through.
//
// A session belongs to one logical operation and one goroutine at a time.
// Calls are serialised by an internal mutex. Lifecycle hooks and listeners
// must not call back into the session; a hook that calls Flush gets
// ErrRecursiveFlush.
type Session struct {
	id      string
	factory *Factory
	conn    *sql.Conn
	log     *logging.Logger

	mu      sync.Mutex
	byKey   map[key]*entry
	byRef   map[Entity]*entry
	seq     int
	links   []linkOp
	inverse map[inverseKey][]int64
	stats   Stats
	failed  error

	flushing atomic.Bool
	closed   atomic.Bool
}

type flushMarker struct{}

func newSession(f *Factory, conn *sql.Conn, id string) *Session {
	s := &Session{
		id:      id,
		factory: f,
		conn:    conn,
		log:     f.logger.With("session_id", id),
	}
	s.reset()
	return s
}

func (s *Session) reset() {
	s.byKey = make(map[key]*entry)
	s.byRef = make(map[Entity]*entry)
	s.links = nil
	s.inverse = make(map[inverseKey][]int64)
}

// ID returns the session identifier used in logs and flush events.
func (s *Session) ID() string {
	return s.id
}

// Factory returns the factory that opened the session.
func (s *Session) Factory() *Factory {
	return s.factory
}

// Stats returns a copy of the session's counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Session) isClosed() bool {
	return s.closed.Load()
}

// enter locks the session for an operation. Calls made from inside a
// flush (hooks carry the marked context) are refused before locking.
func (s *Session) enter(ctx context.Context) error {
	if ctx.Value(flushMarker{}) == s {
		return ErrRecursiveFlush
	}
	s.mu.Lock()
	if err := s.usable(); err != nil {
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Session) usable() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if s.failed != nil {
		return fmt.Errorf("%w: %w", ErrSessionFailed, s.failed)
	}
	return nil
}

func (s *Session) track(schema *Schema, e Entity, state State) *entry {
	s.seq++
	ent := &entry{schema: schema, entity: e, state: state, seq: s.seq}
	if state == Managed {
		ent.snapshot = capture(e)
		if v, ok := e.(Versioned); ok && schema.Versioned {
			ent.version = v.Version()
		}
	}
	s.byRef[e] = ent
	if id := e.ID(); id != 0 {
		s.byKey[key{schema.Name, id}] = ent
	}
	return ent
}

func (s *Session) untrack(ent *entry) {
	delete(s.byRef, ent.entity)
	if id := ent.entity.ID(); id != 0 {
		if cur, ok := s.byKey[key{ent.schema.Name, id}]; ok && cur == ent {
			delete(s.byKey, key{ent.schema.Name, id})
		}
	}
	kept := s.links[:0]
	for _, l := range s.links {
		if l.owner != ent.entity && l.target != ent.entity {
			kept = append(kept, l)
		}
	}
	s.links = kept
}

// Load returns the entity with the key. A tracked instance is returned
// as is, so two loads of one key yield the same pointer; otherwise the row
// is read and the new instance tracked. A missing row, or one removed in
// this session, reports found=false with a nil error.
func (s *Session) Load(ctx context.Context, schema *Schema, id int64) (Entity, bool, error) {
	if err := s.enter(ctx); err != nil {
		return nil, false, err
	}
	defer s.mu.Unlock()
	return s.load(ctx, schema, id)
}

func (s *Session) load(ctx context.Context, schema *Schema, id int64) (Entity, bool, error) {
	if ent, ok := s.byKey[key{schema.Name, id}]; ok {
		if ent.state == Removed {
			return nil, false, nil
		}
		return ent.entity, true, nil
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", schema.selectList(""), schema.Table, IDColumn)
	rows, err := s.query(ctx, s.conn, query, id)
	if err != nil {
		return nil, false, fmt.Errorf("loading %s %d: %w", schema.Name, id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, false, fmt.Errorf("loading %s %d: %w", schema.Name, id, err)
		}
		return nil, false, nil
	}
	e, err := s.scanEntity(schema, rows)
	if err != nil {
		return nil, false, fmt.Errorf("loading %s %d: %w", schema.Name, id, err)
	}
	return e, true, nil
}

// scanEntity reads one row selected with Schema.selectList. A key already
// tracked resolves to the tracked instance, leaving its state untouched.
func (s *Session) scanEntity(schema *Schema, rows *sql.Rows) (Entity, error) {
	fresh := schema.New()
	var id, version int64
	dest := append([]any{&id}, fresh.Fields()...)
	if schema.Versioned {
		dest = append(dest, &version)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", schema.Name, err)
	}

	if ent, ok := s.byKey[key{schema.Name, id}]; ok {
		return ent.entity, nil
	}

	fresh.SetID(id)
	if v, ok := fresh.(Versioned); ok && schema.Versioned {
		v.SetVersion(version)
	}
	s.track(schema, fresh, Managed)
	s.stats.Loads++
	return fresh, nil
}

// Find loads the entity of type T with the key.
func Find[T Entity](ctx context.Context, s *Session, id int64) (T, bool, error) {
	var zero T
	schema, err := s.factory.schemaOfType(reflect.TypeOf(zero))
	if err != nil {
		return zero, false, err
	}
	e, found, err := s.Load(ctx, schema, id)
	if err != nil || !found {
		return zero, false, err
	}
	t, ok := e.(T)
	if !ok {
		return zero, false, fmt.Errorf("%w: %s is %T", ErrUnknownEntity, schema.Name, e)
	}
	return t, true, nil
}

// Persist registers e for insertion by the next flush. Sequence and custom
// keys are assigned immediately; identity keys at flush. Loaded references
// marked Cascade that are not yet tracked are registered first. Persisting
// a tracked entity is a no-op, except that a removed one becomes managed again.
func (s *Session) Persist(ctx context.Context, e Entity) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.persist(ctx, e, make(map[Entity]bool))
}

func (s *Session) persist(ctx context.Context, e Entity, visiting map[Entity]bool) error {
	if visiting[e] {
		return nil
	}
	visiting[e] = true

	if ent, ok := s.byRef[e]; ok {
		if ent.state == Removed {
			ent.state = Managed
		}
		return nil
	}

	schema, err := s.factory.schemaOf(e)
	if err != nil {
		return err
	}

	for i, field := range e.Fields() {
		p := schema.Properties[i]
		if p.Target == "" || !p.Cascade {
			continue
		}
		r, ok := field.(reference)
		if !ok {
			continue
		}
		if target, loaded := r.targetEntity(); loaded {
			if err := s.persist(ctx, target, visiting); err != nil {
				return fmt.Errorf("cascading %s.%s: %w", schema.Name, p.Name, err)
			}
		}
	}

	if id := e.ID(); id != 0 {
		if _, taken := s.byKey[key{schema.Name, id}]; taken {
			return fmt.Errorf("%w: %s %d", ErrIdentityConflict, schema.Name, id)
		}
	} else {
		switch schema.Generator.Kind {
		case GenerateSequence:
			next, err := s.nextSequence(ctx, schema.Generator.Sequence)
			if err != nil {
				return fmt.Errorf("assigning %s key: %w", schema.Name, err)
			}
			e.SetID(next)
		case GenerateCustom:
			e.SetID(schema.Generator.Next())
		}
	}

	s.track(schema, e, New)
	return nil
}

// nextSequence draws the next value of a named sequence. Drawn values are
// never returned, even when the flush that would use them rolls back.
func (s *Session) nextSequence(ctx context.Context, name string) (int64, error) {
	const query = `INSERT INTO id_sequences (name, next_val) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET next_val = next_val + 1
		RETURNING next_val`
	var next int64
	if err := s.queryRow(ctx, s.conn, query, name).Scan(&next); err != nil {
		return 0, fmt.Errorf("sequence %s: %w", name, err)
	}
	return next, nil
}

// Remove schedules a managed entity for deletion. A new entity is simply
// forgotten.
func (s *Session) Remove(ctx context.Context, e Entity) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	ent, ok := s.byRef[e]
	if !ok {
		return fmt.Errorf("%w: removing %s %d", ErrDetachedEntity, e.EntityName(), e.ID())
	}
	switch ent.state {
	case New:
		s.untrack(ent)
	case Managed:
		ent.state = Removed
	}
	return nil
}

// Evict stops tracking e. Later changes to it are not flushed.
func (s *Session) Evict(e Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.byRef[e]; ok {
		s.untrack(ent)
	}
}

// Clear stops tracking every entity and discards pending changes.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// Contains reports whether e is tracked and not scheduled for deletion.
func (s *Session) Contains(e Entity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.byRef[e]
	return ok && (ent.state == New || ent.state == Managed)
}

// State returns e's lifecycle state relative to this session.
func (s *Session) State(e Entity) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.byRef[e]; ok {
		return ent.state
	}
	if e.ID() != 0 {
		return Detached
	}
	return Transient
}

// Merge copies the state of a detached instance onto the instance this
// session tracks for the same key, loading it if needed, and returns the
// tracked instance. An instance with no key, or a key with no row, is
// registered as a new copy. The argument itself never becomes tracked.
// Merging an instance scheduled for deletion fails with ErrDetachedEntity.
func (s *Session) Merge(ctx context.Context, e Entity) (Entity, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if ent, ok := s.byRef[e]; ok {
		if ent.state == Removed {
			return nil, fmt.Errorf("%w: %s %d is scheduled for deletion", ErrDetachedEntity, ent.schema.Name, e.ID())
		}
		return e, nil
	}
	schema, err := s.factory.schemaOf(e)
	if err != nil {
		return nil, err
	}

	if e.ID() != 0 {
		if ent, ok := s.byKey[key{schema.Name, e.ID()}]; ok && ent.state == Removed {
			return nil, fmt.Errorf("%w: %s %d is scheduled for deletion", ErrDetachedEntity, schema.Name, e.ID())
		}
		managed, found, err := s.load(ctx, schema, e.ID())
		if err != nil {
			return nil, err
		}
		if found {
			copyState(managed, e)
			return managed, nil
		}
	}

	dup := schema.New()
	copyState(dup, e)
	dup.SetID(e.ID())
	if err := s.persist(ctx, dup, make(map[Entity]bool)); err != nil {
		return nil, err
	}
	return dup, nil
}

// copyState copies attribute values, and the version, from src to dst.
func copyState(dst, src Entity) {
	df, sf := dst.Fields(), src.Fields()
	for i := range sf {
		reflect.ValueOf(df[i]).Elem().Set(reflect.ValueOf(sf[i]).Elem())
	}
	if dv, ok := dst.(Versioned); ok {
		if sv, ok := src.(Versioned); ok {
			dv.SetVersion(sv.Version())
		}
	}
}

// Refresh overwrites a managed entity with its row, discarding local
// changes. If the row is gone it fails with ErrStaleState.
func (s *Session) Refresh(ctx context.Context, e Entity) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	ent, ok := s.byRef[e]
	if !ok || ent.state != Managed {
		return fmt.Errorf("%w: refreshing %s %d", ErrDetachedEntity, e.EntityName(), e.ID())
	}

	schema := ent.schema
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", schema.selectList(""), schema.Table, IDColumn)
	rows, err := s.query(ctx, s.conn, query, e.ID())
	if err != nil {
		return fmt.Errorf("refreshing %s %d: %w", schema.Name, e.ID(), err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s %d no longer exists", ErrStaleState, schema.Name, e.ID())
	}

	var id, version int64
	dest := append([]any{&id}, e.Fields()...)
	if schema.Versioned {
		dest = append(dest, &version)
	}
	if err := rows.Scan(dest...); err != nil {
		return fmt.Errorf("refreshing %s %d: %w", schema.Name, e.ID(), err)
	}
	if v, ok := e.(Versioned); ok && schema.Versioned {
		v.SetVersion(version)
		ent.version = version
	}
	ent.snapshot = capture(e)
	s.stats.Loads++
	return nil
}

// Reference returns a reference to the key of type T without reading the
// store. A tracked instance makes it Loaded.
func Reference[T Entity](s *Session, id int64) Ref[T] {
	var zero T
	schema, err := s.factory.schemaOfType(reflect.TypeOf(zero))
	if err != nil {
		return RefTo[T](id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ent, ok := s.byKey[key{schema.Name, id}]; ok && ent.state != Removed {
		if t, ok := ent.entity.(T); ok {
			return RefOf(t)
		}
	}
	return RefTo[T](id)
}

// Close releases the connection. Unflushed changes are discarded. Close is
// idempotent and allowed after a failed flush.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	if err := s.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		s.log.Warn("closing session connection", "error", err)
		return fmt.Errorf("closing session: %w", err)
	}
	s.log.Debug("session closed", "stats", s.stats)
	return nil
}
