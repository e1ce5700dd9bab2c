package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Auditor writes revision rows for audited entities inside the flush
// transaction, so they commit or roll back with the changes they describe.
type Auditor interface {
	Audit(ctx context.Context, tx *sql.Tx, ev FlushEvent) error
}

type pendingUpdate struct {
	ent     *entry
	after   []any
	changed []int
}

// flushPlan is the work a flush issues, in order.
type flushPlan struct {
	inserts []*entry
	// deferred holds, per insert, the reference properties written as NULL
	// and set once the whole insert batch is in: the target is inserted later
	// because the references form a cycle.
	deferred map[*entry][]int
	updates  []pendingUpdate
	// checks are managed entities whose only change is the version brought
	// in by a merge. They are checked against the store, not written.
	checks  []*entry
	deletes []*entry
}

func (p *flushPlan) empty() bool {
	return len(p.inserts) == 0 && len(p.updates) == 0 && len(p.checks) == 0 && len(p.deletes) == 0
}

// Flush writes every pending change in one transaction: inserts, parents
// before the entities referring to them, then updates of entities whose
// attributes changed, then association changes, then deletes. The
// lifecycle hooks of each category run before any statement is issued, so
// a failing hook writes nothing. If the store rejects a statement the
// transaction is rolled back and the session is failed: only Close is
// allowed afterwards.
//
// A flush with nothing pending issues no statements.
func (s *Session) Flush(ctx context.Context) error {
	if s.flushing.Load() {
		return ErrRecursiveFlush
	}
	if err := s.enter(ctx); err != nil {
		return err
	}

	ev, err := s.flush(ctx)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if ev != nil {
		_, listeners, _ := s.factory.hooks()
		for _, l := range listeners {
			l.OnFlush(ctx, *ev)
		}
	}
	return nil
}

func (s *Session) flush(ctx context.Context) (*FlushEvent, error) { //nolint:gocognit,gocyclo // one statement loop per write category
	s.flushing.Store(true)
	defer s.flushing.Store(false)

	start := time.Now()
	hookCtx := context.WithValue(ctx, flushMarker{}, s)
	interceptors, _, auditor := s.factory.hooks()

	plan, err := s.prepare(hookCtx, interceptors)
	if err != nil {
		return nil, err
	}
	if plan.empty() && len(s.links) == 0 {
		s.stats.Flushes++
		return nil, nil
	}

	ev := &FlushEvent{
		Unit:      s.factory.unit,
		SessionID: s.id,
		Revision:  "rev-" + uuid.NewString(),
		Actor:     ActorFrom(ctx),
		At:        start.UTC(),
	}

	var undo []func()
	fail := func(err error) (*FlushEvent, error) {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		s.failed = err
		s.log.Error("flush failed", "error", err)
		return nil, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fail(fmt.Errorf("starting flush: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	for _, ent := range plan.inserts {
		change, err := s.insert(ctx, tx, ent, plan.deferred[ent], &undo)
		if err != nil {
			return fail(err)
		}
		ev.Changes = append(ev.Changes, change)
	}
	for _, ent := range plan.inserts {
		if err := s.linkForward(ctx, tx, ent, plan.deferred[ent]); err != nil {
			return fail(err)
		}
	}
	for i := range plan.updates {
		u := &plan.updates[i]
		// Keys of parents inserted above are only known now.
		u.after = capture(u.ent.entity)
		u.changed = diff(u.ent.snapshot, u.after)
		change, err := s.update(ctx, tx, *u)
		if err != nil {
			return fail(err)
		}
		ev.Changes = append(ev.Changes, change)
	}
	for _, ent := range plan.checks {
		if err := s.checkVersion(ctx, tx, ent); err != nil {
			return fail(err)
		}
	}
	for _, l := range s.links {
		if err := s.applyLink(ctx, tx, l); err != nil {
			return fail(err)
		}
	}
	for _, ent := range plan.deletes {
		change, err := s.delete(ctx, tx, ent)
		if err != nil {
			return fail(err)
		}
		ev.Changes = append(ev.Changes, change)
	}

	if auditor != nil {
		audited := *ev
		audited.Changes = s.auditedChanges(ev.Changes)
		if len(audited.Changes) > 0 {
			if err := auditor.Audit(ctx, tx, audited); err != nil {
				return fail(fmt.Errorf("writing revision: %w", err))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fail(classify(fmt.Errorf("committing flush: %w", err)))
	}

	linked := len(s.links)
	s.afterCommit(plan)
	if len(ev.Changes) == 0 && linked == 0 {
		// Version checks only: nothing was written.
		return nil, nil
	}
	ev.Duration = time.Since(start)
	s.log.Debug("flushed",
		"inserts", len(plan.inserts),
		"updates", len(plan.updates),
		"deletes", len(plan.deletes),
		"duration", ev.Duration,
	)
	return ev, nil
}

// prepare runs the lifecycle hooks and collects the work of a flush.
// Hooks may change their own entity; attributes are captured after them.
func (s *Session) prepare(ctx context.Context, interceptors []Interceptor) (*flushPlan, error) { //nolint:gocognit // one pass per write category
	if err := s.cascadePending(ctx); err != nil {
		return nil, err
	}

	plan := &flushPlan{}
	var inserts, managed []*entry
	for _, ent := range s.byRef {
		switch ent.state {
		case New:
			inserts = append(inserts, ent)
		case Managed:
			managed = append(managed, ent)
		case Removed:
			plan.deletes = append(plan.deletes, ent)
		}
	}
	bySeq := func(a, b *entry) int { return a.seq - b.seq }
	slices.SortFunc(inserts, bySeq)
	slices.SortFunc(managed, bySeq)
	slices.SortFunc(plan.deletes, bySeq)

	for _, ent := range inserts {
		if h, ok := ent.entity.(BeforeCreate); ok {
			if err := h.BeforeCreate(ctx); err != nil {
				return nil, fmt.Errorf("before create %s: %w", ent.schema.Name, err)
			}
		}
		for _, i := range interceptors {
			if err := i.OnPersist(ctx, ent.entity); err != nil {
				return nil, fmt.Errorf("interceptor on %s: %w", ent.schema.Name, err)
			}
		}
	}

	var err error
	plan.inserts, plan.deferred, err = s.orderInserts(inserts)
	if err != nil {
		return nil, err
	}

	for _, ent := range managed {
		pending, err := s.pendingReferences(ent)
		if err != nil {
			return nil, err
		}
		if len(diff(ent.snapshot, capture(ent.entity))) == 0 && !pending {
			if versionChanged(ent) {
				plan.checks = append(plan.checks, ent)
			}
			continue
		}
		if h, ok := ent.entity.(BeforeUpdate); ok {
			if err := h.BeforeUpdate(ctx); err != nil {
				return nil, fmt.Errorf("before update %s %d: %w", ent.schema.Name, ent.entity.ID(), err)
			}
		}
		after := capture(ent.entity)
		changed := diff(ent.snapshot, after)
		if len(changed) == 0 && !pending {
			if versionChanged(ent) {
				plan.checks = append(plan.checks, ent)
			}
			continue
		}
		plan.updates = append(plan.updates, pendingUpdate{ent: ent, after: after, changed: changed})
	}

	for _, ent := range plan.deletes {
		if h, ok := ent.entity.(BeforeDelete); ok {
			if err := h.BeforeDelete(ctx); err != nil {
				return nil, fmt.Errorf("before delete %s %d: %w", ent.schema.Name, ent.entity.ID(), err)
			}
		}
	}
	return plan, nil
}

// cascadePending registers the unsaved targets of cascading references
// set on tracked entities since they were persisted or loaded.
func (s *Session) cascadePending(ctx context.Context) error {
	var owners []*entry
	for _, ent := range s.byRef {
		if ent.state == New || ent.state == Managed {
			owners = append(owners, ent)
		}
	}
	slices.SortFunc(owners, func(a, b *entry) int { return a.seq - b.seq })

	visiting := make(map[Entity]bool)
	for _, ent := range owners {
		for i, target := range references(ent) {
			if !ent.schema.Properties[i].Cascade {
				continue
			}
			if _, tracked := s.byRef[target]; tracked || target.ID() != 0 {
				continue
			}
			if err := s.persist(ctx, target, visiting); err != nil {
				return fmt.Errorf("cascading %s.%s: %w", ent.schema.Name, ent.schema.Properties[i].Name, err)
			}
		}
	}
	return nil
}

// references returns the loaded reference targets of an entity by
// property index.
func references(ent *entry) map[int]Entity {
	var out map[int]Entity
	for i, field := range ent.entity.Fields() {
		if ent.schema.Properties[i].Target == "" {
			continue
		}
		r, ok := field.(reference)
		if !ok {
			continue
		}
		target, loaded := r.targetEntity()
		if !loaded || isNilEntity(target) {
			continue
		}
		if out == nil {
			out = make(map[int]Entity)
		}
		out[i] = target
	}
	return out
}

// isNilEntity reports a loaded reference holding a typed nil pointer.
func isNilEntity(e Entity) bool {
	v := reflect.ValueOf(e)
	return !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil())
}

// referenced resolves a reference target to its entry. A target this
// session does not track must already have a key; a keyless one would be
// written as NULL.
func (s *Session) referenced(ent *entry, prop int, target Entity) (*entry, error) {
	if dep, ok := s.byRef[target]; ok {
		return dep, nil
	}
	if target.ID() == 0 {
		return nil, fmt.Errorf("%w: %s.%s refers to an unsaved %s",
			ErrTransientReference, ent.schema.Name, ent.schema.Properties[prop].Name, target.EntityName())
	}
	return nil, nil
}

// orderInserts sorts pending inserts so that every entity follows the new
// entities it refers to, keeping registration order otherwise. References
// closing a cycle are returned as deferred: they are inserted as NULL and
// set after the batch.
func (s *Session) orderInserts(inserts []*entry) ([]*entry, map[*entry][]int, error) {
	const (
		visiting = iota + 1
		done
	)
	marks := make(map[*entry]int, len(inserts))
	ordered := make([]*entry, 0, len(inserts))
	var deferred map[*entry][]int

	var visit func(ent *entry) error
	visit = func(ent *entry) error {
		marks[ent] = visiting
		refs := references(ent)
		props := make([]int, 0, len(refs))
		for i := range refs {
			props = append(props, i)
		}
		slices.Sort(props)

		for _, i := range props {
			dep, err := s.referenced(ent, i, refs[i])
			if err != nil {
				return err
			}
			if dep == nil || dep.state != New {
				continue
			}
			switch marks[dep] {
			case visiting:
				if deferred == nil {
					deferred = make(map[*entry][]int)
				}
				deferred[ent] = append(deferred[ent], i)
			case done:
			default:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		marks[ent] = done
		ordered = append(ordered, ent)
		return nil
	}

	for _, ent := range inserts {
		if marks[ent] == 0 {
			if err := visit(ent); err != nil {
				return nil, nil, err
			}
		}
	}
	return ordered, deferred, nil
}

// pendingReferences reports whether a managed entity refers to an entity
// that this flush inserts. Its key is not known yet, so the snapshot
// comparison cannot see the change.
func (s *Session) pendingReferences(ent *entry) (bool, error) {
	pending := false
	for i, target := range references(ent) {
		dep, err := s.referenced(ent, i, target)
		if err != nil {
			return false, err
		}
		if dep != nil && dep.state == New && target.ID() == 0 {
			pending = true
		}
	}
	return pending, nil
}

// versionChanged reports a merge that brought in a different version.
func versionChanged(ent *entry) bool {
	if !ent.schema.Versioned {
		return false
	}
	v, ok := ent.entity.(Versioned)
	return ok && v.Version() != ent.version
}

// checkVersion confirms the row still carries the version a merge brought
// in, without writing it.
func (s *Session) checkVersion(ctx context.Context, tx *sql.Tx, ent *entry) error {
	schema, e := ent.schema, ent.entity
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ? AND %s = ?", schema.Table, IDColumn, VersionColumn)
	var one int
	err := s.queryRow(ctx, tx, query, e.ID(), e.(Versioned).Version()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %d was changed or deleted concurrently", ErrStaleState, schema.Name, e.ID())
	}
	if err != nil {
		return fmt.Errorf("checking %s %d version: %w", schema.Name, e.ID(), err)
	}
	return nil
}

// linkForward sets the deferred references of an inserted entity.
func (s *Session) linkForward(ctx context.Context, tx *sql.Tx, ent *entry, props []int) error {
	schema, e := ent.schema, ent.entity
	fields := e.Fields()
	for _, i := range props {
		query := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", schema.Table, schema.columns[i], IDColumn)
		if _, err := s.exec(ctx, tx, query, fields[i], e.ID()); err != nil {
			return fmt.Errorf("linking %s %d: %w", schema.Name, e.ID(), err)
		}
	}
	return nil
}

func (s *Session) insert(ctx context.Context, tx *sql.Tx, ent *entry, nulls []int, undo *[]func()) (Change, error) {
	schema, e := ent.schema, ent.entity

	cols := slices.Clone(schema.columns)
	args := slices.Clone(e.Fields())
	for _, i := range nulls {
		args[i] = nil
	}
	explicitID := e.ID() != 0
	if explicitID {
		cols = append([]string{IDColumn}, cols...)
		args = append([]any{e.ID()}, args...)
	}
	if schema.Versioned {
		cols = append(cols, VersionColumn)
		args = append(args, 1)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		schema.Table, strings.Join(cols, ", "), placeholders(len(cols)))
	res, err := s.exec(ctx, tx, query, args...)
	if err != nil {
		return Change{}, fmt.Errorf("inserting %s: %w", schema.Name, err)
	}

	if !explicitID {
		id, err := res.LastInsertId()
		if err != nil {
			return Change{}, fmt.Errorf("reading %s key: %w", schema.Name, err)
		}
		e.SetID(id)
		*undo = append(*undo, func() { e.SetID(0) })
	}

	values := make(map[string]any, len(schema.columns))
	for i, v := range capture(e) {
		values[schema.columns[i]] = v
	}
	return Change{Entity: schema.Name, ID: e.ID(), Op: OpInsert, Values: values}, nil
}

func (s *Session) update(ctx context.Context, tx *sql.Tx, u pendingUpdate) (Change, error) {
	schema, e := u.ent.schema, u.ent.entity
	fields := e.Fields()

	sets := make([]string, 0, len(u.changed)+1)
	args := make([]any, 0, len(u.changed)+3)
	values := make(map[string]any, len(u.changed))
	previous := make(map[string]any, len(u.changed))
	for _, i := range u.changed {
		col := schema.columns[i]
		sets = append(sets, col+" = ?")
		args = append(args, fields[i])
		values[col] = u.after[i]
		previous[col] = u.ent.snapshot[i]
	}

	where := IDColumn + " = ?"
	if schema.Versioned {
		sets = append(sets, VersionColumn+" = "+VersionColumn+" + 1")
		args = append(args, e.ID(), e.(Versioned).Version())
		where += " AND " + VersionColumn + " = ?"
	} else {
		args = append(args, e.ID())
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", schema.Table, strings.Join(sets, ", "), where)
	res, err := s.exec(ctx, tx, query, args...)
	if err != nil {
		return Change{}, fmt.Errorf("updating %s %d: %w", schema.Name, e.ID(), err)
	}
	if err := expectRow(res, schema.Name, e.ID()); err != nil {
		return Change{}, err
	}
	return Change{Entity: schema.Name, ID: e.ID(), Op: OpUpdate, Values: values, Previous: previous}, nil
}

func (s *Session) delete(ctx context.Context, tx *sql.Tx, ent *entry) (Change, error) {
	schema, e := ent.schema, ent.entity

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", schema.Table, IDColumn)
	args := []any{e.ID()}
	if schema.Versioned {
		query += " AND " + VersionColumn + " = ?"
		args = append(args, e.(Versioned).Version())
	}

	res, err := s.exec(ctx, tx, query, args...)
	if err != nil {
		return Change{}, fmt.Errorf("deleting %s %d: %w", schema.Name, e.ID(), err)
	}
	if err := expectRow(res, schema.Name, e.ID()); err != nil {
		return Change{}, err
	}
	return Change{Entity: schema.Name, ID: e.ID(), Op: OpDelete}, nil
}

func expectRow(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %d was changed or deleted concurrently", ErrStaleState, entity, id)
	}
	return nil
}

func (s *Session) auditedChanges(changes []Change) []Change {
	var out []Change
	for _, c := range changes {
		schema, err := s.factory.Schema(c.Entity)
		if err == nil && schema.Audited {
			out = append(out, c)
		}
	}
	return out
}

// afterCommit makes the committed state the new baseline.
func (s *Session) afterCommit(plan *flushPlan) {
	for _, ent := range plan.inserts {
		ent.state = Managed
		if v, ok := ent.entity.(Versioned); ok && ent.schema.Versioned {
			v.SetVersion(1)
		}
		ent.snapshot = capture(ent.entity)
		ent.version = versionOf(ent)
		s.byKey[key{ent.schema.Name, ent.entity.ID()}] = ent
	}
	for _, u := range plan.updates {
		if v, ok := u.ent.entity.(Versioned); ok && u.ent.schema.Versioned {
			v.SetVersion(v.Version() + 1)
		}
		u.ent.snapshot = u.after
		u.ent.version = versionOf(u.ent)
	}
	for _, ent := range plan.checks {
		ent.version = versionOf(ent)
	}
	for _, ent := range plan.deletes {
		s.untrack(ent)
	}

	s.stats.Inserts += len(plan.inserts)
	s.stats.Updates += len(plan.updates)
	s.stats.Deletes += len(plan.deletes)
	s.stats.Links += len(s.links)
	s.stats.Flushes++
	s.links = nil
	s.inverse = make(map[inverseKey][]int64)
}

func versionOf(ent *entry) int64 {
	if v, ok := ent.entity.(Versioned); ok && ent.schema.Versioned {
		return v.Version()
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
