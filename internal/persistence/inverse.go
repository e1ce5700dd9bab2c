package persistence

import (
	"context"
	"fmt"
	"reflect"
	"slices"
)

type inverseKey struct {
	entity   string
	property string
	parent   int64
}

// Inverse returns the child entities whose reference property points at
// parentID: the one-to-many side of a many-to-one. The store is read once
// per session and key; the result is then combined with the tracked
// entities, so unflushed re-parenting, new children and removals show up.
// The cache is dropped on every flush.
func (s *Session) Inverse(ctx context.Context, child *Schema, property string, parentID int64) ([]Entity, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	col, err := child.Column(property)
	if err != nil {
		return nil, err
	}
	fk := child.index[property]

	k := inverseKey{child.Name, property, parentID}
	ids, cached := s.inverse[k]
	if !cached {
		ids, err = s.readInverse(ctx, child, col, parentID)
		if err != nil {
			return nil, err
		}
		s.inverse[k] = ids
	}

	var out []Entity
	for _, id := range ids {
		e, found, err := s.load(ctx, child, id)
		if err != nil {
			return nil, err
		}
		if found && refersTo(e, fk, parentID) {
			out = append(out, e)
		}
	}

	// Tracked children that were re-pointed at parentID, or are new.
	var extra []*entry
	for _, ent := range s.byRef {
		if ent.schema != child || ent.state == Removed {
			continue
		}
		if slices.Contains(out, ent.entity) || !refersTo(ent.entity, fk, parentID) {
			continue
		}
		extra = append(extra, ent)
	}
	slices.SortFunc(extra, func(a, b *entry) int { return a.seq - b.seq })
	for _, ent := range extra {
		out = append(out, ent.entity)
	}
	return out, nil
}

func (s *Session) readInverse(ctx context.Context, child *Schema, col string, parentID int64) ([]int64, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY %s", child.selectList(""), child.Table, col, IDColumn)
	rows, err := s.query(ctx, s.conn, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("reading %s by %s: %w", child.Name, col, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		e, err := s.scanEntity(child, rows)
		if err != nil {
			return nil, err
		}
		ids = append(ids, e.ID())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s by %s: %w", child.Name, col, err)
	}
	return ids, nil
}

// refersTo reports whether the reference attribute at index fk holds parentID.
func refersTo(e Entity, fk int, parentID int64) bool {
	id, ok := normalize(e.Fields()[fk]).(int64)
	return ok && id == parentID
}

// Children is the typed form of Inverse.
func Children[T Entity](ctx context.Context, s *Session, property string, parentID int64) ([]T, error) {
	var zero T
	schema, err := s.factory.schemaOfType(reflect.TypeOf(zero))
	if err != nil {
		return nil, err
	}
	list, err := s.Inverse(ctx, schema, property, parentID)
	if err != nil {
		return nil, err
	}
	return cast[T](list)
}

func cast[T Entity](list []Entity) ([]T, error) {
	out := make([]T, 0, len(list))
	for _, e := range list {
		t, ok := e.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("%w: %T is not %T", ErrUnknownEntity, e, zero)
		}
		out = append(out, t)
	}
	return out, nil
}
