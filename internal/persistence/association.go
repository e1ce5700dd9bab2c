package persistence

import (
	"context"
	"fmt"
)

// linkOp is a pending many-to-many change. Keys are read at flush, after
// inserts, so links between entities with identity keys work.
type linkOp struct {
	join   *JoinTable
	owner  Entity
	target Entity
	add    bool
}

// Associate links owner to target through the named join table at the next
// flush. Both entities must be tracked by the session. Linking an already
// linked pair is harmless.
func (s *Session) Associate(ctx context.Context, joinName string, owner, target Entity) error {
	return s.link(ctx, joinName, owner, target, true)
}

// Dissociate removes the link between owner and target at the next flush.
func (s *Session) Dissociate(ctx context.Context, joinName string, owner, target Entity) error {
	return s.link(ctx, joinName, owner, target, false)
}

func (s *Session) link(ctx context.Context, joinName string, owner, target Entity, add bool) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	j, err := s.factory.join(joinName)
	if err != nil {
		return err
	}
	if owner.EntityName() != j.Owner || target.EntityName() != j.Target {
		return fmt.Errorf("%w: join %s links %s to %s, not %s to %s",
			ErrUnknownEntity, j.Name, j.Owner, j.Target, owner.EntityName(), target.EntityName())
	}
	for _, e := range []Entity{owner, target} {
		ent, ok := s.byRef[e]
		if !ok || (ent.state != New && ent.state != Managed) {
			return fmt.Errorf("%w: linking %s %d", ErrDetachedEntity, e.EntityName(), e.ID())
		}
	}

	// A later op on the same pair replaces an earlier one.
	kept := s.links[:0]
	for _, l := range s.links {
		if l.join != j || l.owner != owner || l.target != target {
			kept = append(kept, l)
		}
	}
	s.links = append(kept, linkOp{join: j, owner: owner, target: target, add: add})
	return nil
}

func (s *Session) applyLink(ctx context.Context, q querier, l linkOp) error {
	j := l.join
	var query string
	if l.add {
		query = fmt.Sprintf("INSERT OR IGNORE INTO %s (%s, %s) VALUES (?, ?)", j.Table, j.OwnerColumn, j.TargetColumn)
	} else {
		query = fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND %s = ?", j.Table, j.OwnerColumn, j.TargetColumn)
	}
	if _, err := s.exec(ctx, q, query, l.owner.ID(), l.target.ID()); err != nil {
		return fmt.Errorf("updating %s link %d-%d: %w", j.Name, l.owner.ID(), l.target.ID(), err)
	}
	return nil
}

// Associated returns the targets linked to owner through the named join
// table, including links made in this session and not yet flushed.
// Targets are tracked; removed ones are left out.
func (s *Session) Associated(ctx context.Context, joinName string, owner Entity) ([]Entity, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	j, err := s.factory.join(joinName)
	if err != nil {
		return nil, err
	}
	target, err := s.factory.Schema(j.Target)
	if err != nil {
		return nil, err
	}

	var out []Entity
	seen := make(map[Entity]bool)
	if id := owner.ID(); id != 0 {
		query := fmt.Sprintf("SELECT %s FROM %s t JOIN %s j ON j.%s = t.%s WHERE j.%s = ? ORDER BY t.%s",
			target.selectList("t"), target.Table, j.Table, j.TargetColumn, IDColumn, j.OwnerColumn, IDColumn)
		rows, err := s.query(ctx, s.conn, query, id)
		if err != nil {
			return nil, fmt.Errorf("reading %s links: %w", j.Name, err)
		}
		defer rows.Close()
		for rows.Next() {
			e, err := s.scanEntity(target, rows)
			if err != nil {
				return nil, err
			}
			if !seen[e] {
				seen[e] = true
				out = append(out, e)
			}
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("reading %s links: %w", j.Name, err)
		}
	}

	for _, l := range s.links {
		if l.join != j || l.owner != owner {
			continue
		}
		switch {
		case l.add && !seen[l.target]:
			seen[l.target] = true
			out = append(out, l.target)
		case !l.add && seen[l.target]:
			out = without(out, l.target)
			delete(seen, l.target)
		}
	}
	return s.live(out), nil
}

func without(list []Entity, e Entity) []Entity {
	out := list[:0]
	for _, x := range list {
		if x != e {
			out = append(out, x)
		}
	}
	return out
}

// live drops entities the session has scheduled for deletion.
func (s *Session) live(list []Entity) []Entity {
	out := list[:0]
	for _, e := range list {
		if ent, ok := s.byRef[e]; ok && ent.state == Removed {
			continue
		}
		out = append(out, e)
	}
	return out
}
