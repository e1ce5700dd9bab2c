package persistence

import (
	"context"
	"fmt"
)

// NativeList runs a hand-written SELECT and maps its rows to entities of
// schema by column name. The result must include the id column; mapped
// columns it lacks keep their zero value, and unmapped columns are ignored.
// Rows are tracked like those of Select, so an entity loaded this way with
// missing columns should not be modified and flushed.
func (s *Session) NativeList(ctx context.Context, schema *Schema, query string, args ...any) ([]Entity, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	rows, err := s.query(ctx, s.conn, query, args...)
	if err != nil {
		return nil, fmt.Errorf("native query on %s: %w", schema.Name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("native query on %s: %w", schema.Name, err)
	}
	hasID := false
	for _, c := range cols {
		if c == IDColumn {
			hasID = true
		}
	}
	if !hasID {
		return nil, fmt.Errorf("native query on %s: result has no %s column", schema.Name, IDColumn)
	}

	var out []Entity
	for rows.Next() {
		fresh := schema.New()
		fields := fresh.Fields()
		var id, version int64
		var discard any

		dest := make([]any, len(cols))
		for i, c := range cols {
			switch {
			case c == IDColumn:
				dest[i] = &id
			case c == VersionColumn && schema.Versioned:
				dest[i] = &version
			default:
				dest[i] = &discard
				for j, mapped := range schema.columns {
					if mapped == c {
						dest[i] = fields[j]
						break
					}
				}
			}
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("native query on %s: %w", schema.Name, err)
		}

		if ent, ok := s.byKey[key{schema.Name, id}]; ok {
			out = append(out, ent.entity)
			continue
		}
		fresh.SetID(id)
		if v, ok := fresh.(Versioned); ok && schema.Versioned {
			v.SetVersion(version)
		}
		s.track(schema, fresh, Managed)
		s.stats.Loads++
		out = append(out, fresh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("native query on %s: %w", schema.Name, err)
	}
	return s.live(out), nil
}

// NativeScan runs a hand-written query and calls fn for each row with a
// scan function bound to it. Nothing is tracked; use it for projections
// and reports.
func (s *Session) NativeScan(ctx context.Context, query string, args []any, fn func(scan func(dest ...any) error) error) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	rows, err := s.query(ctx, s.conn, query, args...)
	if err != nil {
		return fmt.Errorf("native query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows.Scan); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("native query: %w", err)
	}
	return nil
}
