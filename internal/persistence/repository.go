package persistence

import (
	"context"
	"fmt"
	"reflect"
)

// Repository is the CRUD surface for one entity type. Each call runs in
// its own session, so returned entities are detached.
type Repository[T Entity] struct {
	factory *Factory
	schema  *Schema
}

// NewRepository returns the repository of a registered entity type.
func NewRepository[T Entity](f *Factory) (*Repository[T], error) {
	var zero T
	schema, err := f.schemaOfType(reflect.TypeOf(zero))
	if err != nil {
		return nil, err
	}
	return &Repository[T]{factory: f, schema: schema}, nil
}

// Schema returns the mapped schema.
func (r *Repository[T]) Schema() *Schema {
	return r.schema
}

// Factory returns the factory sessions are opened from.
func (r *Repository[T]) Factory() *Factory {
	return r.factory
}

// FindAll returns every entity ordered by key.
func (r *Repository[T]) FindAll(ctx context.Context) ([]T, error) {
	var out []T
	err := r.factory.Do(ctx, func(s *Session) error {
		var err error
		out, err = List[T](ctx, s, From(r.schema.Name))
		return err
	})
	return out, err
}

// FindByID returns the entity with the key; found is false when there is none.
func (r *Repository[T]) FindByID(ctx context.Context, id int64) (T, bool, error) {
	var (
		out   T
		found bool
	)
	err := r.factory.Do(ctx, func(s *Session) error {
		var err error
		out, found, err = Find[T](ctx, s, id)
		return err
	})
	return out, found, err
}

// Get is FindByID reporting a missing row as ErrNotFound.
func (r *Repository[T]) Get(ctx context.Context, id int64) (T, error) {
	e, found, err := r.FindByID(ctx, id)
	if err != nil {
		return e, err
	}
	if !found {
		return e, fmt.Errorf("%w: %s %d", ErrNotFound, r.schema.Name, id)
	}
	return e, nil
}

// Create inserts e and assigns its key.
func (r *Repository[T]) Create(ctx context.Context, e T) error {
	return r.factory.Do(ctx, func(s *Session) error {
		if err := s.Persist(ctx, e); err != nil {
			return err
		}
		return s.Flush(ctx)
	})
}

// SaveAll inserts every entity with one flush.
func (r *Repository[T]) SaveAll(ctx context.Context, list []T) error {
	return r.factory.Do(ctx, func(s *Session) error {
		for _, e := range list {
			if err := s.Persist(ctx, e); err != nil {
				return err
			}
		}
		return s.Flush(ctx)
	})
}

// Update writes the state of a detached e over its row and returns the
// updated copy. e itself is left untouched.
func (r *Repository[T]) Update(ctx context.Context, e T) (T, error) {
	var out T
	err := r.factory.Do(ctx, func(s *Session) error {
		merged, err := s.Merge(ctx, e)
		if err != nil {
			return err
		}
		if err := s.Flush(ctx); err != nil {
			return err
		}
		t, ok := merged.(T)
		if !ok {
			return fmt.Errorf("%w: merged %T", ErrUnknownEntity, merged)
		}
		out = t
		return nil
	})
	return out, err
}

// DeleteByID deletes the row with the key. It reports false when there was
// no such row or the store refused the delete; the reason is logged.
func (r *Repository[T]) DeleteByID(ctx context.Context, id int64) bool {
	deleted := false
	err := r.factory.Do(ctx, func(s *Session) error {
		e, found, err := s.Load(ctx, r.schema, id)
		if err != nil || !found {
			return err
		}
		if err := s.Remove(ctx, e); err != nil {
			return err
		}
		if err := s.Flush(ctx); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		r.factory.logger.Warn("delete failed", "entity", r.schema.Name, "id", id, "error", err)
		return false
	}
	return deleted
}

// Delete is DeleteByID returning the failure instead of logging it.
// A missing row yields ErrNotFound.
func (r *Repository[T]) Delete(ctx context.Context, id int64) error {
	return r.factory.Do(ctx, func(s *Session) error {
		e, found, err := s.Load(ctx, r.schema, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s %d", ErrNotFound, r.schema.Name, id)
		}
		if err := s.Remove(ctx, e); err != nil {
			return err
		}
		return s.Flush(ctx)
	})
}

// Count returns the number of rows.
func (r *Repository[T]) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.factory.Do(ctx, func(s *Session) error {
		var err error
		n, err = s.Count(ctx, From(r.schema.Name))
		return err
	})
	return n, err
}

// Page is one page of a listing.
type Page[T Entity] struct {
	Items []T   `json:"items"`
	Page  int   `json:"page"`
	Size  int   `json:"size"`
	Total int64 `json:"total"`
}

// FindPage returns page (from zero) of size entities ordered by key.
func (r *Repository[T]) FindPage(ctx context.Context, page, size int) (Page[T], error) {
	return r.FindPageWhere(ctx, nil, page, size)
}

// FindPageWhere returns one page of the entities matching cond.
func (r *Repository[T]) FindPageWhere(ctx context.Context, cond *Condition, page, size int) (Page[T], error) {
	if page < 0 {
		page = 0
	}
	out := Page[T]{Page: page, Size: size}
	err := r.factory.Do(ctx, func(s *Session) error {
		q := From(r.schema.Name)
		if cond != nil {
			q.Filter(cond)
		}
		total, err := s.Count(ctx, q)
		if err != nil {
			return err
		}
		out.Total = total

		items, err := List[T](ctx, s, q.clone().Page(page, size))
		if err != nil {
			return err
		}
		out.Items = items
		return nil
	})
	return out, err
}

// FindWhere returns the entities matching q, which must select this type.
func (r *Repository[T]) FindWhere(ctx context.Context, q *Query) ([]T, error) {
	if q.Entity == "" {
		q.Entity = r.schema.Name
	}
	if q.Entity != r.schema.Name {
		return nil, fmt.Errorf("%w: query selects %s, repository holds %s", ErrUnknownEntity, q.Entity, r.schema.Name)
	}
	var out []T
	err := r.factory.Do(ctx, func(s *Session) error {
		var err error
		out, err = List[T](ctx, s, q)
		return err
	})
	return out, err
}
