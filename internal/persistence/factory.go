package persistence

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-orm/internal/infrastructure/config"
	"github.com/nerrad567/gray-orm/internal/infrastructure/database"
	"github.com/nerrad567/gray-orm/internal/infrastructure/logging"
)

// Factory creates sessions for one persistence unit. It is built once by
// the composition root and shared; it holds the schema registry, named
// queries, interceptors and flush listeners.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Sessions are not.
type Factory struct {
	db     *database.DB
	unit   string
	cfg    config.UnitConfig
	logger *logging.Logger

	mu           sync.RWMutex
	schemas      map[string]*Schema
	types        map[reflect.Type]*Schema
	joins        map[string]*JoinTable
	named        map[string]*Query
	interceptors []Interceptor
	listeners    []Listener
	auditor      Auditor
}

// NewFactory binds a unit's configuration to its open database.
func NewFactory(db *database.DB, unit string, cfg config.UnitConfig, logger *logging.Logger) *Factory {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Factory{
		db:      db,
		unit:    unit,
		cfg:     cfg,
		logger:  logger.With("component", "persistence", "unit", unit),
		schemas: make(map[string]*Schema),
		types:   make(map[reflect.Type]*Schema),
		joins:   make(map[string]*JoinTable),
		named:   make(map[string]*Query),
	}
}

// Unit returns the persistence unit name.
func (f *Factory) Unit() string {
	return f.unit
}

// DB returns the unit's database.
func (f *Factory) DB() *database.DB {
	return f.db
}

// Register adds entity schemas. Column names are derived with the unit's
// naming strategy. When the unit lists its entities, only those may be registered.
func (f *Factory) Register(schemas ...*Schema) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range schemas {
		if len(f.cfg.Entities) > 0 && !slices.Contains(f.cfg.Entities, s.Name) {
			return fmt.Errorf("%w: %s is not managed by unit %s", ErrUnknownEntity, s.Name, f.unit)
		}
		if _, dup := f.schemas[s.Name]; dup {
			return fmt.Errorf("entity %s registered twice", s.Name)
		}
		if err := s.resolve(f.cfg.NamingStrategy); err != nil {
			return err
		}
		f.schemas[s.Name] = s
		f.types[reflect.TypeOf(s.New())] = s
	}
	return nil
}

// RegisterJoin adds a many-to-many join table between two registered entities.
func (f *Factory) RegisterJoin(j *JoinTable) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, name := range []string{j.Owner, j.Target} {
		if _, ok := f.schemas[name]; !ok {
			return fmt.Errorf("%w: join %s references %s", ErrUnknownEntity, j.Name, name)
		}
	}
	f.joins[j.Name] = j
	return nil
}

// Schema returns the schema registered under name.
func (f *Factory) Schema(name string) (*Schema, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s, ok := f.schemas[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	return s, nil
}

func (f *Factory) schemaOf(e Entity) (*Schema, error) {
	return f.Schema(e.EntityName())
}

func (f *Factory) schemaOfType(t reflect.Type) (*Schema, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s, ok := f.types[t]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownEntity, t)
	}
	return s, nil
}

func (f *Factory) join(name string) (*JoinTable, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	j, ok := f.joins[name]
	if !ok {
		return nil, fmt.Errorf("%w: join %s", ErrUnknownEntity, name)
	}
	return j, nil
}

// RegisterNamed stores a query under a name for later use with Session.Named.
func (f *Factory) RegisterNamed(name string, q *Query) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.named[name] = q
}

func (f *Factory) namedQuery(name string) (*Query, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	q, ok := f.named[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuery, name)
	}
	return q.clone(), nil
}

// AddInterceptor registers an interceptor for all sessions.
func (f *Factory) AddInterceptor(i Interceptor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interceptors = append(f.interceptors, i)
}

// AddListener registers a post-commit flush listener for all sessions.
func (f *Factory) AddListener(l Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, l)
}

// SetAuditor installs the writer of revision rows for audited entities.
func (f *Factory) SetAuditor(a Auditor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auditor = a
}

func (f *Factory) hooks() ([]Interceptor, []Listener, Auditor) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.interceptors), slices.Clone(f.listeners), f.auditor
}

// EnsureSchema applies the unit's auto_schema mode: create runs the
// registered migrations, validate checks the recorded migrations are
// current and that every mapped column exists.
func (f *Factory) EnsureSchema(ctx context.Context) error {
	switch f.cfg.AutoSchema {
	case config.AutoSchemaValidate:
		if err := f.db.EnsureSchema(ctx, f.cfg.AutoSchema); err != nil {
			return fmt.Errorf("%w: %w", ErrSchemaMismatch, err)
		}
		return f.ValidateSchema(ctx)
	default:
		if err := f.db.EnsureSchema(ctx, f.cfg.AutoSchema); err != nil {
			return fmt.Errorf("preparing schema: %w", err)
		}
		return nil
	}
}

// ValidateSchema reports every registered column missing from the database.
func (f *Factory) ValidateSchema(ctx context.Context) error {
	f.mu.RLock()
	schemas := make([]*Schema, 0, len(f.schemas))
	for _, s := range f.schemas {
		schemas = append(schemas, s)
	}
	joins := make([]*JoinTable, 0, len(f.joins))
	for _, j := range f.joins {
		joins = append(joins, j)
	}
	f.mu.RUnlock()

	var missing []error
	check := func(table string, want []string) error {
		cols, err := f.db.Columns(ctx, table)
		if err != nil {
			return err
		}
		for _, c := range want {
			if !cols[c] {
				missing = append(missing, fmt.Errorf("%w: %s.%s", ErrSchemaMismatch, table, c))
			}
		}
		return nil
	}

	for _, s := range schemas {
		want := append([]string{IDColumn}, s.columns...)
		if s.Versioned {
			want = append(want, VersionColumn)
		}
		if err := check(s.Table, want); err != nil {
			return err
		}
	}
	for _, j := range joins {
		if err := check(j.Table, []string{j.OwnerColumn, j.TargetColumn}); err != nil {
			return err
		}
	}
	return errors.Join(missing...)
}

// Open starts a session bound to one pooled connection. When every
// connection is held by other sessions and none frees up within the unit's
// acquire timeout, it fails with ErrResourceExhausted.
func (f *Factory) Open(ctx context.Context) (*Session, error) {
	acquireCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout := f.cfg.GetAcquireTimeout(); timeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	conn, err := f.db.Conn(acquireCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: unit %s after %v", ErrResourceExhausted, f.unit, f.cfg.GetAcquireTimeout())
		}
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}

	s := newSession(f, conn, uuid.NewString())
	f.logger.Debug("session opened", "session_id", s.id)
	return s, nil
}

// Do runs fn in a fresh session and closes it afterwards.
func (f *Factory) Do(ctx context.Context, fn func(s *Session) error) error {
	s, err := f.Open(ctx)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck // Close errors are logged by the session
	return fn(s)
}
