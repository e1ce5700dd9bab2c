package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nerrad567/gray-orm/internal/infrastructure/config"
	"github.com/nerrad567/gray-orm/internal/infrastructure/database"
)

type org struct {
	id   int64
	Name string
}

func (o *org) EntityName() string { return "org" }
func (o *org) ID() int64          { return o.id }
func (o *org) SetID(id int64)     { o.id = id }
func (o *org) Fields() []any      { return []any{&o.Name} }

type person struct {
	id      int64
	Name    string
	Email   string
	Age     int
	Note    string
	Org     Ref[*org]
	version int64

	creates, updates, deletes int
	failCreate                error
}

func (p *person) EntityName() string { return "person" }
func (p *person) ID() int64          { return p.id }
func (p *person) SetID(id int64)     { p.id = id }
func (p *person) Version() int64     { return p.version }
func (p *person) SetVersion(v int64) { p.version = v }

func (p *person) Fields() []any {
	return []any{&p.Name, &p.Email, &p.Age, &p.Note, &p.Org}
}

func (p *person) BeforeCreate(context.Context) error {
	p.creates++
	return p.failCreate
}

func (p *person) BeforeUpdate(context.Context) error {
	p.updates++
	p.Note = "updated"
	return nil
}

func (p *person) BeforeDelete(context.Context) error {
	p.deletes++
	return nil
}

type tag struct {
	id    int64
	Label string
}

func (t *tag) EntityName() string { return "tag" }
func (t *tag) ID() int64          { return t.id }
func (t *tag) SetID(id int64)     { t.id = id }
func (t *tag) Fields() []any      { return []any{&t.Label} }

func orgSchema() *Schema {
	return &Schema{
		Name:       "org",
		Table:      "orgs",
		Properties: []Property{{Name: "name"}},
		Generator:  Identity(),
		New:        func() Entity { return &org{} },
	}
}

func personSchema() *Schema {
	return &Schema{
		Name:  "person",
		Table: "people",
		Properties: []Property{
			{Name: "name"},
			{Name: "email"},
			{Name: "age"},
			{Name: "note"},
			{Name: "org", Column: "org_id", Target: "org", Cascade: true},
		},
		Generator: Identity(),
		Versioned: true,
		Audited:   true,
		New:       func() Entity { return &person{} },
	}
}

// node refers to another node, so references between new nodes can form cycles.
type node struct {
	id    int64
	Label string
	Next  Ref[*node]
}

func (n *node) EntityName() string { return "node" }
func (n *node) ID() int64          { return n.id }
func (n *node) SetID(id int64)     { n.id = id }
func (n *node) Fields() []any      { return []any{&n.Label, &n.Next} }

func nodeSchema() *Schema {
	return &Schema{
		Name:  "node",
		Table: "nodes",
		Properties: []Property{
			{Name: "label"},
			{Name: "next", Column: "next_id", Target: "node"},
		},
		Generator: Identity(),
		New:       func() Entity { return &node{} },
	}
}

func tagSchema() *Schema {
	return &Schema{
		Name:       "tag",
		Table:      "tags",
		Properties: []Property{{Name: "label"}},
		Generator:  Sequence("tag_seq"),
		New:        func() Entity { return &tag{} },
	}
}

const testSchemaSQL = `
	CREATE TABLE orgs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);
	CREATE TABLE people (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		age INTEGER NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		org_id INTEGER REFERENCES orgs(id),
		version INTEGER NOT NULL
	);
	CREATE TABLE nodes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		label TEXT NOT NULL,
		next_id INTEGER REFERENCES nodes(id)
	);
	CREATE TABLE tags (
		id INTEGER PRIMARY KEY,
		label TEXT NOT NULL
	);
	CREATE TABLE person_tags (
		person_id INTEGER NOT NULL REFERENCES people(id) ON DELETE CASCADE,
		tag_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
		PRIMARY KEY (person_id, tag_id)
	);
	CREATE TABLE id_sequences (
		name TEXT PRIMARY KEY,
		next_val INTEGER NOT NULL
	);
`

// newTestFactory returns a factory over a fresh database file with the
// org, person, node and tag schemas registered.
func newTestFactory(t *testing.T, mutate ...func(*config.UnitConfig)) *Factory {
	t.Helper()
	return newTestFactoryWith(t, personSchema(), mutate...)
}

// newPlainFactory registers a person schema whose org reference does not cascade.
func newPlainFactory(t *testing.T) *Factory {
	t.Helper()
	people := personSchema()
	people.Properties[4].Cascade = false
	return newTestFactoryWith(t, people)
}

func newTestFactoryWith(t *testing.T, people *Schema, mutate ...func(*config.UnitConfig)) *Factory {
	t.Helper()

	unit := config.UnitConfig{
		Database: config.DatabaseConfig{
			Path:           filepath.Join(t.TempDir(), "test.db"),
			BusyTimeout:    1,
			MaxOpenConns:   2,
			AcquireTimeout: 200,
		},
		NamingStrategy: config.NamingSnakeCase,
	}
	for _, m := range mutate {
		m(&unit)
	}

	db, err := database.Open(database.Config{
		Path:         unit.Database.Path,
		BusyTimeout:  unit.Database.BusyTimeout,
		MaxOpenConns: unit.Database.MaxOpenConns,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.ExecContext(context.Background(), testSchemaSQL); err != nil {
		t.Fatalf("creating test schema: %v", err)
	}

	f := NewFactory(db, "test", unit, nil)
	if err := f.Register(orgSchema(), people, nodeSchema(), tagSchema()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := f.RegisterJoin(&JoinTable{
		Name:         "person_tags",
		Table:        "person_tags",
		OwnerColumn:  "person_id",
		TargetColumn: "tag_id",
		Owner:        "person",
		Target:       "tag",
	}); err != nil {
		t.Fatalf("RegisterJoin() error = %v", err)
	}
	return f
}

// openSession opens a session that is closed when the test ends.
func openSession(t *testing.T, f *Factory) *Session {
	t.Helper()
	s, err := f.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedPerson inserts a person in its own session and returns its key.
func seedPerson(t *testing.T, f *Factory, name string, age int) int64 {
	t.Helper()
	ctx := context.Background()

	p := &person{Name: name, Email: name + "@example.com", Age: age}
	err := f.Do(ctx, func(s *Session) error {
		if err := s.Persist(ctx, p); err != nil {
			return err
		}
		return s.Flush(ctx)
	})
	if err != nil {
		t.Fatalf("seeding %s: %v", name, err)
	}
	return p.ID()
}

func countRows(t *testing.T, f *Factory, table string) int {
	t.Helper()
	var n int
	if err := f.DB().QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	return n
}
