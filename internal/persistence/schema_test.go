package persistence

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-orm/internal/infrastructure/config"
	"github.com/nerrad567/gray-orm/internal/infrastructure/database"
)

func TestSnakeCase(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"name", "name"},
		{"lastName", "last_name"},
		{"RegisterDate", "register_date"},
		{"legalCIF", "legal_cif"},
		{"HTTPServer", "http_server"},
		{"address2Line", "address2_line"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := snakeCase(tt.input); got != tt.expected {
				t.Errorf("snakeCase(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestApplyNaming(t *testing.T) {
	tests := []struct {
		strategy string
		expected string
	}{
		{config.NamingSnakeCase, "last_name"},
		{config.NamingLowerCase, "lastname"},
		{config.NamingVerbatim, "lastName"},
		{"", "last_name"},
	}

	for _, tt := range tests {
		if got := applyNaming(tt.strategy, "lastName"); got != tt.expected {
			t.Errorf("applyNaming(%q) = %q, want %q", tt.strategy, got, tt.expected)
		}
	}
}

func TestSchema_Resolve(t *testing.T) {
	s := personSchema()
	if err := s.resolve(config.NamingSnakeCase); err != nil {
		t.Fatalf("resolve() error = %v", err)
	}
	if got := strings.Join(s.Columns(), ","); got != "name,email,age,note,org_id" {
		t.Errorf("Columns() = %s", got)
	}
	if got := s.selectList("p"); got != "p.id, p.name, p.email, p.age, p.note, p.org_id, p.version" {
		t.Errorf("selectList() = %s", got)
	}
	if _, err := s.Column("salary"); !errors.Is(err, ErrUnknownProperty) {
		t.Errorf("Column(unknown) error = %v, want ErrUnknownProperty", err)
	}

	bad := personSchema()
	bad.Properties = bad.Properties[:2]
	if err := bad.resolve(config.NamingSnakeCase); err == nil {
		t.Error("resolve() with too few properties error = nil")
	}
}

func TestFactory_RegisterRestrictedUnit(t *testing.T) {
	f := NewFactory(nil, "restricted", config.UnitConfig{Entities: []string{"org"}}, nil)
	if err := f.Register(orgSchema()); err != nil {
		t.Fatalf("Register(org) error = %v", err)
	}
	if err := f.Register(personSchema()); !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("Register(person) error = %v, want ErrUnknownEntity", err)
	}
	if err := f.Register(orgSchema()); err == nil {
		t.Error("registering org twice error = nil")
	}
}

func TestFactory_ValidateSchema(t *testing.T) {
	f := newTestFactory(t)
	if err := f.ValidateSchema(context.Background()); err != nil {
		t.Fatalf("ValidateSchema() error = %v", err)
	}

	extra := &Schema{
		Name:       "ghost",
		Table:      "orgs",
		Properties: []Property{{Name: "name"}, {Name: "motto"}},
		New:        func() Entity { return &ghost{} },
	}
	if err := f.Register(extra); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	err := f.ValidateSchema(context.Background())
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("ValidateSchema() error = %v, want ErrSchemaMismatch", err)
	}
	if !strings.Contains(err.Error(), "orgs.motto") {
		t.Errorf("error = %v, want it to name orgs.motto", err)
	}
}

func TestFactory_EnsureSchemaValidate(t *testing.T) {
	f := newTestFactory(t, func(u *config.UnitConfig) { u.AutoSchema = config.AutoSchemaValidate })
	ctx := context.Background()

	// Tables created outside the migration runner are checked by column.
	if err := f.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}

	if _, err := f.DB().ExecContext(ctx, `
		CREATE TABLE schema_migrations (version TEXT PRIMARY KEY, applied_at TEXT NOT NULL);
		INSERT INTO schema_migrations VALUES ('20990101_000000', '2099-01-01T00:00:00Z');
	`); err != nil {
		t.Fatalf("recording migration: %v", err)
	}
	err := f.EnsureSchema(ctx)
	if !errors.Is(err, ErrSchemaMismatch) || !errors.Is(err, database.ErrSchemaAhead) {
		t.Errorf("EnsureSchema() error = %v, want ErrSchemaMismatch wrapping ErrSchemaAhead", err)
	}
}

func TestFactory_EnsureSchemaNone(t *testing.T) {
	f := newTestFactory(t, func(u *config.UnitConfig) { u.AutoSchema = config.AutoSchemaNone })
	if err := f.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	var n int
	if err := f.DB().QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE name = 'schema_migrations'").Scan(&n); err != nil {
		t.Fatalf("counting tables: %v", err)
	}
	if n != 0 {
		t.Error("none mode created schema_migrations")
	}
}

type ghost struct {
	org
	Motto string
}

func (g *ghost) EntityName() string { return "ghost" }
func (g *ghost) Fields() []any      { return []any{&g.Name, &g.Motto} }

func TestDiff(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	before := []any{"ann", int64(30), at, []byte("x"), nil}

	tests := []struct {
		name  string
		after []any
		want  []int
	}{
		{name: "equal", after: []any{"ann", int64(30), at.In(time.FixedZone("CET", 3600)), []byte("x"), nil}},
		{name: "scalar", after: []any{"ann", int64(31), at, []byte("x"), nil}, want: []int{1}},
		{name: "bytes and nil", after: []any{"ann", int64(30), at, []byte("y"), int64(4)}, want: []int{3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := diff(before, tt.after)
			if len(got) != len(tt.want) {
				t.Fatalf("diff() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("diff() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestCapture_SnapshotIsolated(t *testing.T) {
	p := &person{Name: "ann", Org: RefTo[*org](3)}
	snap := capture(p)
	if snap[4] != int64(3) {
		t.Errorf("captured reference = %v, want 3", snap[4])
	}
	p.Name = "bob"
	if snap[0] != "ann" {
		t.Error("snapshot changed with the entity")
	}
}

func TestFormatSQL(t *testing.T) {
	got := formatSQL("SELECT id,  name\n FROM people WHERE age > ? AND name LIKE ? ORDER BY id")
	want := "SELECT id, name\n    FROM people\n    WHERE age > ?\n    AND name LIKE ?\n    ORDER BY id"
	if got != want {
		t.Errorf("formatSQL() = %q, want %q", got, want)
	}
}

func TestUUIDKey(t *testing.T) {
	a, b := UUIDKey(), UUIDKey()
	if a <= 0 || b <= 0 || a == b {
		t.Errorf("UUIDKey() = %d, %d, want distinct positive keys", a, b)
	}
}

func TestActor(t *testing.T) {
	if got := ActorFrom(context.Background()); got != "system" {
		t.Errorf("ActorFrom() = %q, want system", got)
	}
	if got := ActorFrom(WithActor(context.Background(), "ann")); got != "ann" {
		t.Errorf("ActorFrom() = %q, want ann", got)
	}
	if OpDelete.RevType() != 2 || OpUpdate.RevType() != 1 || OpInsert.RevType() != 0 {
		t.Error("RevType() mapping wrong")
	}
}
