package persistence

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-orm/internal/infrastructure/config"
)

// Fixed column names.
const (
	IDColumn      = "id"
	VersionColumn = "version"
)

// Property maps one scalar attribute of an entity to a column.
type Property struct {
	// Name is the logical attribute name used by queries, e.g. "lastName".
	Name string

	// Column overrides the name the unit's naming strategy would derive.
	Column string

	// Target names the referenced entity type when the attribute is a Ref
	// (a many-to-one or one-to-one foreign key).
	Target string

	// Cascade registers a loaded, untracked referenced entity together with
	// its owner.
	Cascade bool
}

// JoinTable describes a many-to-many link between two entity types.
type JoinTable struct {
	Name         string
	Table        string
	OwnerColumn  string
	TargetColumn string
	Owner        string
	Target       string
}

// Schema describes how an entity type is stored.
type Schema struct {
	Name       string
	Table      string
	Properties []Property
	Generator  Generator

	// Versioned entities must implement Versioned; their table has a version column.
	Versioned bool

	// Audited entities get a revision row per committed change.
	Audited bool

	// New returns an empty instance to scan rows into.
	New func() Entity

	columns []string
	index   map[string]int
}

// Column returns the physical column of a logical property.
// IDColumn and VersionColumn resolve to themselves.
func (s *Schema) Column(property string) (string, error) {
	switch property {
	case IDColumn, VersionColumn:
		return property, nil
	}
	i, ok := s.index[property]
	if !ok {
		return "", fmt.Errorf("%w: %s.%s", ErrUnknownProperty, s.Name, property)
	}
	return s.columns[i], nil
}

// Columns returns the physical columns of the properties, in order.
func (s *Schema) Columns() []string {
	out := make([]string, len(s.columns))
	copy(out, s.columns)
	return out
}

// selectList is the column list read by every entity query.
func (s *Schema) selectList(alias string) string {
	cols := make([]string, 0, len(s.columns)+2)
	prefix := ""
	if alias != "" {
		prefix = alias + "."
	}
	cols = append(cols, prefix+IDColumn)
	for _, c := range s.columns {
		cols = append(cols, prefix+c)
	}
	if s.Versioned {
		cols = append(cols, prefix+VersionColumn)
	}
	return strings.Join(cols, ", ")
}

// resolve derives column names with the naming strategy and checks the mapping.
func (s *Schema) resolve(strategy string) error {
	if s.Name == "" || s.Table == "" {
		return fmt.Errorf("schema needs a name and a table")
	}
	if s.New == nil {
		return fmt.Errorf("schema %s: New is required", s.Name)
	}

	sample := s.New()
	if n := len(sample.Fields()); n != len(s.Properties) {
		return fmt.Errorf("schema %s: %d properties but entity exposes %d fields", s.Name, len(s.Properties), n)
	}
	if _, ok := sample.(Versioned); s.Versioned && !ok {
		return fmt.Errorf("schema %s: versioned entity must implement Versioned", s.Name)
	}

	s.columns = make([]string, len(s.Properties))
	s.index = make(map[string]int, len(s.Properties))
	for i, p := range s.Properties {
		col := p.Column
		if col == "" {
			col = applyNaming(strategy, p.Name)
		}
		s.columns[i] = col
		s.index[p.Name] = i
	}
	return nil
}

// applyNaming maps a logical name to a column name.
func applyNaming(strategy, name string) string {
	switch strategy {
	case config.NamingVerbatim:
		return name
	case config.NamingLowerCase:
		return strings.ToLower(name)
	default:
		return snakeCase(name)
	}
}

// snakeCase converts lowerCamel or UpperCamel to snake_case.
// Runs of capitals stay together: "legalCIF" becomes "legal_cif".
func snakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]))
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if i > 0 && (prevLower || (nextLower && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// GenerationKind selects how keys are assigned.
type GenerationKind int

// Key generation strategies.
const (
	// GenerateIdentity lets the database assign the key on insert.
	GenerateIdentity GenerationKind = iota
	// GenerateSequence draws the key from a named sequence when the entity is registered.
	GenerateSequence
	// GenerateCustom calls a function when the entity is registered.
	GenerateCustom
)

// Generator assigns keys to new entities.
type Generator struct {
	Kind     GenerationKind
	Sequence string
	Next     func() int64
}

// Identity returns the identity-column strategy.
func Identity() Generator {
	return Generator{Kind: GenerateIdentity}
}

// Sequence returns a strategy drawing keys from the named sequence.
func Sequence(name string) Generator {
	return Generator{Kind: GenerateSequence, Sequence: name}
}

// Custom returns a strategy calling next for each new entity.
func Custom(next func() int64) Generator {
	return Generator{Kind: GenerateCustom, Next: next}
}

// UUIDKey derives a positive int64 key from a random UUID.
func UUIDKey() int64 {
	id := uuid.New()
	return int64(binary.BigEndian.Uint64(id[:8]) >> 1)
}
