package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/nerrad567/gray-orm/internal/infrastructure/database"
)

// querier is satisfied by *sql.Conn and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Session) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	s.logStatement(query, args)
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	return res, nil
}

func (s *Session) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	s.logStatement(query, args)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (s *Session) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	s.logStatement(query, args)
	return q.QueryRowContext(ctx, query, args...)
}

// classify maps driver constraint failures onto ErrConstraintViolation.
func classify(err error) error {
	if database.IsConstraintError(err) {
		return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
	}
	return err
}

func (s *Session) logStatement(query string, args []any) {
	s.stats.Statements++
	cfg := s.factory.cfg
	if !cfg.ShowSQL {
		return
	}
	if cfg.FormatSQL {
		query = formatSQL(query)
	} else {
		query = compactSQL(query)
	}
	bound := make([]any, len(args))
	for i, a := range args {
		bound[i] = normalize(a)
	}
	s.log.Info("statement", "sql", query, "args", bound)
}

var (
	whitespace = regexp.MustCompile(`\s+`)
	clauses    = regexp.MustCompile(`\s+(FROM|WHERE|AND|OR|ORDER BY|GROUP BY|LIMIT|OFFSET|SET|VALUES|ON CONFLICT|RETURNING|JOIN|LEFT JOIN)\s+`)
)

// compactSQL puts a statement on one line.
func compactSQL(query string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(query, " "))
}

// formatSQL puts each clause of a statement on its own indented line.
func formatSQL(query string) string {
	return clauses.ReplaceAllString(compactSQL(query), "\n    $1 ")
}
