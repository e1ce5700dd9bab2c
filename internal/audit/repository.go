// Package audit keeps the revision history of audited entities in the
// audit_logs table.
//
// SQLiteRepository is the persistence.Auditor of a unit: every committed
// flush writes one row per audited change, all sharing the flush revision,
// inside the flush transaction. List and History read the rows back.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-orm/internal/persistence"
)

// AuditLog represents a single audit trail entry.
type AuditLog struct { //nolint:revive // audit.AuditLog is clearer than audit.Log in calling code
	ID         string         `json:"id"`
	Revision   string         `json:"revision"`
	RevType    int            `json:"rev_type"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter controls which audit logs to return.
type Filter struct {
	Action     string // optional: insert, update or delete
	EntityType string // optional: employee, company, etc.
	EntityID   string // optional: filter by specific entity ID
	Revision   string // optional: every change of one flush
	UserID     string // optional: changes made by one actor
	Limit      int    // default 50, max 200
	Offset     int    // pagination offset
}

// ListResult contains the paginated audit log results.
type ListResult struct {
	Logs   []AuditLog `json:"logs"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// Repository defines the interface for audit log operations.
type Repository interface {
	persistence.Auditor
	List(ctx context.Context, filter Filter) (*ListResult, error)
	History(ctx context.Context, entityType string, entityID int64) ([]AuditLog, error)
}

// SQLiteRepository reads and writes audit logs in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Audit writes one row per change of a committed flush. It runs in the
// flush transaction; an error rolls the flush back.
func (r *SQLiteRepository) Audit(ctx context.Context, tx *sql.Tx, ev persistence.FlushEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	for _, c := range ev.Changes {
		details, err := detailsOf(c)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO audit_logs (id, revision, rev_type, action, entity_type, entity_id, user_id, source, details, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			"aud-"+uuid.NewString(), ev.Revision, c.Op.RevType(), string(c.Op), c.Entity,
			strconv.FormatInt(c.ID, 10), nullableString(ev.Actor), ev.Unit,
			details, at.UTC().Format(timeFormat),
		)
		if err != nil {
			return fmt.Errorf("inserting audit log: %w", err)
		}
	}
	return nil
}

// detailsOf encodes the written values of a change. Updates record each
// changed column as {"old": ..., "new": ...}.
func detailsOf(c persistence.Change) (*string, error) {
	var details map[string]any
	switch c.Op {
	case persistence.OpUpdate:
		details = make(map[string]any, len(c.Values))
		for col, v := range c.Values {
			details[col] = map[string]any{"old": c.Previous[col], "new": v}
		}
	default:
		details = c.Values
	}
	if len(details) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshalling audit details: %w", err)
	}
	s := string(b)
	return &s, nil
}

// nullableString returns nil for empty strings, or the string pointer otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// timeFormat has a fixed-width fraction so created_at sorts as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const selectColumns = "SELECT id, revision, rev_type, action, entity_type, entity_id, user_id, source, details, created_at FROM audit_logs"

// List returns audit logs matching the filter, ordered by most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) { //nolint:gocognit,gocyclo // dynamic query builder: WHERE clause assembly from filter fields
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for audit log queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	for _, f := range []struct{ col, val string }{
		{"action", filter.Action},
		{"entity_type", filter.EntityType},
		{"entity_id", filter.EntityID},
		{"revision", filter.Revision},
		{"user_id", filter.UserID},
	} {
		if f.val != "" {
			conditions = append(conditions, f.col+" = ?")
			args = append(args, f.val)
		}
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_logs %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	query := fmt.Sprintf("%s %s ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?", selectColumns, where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	args = append(args, filter.Limit, filter.Offset)

	logs, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &ListResult{
		Logs:   logs,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// History returns every revision of one entity, oldest first.
func (r *SQLiteRepository) History(ctx context.Context, entityType string, entityID int64) ([]AuditLog, error) {
	return r.query(ctx,
		selectColumns+" WHERE entity_type = ? AND entity_id = ? ORDER BY created_at, rowid",
		entityType, strconv.FormatInt(entityID, 10),
	)
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	logs := []AuditLog{}
	for rows.Next() {
		var log AuditLog
		var entityID, userID, detailsJSON sql.NullString
		var createdAt string

		if err := rows.Scan(&log.ID, &log.Revision, &log.RevType, &log.Action, &log.EntityType,
			&entityID, &userID, &log.Source, &detailsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit log: %w", err)
		}

		log.EntityID = entityID.String
		log.UserID = userID.String
		if detailsJSON.Valid && detailsJSON.String != "" {
			var details map[string]any
			if json.Unmarshal([]byte(detailsJSON.String), &details) == nil {
				log.Details = details
			}
		}

		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing audit log timestamp %q: %w", createdAt, err)
		}
		log.CreatedAt = t

		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}
	return logs, nil
}
