package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DBLogger stores entries in a SQL database. The statements are written
// against $N placeholders, which both lib/pq and go-sqlite3 accept.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger and ensures its table
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{
		db: db,
	}

	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_entries table: %w", err)
	}

	return logger, nil
}

// ensureTable creates the audit_entries table if it doesn't exist
func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id VARCHAR(36) PRIMARY KEY,
		sequence BIGINT NOT NULL,
		occurred_at TIMESTAMP NOT NULL,
		actor_id VARCHAR(255) NOT NULL,
		actor_type VARCHAR(20) NOT NULL,
		role VARCHAR(30) NOT NULL DEFAULT '',
		operation VARCHAR(40) NOT NULL,
		category VARCHAR(40) NOT NULL DEFAULT '',
		resource_type VARCHAR(40) NOT NULL DEFAULT '',
		resource_id VARCHAR(255) NOT NULL DEFAULT '',
		action VARCHAR(10) NOT NULL DEFAULT '',
		outcome VARCHAR(10) NOT NULL,
		reason VARCHAR(100) NOT NULL DEFAULT '',
		error_detail TEXT NOT NULL DEFAULT '',
		request_id VARCHAR(100) NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entries_occurred ON audit_entries(occurred_at, sequence);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_actor ON audit_entries(actor_type, actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_resource ON audit_entries(resource_type, resource_id);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_outcome ON audit_entries(outcome);
	`

	_, err := l.db.Exec(query)
	return err
}

const insertEntry = `
	INSERT INTO audit_entries (
		id, sequence, occurred_at,
		actor_id, actor_type, role,
		operation, category, resource_type, resource_id, action,
		outcome, reason, error_detail, request_id
	) VALUES (
		$1, $2, $3,
		$4, $5, $6,
		$7, $8, $9, $10, $11,
		$12, $13, $14, $15
	)
`

// Record implements Logger
func (l *DBLogger) Record(ctx context.Context, e *Entry) error {
	stamp(e)
	_, err := l.db.ExecContext(ctx, insertEntry,
		e.ID, e.Sequence, e.Timestamp.UTC(),
		e.ActorID, e.ActorType, e.Role,
		string(e.Operation), e.Category, e.ResourceType, e.ResourceID, e.Action,
		string(e.Outcome), e.Reason, e.ErrorDetail, e.RequestID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// where renders the filter as a WHERE clause and its arguments
func where(filter Filter) (string, []interface{}) {
	conditions := []string{"1=1"}
	args := []interface{}{}
	argCount := 1

	add := func(column, op string, value interface{}) {
		conditions = append(conditions, fmt.Sprintf("%s %s $%d", column, op, argCount))
		args = append(args, value)
		argCount++
	}

	if filter.ActorID != "" {
		add("actor_id", "=", filter.ActorID)
	}
	if filter.ActorType != "" {
		add("actor_type", "=", filter.ActorType)
	}
	if filter.ResourceType != "" {
		add("resource_type", "=", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		add("resource_id", "=", filter.ResourceID)
	}
	if filter.Outcome != "" {
		add("outcome", "=", string(filter.Outcome))
	}
	if filter.Operation != "" {
		add("operation", "=", string(filter.Operation))
	}
	if filter.From != nil {
		add("occurred_at", ">=", filter.From.UTC())
	}
	if filter.To != nil {
		add("occurred_at", "<=", filter.To.UTC())
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}

// Search implements Store
func (l *DBLogger) Search(ctx context.Context, filter Filter) ([]*Entry, error) {
	clause, args := where(filter)
	query := `
		SELECT
			id, sequence, occurred_at,
			actor_id, actor_type, role,
			operation, category, resource_type, resource_id, action,
			outcome, reason, error_detail, request_id
		FROM audit_entries` + clause

	argCount := len(args) + 1
	query += " ORDER BY occurred_at ASC, sequence ASC"
	query += fmt.Sprintf(" LIMIT $%d", argCount)
	args = append(args, filter.limit())
	argCount++
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		e := &Entry{}
		var operation, outcome string
		err := rows.Scan(
			&e.ID, &e.Sequence, &e.Timestamp,
			&e.ActorID, &e.ActorType, &e.Role,
			&operation, &e.Category, &e.ResourceType, &e.ResourceID, &e.Action,
			&outcome, &e.Reason, &e.ErrorDetail, &e.RequestID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Operation = Operation(operation)
		e.Outcome = Outcome(outcome)
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// Export implements Store
func (l *DBLogger) Export(ctx context.Context, filter Filter, format ExportFormat) ([]byte, error) {
	entries, err := l.Search(ctx, filter)
	if err != nil {
		return nil, err
	}
	return encode(entries, format)
}

// Stats summarizes the entries in a window
type Stats struct {
	Total        int64 `json:"total"`
	Allowed      int64 `json:"allowed"`
	Denied       int64 `json:"denied"`
	UniqueActors int64 `json:"unique_actors"`
}

// GetStats counts entries matching the time bounds of filter
func (l *DBLogger) GetStats(ctx context.Context, from, to *time.Time) (*Stats, error) {
	clause, args := where(Filter{From: from, To: to})
	stats := &Stats{}

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN outcome = 'allowed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'denied' THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT actor_type || ':' || actor_id)
		FROM audit_entries` + clause

	err := l.db.QueryRowContext(ctx, query, args...).Scan(&stats.Total, &stats.Allowed, &stats.Denied, &stats.UniqueActors)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit stats: %w", err)
	}
	return stats, nil
}

// Cleanup removes entries older than the retention window
func (l *DBLogger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-retention)
	res, err := l.db.ExecContext(ctx, "DELETE FROM audit_entries WHERE occurred_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit entries: %w", err)
	}
	return res.RowsAffected()
}

// Close implements Logger. The connection is shared and stays open.
func (l *DBLogger) Close() error {
	return nil
}
