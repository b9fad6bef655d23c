package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Queryer is satisfied by both *sql.DB and *sql.Tx so an audit row can be
// written inside the caller's transaction.
type Queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DBLogger implements audit logging to PostgreSQL database
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{
		db: db,
	}

	// Ensure the audit_logs table exists
	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}

	return logger, nil
}

// ensureTable creates the audit_logs table if it doesn't exist
func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		org_id VARCHAR(64) NOT NULL,
		actor_id VARCHAR(64) NOT NULL,
		entity_type VARCHAR(100) NOT NULL DEFAULT '',
		entity_id VARCHAR(255) NOT NULL DEFAULT '',
		action VARCHAR(50) NOT NULL DEFAULT '',
		result_status VARCHAR(50) NOT NULL DEFAULT '',
		request_id VARCHAR(100) NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		metadata JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_org_timestamp ON audit_logs(org_id, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_entity ON audit_logs(org_id, entity_type, entity_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_actor ON audit_logs(actor_id);
	`

	_, err := l.db.Exec(query)
	return err
}

// Insert writes event through q and sets event.ID. The approvals store calls
// this with its transaction so the status change and its audit row commit
// together.
func Insert(ctx context.Context, q Queryer, event *AuditEvent) error {
	prepare(ctx, event)

	var metadataJSON []byte
	if event.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (
			timestamp, event_type, status,
			org_id, actor_id,
			entity_type, entity_id,
			action, result_status,
			request_id, message, metadata
		) VALUES (
			$1, $2, $3,
			$4, $5,
			$6, $7,
			$8, $9,
			$10, $11, $12
		) RETURNING id
	`

	err := q.QueryRowContext(ctx, query,
		event.Timestamp, event.EventType, event.Status,
		event.OrgID, event.ActorID,
		event.EntityType, event.EntityID,
		event.Action, event.ResultStatus,
		event.RequestID, event.Message, metadataJSON,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	return Insert(ctx, l.db, event)
}

const selectColumns = `
	SELECT
		id, timestamp, event_type, status,
		org_id, actor_id, entity_type, entity_id,
		action, result_status, request_id, message, metadata
	FROM audit_logs
`

// ListForEntity returns the history of one entity, oldest first
func (l *DBLogger) ListForEntity(ctx context.Context, orgID, entityType, entityID string) ([]*AuditEvent, error) {
	query := selectColumns + `
		WHERE org_id = $1 AND entity_type = $2 AND entity_id = $3
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := l.db.QueryContext(ctx, query, orgID, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Search searches an org's audit logs, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	if filter.OrgID == "" {
		return nil, fmt.Errorf("org id is required")
	}

	query := selectColumns + " WHERE org_id = $1"
	args := []interface{}{filter.OrgID}
	argCount := 2

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}

	if filter.ActorID != "" {
		query += fmt.Sprintf(" AND actor_id = $%d", argCount)
		args = append(args, filter.ActorID)
		argCount++
	}

	if filter.EntityType != "" {
		query += fmt.Sprintf(" AND entity_type = $%d", argCount)
		args = append(args, filter.EntityType)
		argCount++
	}

	if filter.EntityID != "" {
		query += fmt.Sprintf(" AND entity_id = $%d", argCount)
		args = append(args, filter.EntityID)
		argCount++
	}

	if len(filter.EventTypes) > 0 {
		query += " AND event_type IN ("
		for i, et := range filter.EventTypes {
			if i > 0 {
				query += ", "
			}
			query += fmt.Sprintf("$%d", argCount)
			args = append(args, et)
			argCount++
		}
		query += ")"
	}

	query += " ORDER BY timestamp DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
	args = append(args, limit, filter.Offset)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*AuditEvent, error) {
	var events []*AuditEvent
	for rows.Next() {
		var event AuditEvent
		var timestamp time.Time
		var metadataJSON []byte

		err := rows.Scan(
			&event.ID, &timestamp, &event.EventType, &event.Status,
			&event.OrgID, &event.ActorID, &event.EntityType, &event.EntityID,
			&event.Action, &event.ResultStatus, &event.RequestID, &event.Message, &metadataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		event.Timestamp = timestamp.UTC()

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return events, nil
}

// Close closes the logger. The database handle is owned by the caller.
func (l *DBLogger) Close() error {
	return nil
}

var _ Logger = (*DBLogger)(nil)
var _ Reader = (*DBLogger)(nil)
