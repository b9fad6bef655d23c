package approvals

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/sitework/pkg/audit"
)

// Store persists approval requests. Every write that changes a request
// commits together with its audit entry.
type Store interface {
	GetRequest(ctx context.Context, orgID, entityType, entityID string) (*Request, error)
	// CreateDraft inserts req unless a request for the entity already
	// exists, in which case the existing one is returned and created is
	// false. event is recorded only when a row is created.
	CreateDraft(ctx context.Context, req *Request, event *audit.AuditEvent) (stored *Request, created bool, err error)
	// Transition moves the request from t.From to t.To. It fails with
	// ErrInvalidTransition when the stored status is no longer t.From.
	Transition(ctx context.Context, t Transition) (*Request, error)
}

// Transition is one status change and the audit entry that records it
type Transition struct {
	RequestID string
	OrgID     string
	From      Status
	To        Status
	ActorID   string
	Note      string
	At        time.Time
	Event     *audit.AuditEvent
}

// PostgresStore implements Store on PostgreSQL. A unique constraint on
// (org_id, entity_type, entity_id) makes concurrent drafts converge.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new approvals store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `
	id, org_id, entity_type, entity_id, status,
	created_by, created_at, updated_at,
	submitted_by, submitted_at,
	decided_by, decided_at, decision_note,
	cancelled_by, cancelled_at
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*Request, error) {
	var r Request
	var status string
	var submittedBy, decidedBy, note, cancelledBy sql.NullString
	var submittedAt, decidedAt, cancelledAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.OrgID, &r.EntityType, &r.EntityID, &status,
		&r.CreatedBy, &r.CreatedAt, &r.UpdatedAt,
		&submittedBy, &submittedAt,
		&decidedBy, &decidedAt, &note,
		&cancelledBy, &cancelledAt,
	)
	if err != nil {
		return nil, err
	}

	r.Status = Status(status)
	r.SubmittedBy = nullString(submittedBy)
	r.SubmittedAt = nullTime(submittedAt)
	r.DecidedBy = nullString(decidedBy)
	r.DecidedAt = nullTime(decidedAt)
	r.DecisionNote = nullString(note)
	r.CancelledBy = nullString(cancelledBy)
	r.CancelledAt = nullTime(cancelledAt)
	return &r, nil
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// GetRequest returns the request for an entity or ErrNotFound
func (s *PostgresStore) GetRequest(ctx context.Context, orgID, entityType, entityID string) (*Request, error) {
	return s.getRequest(ctx, s.db, orgID, entityType, entityID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *PostgresStore) getRequest(ctx context.Context, q queryRower, orgID, entityType, entityID string) (*Request, error) {
	query := `SELECT ` + requestColumns + `
		FROM approval_requests
		WHERE org_id = $1 AND entity_type = $2 AND entity_id = $3
	`
	r, err := scanRequest(q.QueryRowContext(ctx, query, orgID, entityType, entityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval request: %w", err)
	}
	return r, nil
}

// CreateDraft inserts a draft or returns the existing request
func (s *PostgresStore) CreateDraft(ctx context.Context, req *Request, event *audit.AuditEvent) (*Request, bool, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO approval_requests (id, org_id, entity_type, entity_id, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (org_id, entity_type, entity_id) DO NOTHING
		RETURNING ` + requestColumns

	stored, err := scanRequest(tx.QueryRowContext(ctx, insert,
		req.ID, req.OrgID, req.EntityType, req.EntityID, string(StatusDraft),
		req.CreatedBy, req.CreatedAt, req.CreatedAt,
	))
	created := true
	switch {
	case errors.Is(err, sql.ErrNoRows):
		created = false
		stored, err = s.getRequest(ctx, tx, req.OrgID, req.EntityType, req.EntityID)
		if err != nil {
			return nil, false, err
		}
	case err != nil:
		return nil, false, fmt.Errorf("failed to create approval request: %w", err)
	}

	if created && event != nil {
		if event.Metadata == nil {
			event.Metadata = map[string]interface{}{}
		}
		event.Metadata["request_id"] = stored.ID
		if err := audit.Insert(ctx, tx, event); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit approval request: %w", err)
	}
	return stored, created, nil
}

// Transition applies a status change with a compare-and-set on the source
// status and writes the audit entry in the same transaction
func (s *PostgresStore) Transition(ctx context.Context, t Transition) (*Request, error) {
	var set string
	args := []interface{}{string(t.To), t.At, t.ActorID, t.At}
	switch t.To {
	case StatusSubmitted:
		set = "submitted_by = $3, submitted_at = $4"
	case StatusApproved, StatusRejected:
		set = "decided_by = $3, decided_at = $4, decision_note = $5"
		args = append(args, sql.NullString{String: t.Note, Valid: t.Note != ""})
	case StatusCancelled:
		set = "cancelled_by = $3, cancelled_at = $4"
	default:
		return nil, fmt.Errorf("%w: unsupported target status %s", ErrInvalidTransition, t.To)
	}

	n := len(args)
	query := fmt.Sprintf(`
		UPDATE approval_requests
		SET status = $1, updated_at = $2, %s
		WHERE id = $%d AND org_id = $%d AND status = $%d
		RETURNING %s`, set, n+1, n+2, n+3, requestColumns)
	args = append(args, t.RequestID, t.OrgID, string(t.From))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	updated, err := scanRequest(tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: request %s is no longer %s", ErrInvalidTransition, t.RequestID, t.From)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update approval request: %w", err)
	}

	if t.Event != nil {
		if err := audit.Insert(ctx, tx, t.Event); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit approval transition: %w", err)
	}
	return updated, nil
}
