package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/platinummonkey/sitework/pkg/contextkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

var eventColumns = []string{
	"id", "timestamp", "event_type", "status",
	"org_id", "actor_id", "entity_type", "entity_id",
	"action", "result_status", "request_id", "message", "metadata",
}

func TestNewDBLogger(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_logs").WillReturnResult(sqlmock.NewResult(0, 0))

		logger, err := NewDBLogger(db)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil database", func(t *testing.T) {
		logger, err := NewDBLogger(nil)
		assert.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "database connection is required")
	})

	t.Run("table creation error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_logs").WillReturnError(errors.New("table creation failed"))

		logger, err := NewDBLogger(db)
		assert.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "failed to ensure audit_logs table")
	})
}

func TestDBLogger_Log(t *testing.T) {
	t.Run("fills request context", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		logger := &DBLogger{db: db}
		ctx := contextkeys.WithRequestID(context.Background(), "req-123")
		ctx = contextkeys.WithUserID(ctx, "user-7")

		mock.ExpectQuery("INSERT INTO audit_logs").
			WithArgs(
				sqlmock.AnyArg(), EventTypeApprovalSubmit, EventStatusSuccess,
				"org-1", "user-7",
				"cost", "cost-9",
				"submit", "submitted",
				"req-123", "", []byte(`{"note":"ready"}`),
			).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

		event := &AuditEvent{
			EventType:    EventTypeApprovalSubmit,
			OrgID:        "org-1",
			EntityType:   "cost",
			EntityID:     "cost-9",
			Action:       "submit",
			ResultStatus: "submitted",
			Metadata:     map[string]interface{}{"note": "ready"},
		}
		require.NoError(t, logger.Log(ctx, event))

		assert.Equal(t, int64(42), event.ID)
		assert.Equal(t, "user-7", event.ActorID)
		assert.False(t, event.Timestamp.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("INSERT INTO audit_logs").WillReturnError(errors.New("disk full"))

		err := (&DBLogger{db: db}).Log(context.Background(), &AuditEvent{EventType: EventTypeApprovalCancel, OrgID: "org-1"})
		assert.ErrorContains(t, err, "failed to insert audit log")
	})
}

func TestInsert_WithinTransaction(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO audit_logs").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	event := &AuditEvent{EventType: EventTypeApprovalApprove, OrgID: "org-1", ActorID: "admin-1"}
	require.NoError(t, Insert(ctx, tx, event))
	require.NoError(t, tx.Commit())

	assert.Equal(t, int64(7), event.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_ListForEntity(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	logger := &DBLogger{db: db}
	ts := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM audit_logs WHERE org_id = \\$1 AND entity_type = \\$2 AND entity_id = \\$3").
		WithArgs("org-1", "cost", "cost-9").
		WillReturnRows(sqlmock.NewRows(eventColumns).
			AddRow(1, ts, "approval.create_draft", "success", "org-1", "user-7", "cost", "cost-9", "create_draft", "draft", "req-1", "", nil).
			AddRow(2, ts.Add(time.Minute), "approval.submit", "success", "org-1", "user-7", "cost", "cost-9", "submit", "submitted", "req-2", "", []byte(`{"note":"ok"}`)))

	events, err := logger.ListForEntity(context.Background(), "org-1", "cost", "cost-9")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventTypeApprovalCreateDraft, events[0].EventType)
	assert.Nil(t, events[0].Metadata)
	assert.Equal(t, "submitted", events[1].ResultStatus)
	assert.Equal(t, "ok", events[1].Metadata["note"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_Search(t *testing.T) {
	t.Run("requires org", func(t *testing.T) {
		_, err := (&DBLogger{}).Search(context.Background(), SearchFilter{})
		assert.Error(t, err)
	})

	t.Run("builds filters in order", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		mock.ExpectQuery("WHERE org_id = \\$1 AND timestamp >= \\$2 AND actor_id = \\$3 AND event_type IN \\(\\$4, \\$5\\) ORDER BY timestamp DESC, id DESC LIMIT \\$6 OFFSET \\$7").
			WithArgs("org-1", start, "user-7", EventTypeApprovalApprove, EventTypeApprovalReject, 100, 0).
			WillReturnRows(sqlmock.NewRows(eventColumns))

		events, err := (&DBLogger{db: db}).Search(context.Background(), SearchFilter{
			OrgID:      "org-1",
			StartTime:  &start,
			ActorID:    "user-7",
			EventTypes: []EventType{EventTypeApprovalApprove, EventTypeApprovalReject},
		})
		require.NoError(t, err)
		assert.Empty(t, events)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestFromContext(t *testing.T) {
	ctx := context.Background()
	assert.IsType(t, &noOpLogger{}, FromContext(ctx))
	assert.NoError(t, FromContext(ctx).Log(ctx, &AuditEvent{EventType: EventTypeAuthzMatrixSave, OrgID: "org-1"}))

	logger := &DBLogger{}
	assert.Same(t, logger, FromContext(WithLogger(ctx, logger)))
}
