package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/sitework/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event. Implementations fill Timestamp and
	// RequestID when they are empty.
	Log(ctx context.Context, event *AuditEvent) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// Reader reads audit history
type Reader interface {
	ListForEntity(ctx context.Context, orgID, entityType, entityID string) ([]*AuditEvent, error)
	Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error)
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, contextkeys.AuditLoggerKey, logger)
}

// FromContext retrieves the audit logger from context
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return &noOpLogger{}
}

type noOpLogger struct{}

func (l *noOpLogger) Log(ctx context.Context, event *AuditEvent) error {
	return nil
}

func (l *noOpLogger) Close() error {
	return nil
}

// prepare fills the fields every stored event must carry
func prepare(ctx context.Context, event *AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = contextkeys.GetRequestID(ctx)
	}
	if event.ActorID == "" {
		event.ActorID = contextkeys.GetUserID(ctx)
	}
	if event.Status == "" {
		event.Status = EventStatusSuccess
	}
}
