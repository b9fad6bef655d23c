// Package contextkeys provides centralized context key definitions
//
// All context keys shared across sitework packages are defined here so that
// a value set by HTTP middleware can be read by the audit log and the logger
// without import cycles.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/sitework/pkg/contextkeys"
//	ctx = contextkeys.WithUserID(ctx, claims.Subject)
//	userID := contextkeys.GetUserID(ctx)
package contextkeys

import (
	"context"

	"golang.org/x/text/language"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains request ID string (UUID)
	// Set by: httpapi request-id middleware
	// Used by: Logger, audit trail
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user ID
	// Set by: httpapi bearer-token middleware
	// Used by: Logger, audit trail, authorization
	// Type: string
	UserIDKey Key = "user_id"

	// OrgIDKey contains the organization ID taken from the route
	// Set by: httpapi org-scoped routes
	// Used by: Logger, audit trail
	// Type: string
	OrgIDKey Key = "org_id"

	// LoggerKey contains *observability.Logger
	// Set by: observability.WithLogger
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// AuditLoggerKey contains audit.Logger interface
	// Set by: audit.WithLogger
	// Type: audit.Logger
	AuditLoggerKey Key = "audit_logger"

	// LocaleKey contains the negotiated language for user-facing reasons
	// Set by: httpapi locale middleware
	// Used by: plan guard, permission denials
	// Type: language.Tag
	LocaleKey Key = "locale"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithOrgID adds organization ID to the context
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, OrgIDKey, orgID)
}

// WithLocale adds the negotiated locale to the context
func WithLocale(ctx context.Context, tag language.Tag) context.Context {
	return context.WithValue(ctx, LocaleKey, tag)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// GetOrgID retrieves organization ID from context
func GetOrgID(ctx context.Context) string {
	if orgID, ok := ctx.Value(OrgIDKey).(string); ok {
		return orgID
	}
	return ""
}

// GetLocale retrieves the negotiated locale, if any
func GetLocale(ctx context.Context) (language.Tag, bool) {
	tag, ok := ctx.Value(LocaleKey).(language.Tag)
	return tag, ok
}
