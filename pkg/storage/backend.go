package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/sitework/pkg/approvals"
	"github.com/platinummonkey/sitework/pkg/audit"
	"github.com/platinummonkey/sitework/pkg/plans"
	"github.com/platinummonkey/sitework/pkg/rbac"
)

// Mode selects the persistence collaborator once at startup
type Mode string

const (
	ModeLive Mode = "live"
	ModeDemo Mode = "demo"
)

// ParseMode parses a mode name. An empty name means live.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeLive, "":
		return ModeLive, nil
	case ModeDemo:
		return ModeDemo, nil
	}
	return "", fmt.Errorf("unknown mode %q (expected live or demo)", s)
}

// ErrDemoBlocked is returned by every operation of the blocked backend
var ErrDemoBlocked = errors.New("operation not available in demo mode")

// Backend is everything the services read from and write to persistence
type Backend interface {
	plans.Store
	plans.UsageRecorder
	rbac.Store
	approvals.Store
	audit.Logger
	audit.Reader

	Ping(ctx context.Context) error
	Mode() Mode
}

type (
	planStore     = plans.PostgresStore
	rbacStore     = rbac.PostgresStore
	approvalStore = approvals.PostgresStore
)

// Live is the Postgres-backed Backend
type Live struct {
	*planStore
	*rbacStore
	*approvalStore
	*audit.DBLogger

	db *sql.DB
}

// NewLive composes the Postgres stores over db. A nil catalog means the
// built-in plans.
func NewLive(db *sql.DB, catalog *plans.Catalog) (*Live, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	auditLog, err := audit.NewDBLogger(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit logger: %w", err)
	}

	return &Live{
		planStore:     plans.NewPostgresStore(db, catalog),
		rbacStore:     rbac.NewPostgresStore(db),
		approvalStore: approvals.NewPostgresStore(db),
		DBLogger:      auditLog,
		db:            db,
	}, nil
}

// Ping checks database connectivity
func (l *Live) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Mode returns ModeLive
func (l *Live) Mode() Mode {
	return ModeLive
}

// Open returns the backend for mode. Demo mode never touches db, which may
// be nil.
func Open(mode Mode, db *sql.DB, catalog *plans.Catalog) (Backend, error) {
	switch mode {
	case ModeLive:
		return NewLive(db, catalog)
	case ModeDemo:
		return Blocked{}, nil
	}
	return nil, fmt.Errorf("unknown mode %q", mode)
}

var (
	_ Backend = (*Live)(nil)
	_ Backend = Blocked{}
)
