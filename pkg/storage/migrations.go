package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/sitework/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create organizations and plan override tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id VARCHAR(64) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					plan_key VARCHAR(50) NOT NULL DEFAULT 'starter',
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS org_plan_overrides (
					org_id VARCHAR(64) PRIMARY KEY REFERENCES organizations(id) ON DELETE CASCADE,
					overrides JSONB NOT NULL DEFAULT '{}',
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create org_usage table",
			SQL: `
				CREATE TABLE IF NOT EXISTS org_usage (
					org_id VARCHAR(64) PRIMARY KEY REFERENCES organizations(id) ON DELETE CASCADE,
					members_count BIGINT NOT NULL DEFAULT 0,
					active_projects_count BIGINT NOT NULL DEFAULT 0,
					storage_used_mb DOUBLE PRECISION NOT NULL DEFAULT 0,
					download_used_gb_month DOUBLE PRECISION NOT NULL DEFAULT 0,
					month_key VARCHAR(7) NOT NULL DEFAULT '',
					upload_used_mb_day DOUBLE PRECISION NOT NULL DEFAULT 0,
					export_used_day BIGINT NOT NULL DEFAULT 0,
					day_key VARCHAR(10) NOT NULL DEFAULT '',
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     3,
			Description: "Create roles, members and permission rows",
			SQL: `
				CREATE TABLE IF NOT EXISTS org_roles (
					id VARCHAR(64) PRIMARY KEY,
					org_id VARCHAR(64) NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					role_key VARCHAR(50) NOT NULL,
					name VARCHAR(255) NOT NULL,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					UNIQUE(org_id, name)
				);

				CREATE INDEX IF NOT EXISTS idx_org_roles_org_id ON org_roles(org_id);

				CREATE TABLE IF NOT EXISTS org_members (
					org_id VARCHAR(64) NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					user_id VARCHAR(64) NOT NULL,
					role_key VARCHAR(50) NOT NULL DEFAULT 'member',
					role_id VARCHAR(64) REFERENCES org_roles(id) ON DELETE SET NULL,
					joined_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					PRIMARY KEY (org_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_org_members_user_id ON org_members(user_id);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id VARCHAR(64) NOT NULL REFERENCES org_roles(id) ON DELETE CASCADE,
					module_key VARCHAR(50) NOT NULL,
					action VARCHAR(20) NOT NULL CHECK (action IN ('view', 'edit', 'approve')),
					PRIMARY KEY (role_id, module_key, action)
				);
			`,
		},
		{
			Version:     4,
			Description: "Create approval_requests table",
			SQL: `
				CREATE TABLE IF NOT EXISTS approval_requests (
					id UUID PRIMARY KEY,
					org_id VARCHAR(64) NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					entity_type VARCHAR(100) NOT NULL,
					entity_id VARCHAR(255) NOT NULL,
					status VARCHAR(20) NOT NULL,
					created_by VARCHAR(64) NOT NULL,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL,
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
					submitted_by VARCHAR(64),
					submitted_at TIMESTAMP WITH TIME ZONE,
					decided_by VARCHAR(64),
					decided_at TIMESTAMP WITH TIME ZONE,
					decision_note TEXT,
					cancelled_by VARCHAR(64),
					cancelled_at TIMESTAMP WITH TIME ZONE,
					UNIQUE(org_id, entity_type, entity_id)
				);

				CREATE INDEX IF NOT EXISTS idx_approval_requests_status ON approval_requests(org_id, status);
			`,
		},
		{
			Version:     5,
			Description: "Create audit_logs table",
			SQL: `
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
			`,
		},
	}
}

// RunMigrations executes all pending migrations, each in its own transaction
func RunMigrations(ctx context.Context, db *sql.DB) error {
	logger := observability.FromContext(ctx)

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sitework_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		logger.Infof("running migration %d: %s", migration.Version, migration.Description)

		if err := applyMigration(ctx, db, migration); err != nil {
			return err
		}
	}

	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM sitework_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}
	return applied, nil
}

func applyMigration(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO sitework_migrations (version, description) VALUES ($1, $2)",
		migration.Version, migration.Description,
	); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}
