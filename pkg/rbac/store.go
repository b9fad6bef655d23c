package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Membership is a user's role in one organization
type Membership struct {
	OrgID   string  `json:"org_id"`
	UserID  string  `json:"user_id"`
	RoleKey RoleKey `json:"role_key"`
	// RoleID points at the custom role whose permission rows apply. Nil
	// means no rows apply.
	RoleID *string `json:"role_id,omitempty"`
}

// MembershipStore resolves memberships
type MembershipStore interface {
	GetMembership(ctx context.Context, orgID, userID string) (*Membership, error)
}

// PermissionStore reads and writes permission rows
type PermissionStore interface {
	ListRoles(ctx context.Context, orgID string) ([]Role, error)
	ListPermissionRows(ctx context.Context, roleID string) ([]Grant, error)
	ListRolePermissionRows(ctx context.Context, orgID string) ([]Grant, error)
	ApplyPermissionDiff(ctx context.Context, orgID string, added, removed []Grant) error
}

// Store is everything the RBAC layer reads from persistence
type Store interface {
	MembershipStore
	PermissionStore
}

// PostgresStore implements Store over database/sql. The queries stay within
// the dialect SQLite also accepts.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new RBAC store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetMembership returns the membership with its role key normalized, or
// ErrMembershipNotFound
func (s *PostgresStore) GetMembership(ctx context.Context, orgID, userID string) (*Membership, error) {
	query := `
		SELECT role_key, role_id
		FROM org_members
		WHERE org_id = $1 AND user_id = $2
	`

	var rawKey string
	var roleID sql.NullString
	err := s.db.QueryRowContext(ctx, query, orgID, userID).Scan(&rawKey, &roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}

	m := &Membership{
		OrgID:   orgID,
		UserID:  userID,
		RoleKey: NormalizeRoleKey(rawKey),
	}
	if roleID.Valid && roleID.String != "" {
		id := roleID.String
		m.RoleID = &id
	}
	return m, nil
}

// ListRoles returns the org's roles ordered by name
func (s *PostgresStore) ListRoles(ctx context.Context, orgID string) ([]Role, error) {
	query := `
		SELECT id, role_key, name
		FROM org_roles
		WHERE org_id = $1
		ORDER BY name, id
	`

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var r Role
		var rawKey string
		if err := rows.Scan(&r.ID, &rawKey, &r.Name); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		r.Key = NormalizeRoleKey(rawKey)
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return roles, nil
}

// ListPermissionRows returns the rows granted to one role
func (s *PostgresStore) ListPermissionRows(ctx context.Context, roleID string) ([]Grant, error) {
	query := `
		SELECT role_id, module_key, action
		FROM role_permissions
		WHERE role_id = $1
	`
	return s.queryGrants(ctx, query, roleID)
}

// ListRolePermissionRows returns every row granted to any role of the org
func (s *PostgresStore) ListRolePermissionRows(ctx context.Context, orgID string) ([]Grant, error) {
	query := `
		SELECT rp.role_id, rp.module_key, rp.action
		FROM role_permissions rp
		JOIN org_roles r ON r.id = rp.role_id
		WHERE r.org_id = $1
	`
	return s.queryGrants(ctx, query, orgID)
}

func (s *PostgresStore) queryGrants(ctx context.Context, query string, arg string) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list permission rows: %w", err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		var g Grant
		var module, action string
		if err := rows.Scan(&g.RoleID, &module, &action); err != nil {
			return nil, fmt.Errorf("failed to scan permission row: %w", err)
		}
		g.Module = ModuleKey(module)
		g.Action = Action(action)
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list permission rows: %w", err)
	}
	return grants, nil
}

// ApplyPermissionDiff inserts added rows and deletes removed rows, scoped to
// roles the org owns. Each statement runs on its own; callers verify the
// outcome by re-reading.
func (s *PostgresStore) ApplyPermissionDiff(ctx context.Context, orgID string, added, removed []Grant) error {
	insert := `
		INSERT INTO role_permissions (role_id, module_key, action)
		SELECT $1, $2, $3
		WHERE EXISTS (SELECT 1 FROM org_roles WHERE id = $1 AND org_id = $4)
		ON CONFLICT DO NOTHING
	`
	for _, g := range added {
		if _, err := s.db.ExecContext(ctx, insert, g.RoleID, string(g.Module), string(g.Action), orgID); err != nil {
			return fmt.Errorf("failed to insert permission %s: %w", g, err)
		}
	}

	remove := `
		DELETE FROM role_permissions
		WHERE role_id = $1 AND module_key = $2 AND action = $3
		AND role_id IN (SELECT id FROM org_roles WHERE org_id = $4)
	`
	for _, g := range removed {
		if _, err := s.db.ExecContext(ctx, remove, g.RoleID, string(g.Module), string(g.Action), orgID); err != nil {
			return fmt.Errorf("failed to delete permission %s: %w", g, err)
		}
	}
	return nil
}
