package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/sitework/pkg/audit"
	"github.com/platinummonkey/sitework/pkg/observability"
)

// matrix save outcome label for a failed verification
const outcomeVerificationFailed = "verification_failed"

// MatrixService loads and saves an org's permission matrix
type MatrixService struct {
	store   PermissionStore
	bypass  BypassPolicy
	audit   audit.Logger
	metrics *observability.Metrics
}

// MatrixOption configures a MatrixService
type MatrixOption func(*MatrixService)

// WithMatrixBypass sets which roles are excluded from the matrix
func WithMatrixBypass(p BypassPolicy) MatrixOption {
	return func(s *MatrixService) { s.bypass = p }
}

// WithMatrixAudit records saves to l instead of the context's audit logger
func WithMatrixAudit(l audit.Logger) MatrixOption {
	return func(s *MatrixService) { s.audit = l }
}

// WithMatrixMetrics counts saves
func WithMatrixMetrics(m *observability.Metrics) MatrixOption {
	return func(s *MatrixService) { s.metrics = m }
}

// NewMatrixService creates a new matrix service
func NewMatrixService(store PermissionStore, opts ...MatrixOption) *MatrixService {
	s := &MatrixService{store: store, bypass: DefaultBypassPolicy()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MatrixService) auditLogger(ctx context.Context) audit.Logger {
	if s.audit != nil {
		return s.audit
	}
	return audit.FromContext(ctx)
}

// editableRoles returns the org's roles minus the bypass roles
func (s *MatrixService) editableRoles(ctx context.Context, orgID string) ([]Role, error) {
	roles, err := s.store.ListRoles(ctx, orgID)
	if err != nil {
		return nil, err
	}
	out := make([]Role, 0, len(roles))
	for _, r := range roles {
		if !s.bypass.Bypasses(r.Key) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MatrixService) persisted(ctx context.Context, orgID string, scope map[string]struct{}) (GrantSet, error) {
	rows, err := s.store.ListRolePermissionRows(ctx, orgID)
	if err != nil {
		return nil, err
	}
	set := make(GrantSet, len(rows))
	for _, g := range rows {
		if _, ok := scope[g.RoleID]; ok {
			set[g] = struct{}{}
		}
	}
	return set, nil
}

func roleScope(roles []Role) map[string]struct{} {
	scope := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		scope[r.ID] = struct{}{}
	}
	return scope
}

// Load returns the current matrix for orgID
func (s *MatrixService) Load(ctx context.Context, orgID string) (*Matrix, error) {
	roles, err := s.editableRoles(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to load permission matrix: %w", err)
	}
	grants, err := s.persisted(ctx, orgID, roleScope(roles))
	if err != nil {
		return nil, fmt.Errorf("failed to load permission matrix: %w", err)
	}
	return BuildMatrix(roles, grants), nil
}

// Save persists next as a set-reconciliation diff against the stored rows
// of the roles next covers, then re-reads and compares. A mismatch returns
// a *VerificationError and the caller must reload. The returned matrix is
// built from what was read back.
func (s *MatrixService) Save(ctx context.Context, orgID string, next *Matrix) (*Matrix, error) {
	logger := observability.FromContext(ctx).WithField("org_id", orgID)

	matrix, added, removed, err := s.save(ctx, orgID, next)
	if err != nil {
		var verr *VerificationError
		if errors.As(err, &verr) {
			s.metrics.ObserveMatrixSave(outcomeVerificationFailed)
			logger.WithError(err).Error("permission matrix verification failed")
			if aerr := s.auditLogger(ctx).Log(ctx, &audit.AuditEvent{
				EventType:  audit.EventTypeAuthzMatrixVerify,
				Status:     audit.EventStatusFailure,
				OrgID:      orgID,
				EntityType: "permission_matrix",
				EntityID:   orgID,
				Action:     "save",
				Message:    err.Error(),
				Metadata: map[string]interface{}{
					"missing":    grantStrings(verr.Missing),
					"unexpected": grantStrings(verr.Unexpected),
				},
			}); aerr != nil {
				logger.WithError(aerr).Error("failed to record audit entry")
			}
		} else {
			s.metrics.ObserveMatrixSave(observability.OutcomeError)
		}
		return nil, err
	}

	s.metrics.ObserveMatrixSave(observability.OutcomeSuccess)
	if len(added) == 0 && len(removed) == 0 {
		return matrix, nil
	}

	logger.WithFields(map[string]interface{}{
		"added":   len(added),
		"removed": len(removed),
	}).Info("permission matrix saved")

	if err := s.auditLogger(ctx).Log(ctx, &audit.AuditEvent{
		EventType:  audit.EventTypeAuthzMatrixSave,
		Status:     audit.EventStatusSuccess,
		OrgID:      orgID,
		EntityType: "permission_matrix",
		EntityID:   orgID,
		Action:     "save",
		Metadata: map[string]interface{}{
			"added":   grantStrings(added),
			"removed": grantStrings(removed),
		},
	}); err != nil {
		logger.WithError(err).Error("failed to record audit entry")
	}
	return matrix, nil
}

func (s *MatrixService) save(ctx context.Context, orgID string, next *Matrix) (*Matrix, []Grant, []Grant, error) {
	if next == nil {
		return nil, nil, nil, fmt.Errorf("permission matrix is required")
	}
	if err := next.Validate(); err != nil {
		return nil, nil, nil, err
	}

	roles, err := s.editableRoles(ctx, orgID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load roles: %w", err)
	}
	editable := roleScope(roles)
	for _, r := range next.Roles {
		if _, ok := editable[r.ID]; !ok {
			return nil, nil, nil, fmt.Errorf("%w: %s", ErrUnknownRole, r.ID)
		}
	}
	scope := roleScope(next.Roles)

	current, err := s.persisted(ctx, orgID, scope)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read permission rows: %w", err)
	}
	desired := next.Grants()
	added, removed := DiffGrants(current, desired)

	if len(added) > 0 || len(removed) > 0 {
		if err := s.store.ApplyPermissionDiff(ctx, orgID, added, removed); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to write permission rows: %w", err)
		}
	}

	all, err := s.persisted(ctx, orgID, editable)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to re-read permission rows: %w", err)
	}
	written := make(GrantSet)
	for g := range all {
		if _, ok := scope[g.RoleID]; ok {
			written[g] = struct{}{}
		}
	}
	if !written.Equal(desired) {
		missing, unexpected := DiffGrants(written, desired)
		return nil, nil, nil, &VerificationError{OrgID: orgID, Missing: missing, Unexpected: unexpected}
	}
	return BuildMatrix(roles, all), added, removed, nil
}

func grantStrings(gs []Grant) []string {
	out := make([]string, len(gs))
	for i, g := range gs {
		out[i] = g.String()
	}
	return out
}
