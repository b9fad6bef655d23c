package storage

import (
	"context"

	"github.com/platinummonkey/sitework/pkg/approvals"
	"github.com/platinummonkey/sitework/pkg/audit"
	"github.com/platinummonkey/sitework/pkg/plans"
	"github.com/platinummonkey/sitework/pkg/rbac"
)

// Blocked is the demo-mode Backend. Every read and write fails with
// ErrDemoBlocked, so the permission checker fails closed and no
// mutation reaches a database.
type Blocked struct{}

func (Blocked) GetPlanLimits(context.Context, string) (plans.PlanLimits, error) {
	return plans.PlanLimits{}, ErrDemoBlocked
}

func (Blocked) GetOrgUsage(context.Context, string) (plans.OrgUsage, error) {
	return plans.OrgUsage{}, ErrDemoBlocked
}

func (Blocked) RecordUsage(context.Context, string, plans.Counter, float64) error {
	return ErrDemoBlocked
}

func (Blocked) Reserve(context.Context, string, plans.Counter, float64, *int64) (bool, error) {
	return false, ErrDemoBlocked
}

func (Blocked) ReleaseUsage(context.Context, string, plans.Counter, float64) error {
	return ErrDemoBlocked
}

func (Blocked) GetMembership(context.Context, string, string) (*rbac.Membership, error) {
	return nil, ErrDemoBlocked
}

func (Blocked) ListRoles(context.Context, string) ([]rbac.Role, error) {
	return nil, ErrDemoBlocked
}

func (Blocked) ListPermissionRows(context.Context, string) ([]rbac.Grant, error) {
	return nil, ErrDemoBlocked
}

func (Blocked) ListRolePermissionRows(context.Context, string) ([]rbac.Grant, error) {
	return nil, ErrDemoBlocked
}

func (Blocked) ApplyPermissionDiff(context.Context, string, []rbac.Grant, []rbac.Grant) error {
	return ErrDemoBlocked
}

func (Blocked) GetRequest(context.Context, string, string, string) (*approvals.Request, error) {
	return nil, ErrDemoBlocked
}

func (Blocked) CreateDraft(context.Context, *approvals.Request, *audit.AuditEvent) (*approvals.Request, bool, error) {
	return nil, false, ErrDemoBlocked
}

func (Blocked) Transition(context.Context, approvals.Transition) (*approvals.Request, error) {
	return nil, ErrDemoBlocked
}

func (Blocked) Log(context.Context, *audit.AuditEvent) error {
	return ErrDemoBlocked
}

func (Blocked) Close() error {
	return nil
}

func (Blocked) ListForEntity(context.Context, string, string, string) ([]*audit.AuditEvent, error) {
	return nil, ErrDemoBlocked
}

func (Blocked) Search(context.Context, audit.SearchFilter) ([]*audit.AuditEvent, error) {
	return nil, ErrDemoBlocked
}

// Ping always succeeds; there is nothing to reach
func (Blocked) Ping(context.Context) error {
	return nil
}

func (Blocked) Mode() Mode {
	return ModeDemo
}
