package authz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/platinummonkey/sitework/pkg/audit"
	"github.com/platinummonkey/sitework/pkg/contextkeys"
	"github.com/platinummonkey/sitework/pkg/observability"
	"github.com/platinummonkey/sitework/pkg/plans"
	"github.com/platinummonkey/sitework/pkg/rbac"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type fakePlans struct {
	limits     plans.PlanLimits
	usage      plans.OrgUsage
	limitsErr  error
	usageCalls int
}

func (f *fakePlans) GetPlanLimits(ctx context.Context, orgID string) (plans.PlanLimits, error) {
	return f.limits, f.limitsErr
}

func (f *fakePlans) GetOrgUsage(ctx context.Context, orgID string) (plans.OrgUsage, error) {
	f.usageCalls++
	return f.usage, nil
}

type fakeMembers map[string]*rbac.Membership

func (f fakeMembers) Get(ctx context.Context, orgID, userID string, force bool) (*rbac.Membership, error) {
	m, ok := f[userID]
	if !ok {
		return nil, rbac.ErrMembershipNotFound
	}
	return m, nil
}

type fakeRows map[string][]rbac.Grant

func (f fakeRows) ListPermissionRows(ctx context.Context, roleID string) ([]rbac.Grant, error) {
	return f[roleID], nil
}

type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (r *recordingAudit) Log(ctx context.Context, event *audit.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAudit) Close() error { return nil }

func strPtr(s string) *string { return &s }

func newTestGate(t *testing.T, p *fakePlans, opts ...Option) (*Gate, *recordingAudit) {
	t.Helper()
	members := fakeMembers{
		"owner-1":   {OrgID: "org-1", UserID: "owner-1", RoleKey: rbac.RoleOwner},
		"foreman-1": {OrgID: "org-1", UserID: "foreman-1", RoleKey: rbac.RoleManager, RoleID: strPtr("role-foreman")},
		"crew-1":    {OrgID: "org-1", UserID: "crew-1", RoleKey: rbac.RoleMember, RoleID: strPtr("role-crew")},
	}
	rows := fakeRows{
		"role-foreman": {
			{RoleID: "role-foreman", Module: rbac.ModuleFiles, Action: rbac.ActionView},
			{RoleID: "role-foreman", Module: rbac.ModuleFiles, Action: rbac.ActionEdit},
			{RoleID: "role-foreman", Module: rbac.ModuleProjects, Action: rbac.ActionView},
			{RoleID: "role-foreman", Module: rbac.ModuleProjects, Action: rbac.ActionEdit},
		},
		"role-crew": {
			{RoleID: "role-crew", Module: rbac.ModuleFiles, Action: rbac.ActionView},
		},
	}
	rec := &recordingAudit{}
	opts = append([]Option{WithAudit(rec), WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewGate(p, rbac.NewChecker(members, rows), opts...), rec
}

func TestGate_AllowsWithHeadroomAndPermission(t *testing.T) {
	p := &fakePlans{limits: plans.DefaultCatalog().Limits(plans.PlanStarter)}
	gate, rec := newTestGate(t, p)

	err := gate.Authorize(context.Background(), Request{OrgID: "org-1", UserID: "foreman-1", Operation: OpCreateProject, Count: 1})
	require.NoError(t, err)
	assert.Empty(t, rec.events)
}

func TestGate_PlanDenialComesFirst(t *testing.T) {
	p := &fakePlans{
		limits: plans.DefaultCatalog().Limits(plans.PlanStarter),
		usage:  plans.OrgUsage{OrgID: "org-1", ActiveProjectsCount: 3},
	}
	gate, rec := newTestGate(t, p)

	// crew lacks projects/edit too, but the plan check decides
	err := gate.Authorize(context.Background(), Request{OrgID: "org-1", UserID: "crew-1", Operation: OpCreateProject})
	require.Error(t, err)
	assert.True(t, plans.IsLimitExceeded(err))
	assert.False(t, rbac.IsForbidden(err))
	assert.Contains(t, err.Error(), "3")

	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.EventTypeAuthzPlanLimitDeny, rec.events[0].EventType)
	assert.Equal(t, audit.EventStatusDenied, rec.events[0].Status)
	assert.Equal(t, "create_project", rec.events[0].Action)
}

func TestGate_ForbiddenAfterPlanAllows(t *testing.T) {
	p := &fakePlans{limits: plans.DefaultCatalog().Limits(plans.PlanStarter)}
	gate, rec := newTestGate(t, p)

	err := gate.Authorize(context.Background(), Request{OrgID: "org-1", UserID: "crew-1", Operation: OpUpload, UploadMB: 2, FileMB: 2})
	require.Error(t, err)
	assert.True(t, rbac.IsForbidden(err))

	var forbidden *rbac.ForbiddenError
	require.True(t, errors.As(err, &forbidden))
	assert.Equal(t, rbac.ModuleFiles, forbidden.Module)
	assert.Equal(t, rbac.ActionEdit, forbidden.Action)

	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.EventTypeAuthzAccessDenied, rec.events[0].EventType)
}

func TestGate_OwnerBypassesMatrixNotPlan(t *testing.T) {
	p := &fakePlans{
		limits: plans.DefaultCatalog().Limits(plans.PlanStarter),
		usage:  plans.OrgUsage{OrgID: "org-1", MembersCount: 5},
	}
	gate, _ := newTestGate(t, p)

	err := gate.Authorize(context.Background(), Request{OrgID: "org-1", UserID: "owner-1", Operation: OpExport})
	assert.NoError(t, err)

	err = gate.Authorize(context.Background(), Request{OrgID: "org-1", UserID: "owner-1", Operation: OpInviteMember, Count: 1})
	assert.True(t, plans.IsLimitExceeded(err))
}

func TestGate_UploadChecksTotalStorage(t *testing.T) {
	p := &fakePlans{
		limits: plans.DefaultCatalog().Limits(plans.PlanStarter),
		usage:  plans.OrgUsage{OrgID: "org-1", StorageUsedMB: 1020},
	}
	gate, _ := newTestGate(t, p)

	err := gate.Authorize(context.Background(), Request{OrgID: "org-1", UserID: "foreman-1", Operation: OpUpload, UploadMB: 10, FileMB: 10})
	var limitErr *plans.LimitError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, plans.CheckStorage, limitErr.Check)
}

func TestGate_StaleDailyUsageIsIgnored(t *testing.T) {
	p := &fakePlans{
		limits: plans.DefaultCatalog().Limits(plans.PlanStarter),
		usage:  plans.OrgUsage{OrgID: "org-1", ExportUsedDay: 10, DayKey: "2026-03-13"},
	}
	gate, _ := newTestGate(t, p)

	err := gate.Authorize(context.Background(), Request{OrgID: "org-1", UserID: "owner-1", Operation: OpExport})
	assert.NoError(t, err)
}

func TestGate_ApprovalsSkipUsage(t *testing.T) {
	p := &fakePlans{limits: plans.DefaultCatalog().Limits(plans.PlanStarter)}
	gate, _ := newTestGate(t, p)

	err := gate.Authorize(context.Background(), Request{OrgID: "org-1", UserID: "owner-1", Operation: OpUseApprovals})
	var limitErr *plans.LimitError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, plans.CheckApproval, limitErr.Check)
	assert.Equal(t, 0, p.usageCalls)
}

func TestGate_FailsClosedOnLookupError(t *testing.T) {
	p := &fakePlans{limitsErr: errors.New("connection reset by peer")}
	gate, rec := newTestGate(t, p)

	err := gate.Authorize(context.Background(), Request{OrgID: "org-1", UserID: "owner-1", Operation: OpDownload, DownloadGB: 1})
	require.Error(t, err)
	assert.False(t, plans.IsLimitExceeded(err))
	assert.Empty(t, rec.events)
}

func TestGate_UnknownOperation(t *testing.T) {
	gate, _ := newTestGate(t, &fakePlans{})
	err := gate.Authorize(context.Background(), Request{OrgID: "org-1", UserID: "owner-1", Operation: "delete_org"})
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

func TestGate_NonMemberDenied(t *testing.T) {
	p := &fakePlans{limits: plans.DefaultCatalog().Limits(plans.PlanEnterprise)}
	gate, _ := newTestGate(t, p)

	err := gate.Authorize(context.Background(), Request{OrgID: "org-1", UserID: "stranger", Operation: OpDownload})
	assert.True(t, rbac.IsForbidden(err))
}

func TestGate_LocalizedReason(t *testing.T) {
	p := &fakePlans{
		limits: plans.DefaultCatalog().Limits(plans.PlanStarter),
		usage:  plans.OrgUsage{OrgID: "org-1", MembersCount: 5},
	}
	gate, _ := newTestGate(t, p)
	req := Request{OrgID: "org-1", UserID: "owner-1", Operation: OpInviteMember}

	english := gate.Authorize(context.Background(), req)
	indonesian := gate.Authorize(contextkeys.WithLocale(context.Background(), language.Indonesian), req)
	require.Error(t, english)
	require.Error(t, indonesian)
	assert.NotEqual(t, english.Error(), indonesian.Error())
}

func TestGate_Metrics(t *testing.T) {
	metrics := observability.NewMetrics(nil)
	p := &fakePlans{
		limits: plans.DefaultCatalog().Limits(plans.PlanStarter),
		usage:  plans.OrgUsage{OrgID: "org-1", ExportUsedDay: 10, DayKey: "2026-03-14"},
	}
	gate, _ := newTestGate(t, p, WithMetrics(metrics))

	_ = gate.Authorize(context.Background(), Request{OrgID: "org-1", UserID: "owner-1", Operation: OpExport})
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PlanDecisionsTotal.WithLabelValues("export", observability.OutcomeDenied)))
}

func TestGate_Snapshot(t *testing.T) {
	p := &fakePlans{
		limits: plans.DefaultCatalog().Limits(plans.PlanPro),
		usage:  plans.OrgUsage{OrgID: "org-1", UploadUsedMBDay: 40, DayKey: "2026-03-13", MembersCount: 4},
	}
	gate, _ := newTestGate(t, p)

	limits, usage, err := gate.Snapshot(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, plans.PlanPro, limits.Plan)
	assert.Equal(t, int64(4), usage.MembersCount)
	assert.Zero(t, usage.UploadUsedMBDay)
}

func TestOperation_Requirement(t *testing.T) {
	module, action, ok := OpDownload.Requirement()
	assert.True(t, ok)
	assert.Equal(t, rbac.ModuleFiles, module)
	assert.Equal(t, rbac.ActionView, action)

	assert.False(t, Operation("nope").Valid())
}
