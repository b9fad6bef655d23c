package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/platinummonkey/sitework/pkg/contextkeys"
	"github.com/platinummonkey/sitework/pkg/observability"
)

func newTestChecker(rows *fakeRows, ms ...*Membership) *Checker {
	return NewChecker(directLookup{store: newFakeMembers(ms...)}, rows)
}

func TestHasOrgPermission_BypassIgnoresMatrix(t *testing.T) {
	rows := &fakeRows{}
	c := newTestChecker(rows,
		&Membership{OrgID: "org-1", UserID: "owner", RoleKey: RoleOwner},
		&Membership{OrgID: "org-1", UserID: "admin", RoleKey: RoleAdmin},
	)

	for _, user := range []string{"owner", "admin"} {
		for _, mod := range Modules() {
			for _, action := range Actions {
				ok, err := c.HasOrgPermission(context.Background(), "org-1", user, mod.Key, action)
				require.NoError(t, err)
				assert.True(t, ok, "%s %s %s", user, mod.Key, action)
			}
		}
	}
	assert.Zero(t, rows.calls, "bypass roles never read permission rows")
}

func TestHasOrgPermission_FailClosedWithoutRole(t *testing.T) {
	c := newTestChecker(&fakeRows{},
		&Membership{OrgID: "org-1", UserID: "u1", RoleKey: RoleMember},
	)

	for _, mod := range Modules() {
		for _, action := range Actions {
			ok, err := c.HasOrgPermission(context.Background(), "org-1", "u1", mod.Key, action)
			require.NoError(t, err)
			assert.False(t, ok)
		}
	}
}

func TestHasOrgPermission_ExactMatch(t *testing.T) {
	rows := &fakeRows{rows: map[string][]Grant{
		"role-crew": {
			{RoleID: "role-crew", Module: ModuleCosts, Action: ActionView},
			{RoleID: "role-crew", Module: ModuleCosts, Action: ActionEdit},
		},
	}}
	c := newTestChecker(rows,
		&Membership{OrgID: "org-1", UserID: "u1", RoleKey: RoleMember, RoleID: strPtr("role-crew")},
	)
	ctx := context.Background()

	ok, err := c.HasOrgPermission(ctx, "org-1", "u1", ModuleCosts, ActionEdit)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.HasOrgPermission(ctx, "org-1", "u1", ModuleCosts, ActionApprove)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.HasOrgPermission(ctx, "org-1", "u1", ModuleMaterials, ActionView)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 3, rows.calls, "rows are re-read on every check")
}

func TestHasOrgPermission_UnknownTargetsDeny(t *testing.T) {
	rows := &fakeRows{rows: map[string][]Grant{
		"role-crew": {
			{RoleID: "role-crew", Module: ModuleKey("payroll"), Action: ActionView},
			{RoleID: "role-crew", Module: ModuleProjects, Action: ActionApprove},
		},
	}}
	c := newTestChecker(rows,
		&Membership{OrgID: "org-1", UserID: "u1", RoleKey: RoleMember, RoleID: strPtr("role-crew")},
	)
	ctx := context.Background()

	ok, err := c.HasOrgPermission(ctx, "org-1", "u1", ModuleKey("payroll"), ActionView)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.HasOrgPermission(ctx, "org-1", "u1", ModuleProjects, Action("delete"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.HasOrgPermission(ctx, "org-1", "u1", ModuleProjects, ActionApprove)
	require.NoError(t, err)
	assert.False(t, ok, "a stray row cannot grant approve where the module has none")
	assert.Zero(t, rows.calls)
}

func TestHasOrgPermission_BypassIgnoresCatalog(t *testing.T) {
	rows := &fakeRows{}
	c := newTestChecker(rows,
		&Membership{OrgID: "org-1", UserID: "owner", RoleKey: RoleOwner},
		&Membership{OrgID: "org-1", UserID: "admin", RoleKey: RoleAdmin},
	)
	ctx := context.Background()

	for _, user := range []string{"owner", "admin"} {
		for _, target := range []struct {
			module ModuleKey
			action Action
		}{
			{ModuleProjects, ActionApprove},
			{ModuleKey("payroll"), ActionView},
			{ModuleSettings, Action("delete")},
		} {
			ok, err := c.HasOrgPermission(ctx, "org-1", user, target.module, target.action)
			require.NoError(t, err)
			assert.True(t, ok, "%s on %s/%s", user, target.module, target.action)
		}
	}
	assert.Zero(t, rows.calls)
}

func TestHasOrgPermission_NotMember(t *testing.T) {
	c := newTestChecker(&fakeRows{})

	ok, err := c.HasOrgPermission(context.Background(), "org-1", "stranger", ModuleProjects, ActionView)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasOrgPermission_ErrorsDeny(t *testing.T) {
	boom := errors.New("connection reset")
	rows := &fakeRows{err: boom}
	c := newTestChecker(rows,
		&Membership{OrgID: "org-1", UserID: "u1", RoleKey: RoleViewer, RoleID: strPtr("role-v")},
	)

	ok, err := c.HasOrgPermission(context.Background(), "org-1", "u1", ModuleProjects, ActionView)
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)

	members := newFakeMembers()
	members.errs = []error{boom}
	c = NewChecker(directLookup{store: members}, &fakeRows{})
	ok, err = c.HasOrgPermission(context.Background(), "org-1", "u1", ModuleProjects, ActionView)
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
}

func TestHasOrgPermission_CustomBypass(t *testing.T) {
	policy, err := NewBypassPolicy([]string{"owner"})
	require.NoError(t, err)

	c := NewChecker(directLookup{store: newFakeMembers(
		&Membership{OrgID: "org-1", UserID: "admin", RoleKey: RoleAdmin},
	)}, &fakeRows{}, WithBypassPolicy(policy))

	ok, err := c.HasOrgPermission(context.Background(), "org-1", "admin", ModuleBilling, ActionView)
	require.NoError(t, err)
	assert.False(t, ok, "admin without bypass falls through to the matrix")
}

func TestRequire_ForbiddenError(t *testing.T) {
	c := newTestChecker(&fakeRows{rows: map[string][]Grant{}},
		&Membership{OrgID: "org-1", UserID: "u1", RoleKey: RoleViewer, RoleID: strPtr("role-v")},
		&Membership{OrgID: "org-1", UserID: "u2", RoleKey: RoleMember},
	)
	ctx := context.Background()

	err := c.Require(ctx, "org-1", "u1", ModuleCosts, ActionEdit)
	require.Error(t, err)
	assert.True(t, IsForbidden(err))

	var fe *ForbiddenError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, ModuleCosts, fe.Module)
	assert.Equal(t, ActionEdit, fe.Action)
	assert.Equal(t, RoleViewer, fe.Role)
	assert.Contains(t, fe.Reason, "viewer")
	assert.Contains(t, fe.Reason, "Costs")

	err = c.Require(ctx, "org-1", "u2", ModuleCosts, ActionView)
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, fe.Reason, "no permissions assigned")

	err = c.Require(ctx, "org-1", "stranger", ModuleCosts, ActionView)
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "You are not a member of this organization.", fe.Reason)
}

func TestRequire_LocalizedFromContext(t *testing.T) {
	c := newTestChecker(&fakeRows{})
	ctx := contextkeys.WithLocale(context.Background(), language.Indonesian)

	err := c.Require(ctx, "org-1", "stranger", ModuleCosts, ActionView)
	var fe *ForbiddenError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "Anda bukan anggota organisasi ini.", fe.Reason)
}

func TestRequire_PropagatesInfrastructureErrors(t *testing.T) {
	members := newFakeMembers()
	members.errs = []error{errors.New("timeout")}
	c := NewChecker(directLookup{store: members}, &fakeRows{})

	err := c.Require(context.Background(), "org-1", "u1", ModuleCosts, ActionView)
	require.Error(t, err)
	assert.False(t, IsForbidden(err))
}

func TestHasOrgPermission_Metrics(t *testing.T) {
	metrics := observability.NewMetrics(nil)
	c := NewChecker(directLookup{store: newFakeMembers(
		&Membership{OrgID: "org-1", UserID: "owner", RoleKey: RoleOwner},
	)}, &fakeRows{}, WithMetrics(metrics))
	ctx := context.Background()

	_, _ = c.HasOrgPermission(ctx, "org-1", "owner", ModuleFiles, ActionView)
	_, _ = c.HasOrgPermission(ctx, "org-1", "stranger", ModuleFiles, ActionView)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PermissionChecksTotal.WithLabelValues("files", "view", observability.OutcomeAllowed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PermissionChecksTotal.WithLabelValues("files", "view", observability.OutcomeDenied)))
}
