package rbac

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/text/language"

	"github.com/platinummonkey/sitework/pkg/contextkeys"
	"github.com/platinummonkey/sitework/pkg/observability"
)

// MembershipLookup resolves a user's membership. force bypasses any cache.
type MembershipLookup interface {
	Get(ctx context.Context, orgID, userID string, force bool) (*Membership, error)
}

// PermissionRowLister lists the rows granted to a role
type PermissionRowLister interface {
	ListPermissionRows(ctx context.Context, roleID string) ([]Grant, error)
}

// Checker evaluates org permissions. It never fails open: any lookup error
// is a denial returned alongside the error.
type Checker struct {
	members     MembershipLookup
	permissions PermissionRowLister
	bypass      BypassPolicy
	locale      language.Tag
	metrics     *observability.Metrics
}

// CheckerOption configures a Checker
type CheckerOption func(*Checker)

// WithBypassPolicy replaces the default owner+admin bypass
func WithBypassPolicy(p BypassPolicy) CheckerOption {
	return func(c *Checker) { c.bypass = p }
}

// WithLocale sets the fallback language for denial reasons
func WithLocale(tag language.Tag) CheckerOption {
	return func(c *Checker) { c.locale = tag }
}

// WithMetrics records every check
func WithMetrics(m *observability.Metrics) CheckerOption {
	return func(c *Checker) { c.metrics = m }
}

// NewChecker creates a new permission checker
func NewChecker(members MembershipLookup, permissions PermissionRowLister, opts ...CheckerOption) *Checker {
	c := &Checker{
		members:     members,
		permissions: permissions,
		bypass:      DefaultBypassPolicy(),
		locale:      language.English,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bypass returns the configured bypass policy
func (c *Checker) Bypass() BypassPolicy {
	return c.bypass
}

// Membership returns the caller's membership, or ErrMembershipNotFound
func (c *Checker) Membership(ctx context.Context, orgID, userID string) (*Membership, error) {
	return c.members.Get(ctx, orgID, userID, false)
}

// HasOrgPermission reports whether userID may perform action on module in
// orgID. Bypass roles are always allowed. Anyone else needs a custom role
// with an exact (module, action) row. Permission rows are read on every call.
func (c *Checker) HasOrgPermission(ctx context.Context, orgID, userID string, module ModuleKey, action Action) (bool, error) {
	allowed, _, err := c.evaluate(ctx, orgID, userID, module, action)
	return allowed, err
}

// Require is HasOrgPermission returning a *ForbiddenError on denial
func (c *Checker) Require(ctx context.Context, orgID, userID string, module ModuleKey, action Action) error {
	allowed, m, err := c.evaluate(ctx, orgID, userID, module, action)
	if err != nil {
		return err
	}
	if allowed {
		return nil
	}

	var role RoleKey
	if m != nil {
		role = m.RoleKey
	}
	denial := NewForbiddenError(c.Locale(ctx), module, action, role)
	if m != nil && m.RoleID == nil && module.known() && action.Valid() {
		denial.Reason = printer(c.Locale(ctx)).Sprintf(msgNoCustomRole, role)
	}
	return denial
}

// Locale returns the language for reasons: the context's negotiated locale
// or the checker default
func (c *Checker) Locale(ctx context.Context) language.Tag {
	if tag, ok := contextkeys.GetLocale(ctx); ok {
		return tag
	}
	return c.locale
}

func (k ModuleKey) known() bool {
	_, ok := LookupModule(k)
	return ok
}

func (c *Checker) evaluate(ctx context.Context, orgID, userID string, module ModuleKey, action Action) (allowed bool, m *Membership, err error) {
	logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"org_id": orgID,
		"module": string(module),
		"action": string(action),
	})
	defer func() {
		c.metrics.ObservePermissionCheck(string(module), string(action), allowed, err)
		if err != nil {
			logger.WithError(err).Warn("permission check failed")
		} else if !allowed {
			logger.Info("permission denied")
		}
	}()

	m, err = c.members.Get(ctx, orgID, userID, false)
	if errors.Is(err, ErrMembershipNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("failed to resolve membership: %w", err)
	}

	// bypass roles are never constrained by the catalog or the matrix
	if c.bypass.Bypasses(m.RoleKey) {
		return true, m, nil
	}
	if mod, ok := LookupModule(module); !ok || !mod.Permits(action) || m.RoleID == nil {
		return false, m, nil
	}

	rows, err := c.permissions.ListPermissionRows(ctx, *m.RoleID)
	if err != nil {
		return false, m, fmt.Errorf("failed to load permissions: %w", err)
	}
	for _, g := range rows {
		if g.Module == module && g.Action == action {
			return true, m, nil
		}
	}
	return false, m, nil
}
