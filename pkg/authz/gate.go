package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/language"

	"github.com/platinummonkey/sitework/pkg/audit"
	"github.com/platinummonkey/sitework/pkg/contextkeys"
	"github.com/platinummonkey/sitework/pkg/observability"
	"github.com/platinummonkey/sitework/pkg/plans"
	"github.com/platinummonkey/sitework/pkg/rbac"
)

// Operation is a plan-limited action a user can attempt in an org
type Operation string

const (
	OpInviteMember  Operation = "invite_member"
	OpCreateProject Operation = "create_project"
	OpUpload        Operation = "upload"
	OpDownload      Operation = "download"
	OpExport        Operation = "export"
	OpUseApprovals  Operation = "use_approvals"
)

type requirement struct {
	module     rbac.ModuleKey
	action     rbac.Action
	needsUsage bool
}

var requirements = map[Operation]requirement{
	OpInviteMember:  {rbac.ModuleMembers, rbac.ActionEdit, true},
	OpCreateProject: {rbac.ModuleProjects, rbac.ActionEdit, true},
	OpUpload:        {rbac.ModuleFiles, rbac.ActionEdit, true},
	OpDownload:      {rbac.ModuleFiles, rbac.ActionView, true},
	OpExport:        {rbac.ModuleReports, rbac.ActionView, true},
	OpUseApprovals:  {rbac.ModuleApprovals, rbac.ActionView, false},
}

// Valid reports whether op is a known operation
func (op Operation) Valid() bool {
	_, ok := requirements[op]
	return ok
}

// Requirement returns the module and action the role must hold for op
func (op Operation) Requirement() (rbac.ModuleKey, rbac.Action, bool) {
	r, ok := requirements[op]
	return r.module, r.action, ok
}

// ErrUnknownOperation is returned for an operation the gate has no rule for
var ErrUnknownOperation = errors.New("unknown operation")

// Request describes one attempted operation. Count applies to invites and
// project creation, the sizes to uploads and downloads.
type Request struct {
	OrgID     string
	UserID    string
	Operation Operation

	Count      int
	UploadMB   float64
	FileMB     float64
	DownloadGB float64
}

// Permissions is the RBAC half of the gate. *rbac.Checker satisfies it.
type Permissions interface {
	Require(ctx context.Context, orgID, userID string, module rbac.ModuleKey, action rbac.Action) error
}

// Gate asks the plan guard for headroom and then the RBAC layer for the
// role's permission. Only when both allow does Authorize return nil.
type Gate struct {
	plans   plans.Store
	perms   Permissions
	audit   audit.Logger
	metrics *observability.Metrics
	locale  language.Tag
	now     func() time.Time
}

// Option configures a Gate
type Option func(*Gate)

// WithAudit records denials to l
func WithAudit(l audit.Logger) Option {
	return func(g *Gate) { g.audit = l }
}

// WithMetrics counts plan decisions
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithLocale sets the fallback language for denial reasons
func WithLocale(tag language.Tag) Option {
	return func(g *Gate) { g.locale = tag }
}

// WithClock replaces time.Now for period normalization
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a gate over the plan store and permission checker
func NewGate(store plans.Store, perms Permissions, opts ...Option) *Gate {
	g := &Gate{
		plans:  store,
		perms:  perms,
		locale: language.English,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Snapshot returns the org's effective limits and current-period usage
func (g *Gate) Snapshot(ctx context.Context, orgID string) (plans.PlanLimits, plans.OrgUsage, error) {
	limits, err := g.plans.GetPlanLimits(ctx, orgID)
	if err != nil {
		return plans.PlanLimits{}, plans.OrgUsage{}, fmt.Errorf("failed to load plan limits: %w", err)
	}
	usage, err := g.plans.GetOrgUsage(ctx, orgID)
	if err != nil {
		return plans.PlanLimits{}, plans.OrgUsage{}, fmt.Errorf("failed to load usage: %w", err)
	}
	return limits, usage.ForPeriod(g.now()), nil
}

// Authorize returns nil, a *plans.LimitError, a *rbac.ForbiddenError, or
// the infrastructure error that prevented a decision.
func (g *Gate) Authorize(ctx context.Context, req Request) error {
	r, ok := requirements[req.Operation]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOperation, req.Operation)
	}

	decision, err := g.planDecision(ctx, req, r)
	if err != nil {
		return err
	}
	g.metrics.ObservePlanDecision(string(req.Operation), decision.Allowed)
	if !decision.Allowed {
		g.recordDenial(ctx, req, audit.EventTypeAuthzPlanLimitDeny, decision.Reason)
		return decision.Err()
	}

	err = g.perms.Require(ctx, req.OrgID, req.UserID, r.module, r.action)
	var forbidden *rbac.ForbiddenError
	if errors.As(err, &forbidden) {
		g.recordDenial(ctx, req, audit.EventTypeAuthzAccessDenied, forbidden.Reason)
	}
	return err
}

func (g *Gate) planDecision(ctx context.Context, req Request, r requirement) (plans.Decision, error) {
	limits, err := g.plans.GetPlanLimits(ctx, req.OrgID)
	if err != nil {
		return plans.Decision{}, fmt.Errorf("failed to load plan limits: %w", err)
	}

	var usage plans.OrgUsage
	if r.needsUsage {
		usage, err = g.plans.GetOrgUsage(ctx, req.OrgID)
		if err != nil {
			return plans.Decision{}, fmt.Errorf("failed to load usage: %w", err)
		}
		usage = usage.ForPeriod(g.now())
	}

	guard := plans.NewGuard(g.localeFor(ctx))
	switch req.Operation {
	case OpInviteMember:
		return guard.CanInviteMember(limits, usage, req.Count), nil
	case OpCreateProject:
		return guard.CanCreateProject(limits, usage, req.Count), nil
	case OpUpload:
		if d := guard.CanUpload(limits, usage, req.UploadMB, req.FileMB); !d.Allowed {
			return d, nil
		}
		return guard.CanStore(limits, usage, req.UploadMB), nil
	case OpDownload:
		return guard.CanDownload(limits, usage, req.DownloadGB), nil
	case OpExport:
		return guard.CanExport(limits, usage), nil
	default:
		return guard.CanUseApproval(limits), nil
	}
}

func (g *Gate) localeFor(ctx context.Context) language.Tag {
	if tag, ok := contextkeys.GetLocale(ctx); ok {
		return tag
	}
	return g.locale
}

func (g *Gate) recordDenial(ctx context.Context, req Request, eventType audit.EventType, reason string) {
	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"org_id":    req.OrgID,
		"operation": string(req.Operation),
	}).Infof("operation denied: %s", reason)

	if g.audit == nil {
		return
	}
	err := g.audit.Log(ctx, &audit.AuditEvent{
		EventType: eventType,
		Status:    audit.EventStatusDenied,
		OrgID:     req.OrgID,
		ActorID:   req.UserID,
		Action:    string(req.Operation),
		Message:   reason,
	})
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to record denial")
	}
}
