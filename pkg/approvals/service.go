package approvals

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/language"

	"github.com/platinummonkey/sitework/pkg/audit"
	"github.com/platinummonkey/sitework/pkg/contextkeys"
	"github.com/platinummonkey/sitework/pkg/observability"
	"github.com/platinummonkey/sitework/pkg/plans"
	"github.com/platinummonkey/sitework/pkg/rbac"
)

// MembershipResolver returns a caller's normalized membership.
// *rbac.Checker satisfies it.
type MembershipResolver interface {
	Membership(ctx context.Context, orgID, userID string) (*rbac.Membership, error)
}

// Command asks for one workflow action on an entity
type Command struct {
	OrgID      string `json:"org_id" validate:"required,max=64"`
	EntityType string `json:"entity_type" validate:"required,max=100"`
	EntityID   string `json:"entity_id" validate:"required,max=255"`
	ActorID    string `json:"actor_id" validate:"required,max=64"`
	Action     Action `json:"action" validate:"required,oneof=create_draft submit approve reject cancel"`
	Note       string `json:"note,omitempty" validate:"max=2000"`
}

var eventTypes = map[Action]audit.EventType{
	ActionCreateDraft: audit.EventTypeApprovalCreateDraft,
	ActionSubmit:      audit.EventTypeApprovalSubmit,
	ActionApprove:     audit.EventTypeApprovalApprove,
	ActionReject:      audit.EventTypeApprovalReject,
	ActionCancel:      audit.EventTypeApprovalCancel,
}

// Service runs the approval workflow: plan gate, role tier, then the
// status transition and its audit entry.
type Service struct {
	store    Store
	limits   plans.Store
	members  MembershipResolver
	history  audit.Reader
	audit    audit.Logger
	metrics  *observability.Metrics
	bypass   rbac.BypassPolicy
	locale   language.Tag
	now      func() time.Time
	validate *validator.Validate
}

// Option configures a Service
type Option func(*Service)

// WithHistory enables History
func WithHistory(r audit.Reader) Option {
	return func(s *Service) { s.history = r }
}

// WithDenialAudit records denied attempts to l instead of the context's
// audit logger
func WithDenialAudit(l audit.Logger) Option {
	return func(s *Service) { s.audit = l }
}

// WithMetrics counts transitions
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLocale sets the fallback language for denial reasons
func WithLocale(tag language.Tag) Option {
	return func(s *Service) { s.locale = tag }
}

// WithBypassPolicy lets the configured bypass roles perform every action,
// approve and reject included, on top of the fixed role tiers
func WithBypassPolicy(p rbac.BypassPolicy) Option {
	return func(s *Service) { s.bypass = p }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new approval service
func NewService(store Store, limits plans.Store, members MembershipResolver, opts ...Option) *Service {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	s := &Service{
		store:    store,
		limits:   limits,
		members:  members,
		bypass:   rbac.DefaultBypassPolicy(),
		locale:   language.English,
		now:      time.Now,
		validate: v,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) localeFor(ctx context.Context) language.Tag {
	if tag, ok := contextkeys.GetLocale(ctx); ok {
		return tag
	}
	return s.locale
}

func (s *Service) auditLogger(ctx context.Context) audit.Logger {
	if s.audit != nil {
		return s.audit
	}
	return audit.FromContext(ctx)
}

// Get returns the request for an entity or ErrNotFound
func (s *Service) Get(ctx context.Context, orgID, entityType, entityID string) (*Request, error) {
	return s.store.GetRequest(ctx, orgID, entityType, entityID)
}

// History returns the audit trail of an entity's approval, oldest first
func (s *Service) History(ctx context.Context, orgID, entityType, entityID string) ([]*audit.AuditEvent, error) {
	if s.history == nil {
		return nil, fmt.Errorf("approval history is not configured")
	}
	return s.history.ListForEntity(ctx, orgID, entityType, entityID)
}

// Perform runs cmd. Errors are one of ErrInvalidCommand, *plans.LimitError,
// *rbac.ForbiddenError, ErrNotFound, ErrInvalidTransition, or an
// infrastructure failure.
func (s *Service) Perform(ctx context.Context, cmd Command) (req *Request, err error) {
	logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"org_id":      cmd.OrgID,
		"entity_type": cmd.EntityType,
		"entity_id":   cmd.EntityID,
		"action":      string(cmd.Action),
	})
	defer func() {
		s.metrics.ObserveApprovalTransition(string(cmd.Action), outcomeOf(err))
		switch {
		case err == nil:
		case rbac.IsForbidden(err), plans.IsLimitExceeded(err):
			logger.WithError(err).Info("approval action denied")
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrInvalidCommand):
			logger.WithError(err).Info("approval action rejected")
		default:
			logger.WithError(err).Error("approval action failed")
		}
	}()

	if err := s.validate.Struct(cmd); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCommand, describe(err))
	}

	if err := s.gate(ctx, cmd); err != nil {
		return nil, err
	}

	if cmd.Action == ActionCreateDraft {
		return s.createDraft(ctx, cmd)
	}

	current, err := s.store.GetRequest(ctx, cmd.OrgID, cmd.EntityType, cmd.EntityID)
	if err != nil {
		return nil, err
	}
	to, err := Next(current.Status, cmd.Action)
	if err != nil {
		return nil, err
	}

	at := s.now().UTC()
	return s.store.Transition(ctx, Transition{
		RequestID: current.ID,
		OrgID:     cmd.OrgID,
		From:      current.Status,
		To:        to,
		ActorID:   cmd.ActorID,
		Note:      cmd.Note,
		At:        at,
		Event:     s.event(cmd, current.ID, to, at),
	})
}

// CreateDraft is Perform with ActionCreateDraft. Repeated calls for the
// same entity return the same request and write one audit entry.
func (s *Service) CreateDraft(ctx context.Context, orgID, entityType, entityID, actorID string) (*Request, error) {
	return s.Perform(ctx, Command{
		OrgID:      orgID,
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actorID,
		Action:     ActionCreateDraft,
	})
}

func (s *Service) createDraft(ctx context.Context, cmd Command) (*Request, error) {
	at := s.now().UTC()
	req := &Request{
		OrgID:      cmd.OrgID,
		EntityType: cmd.EntityType,
		EntityID:   cmd.EntityID,
		Status:     StatusDraft,
		CreatedBy:  cmd.ActorID,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	stored, _, err := s.store.CreateDraft(ctx, req, s.event(cmd, "", StatusDraft, at))
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *Service) event(cmd Command, requestID string, result Status, at time.Time) *audit.AuditEvent {
	metadata := map[string]interface{}{}
	if requestID != "" {
		metadata["request_id"] = requestID
	}
	if cmd.Note != "" {
		metadata["note"] = cmd.Note
	}
	return &audit.AuditEvent{
		Timestamp:    at,
		EventType:    eventTypes[cmd.Action],
		Status:       audit.EventStatusSuccess,
		OrgID:        cmd.OrgID,
		ActorID:      cmd.ActorID,
		EntityType:   cmd.EntityType,
		EntityID:     cmd.EntityID,
		Action:       string(cmd.Action),
		ResultStatus: string(result),
		Metadata:     metadata,
	}
}

// gate applies the plan check, then the role tier
func (s *Service) gate(ctx context.Context, cmd Command) error {
	tag := s.localeFor(ctx)

	limits, err := s.limits.GetPlanLimits(ctx, cmd.OrgID)
	if err != nil {
		return fmt.Errorf("failed to load plan limits: %w", err)
	}
	if d := plans.NewGuard(tag).CanUseApproval(limits); !d.Allowed {
		s.recordDenial(ctx, cmd, audit.EventTypeAuthzPlanLimitDeny, d.Reason)
		return d.Err()
	}

	m, err := s.members.Membership(ctx, cmd.OrgID, cmd.ActorID)
	if errors.Is(err, rbac.ErrMembershipNotFound) {
		denial := rbac.NewForbiddenError(tag, rbac.ModuleApprovals, rbac.ActionView, "")
		s.recordDenial(ctx, cmd, audit.EventTypeAuthzAccessDenied, denial.Reason)
		return denial
	}
	if err != nil {
		return fmt.Errorf("failed to resolve membership: %w", err)
	}
	if !s.bypass.Bypasses(m.RoleKey) && !TierAllows(m.RoleKey, cmd.Action) {
		denial := rbac.NewTierError(tag, string(cmd.Action), m.RoleKey, adminOnly(cmd.Action))
		s.recordDenial(ctx, cmd, audit.EventTypeAuthzAccessDenied, denial.Reason)
		return denial
	}
	return nil
}

func (s *Service) recordDenial(ctx context.Context, cmd Command, eventType audit.EventType, reason string) {
	err := s.auditLogger(ctx).Log(ctx, &audit.AuditEvent{
		EventType:  eventType,
		Status:     audit.EventStatusDenied,
		OrgID:      cmd.OrgID,
		ActorID:    cmd.ActorID,
		EntityType: cmd.EntityType,
		EntityID:   cmd.EntityID,
		Action:     string(cmd.Action),
		Message:    reason,
	})
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to record denied approval action")
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeSuccess
	case rbac.IsForbidden(err), plans.IsLimitExceeded(err):
		return observability.OutcomeDenied
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrInvalidCommand):
		return "invalid"
	}
	return observability.OutcomeError
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "oneof":
			parts = append(parts, fe.Field()+" must be one of "+fe.Param())
		case "max":
			parts = append(parts, fe.Field()+" must be at most "+fe.Param()+" characters")
		default:
			parts = append(parts, fe.Field()+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}
