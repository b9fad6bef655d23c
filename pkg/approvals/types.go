package approvals

import (
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/sitework/pkg/rbac"
)

// Status is the state of an approval request
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no action can leave s
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Action is a workflow operation
type Action string

const (
	ActionCreateDraft Action = "create_draft"
	ActionSubmit      Action = "submit"
	ActionApprove     Action = "approve"
	ActionReject      Action = "reject"
	ActionCancel      Action = "cancel"
)

var (
	// ErrNotFound means no request exists for the entity
	ErrNotFound = errors.New("approval request not found")

	// ErrInvalidTransition means the action is not allowed from the
	// request's current status
	ErrInvalidTransition = errors.New("invalid approval transition")

	// ErrInvalidCommand means the command failed validation
	ErrInvalidCommand = errors.New("invalid approval command")
)

// Request tracks one entity's path from draft to decision
type Request struct {
	ID         string `json:"id"`
	OrgID      string `json:"org_id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Status     Status `json:"status"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	SubmittedBy  *string    `json:"submitted_by,omitempty"`
	SubmittedAt  *time.Time `json:"submitted_at,omitempty"`
	DecidedBy    *string    `json:"decided_by,omitempty"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	DecisionNote *string    `json:"decision_note,omitempty"`
	CancelledBy  *string    `json:"cancelled_by,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
}

// transitions maps action -> source status -> resulting status
var transitions = map[Action]map[Status]Status{
	ActionSubmit: {
		StatusDraft: StatusSubmitted,
	},
	ActionApprove: {
		StatusSubmitted: StatusApproved,
	},
	ActionReject: {
		StatusSubmitted: StatusRejected,
	},
	ActionCancel: {
		StatusDraft:     StatusCancelled,
		StatusSubmitted: StatusCancelled,
	},
}

// Next returns the status action moves from to. create_draft is not a
// transition and always fails here.
func Next(from Status, action Action) (Status, error) {
	to, ok := transitions[action][from]
	if !ok {
		return "", fmt.Errorf("%w: cannot %s a %s request", ErrInvalidTransition, action, from)
	}
	return to, nil
}

// adminOnly reports whether action needs the admin tier
func adminOnly(action Action) bool {
	return action == ActionApprove || action == ActionReject
}

// TierAllows reports whether a normalized role may perform action. Approve
// and reject need owner or admin; everything else needs owner, admin,
// manager or member.
func TierAllows(role rbac.RoleKey, action Action) bool {
	switch role {
	case rbac.RoleOwner, rbac.RoleAdmin:
		return true
	case rbac.RoleManager, rbac.RoleMember:
		return !adminOnly(action)
	}
	return false
}
