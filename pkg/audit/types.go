package audit

import "time"

// EventType represents the category of audit event
type EventType string

const (
	// Approval workflow events
	EventTypeApprovalCreateDraft EventType = "approval.create_draft"
	EventTypeApprovalSubmit      EventType = "approval.submit"
	EventTypeApprovalApprove     EventType = "approval.approve"
	EventTypeApprovalReject      EventType = "approval.reject"
	EventTypeApprovalCancel      EventType = "approval.cancel"

	// Authorization events
	EventTypeAuthzMatrixSave    EventType = "authz.permission_matrix_save"
	EventTypeAuthzMatrixVerify  EventType = "authz.permission_matrix_verify_failed"
	EventTypeAuthzAccessDenied  EventType = "authz.access_denied"
	EventTypeAuthzPlanLimitDeny EventType = "authz.plan_limit_denied"

	// File brokering events
	EventTypeFileUploadPresign   EventType = "data.file_upload_presign"
	EventTypeFileDownloadPresign EventType = "access.file_download_presign"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// AuditEvent is a single immutable audit log entry
type AuditEvent struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor and tenant
	OrgID   string `json:"org_id"`
	ActorID string `json:"actor_id"`

	// Entity the event refers to
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`

	// Action performed and the entity state it produced
	Action       string `json:"action,omitempty"`
	ResultStatus string `json:"result_status,omitempty"`

	RequestID string                 `json:"request_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// SearchFilter represents filters for searching audit logs within one org
type SearchFilter struct {
	OrgID string

	StartTime *time.Time
	EndTime   *time.Time

	ActorID    string
	EntityType string
	EntityID   string
	EventTypes []EventType

	Limit  int
	Offset int
}
