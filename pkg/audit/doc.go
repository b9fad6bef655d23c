// Package audit records the immutable audit trail for Sitework.
//
// # Overview
//
// Every state-changing approval transition and every permission-matrix save
// appends an audit entry naming the actor, the organization, the entity and
// the resulting status. Entries are never updated or deleted.
//
// # Usage Example
//
// Write an entry inside an existing transaction:
//
//	tx, _ := db.BeginTx(ctx, nil)
//	defer tx.Rollback()
//	// ... update the entity ...
//	err := audit.Insert(ctx, tx, &audit.AuditEvent{
//		EventType:    audit.EventTypeApprovalSubmit,
//		OrgID:        orgID,
//		ActorID:      userID,
//		EntityType:   "cost",
//		EntityID:     costID,
//		Action:       "submit",
//		ResultStatus: "submitted",
//	})
//
// Read an entity's history:
//
//	events, err := logger.ListForEntity(ctx, orgID, "cost", costID)
//
// # Related Packages
//
//   - pkg/approvals: transition audit entries
//   - pkg/rbac: permission matrix audit entries
package audit
