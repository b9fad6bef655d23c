// Package approvals implements the draft-to-decision workflow that gates
// sensitive entity changes.
//
//	draft --submit--> submitted --approve--> approved
//	                            --reject---> rejected
//	draft | submitted --cancel--> cancelled
//
// Approved, rejected and cancelled are terminal. Every action first checks
// the organization's plan (approvals need multi_step), then the caller's
// role: approve and reject need owner or admin, the other actions need
// owner, admin, manager or member.
//
// create_draft is idempotent: one request exists per (org, entity type,
// entity id) and repeated calls return it unchanged. Every state change is
// committed together with its audit entry.
package approvals
