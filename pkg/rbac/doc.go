// Package rbac implements organization-scoped role-based access control for
// sitework.
//
// # Overview
//
// Every organization member has a role key and, optionally, a custom role
// whose permission rows grant actions on modules:
//
//	Modules: projects, materials, costs, approvals, billing, members,
//	         reports, files, settings
//	Actions: view, edit, approve (approve only on costs, materials,
//	         approvals and billing)
//
// Role keys are normalized before use. Legacy spellings map onto the
// canonical vocabulary and anything unrecognized becomes "member":
//
//	rbac.NormalizeRoleKey(" Company_Owner ") // owner
//	rbac.NormalizeRoleKey("project_manager") // manager
//	rbac.NormalizeRoleKey("editor")          // member
//	rbac.NormalizeRoleKey("")                // member
//
// # Permission Checking
//
// Checker.HasOrgPermission is fail closed:
//
//  1. Resolve the caller's membership (through the MembershipCache).
//  2. Roles in the BypassPolicy (owner and admin by default) are allowed.
//  3. A membership without a custom role is denied.
//  4. Otherwise the role's permission rows are read and must contain the
//     exact (module, action) pair.
//
// Lookup errors deny and are returned to the caller. Permission rows are
// never cached, so a saved matrix change is visible on the next check.
//
//	checker := rbac.NewChecker(cache, store, rbac.WithMetrics(metrics))
//	if err := checker.Require(ctx, orgID, userID, rbac.ModuleCosts, rbac.ActionApprove); err != nil {
//		// *rbac.ForbiddenError carries a localized reason
//	}
//
// # Permission Matrix
//
// The matrix is an editable snapshot of role x module x action grants for
// the non-bypass roles. Cells follow a dependency rule: edit and approve
// imply view, and clearing view clears both.
//
//	m, _ := svc.Load(ctx, orgID)
//	draft := m.Clone()
//	draft.Toggle(roleID, rbac.ModuleCosts, rbac.ActionEdit) // view turns on too
//	saved, err := svc.Save(ctx, orgID, draft)
//
// Save computes the difference between the stored rows and the desired rows,
// inserts only new rows and deletes only vanished rows, then reads the rows
// back. If they do not match exactly the save fails with a
// *VerificationError; triggers or row-level security that silently drop
// writes are reported instead of trusted.
//
// # Membership Cache
//
// MembershipCache keeps memberships in an expiring LRU with an optional
// Redis tier shared across processes. Concurrent misses for one key share a
// single load. Transient store failures (dropped connections, Postgres
// connection errors) are retried with exponential backoff; other errors
// return immediately. Invalidate must be called when a membership changes.
package rbac
