// Package plans implements the plan-limit guard for Sitework organizations.
//
// # Overview
//
// Every organization is on a subscription plan (starter, pro, enterprise).
// A plan defines ceilings for members, active projects, storage, uploads,
// downloads and exports, plus capability flags for approval workflows and
// support. Organizations may carry per-org overrides that merge on top of
// the plan's base limits.
//
// The guard functions answer one question: would the next increment push a
// usage counter past its limit? They never mutate usage and never fail.
//
// # Plan Tiers
//
// Starter:
//   - 5 members, 3 active projects
//   - 1 GB storage, 200 MB uploads/day, 25 MB per file
//   - 5 GB downloads/month, 10 exports/day
//   - No approval workflows
//
// Pro:
//   - 25 members, 25 active projects
//   - 20 GB storage, 2 GB uploads/day, 100 MB per file
//   - 50 GB downloads/month, 100 exports/day
//   - Multi-step approvals, priority support
//
// Enterprise:
//   - Unlimited everything except a 1 GB per-file ceiling
//   - Multi-step approvals, SLA support
//
// # Usage Example
//
//	limits, _ := store.GetPlanLimits(ctx, orgID)
//	usage, _ := store.GetOrgUsage(ctx, orgID)
//
//	if d := plans.CanInviteMember(limits, usage, 1); !d.Allowed {
//		return d.Err() // *plans.LimitError carrying the localized reason
//	}
//
// # Periods
//
// Daily counters (uploads, exports) carry a DayKey and monthly counters
// (downloads) carry a MonthKey. The guard only compares a counter whose key
// matches the current period; a stale reading counts as zero.
//
// # Related Packages
//
//   - pkg/rbac: role and permission checks that run after the plan guard
//   - pkg/authz: combines both into a single gate
package plans
