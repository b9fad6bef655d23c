// Package authz combines the plan-limit guard and the RBAC checker into a
// single decision per operation.
//
// The plan check runs first, so an org out of headroom is told so even when
// the acting user also lacks the permission. Authorize never allows on an
// error: a failed limits or membership lookup is returned to the caller.
package authz
