// Package httpapi is the sitework HTTP surface.
//
// Every /v1 route requires an HMAC-signed bearer token whose subject is the
// user id. Org-scoped routes live under /v1/orgs/{org_id}:
//
//	GET  /permissions/check?module=costs&action=edit
//	GET  /permissions/matrix
//	PUT  /permissions/matrix
//	GET  /limits
//	GET  /approvals/{entity_type}/{entity_id}
//	POST /approvals/{entity_type}/{entity_id}/{action}
//	POST /uploads
//	POST /downloads
//	GET  /audit?actor_id=&entity_type=&entity_id=&event_type=&start_time=&end_time=&limit=&offset=
//
// POST /v1/session/invalidate drops the caller's cached memberships.
//
// Errors use httputil.ErrorResponse. Plan-limit denials are 402 with code
// plan_limit, permission denials 403 forbidden; reasons honour
// Accept-Language.
package httpapi
