package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/sitework/pkg/approvals"
	"github.com/platinummonkey/sitework/pkg/audit"
	"github.com/platinummonkey/sitework/pkg/contextkeys"
	"github.com/platinummonkey/sitework/pkg/httputil"
	"github.com/platinummonkey/sitework/pkg/observability"
	"github.com/platinummonkey/sitework/pkg/plans"
	"github.com/platinummonkey/sitework/pkg/rbac"
	"github.com/platinummonkey/sitework/pkg/uploads"
)

// PermissionCheckResponse is the body of GET .../permissions/check
type PermissionCheckResponse struct {
	OrgID   string         `json:"org_id"`
	Module  rbac.ModuleKey `json:"module"`
	Action  rbac.Action    `json:"action"`
	Allowed bool           `json:"allowed"`
}

// ApprovalResponse is a request with its audit trail
type ApprovalResponse struct {
	Request *approvals.Request  `json:"request"`
	History []*audit.AuditEvent `json:"history"`
}

// LimitsResponse is an org's plan limits and usage in the current period
type LimitsResponse struct {
	Limits plans.PlanLimits `json:"limits"`
	Usage  plans.OrgUsage   `json:"usage"`
}

// AuditResponse is one page of an org's audit log, newest first
type AuditResponse struct {
	Events []*audit.AuditEvent `json:"events"`
	Count  int                 `json:"count"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

const (
	defaultAuditPage = 100
	maxAuditPage     = 1000
)

type approvalBody struct {
	Note string `json:"note"`
}

type uploadBody struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

type downloadBody struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
}

type invalidateBody struct {
	Reason string `json:"reason"`
}

// session invalidation reasons
var invalidateReasons = map[string]bool{
	"":            true,
	"role_switch": true,
	"org_switch":  true,
	"logout":      true,
}

// parseOptionalJSON decodes a body when one was sent
func parseOptionalJSON(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return httputil.ParseJSONOrError(w, r, dest)
}

func (s *Server) checkPermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := contextkeys.GetOrgID(ctx)

	module, ok := httputil.RequireQuery(w, r, "module")
	if !ok {
		return
	}
	action, ok := httputil.RequireQuery(w, r, "action")
	if !ok {
		return
	}

	allowed, err := s.svc.Permissions.HasOrgPermission(ctx, orgID, contextkeys.GetUserID(ctx), rbac.ModuleKey(module), rbac.Action(action))
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, PermissionCheckResponse{
		OrgID:   orgID,
		Module:  rbac.ModuleKey(module),
		Action:  rbac.Action(action),
		Allowed: allowed,
	})
}

func (s *Server) getMatrix(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := contextkeys.GetOrgID(ctx)

	if err := s.svc.Permissions.Require(ctx, orgID, contextkeys.GetUserID(ctx), rbac.ModuleSettings, rbac.ActionView); err != nil {
		writeError(w, r, err)
		return
	}

	matrix, err := s.svc.Matrix.Load(ctx, orgID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, matrix)
}

func (s *Server) saveMatrix(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := contextkeys.GetOrgID(ctx)

	if err := s.svc.Permissions.Require(ctx, orgID, contextkeys.GetUserID(ctx), rbac.ModuleSettings, rbac.ActionEdit); err != nil {
		writeError(w, r, err)
		return
	}

	var next rbac.Matrix
	if !httputil.ParseJSONOrError(w, r, &next) {
		return
	}

	saved, err := s.svc.Matrix.Save(ctx, orgID, &next)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, saved)
}

func (s *Server) getLimits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := contextkeys.GetOrgID(ctx)

	if err := s.svc.Permissions.Require(ctx, orgID, contextkeys.GetUserID(ctx), rbac.ModuleBilling, rbac.ActionView); err != nil {
		writeError(w, r, err)
		return
	}

	limits, usage, err := s.svc.Limits.Snapshot(ctx, orgID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, LimitsResponse{Limits: limits, Usage: usage})
}

func (s *Server) getApproval(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := contextkeys.GetOrgID(ctx)
	vars := mux.Vars(r)

	if err := s.svc.Permissions.Require(ctx, orgID, contextkeys.GetUserID(ctx), rbac.ModuleApprovals, rbac.ActionView); err != nil {
		writeError(w, r, err)
		return
	}

	req, err := s.svc.Approvals.Get(ctx, orgID, vars["entity_type"], vars["entity_id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	history, err := s.svc.Approvals.History(ctx, orgID, vars["entity_type"], vars["entity_id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if history == nil {
		history = []*audit.AuditEvent{}
	}

	httputil.WriteSuccess(w, ApprovalResponse{Request: req, History: history})
}

func (s *Server) performApproval(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	var body approvalBody
	if !parseOptionalJSON(w, r, &body) {
		return
	}

	req, err := s.svc.Approvals.Perform(ctx, approvals.Command{
		OrgID:      contextkeys.GetOrgID(ctx),
		EntityType: vars["entity_type"],
		EntityID:   vars["entity_id"],
		ActorID:    contextkeys.GetUserID(ctx),
		Action:     approvals.Action(vars["action"]),
		Note:       body.Note,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, req)
}

func (s *Server) presignUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body uploadBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	url, err := s.svc.Files.PresignUpload(ctx, uploads.UploadRequest{
		OrgID:       contextkeys.GetOrgID(ctx),
		UserID:      contextkeys.GetUserID(ctx),
		FileName:    body.FileName,
		ContentType: body.ContentType,
		SizeBytes:   body.SizeBytes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, url)
}

func (s *Server) presignDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body downloadBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	url, err := s.svc.Files.PresignDownload(ctx, uploads.DownloadRequest{
		OrgID:     contextkeys.GetOrgID(ctx),
		UserID:    contextkeys.GetUserID(ctx),
		Key:       body.Key,
		SizeBytes: body.SizeBytes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, url)
}

// invalidateSession drops the caller's cached memberships. Clients call it
// on role switch, org switch and logout.
func (s *Server) invalidateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body invalidateBody
	if !parseOptionalJSON(w, r, &body) {
		return
	}
	if !invalidateReasons[body.Reason] {
		httputil.WriteBadRequest(w, "reason must be one of role_switch, org_switch, logout")
		return
	}

	if err := s.svc.Sessions.Invalidate(ctx, contextkeys.GetUserID(ctx)); err != nil {
		writeError(w, r, err)
		return
	}
	observability.FromContext(ctx).WithField("reason", body.Reason).Info("membership cache invalidated")
	httputil.WriteNoContent(w)
}

func (s *Server) searchAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := contextkeys.GetOrgID(ctx)

	if err := s.svc.Permissions.Require(ctx, orgID, contextkeys.GetUserID(ctx), rbac.ModuleSettings, rbac.ActionView); err != nil {
		writeError(w, r, err)
		return
	}

	filter, err := parseAuditFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter.OrgID = orgID

	events, err := s.svc.Audit.Search(ctx, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if events == nil {
		events = []*audit.AuditEvent{}
	}

	httputil.WriteSuccess(w, AuditResponse{
		Events: events,
		Count:  len(events),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

func parseAuditFilter(r *http.Request) (audit.SearchFilter, error) {
	q := r.URL.Query()
	filter := audit.SearchFilter{
		ActorID:    q.Get("actor_id"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}
	for _, et := range q["event_type"] {
		filter.EventTypes = append(filter.EventTypes, audit.EventType(et))
	}

	for key, dest := range map[string]**time.Time{"start_time": &filter.StartTime, "end_time": &filter.EndTime} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("%s must be an RFC 3339 timestamp", key)
		}
		*dest = &t
	}

	var err error
	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", defaultAuditPage); err != nil {
		return filter, err
	}
	if filter.Limit <= 0 || filter.Limit > maxAuditPage {
		return filter, fmt.Errorf("limit must be between 1 and %d", maxAuditPage)
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return filter, err
	}
	if filter.Offset < 0 {
		return filter, fmt.Errorf("offset must not be negative")
	}
	return filter, nil
}
