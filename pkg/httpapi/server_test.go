package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/platinummonkey/sitework/pkg/approvals"
	"github.com/platinummonkey/sitework/pkg/audit"
	"github.com/platinummonkey/sitework/pkg/contextkeys"
	"github.com/platinummonkey/sitework/pkg/httputil"
	"github.com/platinummonkey/sitework/pkg/observability"
	"github.com/platinummonkey/sitework/pkg/plans"
	"github.com/platinummonkey/sitework/pkg/rbac"
	"github.com/platinummonkey/sitework/pkg/storage"
	"github.com/platinummonkey/sitework/pkg/uploads"
)

const testSecret = "test-secret"

type fakePermissions struct {
	grants map[string]bool
	err    error
}

func (f *fakePermissions) HasOrgPermission(ctx context.Context, orgID, userID string, module rbac.ModuleKey, action rbac.Action) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.grants[string(module)+":"+string(action)], nil
}

func (f *fakePermissions) Require(ctx context.Context, orgID, userID string, module rbac.ModuleKey, action rbac.Action) error {
	allowed, err := f.HasOrgPermission(ctx, orgID, userID, module, action)
	if err != nil {
		return err
	}
	if !allowed {
		tag, ok := contextkeys.GetLocale(ctx)
		if !ok {
			tag = language.English
		}
		return rbac.NewForbiddenError(tag, module, action, rbac.RoleViewer)
	}
	return nil
}

type fakeMatrix struct {
	matrix  *rbac.Matrix
	saved   *rbac.Matrix
	saveErr error
}

func (f *fakeMatrix) Load(ctx context.Context, orgID string) (*rbac.Matrix, error) {
	return f.matrix, nil
}

func (f *fakeMatrix) Save(ctx context.Context, orgID string, next *rbac.Matrix) (*rbac.Matrix, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	f.saved = next
	return next, nil
}

type fakeApprovals struct {
	cmd     approvals.Command
	request *approvals.Request
	history []*audit.AuditEvent
	err     error
}

func (f *fakeApprovals) Perform(ctx context.Context, cmd approvals.Command) (*approvals.Request, error) {
	f.cmd = cmd
	if f.err != nil {
		return nil, f.err
	}
	return f.request, nil
}

func (f *fakeApprovals) Get(ctx context.Context, orgID, entityType, entityID string) (*approvals.Request, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.request, nil
}

func (f *fakeApprovals) History(ctx context.Context, orgID, entityType, entityID string) ([]*audit.AuditEvent, error) {
	return f.history, nil
}

type fakeLimits struct {
	limits plans.PlanLimits
	usage  plans.OrgUsage
	err    error
}

func (f *fakeLimits) Snapshot(ctx context.Context, orgID string) (plans.PlanLimits, plans.OrgUsage, error) {
	return f.limits, f.usage, f.err
}

type fakeFiles struct {
	upload   uploads.UploadRequest
	download uploads.DownloadRequest
	err      error
}

func (f *fakeFiles) PresignUpload(ctx context.Context, req uploads.UploadRequest) (*uploads.PresignedURL, error) {
	f.upload = req
	if f.err != nil {
		return nil, f.err
	}
	return &uploads.PresignedURL{URL: "https://files.example/put", Method: http.MethodPut, Key: "orgs/org-1/uploads/x/a.pdf"}, nil
}

func (f *fakeFiles) PresignDownload(ctx context.Context, req uploads.DownloadRequest) (*uploads.PresignedURL, error) {
	f.download = req
	if f.err != nil {
		return nil, f.err
	}
	return &uploads.PresignedURL{URL: "https://files.example/get", Method: http.MethodGet, Key: req.Key}, nil
}

type fakeSessions struct {
	invalidated []string
}

func (f *fakeSessions) Invalidate(ctx context.Context, userID string) error {
	f.invalidated = append(f.invalidated, userID)
	return nil
}

type fakeAudit struct {
	filter audit.SearchFilter
	events []*audit.AuditEvent
}

func (f *fakeAudit) Search(ctx context.Context, filter audit.SearchFilter) ([]*audit.AuditEvent, error) {
	f.filter = filter
	return f.events, nil
}

type fixture struct {
	perms     *fakePermissions
	matrix    *fakeMatrix
	approvals *fakeApprovals
	limits    *fakeLimits
	files     *fakeFiles
	sessions  *fakeSessions
	audit     *fakeAudit
	metrics   *observability.Metrics
	server    *Server
}

func newFixture(t *testing.T, withFiles bool) *fixture {
	t.Helper()
	f := &fixture{
		perms:     &fakePermissions{grants: map[string]bool{}},
		matrix:    &fakeMatrix{matrix: &rbac.Matrix{Roles: []rbac.Role{{ID: "role-7", Key: rbac.RoleManager, Name: "Site manager"}}}},
		approvals: &fakeApprovals{},
		limits:    &fakeLimits{},
		files:     &fakeFiles{},
		sessions:  &fakeSessions{},
		audit:     &fakeAudit{},
		metrics:   observability.NewMetrics(prometheus.NewRegistry()),
	}
	svc := Services{
		Permissions: f.perms,
		Matrix:      f.matrix,
		Approvals:   f.approvals,
		Limits:      f.limits,
		Sessions:    f.sessions,
		Audit:       f.audit,
	}
	if withFiles {
		svc.Files = f.files
	}
	f.server = NewServer(svc, NewAuthenticator(testSecret, "sitework"), WithMetrics(f.metrics))
	return f
}

func signToken(t *testing.T, secret, subject, issuer string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "user-1", "sitework", time.Now().Add(time.Hour)))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var resp httputil.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestAuthentication(t *testing.T) {
	f := newFixture(t, false)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"empty token", "Bearer "},
		{"wrong secret", "Bearer " + signToken(t, "other", "user-1", "sitework", time.Now().Add(time.Hour))},
		{"expired", "Bearer " + signToken(t, testSecret, "user-1", "sitework", time.Now().Add(-time.Minute))},
		{"wrong issuer", "Bearer " + signToken(t, testSecret, "user-1", "elsewhere", time.Now().Add(time.Hour))},
		{"no subject", "Bearer " + signToken(t, testSecret, "", "sitework", time.Now().Add(time.Hour))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/orgs/org-1/limits", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			f.server.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
			assert.Equal(t, "unauthorized", decodeError(t, w).Code)
		})
	}
}

func TestVerifyRejectsNonHMAC(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewAuthenticator(testSecret, "").Verify(signed)
	assert.Error(t, err)
}

func TestVerifyWithoutSecret(t *testing.T) {
	token := signToken(t, testSecret, "user-1", "", time.Now().Add(time.Hour))
	_, err := NewAuthenticator("", "").Verify(token)
	assert.ErrorIs(t, err, ErrAuthNotConfigured)

	subject, err := NewAuthenticator(testSecret, "").Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", subject)
}

func TestNegotiateLocale(t *testing.T) {
	tests := []struct {
		accept string
		want   language.Tag
		ok     bool
	}{
		{"id-ID,en;q=0.5", language.Indonesian, true},
		{"en-GB", language.English, true},
		{"fr-FR", language.Und, false},
		{"", language.Und, false},
	}
	for _, tt := range tests {
		t.Run(tt.accept, func(t *testing.T) {
			tag, ok := negotiateLocale(tt.accept)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, tag)
			}
		})
	}
}

func TestCheckPermission(t *testing.T) {
	f := newFixture(t, false)
	f.perms.grants["costs:edit"] = true

	w := f.do(t, http.MethodGet, "/v1/orgs/org-1/permissions/check?module=costs&action=edit", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp PermissionCheckResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Allowed)
	assert.Equal(t, "org-1", resp.OrgID)

	w = f.do(t, http.MethodGet, "/v1/orgs/org-1/permissions/check?module=costs&action=approve", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.Allowed)

	w = f.do(t, http.MethodGet, "/v1/orgs/org-1/permissions/check?module=costs", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckPermissionErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"demo backend", fmt.Errorf("failed to resolve membership: %w", storage.ErrDemoBlocked), http.StatusLocked, CodeDemoBlocked},
		{"transient", &rbac.TransientError{Err: syscall.ECONNRESET}, http.StatusServiceUnavailable, CodeRetry},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			f.perms.err = tt.err

			w := f.do(t, http.MethodGet, "/v1/orgs/org-1/permissions/check?module=costs&action=view", "")
			assert.Equal(t, tt.status, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotContains(t, resp.Error, "boom")
		})
	}
}

func TestGetMatrixForbidden(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodGet, "/v1/orgs/org-1/permissions/matrix", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, CodeForbidden, resp.Code)
	assert.NotEmpty(t, resp.Error)
}

func TestGetMatrix(t *testing.T) {
	f := newFixture(t, false)
	f.perms.grants["settings:view"] = true

	w := f.do(t, http.MethodGet, "/v1/orgs/org-1/permissions/matrix", "")
	require.Equal(t, http.StatusOK, w.Code)

	var m rbac.Matrix
	require.NoError(t, json.NewDecoder(w.Body).Decode(&m))
	require.Len(t, m.Roles, 1)
	assert.Equal(t, "role-7", m.Roles[0].ID)
}

func TestSaveMatrix(t *testing.T) {
	body := `{"roles":[{"id":"role-7","key":"manager","name":"Site manager"}],` +
		`"rows":[{"module":"costs","label":"Costs","supports_approve":true,"cells":{"role-7":{"view":true,"edit":true,"approve":false}}}]}`

	t.Run("saved", func(t *testing.T) {
		f := newFixture(t, false)
		f.perms.grants["settings:edit"] = true

		w := f.do(t, http.MethodPut, "/v1/orgs/org-1/permissions/matrix", body)
		require.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, f.matrix.saved)
		assert.True(t, f.matrix.saved.Rows[0].Cells["role-7"].Edit)
	})

	t.Run("needs settings edit", func(t *testing.T) {
		f := newFixture(t, false)
		f.perms.grants["settings:view"] = true

		w := f.do(t, http.MethodPut, "/v1/orgs/org-1/permissions/matrix", body)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Nil(t, f.matrix.saved)
	})

	t.Run("verification failure asks for reload", func(t *testing.T) {
		f := newFixture(t, false)
		f.perms.grants["settings:edit"] = true
		f.matrix.saveErr = &rbac.VerificationError{OrgID: "org-1", Missing: []rbac.Grant{{RoleID: "role-7", Module: rbac.ModuleCosts, Action: rbac.ActionEdit}}}

		w := f.do(t, http.MethodPut, "/v1/orgs/org-1/permissions/matrix", body)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, CodeReloadRequired, decodeError(t, w).Code)
	})

	t.Run("unknown role", func(t *testing.T) {
		f := newFixture(t, false)
		f.perms.grants["settings:edit"] = true
		f.matrix.saveErr = fmt.Errorf("%w: role-99", rbac.ErrUnknownRole)

		w := f.do(t, http.MethodPut, "/v1/orgs/org-1/permissions/matrix", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, CodeInvalidRequest, decodeError(t, w).Code)
	})

	t.Run("unknown module", func(t *testing.T) {
		f := newFixture(t, false)
		f.perms.grants["settings:edit"] = true
		f.matrix.saveErr = fmt.Errorf("%w: \"payroll\"", rbac.ErrUnknownModule)

		w := f.do(t, http.MethodPut, "/v1/orgs/org-1/permissions/matrix", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, CodeInvalidRequest, decodeError(t, w).Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		f := newFixture(t, false)
		f.perms.grants["settings:edit"] = true

		w := f.do(t, http.MethodPut, "/v1/orgs/org-1/permissions/matrix", `{"roles":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPerformApproval(t *testing.T) {
	f := newFixture(t, false)
	f.approvals.request = &approvals.Request{ID: "req-1", OrgID: "org-1", EntityType: "cost", EntityID: "c-9", Status: approvals.StatusSubmitted}

	w := f.do(t, http.MethodPost, "/v1/orgs/org-1/approvals/cost/c-9/submit", `{"note":"ready for review"}`)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, approvals.Command{
		OrgID:      "org-1",
		EntityType: "cost",
		EntityID:   "c-9",
		ActorID:    "user-1",
		Action:     approvals.ActionSubmit,
		Note:       "ready for review",
	}, f.approvals.cmd)

	var req approvals.Request
	require.NoError(t, json.NewDecoder(w.Body).Decode(&req))
	assert.Equal(t, approvals.StatusSubmitted, req.Status)
}

func TestPerformApprovalWithoutBody(t *testing.T) {
	f := newFixture(t, false)
	f.approvals.request = &approvals.Request{ID: "req-1", Status: approvals.StatusDraft}

	w := f.do(t, http.MethodPost, "/v1/orgs/org-1/approvals/cost/c-9/create_draft", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, approvals.ActionCreateDraft, f.approvals.cmd.Action)
	assert.Empty(t, f.approvals.cmd.Note)
}

func TestPerformApprovalErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"plan limit", plans.NewGuard(language.English).CanUseApproval(plans.DefaultCatalog().Limits(plans.PlanStarter)).Err(), http.StatusPaymentRequired, CodePlanLimit},
		{"tier", rbac.NewTierError(language.English, "approve", rbac.RoleMember, true), http.StatusForbidden, CodeForbidden},
		{"not found", approvals.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{"invalid transition", fmt.Errorf("%w: cannot approve a draft request", approvals.ErrInvalidTransition), http.StatusConflict, CodeInvalidTransition},
		{"invalid command", fmt.Errorf("%w: action must be one of ...", approvals.ErrInvalidCommand), http.StatusBadRequest, CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			f.approvals.err = tt.err

			w := f.do(t, http.MethodPost, "/v1/orgs/org-1/approvals/cost/c-9/approve", "")
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w).Code)
		})
	}
}

func TestPlanLimitDetails(t *testing.T) {
	f := newFixture(t, false)
	f.approvals.err = &plans.LimitError{Check: plans.CheckApproval, Reason: "Approval workflows are not available on your plan.", Limit: plans.Limit(0)}

	w := f.do(t, http.MethodPost, "/v1/orgs/org-1/approvals/cost/c-9/submit", "")
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	resp := decodeError(t, w)
	assert.Equal(t, "Approval workflows are not available on your plan.", resp.Error)
	assert.Equal(t, map[string]string{"check": "approval", "limit": "0"}, resp.Details)
}

func TestGetApproval(t *testing.T) {
	f := newFixture(t, false)
	f.perms.grants["approvals:view"] = true
	f.approvals.request = &approvals.Request{ID: "req-1", Status: approvals.StatusDraft}
	f.approvals.history = []*audit.AuditEvent{{ID: 1, EventType: audit.EventTypeApprovalCreateDraft, Action: "create_draft"}}

	w := f.do(t, http.MethodGet, "/v1/orgs/org-1/approvals/cost/c-9", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ApprovalResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "req-1", resp.Request.ID)
	require.Len(t, resp.History, 1)
	assert.Equal(t, "create_draft", resp.History[0].Action)
}

func TestGetLimits(t *testing.T) {
	f := newFixture(t, false)
	f.perms.grants["billing:view"] = true
	f.limits.limits = plans.DefaultCatalog().Limits(plans.PlanStarter)
	f.limits.usage = plans.OrgUsage{OrgID: "org-1", MembersCount: 2}

	w := f.do(t, http.MethodGet, "/v1/orgs/org-1/limits", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp LimitsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, plans.PlanStarter, resp.Limits.Plan)
	assert.Equal(t, int64(2), resp.Usage.MembersCount)
}

func TestFileRoutesRequireBroker(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodPost, "/v1/orgs/org-1/uploads", `{"file_name":"a.pdf","size_bytes":10}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPresignUpload(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, http.MethodPost, "/v1/orgs/org-1/uploads", `{"file_name":"a.pdf","content_type":"application/pdf","size_bytes":2048}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, uploads.UploadRequest{
		OrgID:       "org-1",
		UserID:      "user-1",
		FileName:    "a.pdf",
		ContentType: "application/pdf",
		SizeBytes:   2048,
	}, f.files.upload)

	var url uploads.PresignedURL
	require.NoError(t, json.NewDecoder(w.Body).Decode(&url))
	assert.Equal(t, http.MethodPut, url.Method)
}

func TestPresignUploadRejectsUnknownFields(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, http.MethodPost, "/v1/orgs/org-1/uploads", `{"file_name":"a.pdf","size_bytes":1,"org_id":"org-2"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.files.upload.OrgID)
}

func TestPresignDownloadForeignKey(t *testing.T) {
	f := newFixture(t, true)
	f.files.err = fmt.Errorf("%w: orgs/org-2/uploads/x/a.pdf", uploads.ErrForeignObject)

	w := f.do(t, http.MethodPost, "/v1/orgs/org-1/downloads", `{"key":"orgs/org-2/uploads/x/a.pdf","size_bytes":10}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "org-1", f.files.download.OrgID)
}

func TestInvalidateSession(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodPost, "/v1/session/invalidate", `{"reason":"role_switch"}`)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"user-1"}, f.sessions.invalidated)

	w = f.do(t, http.MethodPost, "/v1/session/invalidate", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodPost, "/v1/session/invalidate", `{"reason":"bored"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, f.sessions.invalidated, 2)
}

func TestLocalizedDenial(t *testing.T) {
	f := newFixture(t, false)

	en := decodeError(t, f.do(t, http.MethodGet, "/v1/orgs/org-1/permissions/matrix", ""))
	id := decodeError(t, f.do(t, http.MethodGet, "/v1/orgs/org-1/permissions/matrix", "", "Accept-Language", "id-ID"))

	assert.Equal(t, CodeForbidden, id.Code)
	assert.NotEqual(t, en.Error, id.Error)
}

func TestRouteMetrics(t *testing.T) {
	f := newFixture(t, false)
	f.perms.grants["billing:view"] = true

	f.do(t, http.MethodGet, "/v1/orgs/org-1/limits", "")
	f.do(t, http.MethodGet, "/v1/orgs/org-2/limits", "")

	count := testutil.ToFloat64(f.metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/orgs/{org_id}/limits", "200"))
	assert.Equal(t, float64(2), count)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeNotFound, decodeError(t, w).Code)
}

func TestRequestIDEchoed(t *testing.T) {
	f := newFixture(t, false)
	f.perms.grants["billing:view"] = true

	w := f.do(t, http.MethodGet, "/v1/orgs/org-1/limits", "", "X-Request-ID", "req-42")
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}

func TestSearchAudit(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodGet, "/v1/orgs/org-1/audit", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	f.perms.grants["settings:view"] = true
	f.audit.events = []*audit.AuditEvent{{ID: 3, OrgID: "org-1", EventType: audit.EventTypeApprovalSubmit}}

	w = f.do(t, http.MethodGet, "/v1/orgs/org-1/audit?actor_id=user-2&entity_type=cost_item&event_type=approval.submit&event_type=approval.approve&start_time=2026-03-01T00:00:00Z&limit=20&offset=40", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp AuditResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, 20, resp.Limit)
	assert.Equal(t, 40, resp.Offset)

	assert.Equal(t, "org-1", f.audit.filter.OrgID)
	assert.Equal(t, "user-2", f.audit.filter.ActorID)
	assert.Equal(t, "cost_item", f.audit.filter.EntityType)
	assert.Len(t, f.audit.filter.EventTypes, 2)
	require.NotNil(t, f.audit.filter.StartTime)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), f.audit.filter.StartTime.UTC())
	assert.Nil(t, f.audit.filter.EndTime)
}

func TestSearchAuditDefaultsAndEmpty(t *testing.T) {
	f := newFixture(t, false)
	f.perms.grants["settings:view"] = true

	w := f.do(t, http.MethodGet, "/v1/orgs/org-1/audit", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"events":[]`)
	assert.Equal(t, defaultAuditPage, f.audit.filter.Limit)
}

func TestSearchAuditBadQuery(t *testing.T) {
	f := newFixture(t, false)
	f.perms.grants["settings:view"] = true

	for _, query := range []string{"limit=0", "limit=5000", "limit=ten", "offset=-1", "end_time=yesterday"} {
		t.Run(query, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/v1/orgs/org-1/audit?"+query, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, CodeInvalidRequest, decodeError(t, w).Code)
		})
	}
}
