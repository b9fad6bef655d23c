package httpapi

import (
	"context"
	"net/http"

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

// PermissionChecker answers permission questions. *rbac.Checker satisfies it.
type PermissionChecker interface {
	HasOrgPermission(ctx context.Context, orgID, userID string, module rbac.ModuleKey, action rbac.Action) (bool, error)
	Require(ctx context.Context, orgID, userID string, module rbac.ModuleKey, action rbac.Action) error
}

// MatrixEditor loads and saves permission matrices. *rbac.MatrixService
// satisfies it.
type MatrixEditor interface {
	Load(ctx context.Context, orgID string) (*rbac.Matrix, error)
	Save(ctx context.Context, orgID string, next *rbac.Matrix) (*rbac.Matrix, error)
}

// ApprovalWorkflow runs approval actions. *approvals.Service satisfies it.
type ApprovalWorkflow interface {
	Perform(ctx context.Context, cmd approvals.Command) (*approvals.Request, error)
	Get(ctx context.Context, orgID, entityType, entityID string) (*approvals.Request, error)
	History(ctx context.Context, orgID, entityType, entityID string) ([]*audit.AuditEvent, error)
}

// LimitsReader reports an org's plan limits and current usage.
// *authz.Gate satisfies it.
type LimitsReader interface {
	Snapshot(ctx context.Context, orgID string) (plans.PlanLimits, plans.OrgUsage, error)
}

// FileBroker issues presigned object URLs. *uploads.Broker satisfies it.
type FileBroker interface {
	PresignUpload(ctx context.Context, req uploads.UploadRequest) (*uploads.PresignedURL, error)
	PresignDownload(ctx context.Context, req uploads.DownloadRequest) (*uploads.PresignedURL, error)
}

// AuditSearcher filters an org's audit log. *audit.DBLogger satisfies it.
type AuditSearcher interface {
	Search(ctx context.Context, filter audit.SearchFilter) ([]*audit.AuditEvent, error)
}

// SessionCache drops cached memberships. *rbac.MembershipCache satisfies it.
type SessionCache interface {
	Invalidate(ctx context.Context, userID string) error
}

// Services are the handlers' dependencies. Files and Audit may be nil; their
// routes are then not registered.
type Services struct {
	Permissions PermissionChecker
	Matrix      MatrixEditor
	Approvals   ApprovalWorkflow
	Limits      LimitsReader
	Files       FileBroker
	Sessions    SessionCache
	Audit       AuditSearcher
}

const defaultMaxBodyBytes = 1 << 20

// Server is the sitework HTTP API
type Server struct {
	router   *mux.Router
	handler  http.Handler
	svc      Services
	auth     *Authenticator
	logger   *observability.Logger
	metrics  *observability.Metrics
	maxBytes int64
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the base request logger
func WithLogger(l *observability.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics enables per-route request metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMaxBodyBytes limits request bodies. Zero or less keeps the default.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// NewServer creates a new API server
func NewServer(svc Services, auth *Authenticator, opts ...Option) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		svc:      svc,
		auth:     auth,
		logger:   observability.Discard(),
		maxBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware(s.logger),
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
		LocaleMiddleware,
		httputil.MaxBytesMiddleware(s.maxBytes),
		httputil.ContentTypeMiddleware,
	)(s.router)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "route not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorCode(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	v1 := s.router.PathPrefix("/v1").Subrouter()
	if s.metrics != nil {
		v1.Use(observability.HTTPMetricsMiddleware(s.metrics, routeTemplate))
	}
	v1.Use(s.auth.Middleware)

	v1.HandleFunc("/session/invalidate", s.invalidateSession).Methods(http.MethodPost)

	orgs := v1.PathPrefix("/orgs/{org_id}").Subrouter()
	orgs.Use(orgContext)

	// Permissions
	orgs.HandleFunc("/permissions/check", s.checkPermission).Methods(http.MethodGet)
	orgs.HandleFunc("/permissions/matrix", s.getMatrix).Methods(http.MethodGet)
	orgs.HandleFunc("/permissions/matrix", s.saveMatrix).Methods(http.MethodPut)

	// Plan limits
	orgs.HandleFunc("/limits", s.getLimits).Methods(http.MethodGet)

	// Approvals
	orgs.HandleFunc("/approvals/{entity_type}/{entity_id}", s.getApproval).Methods(http.MethodGet)
	orgs.HandleFunc("/approvals/{entity_type}/{entity_id}/{action}", s.performApproval).Methods(http.MethodPost)

	// Files
	if s.svc.Files != nil {
		orgs.HandleFunc("/uploads", s.presignUpload).Methods(http.MethodPost)
		orgs.HandleFunc("/downloads", s.presignDownload).Methods(http.MethodPost)
	}

	// Audit log
	if s.svc.Audit != nil {
		orgs.HandleFunc("/audit", s.searchAudit).Methods(http.MethodGet)
	}
}

// Handler returns the fully wrapped API handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// routeTemplate labels metrics with the matched route pattern so ids in
// the path do not create new series
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// orgContext copies the org id path variable into the request context for
// logging and audit
func orgContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := httputil.ParsePathStringOrError(w, r, "org_id")
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(contextkeys.WithOrgID(r.Context(), orgID)))
	})
}
