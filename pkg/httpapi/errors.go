package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/platinummonkey/sitework/pkg/approvals"
	"github.com/platinummonkey/sitework/pkg/authz"
	"github.com/platinummonkey/sitework/pkg/httputil"
	"github.com/platinummonkey/sitework/pkg/observability"
	"github.com/platinummonkey/sitework/pkg/plans"
	"github.com/platinummonkey/sitework/pkg/rbac"
	"github.com/platinummonkey/sitework/pkg/storage"
	"github.com/platinummonkey/sitework/pkg/uploads"
)

// Error codes returned in ErrorResponse.Code
const (
	CodePlanLimit         = "plan_limit"
	CodeForbidden         = "forbidden"
	CodeNotFound          = "not_found"
	CodeInvalidTransition = "invalid_transition"
	CodeReloadRequired    = "reload_required"
	CodeDemoBlocked       = "demo_blocked"
	CodeRetry             = "retry"
	CodeInvalidRequest    = "invalid_request"
)

// writeError maps a service error to its status and code. Denial reasons
// are already localized and are passed through; infrastructure errors are
// logged and hidden.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		limitErr     *plans.LimitError
		forbiddenErr *rbac.ForbiddenError
	)

	switch {
	case errors.As(err, &limitErr):
		details := map[string]string{"check": string(limitErr.Check)}
		if limitErr.Limit != nil {
			details["limit"] = strconv.FormatInt(*limitErr.Limit, 10)
		}
		httputil.WriteDetailedError(w, http.StatusPaymentRequired, CodePlanLimit, limitErr.Error(), details)

	case errors.As(err, &forbiddenErr):
		httputil.WriteErrorCode(w, http.StatusForbidden, CodeForbidden, forbiddenErr.Reason)

	case errors.Is(err, approvals.ErrNotFound), errors.Is(err, uploads.ErrForeignObject):
		httputil.WriteNotFound(w, err.Error())

	case errors.Is(err, approvals.ErrInvalidTransition):
		httputil.WriteErrorCode(w, http.StatusConflict, CodeInvalidTransition, err.Error())

	case errors.Is(err, rbac.ErrVerificationFailed):
		observability.FromContext(r.Context()).WithError(err).Error("permission matrix save did not verify")
		httputil.WriteErrorCode(w, http.StatusConflict, CodeReloadRequired,
			"the permission matrix changed while saving; reload and try again")

	case errors.Is(err, storage.ErrDemoBlocked):
		httputil.WriteErrorCode(w, http.StatusLocked, CodeDemoBlocked, err.Error())

	case errors.Is(err, approvals.ErrInvalidCommand),
		errors.Is(err, uploads.ErrInvalidRequest),
		errors.Is(err, authz.ErrUnknownOperation),
		errors.Is(err, rbac.ErrUnknownRole),
		errors.Is(err, rbac.ErrUnknownModule),
		errors.Is(err, rbac.ErrApproveUnsupported):
		httputil.WriteBadRequest(w, err.Error())

	case rbac.IsTransient(err):
		observability.FromContext(r.Context()).WithError(err).Warn("request failed on a transient error")
		w.Header().Set("Retry-After", "1")
		httputil.WriteErrorCode(w, http.StatusServiceUnavailable, CodeRetry, "temporarily unavailable, retry shortly")

	default:
		observability.FromContext(r.Context()).WithError(err).Error("request failed")
		httputil.WriteInternalError(w)
	}
}
