package rbac

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"syscall"

	"github.com/lib/pq"
)

var (
	// ErrForbidden is matched by every *ForbiddenError
	ErrForbidden = errors.New("forbidden")

	// ErrVerificationFailed is matched by every *VerificationError
	ErrVerificationFailed = errors.New("permission matrix verification failed")

	// ErrMembershipNotFound means the user has no membership in the org
	ErrMembershipNotFound = errors.New("membership not found")

	// ErrUnknownRole means a matrix referenced a role outside the org's editable set
	ErrUnknownRole = errors.New("unknown role")

	// ErrUnknownModule means a matrix row named a module outside the catalog
	ErrUnknownModule = errors.New("unknown module")

	// ErrApproveUnsupported means approve was toggled on a module without approvals
	ErrApproveUnsupported = errors.New("module does not support approve")
)

// ForbiddenError is a permission denial. Reason is localized and safe to
// show to the user.
type ForbiddenError struct {
	Module ModuleKey
	Action Action
	Role   RoleKey
	Reason string
}

func (e *ForbiddenError) Error() string {
	return e.Reason
}

// Is makes errors.Is(err, ErrForbidden) work
func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

// IsForbidden reports whether err is a permission denial
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// VerificationError reports a save whose persisted rows diverged from the
// intended set. The caller must reload before retrying.
type VerificationError struct {
	OrgID      string
	Missing    []Grant
	Unexpected []Grant
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("permission matrix for org %s did not persist as intended: %d missing, %d unexpected (%s)",
		e.OrgID, len(e.Missing), len(e.Unexpected), summarize(e.Missing, e.Unexpected))
}

func (e *VerificationError) Is(target error) bool {
	return target == ErrVerificationFailed
}

func summarize(missing, unexpected []Grant) string {
	parts := make([]string, 0, len(missing)+len(unexpected))
	for _, g := range missing {
		parts = append(parts, "-"+g.String())
	}
	for _, g := range unexpected {
		parts = append(parts, "+"+g.String())
	}
	sort.Strings(parts)
	if len(parts) > 5 {
		parts = append(parts[:5], "...")
	}
	return strings.Join(parts, " ")
}

// TransientError marks a failure worth retrying
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient classifies infrastructure failures that may succeed on retry:
// network errors, dropped connections and Postgres connection/serialization
// errors. Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "08": // connection_exception
			return true
		case pqErr.Code == "40001", pqErr.Code == "40P01": // serialization_failure, deadlock_detected
			return true
		case pqErr.Code == "57P01", pqErr.Code == "57P03": // admin_shutdown, cannot_connect_now
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
