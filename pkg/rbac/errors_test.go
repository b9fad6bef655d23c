package rbac

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"not found", ErrMembershipNotFound, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), false},
		{"marked", &TransientError{Err: errors.New("flaky")}, true},
		{"bad conn", fmt.Errorf("query: %w", driver.ErrBadConn), true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"net op", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, true},
		{"pq connection", &pq.Error{Code: "08006"}, true},
		{"pq serialization", fmt.Errorf("tx: %w", &pq.Error{Code: "40001"}), true},
		{"pq admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"pq unique violation", &pq.Error{Code: "23505"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestVerificationError(t *testing.T) {
	err := &VerificationError{
		OrgID:   "org-1",
		Missing: []Grant{{RoleID: "r1", Module: ModuleCosts, Action: ActionView}},
	}
	assert.ErrorIs(t, err, ErrVerificationFailed)
	assert.Contains(t, err.Error(), "1 missing")
	assert.Contains(t, err.Error(), "-r1:costs:view")
}

func TestNewTierError(t *testing.T) {
	err := NewTierError(language.English, "approve", RoleMember, true)
	assert.True(t, IsForbidden(err))
	assert.Equal(t, "Only owners and admins can approve approval requests.", err.Reason)

	err = NewTierError(language.Indonesian, "submit", RoleViewer, false)
	assert.Contains(t, err.Reason, "submit")
	assert.Contains(t, err.Reason, "Hanya pemilik")
}
