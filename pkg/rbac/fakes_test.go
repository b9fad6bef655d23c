package rbac

import (
	"context"
	"sync"

	"github.com/platinummonkey/sitework/pkg/audit"
)

type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (r *recordingAudit) Log(ctx context.Context, event *audit.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAudit) Close() error { return nil }

func (r *recordingAudit) Events() []*audit.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*audit.AuditEvent(nil), r.events...)
}

// fakeMembers serves memberships from a map and counts lookups
type fakeMembers struct {
	mu      sync.Mutex
	members map[cacheKey]*Membership
	errs    []error // returned in order before falling back to the map
	calls   int
	blockOn chan struct{}
}

func newFakeMembers(ms ...*Membership) *fakeMembers {
	f := &fakeMembers{members: make(map[cacheKey]*Membership)}
	for _, m := range ms {
		f.members[cacheKey{UserID: m.UserID, OrgID: m.OrgID}] = m
	}
	return f
}

func (f *fakeMembers) GetMembership(ctx context.Context, orgID, userID string) (*Membership, error) {
	if f.blockOn != nil {
		<-f.blockOn
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	m, ok := f.members[cacheKey{UserID: userID, OrgID: orgID}]
	if !ok {
		return nil, ErrMembershipNotFound
	}
	return m.clone(), nil
}

func (f *fakeMembers) set(m *Membership) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[cacheKey{UserID: m.UserID, OrgID: m.OrgID}] = m
}

func (f *fakeMembers) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// directLookup skips caching
type directLookup struct {
	store MembershipStore
}

func (d directLookup) Get(ctx context.Context, orgID, userID string, force bool) (*Membership, error) {
	return d.store.GetMembership(ctx, orgID, userID)
}

type fakeRows struct {
	rows  map[string][]Grant
	err   error
	calls int
}

func (f *fakeRows) ListPermissionRows(ctx context.Context, roleID string) ([]Grant, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[roleID], nil
}

func strPtr(s string) *string { return &s }
