package rbac

import (
	"fmt"
	"strings"
)

// RoleKey is a canonical role identifier
type RoleKey string

const (
	RoleOwner   RoleKey = "owner"
	RoleAdmin   RoleKey = "admin"
	RoleManager RoleKey = "manager"
	RoleMember  RoleKey = "member"
	RoleViewer  RoleKey = "viewer"
)

// DefaultRole is assigned to unrecognized or empty role keys
const DefaultRole = RoleMember

var roleAliases = map[string]RoleKey{
	"owner":           RoleOwner,
	"company_owner":   RoleOwner,
	"admin":           RoleAdmin,
	"manager":         RoleManager,
	"project_manager": RoleManager,
	"member":          RoleMember,
	"editor":          RoleMember,
	"viewer":          RoleViewer,
}

// NormalizeRoleKey maps legacy and alternate spellings onto the canonical
// vocabulary. Matching ignores case and surrounding whitespace; anything
// unrecognized becomes DefaultRole.
func NormalizeRoleKey(value string) RoleKey {
	if key, ok := roleAliases[strings.ToLower(strings.TrimSpace(value))]; ok {
		return key
	}
	return DefaultRole
}

// IsCanonicalRole reports whether value is already a canonical key
func IsCanonicalRole(value string) bool {
	switch RoleKey(value) {
	case RoleOwner, RoleAdmin, RoleManager, RoleMember, RoleViewer:
		return true
	}
	return false
}

// Role is an organization role. Key is canonical after normalization.
type Role struct {
	ID   string  `json:"id"`
	Key  RoleKey `json:"key"`
	Name string  `json:"name"`
}

// BypassPolicy is the set of roles that are implicitly all-permitted and
// never represented in the permission matrix.
type BypassPolicy struct {
	roles map[RoleKey]struct{}
}

// DefaultBypassPolicy returns the owner+admin policy
func DefaultBypassPolicy() BypassPolicy {
	p, _ := NewBypassPolicy([]string{string(RoleOwner), string(RoleAdmin)})
	return p
}

// NewBypassPolicy builds a policy from canonical role keys. Aliases are
// rejected so configuration cannot widen the bypass set by accident.
func NewBypassPolicy(keys []string) (BypassPolicy, error) {
	p := BypassPolicy{roles: make(map[RoleKey]struct{}, len(keys))}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if !IsCanonicalRole(k) {
			return BypassPolicy{}, fmt.Errorf("bypass role %q is not a canonical role key", k)
		}
		p.roles[RoleKey(k)] = struct{}{}
	}
	return p, nil
}

// Bypasses reports whether the normalized role skips the matrix
func (p BypassPolicy) Bypasses(role RoleKey) bool {
	_, ok := p.roles[role]
	return ok
}

// Roles returns the bypass roles
func (p BypassPolicy) Roles() []RoleKey {
	out := make([]RoleKey, 0, len(p.roles))
	for _, k := range []RoleKey{RoleOwner, RoleAdmin, RoleManager, RoleMember, RoleViewer} {
		if p.Bypasses(k) {
			out = append(out, k)
		}
	}
	return out
}
