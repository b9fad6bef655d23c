package rbac

import (
	"fmt"
	"sort"
)

// PermissionCell holds one role's grants on one module. Edit and Approve
// imply View.
type PermissionCell struct {
	View    bool `json:"view"`
	Edit    bool `json:"edit"`
	Approve bool `json:"approve"`
}

// Has reports whether the cell grants action
func (c PermissionCell) Has(action Action) bool {
	switch action {
	case ActionView:
		return c.View
	case ActionEdit:
		return c.Edit
	case ActionApprove:
		return c.Approve
	}
	return false
}

func (c PermissionCell) normalize(supportsApprove bool) PermissionCell {
	if !supportsApprove {
		c.Approve = false
	}
	if c.Edit || c.Approve {
		c.View = true
	}
	return c
}

// MatrixRow is one module's cells keyed by role id
type MatrixRow struct {
	Module          ModuleKey                 `json:"module"`
	Label           string                    `json:"label"`
	SupportsApprove bool                      `json:"supports_approve"`
	Cells           map[string]PermissionCell `json:"cells"`
}

// Matrix is an editable snapshot of an org's role x module x action grants.
// Bypass roles are never columns.
type Matrix struct {
	Roles []Role      `json:"roles"`
	Rows  []MatrixRow `json:"rows"`
}

// Grant is one persisted permission row
type Grant struct {
	RoleID string    `json:"role_id"`
	Module ModuleKey `json:"module_key"`
	Action Action    `json:"action"`
}

func (g Grant) String() string {
	return fmt.Sprintf("%s:%s:%s", g.RoleID, g.Module, g.Action)
}

// GrantSet is a set of permission rows
type GrantSet map[Grant]struct{}

// NewGrantSet builds a set from a slice
func NewGrantSet(grants ...Grant) GrantSet {
	s := make(GrantSet, len(grants))
	for _, g := range grants {
		s[g] = struct{}{}
	}
	return s
}

// Has reports membership
func (s GrantSet) Has(g Grant) bool {
	_, ok := s[g]
	return ok
}

// Sorted returns the grants in a stable order
func (s GrantSet) Sorted() []Grant {
	out := make([]Grant, 0, len(s))
	for g := range s {
		out = append(out, g)
	}
	sortGrants(out)
	return out
}

// Equal reports whether both sets hold exactly the same grants
func (s GrantSet) Equal(other GrantSet) bool {
	if len(s) != len(other) {
		return false
	}
	for g := range s {
		if !other.Has(g) {
			return false
		}
	}
	return true
}

func sortGrants(gs []Grant) {
	sort.Slice(gs, func(i, j int) bool {
		if gs[i].RoleID != gs[j].RoleID {
			return gs[i].RoleID < gs[j].RoleID
		}
		if gs[i].Module != gs[j].Module {
			return gs[i].Module < gs[j].Module
		}
		return gs[i].Action < gs[j].Action
	})
}

// BuildMatrix lays out every catalog module against roles. Cells are read
// from grants and normalized, so a stored edit without view shows as view+edit.
func BuildMatrix(roles []Role, grants GrantSet) *Matrix {
	m := &Matrix{
		Roles: append([]Role(nil), roles...),
		Rows:  make([]MatrixRow, 0, len(modules)),
	}
	for _, mod := range modules {
		row := MatrixRow{
			Module:          mod.Key,
			Label:           mod.Label,
			SupportsApprove: mod.SupportsApprove,
			Cells:           make(map[string]PermissionCell, len(roles)),
		}
		for _, r := range roles {
			cell := PermissionCell{
				View:    grants.Has(Grant{RoleID: r.ID, Module: mod.Key, Action: ActionView}),
				Edit:    grants.Has(Grant{RoleID: r.ID, Module: mod.Key, Action: ActionEdit}),
				Approve: grants.Has(Grant{RoleID: r.ID, Module: mod.Key, Action: ActionApprove}),
			}
			row.Cells[r.ID] = cell.normalize(mod.SupportsApprove)
		}
		m.Rows = append(m.Rows, row)
	}
	return m
}

// Clone returns a deep copy for client-side editing
func (m *Matrix) Clone() *Matrix {
	if m == nil {
		return nil
	}
	out := &Matrix{
		Roles: append([]Role(nil), m.Roles...),
		Rows:  make([]MatrixRow, len(m.Rows)),
	}
	for i, row := range m.Rows {
		cells := make(map[string]PermissionCell, len(row.Cells))
		for k, v := range row.Cells {
			cells[k] = v
		}
		row.Cells = cells
		out.Rows[i] = row
	}
	return out
}

func (m *Matrix) row(module ModuleKey) *MatrixRow {
	for i := range m.Rows {
		if m.Rows[i].Module == module {
			return &m.Rows[i]
		}
	}
	return nil
}

func (m *Matrix) hasRole(roleID string) bool {
	for _, r := range m.Roles {
		if r.ID == roleID {
			return true
		}
	}
	return false
}

// Cell returns the cell for roleID on module
func (m *Matrix) Cell(roleID string, module ModuleKey) (PermissionCell, bool) {
	row := m.row(module)
	if row == nil || !m.hasRole(roleID) {
		return PermissionCell{}, false
	}
	return row.Cells[roleID], true
}

// Toggle flips one action for roleID on module, keeping the dependency rule:
// turning view off clears edit and approve; turning edit or approve on sets
// view.
func (m *Matrix) Toggle(roleID string, module ModuleKey, action Action) error {
	row := m.row(module)
	if row == nil {
		return fmt.Errorf("unknown module %q", module)
	}
	if !m.hasRole(roleID) {
		return fmt.Errorf("%w: %s", ErrUnknownRole, roleID)
	}
	if row.Cells == nil {
		row.Cells = make(map[string]PermissionCell)
	}

	cell := row.Cells[roleID]
	switch action {
	case ActionView:
		cell.View = !cell.View
		if !cell.View {
			cell.Edit = false
			cell.Approve = false
		}
	case ActionEdit:
		cell.Edit = !cell.Edit
		if cell.Edit {
			cell.View = true
		}
	case ActionApprove:
		if !row.SupportsApprove {
			return fmt.Errorf("%w: %s", ErrApproveUnsupported, module)
		}
		cell.Approve = !cell.Approve
		if cell.Approve {
			cell.View = true
		}
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	row.Cells[roleID] = cell
	return nil
}

// Validate rejects rows for modules outside the catalog, repeated rows and
// cells keyed by a role that is not one of the matrix's columns.
func (m *Matrix) Validate() error {
	seen := make(map[ModuleKey]bool, len(m.Rows))
	for _, row := range m.Rows {
		if _, ok := LookupModule(row.Module); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownModule, row.Module)
		}
		if seen[row.Module] {
			return fmt.Errorf("%w: %q appears twice", ErrUnknownModule, row.Module)
		}
		seen[row.Module] = true
		for roleID := range row.Cells {
			if !m.hasRole(roleID) {
				return fmt.Errorf("%w: %s has a cell on %s but is not a matrix role", ErrUnknownRole, roleID, row.Module)
			}
		}
	}
	return nil
}

// Grants flattens the matrix into permission rows. Cells are normalized
// first so the result always satisfies the dependency rule. Rows Validate
// would reject contribute nothing.
func (m *Matrix) Grants() GrantSet {
	out := make(GrantSet)
	for _, row := range m.Rows {
		mod, ok := LookupModule(row.Module)
		if !ok {
			continue
		}
		for _, r := range m.Roles {
			cell := row.Cells[r.ID].normalize(mod.SupportsApprove)
			for _, a := range Actions {
				if cell.Has(a) {
					out[Grant{RoleID: r.ID, Module: row.Module, Action: a}] = struct{}{}
				}
			}
		}
	}
	return out
}

// DiffGrants returns the rows to insert and to delete to turn current into
// next. Both slices are sorted.
func DiffGrants(current, next GrantSet) (added, removed []Grant) {
	for g := range next {
		if !current.Has(g) {
			added = append(added, g)
		}
	}
	for g := range current {
		if !next.Has(g) {
			removed = append(removed, g)
		}
	}
	sortGrants(added)
	sortGrants(removed)
	return added, removed
}
