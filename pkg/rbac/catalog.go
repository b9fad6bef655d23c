package rbac

// ModuleKey identifies a permission-controlled area of the product
type ModuleKey string

const (
	ModuleProjects  ModuleKey = "projects"
	ModuleMaterials ModuleKey = "materials"
	ModuleCosts     ModuleKey = "costs"
	ModuleApprovals ModuleKey = "approvals"
	ModuleBilling   ModuleKey = "billing"
	ModuleMembers   ModuleKey = "members"
	ModuleReports   ModuleKey = "reports"
	ModuleFiles     ModuleKey = "files"
	ModuleSettings  ModuleKey = "settings"
)

// Action is a permitted operation on a module
type Action string

const (
	ActionView    Action = "view"
	ActionEdit    Action = "edit"
	ActionApprove Action = "approve"
)

// Actions lists the actions in matrix column order
var Actions = []Action{ActionView, ActionEdit, ActionApprove}

// Valid reports whether a is one of view, edit, approve
func (a Action) Valid() bool {
	switch a {
	case ActionView, ActionEdit, ActionApprove:
		return true
	}
	return false
}

// Module describes one row of the permission matrix
type Module struct {
	Key             ModuleKey `json:"key"`
	Label           string    `json:"label"`
	SupportsApprove bool      `json:"supports_approve"`
}

var modules = []Module{
	{Key: ModuleProjects, Label: "Projects"},
	{Key: ModuleMaterials, Label: "Materials", SupportsApprove: true},
	{Key: ModuleCosts, Label: "Costs", SupportsApprove: true},
	{Key: ModuleApprovals, Label: "Approvals", SupportsApprove: true},
	{Key: ModuleBilling, Label: "Billing", SupportsApprove: true},
	{Key: ModuleMembers, Label: "Members"},
	{Key: ModuleReports, Label: "Reports"},
	{Key: ModuleFiles, Label: "Files"},
	{Key: ModuleSettings, Label: "Settings"},
}

var moduleIndex = func() map[ModuleKey]Module {
	idx := make(map[ModuleKey]Module, len(modules))
	for _, m := range modules {
		idx[m.Key] = m
	}
	return idx
}()

// Modules returns the fixed module catalog in display order
func Modules() []Module {
	out := make([]Module, len(modules))
	copy(out, modules)
	return out
}

// LookupModule returns the catalog entry for key
func LookupModule(key ModuleKey) (Module, bool) {
	m, ok := moduleIndex[key]
	return m, ok
}

// Permits reports whether action is meaningful on the module. Approve only
// applies to modules that support it.
func (m Module) Permits(action Action) bool {
	if action == ActionApprove {
		return m.SupportsApprove
	}
	return action.Valid()
}
