package rbac

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

const (
	msgNotPermitted  = "Your role (%s) does not allow %s on %s. Ask an organization admin for access."
	msgNotMember     = "You are not a member of this organization."
	msgNoCustomRole  = "Your role (%s) has no permissions assigned. Ask an organization admin for access."
	msgEditorTier    = "Only owners, admins, managers and members can %s approval requests."
	msgAdminTier     = "Only owners and admins can %s approval requests."
	msgUnknownTarget = "Unknown permission %s on %s."
)

var indonesian = map[string]string{
	msgNotPermitted:  "Peran Anda (%s) tidak mengizinkan %s pada %s. Minta akses kepada admin organisasi.",
	msgNotMember:     "Anda bukan anggota organisasi ini.",
	msgNoCustomRole:  "Peran Anda (%s) belum memiliki izin. Minta akses kepada admin organisasi.",
	msgEditorTier:    "Hanya pemilik, admin, manajer, dan anggota yang dapat %s permintaan persetujuan.",
	msgAdminTier:     "Hanya pemilik dan admin yang dapat %s permintaan persetujuan.",
	msgUnknownTarget: "Izin %s pada %s tidak dikenal.",
}

var denials = func() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, id := range indonesian {
		if err := b.SetString(language.English, key, key); err != nil {
			panic(err)
		}
		if err := b.SetString(language.Indonesian, key, id); err != nil {
			panic(err)
		}
	}
	return b
}()

func printer(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag, message.Catalog(denials))
}

func label(module ModuleKey) string {
	if m, ok := LookupModule(module); ok {
		return m.Label
	}
	return string(module)
}

// NewForbiddenError builds a denial for role attempting action on module.
// An empty role means the user is not a member.
func NewForbiddenError(tag language.Tag, module ModuleKey, action Action, role RoleKey) *ForbiddenError {
	p := printer(tag)
	var reason string
	switch {
	case role == "":
		reason = p.Sprintf(msgNotMember)
	case !action.Valid():
		reason = p.Sprintf(msgUnknownTarget, action, module)
	default:
		if _, ok := LookupModule(module); !ok {
			reason = p.Sprintf(msgUnknownTarget, action, module)
		} else {
			reason = p.Sprintf(msgNotPermitted, role, action, label(module))
		}
	}
	return &ForbiddenError{Module: module, Action: action, Role: role, Reason: reason}
}

// NewTierError builds the denial used by the approval workflow when the
// caller's role is outside the tier an action requires. verb is the
// workflow action, e.g. "approve".
func NewTierError(tag language.Tag, verb string, role RoleKey, adminOnly bool) *ForbiddenError {
	msg := msgEditorTier
	action := ActionEdit
	if adminOnly {
		msg = msgAdminTier
		action = ActionApprove
	}
	return &ForbiddenError{
		Module: ModuleApprovals,
		Action: action,
		Role:   role,
		Reason: printer(tag).Sprintf(msg, verb),
	}
}
