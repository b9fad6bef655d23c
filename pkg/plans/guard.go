package plans

import (
	"math"

	"golang.org/x/text/language"
)

// Guard evaluates plan limits and renders denial reasons in one locale.
// Checks are pure: usage is taken as given, so callers normalize it to the
// current period (OrgUsage.ForPeriod) when they read it.
type Guard struct {
	locale language.Tag
}

// NewGuard creates a guard rendering reasons in locale
func NewGuard(locale language.Tag) *Guard {
	return &Guard{locale: locale}
}

// Locale returns the guard's reason locale
func (g *Guard) Locale() language.Tag {
	return g.locale
}

var defaultGuard = NewGuard(language.English)

// sanitize coerces NaN, infinities and negatives to zero
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func atLeastOne(n int) int64 {
	if n < 1 {
		return 1
	}
	return int64(n)
}

func (g *Guard) deny(check Check, limit *int64, key string) Decision {
	p := newPrinter(g.locale)
	var reason string
	if limit != nil {
		reason = p.Sprintf(key, *limit)
	} else {
		reason = p.Sprintf(key)
	}
	return Decision{Allowed: false, Reason: reason, Check: check, Limit: cloneLimit(limit)}
}

// exceeds reports whether current+amount would pass limit
func exceeds(limit *int64, current, amount float64) bool {
	if limit == nil {
		return false
	}
	return sanitize(current)+sanitize(amount) > float64(*limit)
}

// CanInviteMember checks the member ceiling. Values below one invite one.
func (g *Guard) CanInviteMember(limits PlanLimits, usage OrgUsage, membersToInvite int) Decision {
	if exceeds(limits.MaxMembers, float64(usage.MembersCount), float64(atLeastOne(membersToInvite))) {
		return g.deny(CheckInviteMember, limits.MaxMembers, msgMemberLimit)
	}
	return Decision{Allowed: true}
}

// CanCreateProject checks the active-project ceiling
func (g *Guard) CanCreateProject(limits PlanLimits, usage OrgUsage, projectsToCreate int) Decision {
	if exceeds(limits.MaxActiveProjects, float64(usage.ActiveProjectsCount), float64(atLeastOne(projectsToCreate))) {
		return g.deny(CheckCreateProject, limits.MaxActiveProjects, msgProjectLimit)
	}
	return Decision{Allowed: true}
}

// CanUpload checks the per-file ceiling first, then the daily upload budget
func (g *Guard) CanUpload(limits PlanLimits, usage OrgUsage, uploadMB, fileMB float64) Decision {
	if limits.MaxFileMB != nil && sanitize(fileMB) > float64(*limits.MaxFileMB) {
		return g.deny(CheckFileSize, limits.MaxFileMB, msgFileSize)
	}
	if exceeds(limits.MaxUploadMBPerDay, usage.UploadUsedMBDay, uploadMB) {
		return g.deny(CheckDailyUpload, limits.MaxUploadMBPerDay, msgDailyUpload)
	}
	return Decision{Allowed: true}
}

// CanStore checks the total storage ceiling for additionalMB of new data
func (g *Guard) CanStore(limits PlanLimits, usage OrgUsage, additionalMB float64) Decision {
	if exceeds(limits.MaxStorageMB, usage.StorageUsedMB, additionalMB) {
		return g.deny(CheckStorage, limits.MaxStorageMB, msgStorage)
	}
	return Decision{Allowed: true}
}

// CanDownload checks the monthly download budget
func (g *Guard) CanDownload(limits PlanLimits, usage OrgUsage, downloadGB float64) Decision {
	if exceeds(limits.MaxDownloadGBPerMonth, usage.DownloadUsedGBMonth, downloadGB) {
		return g.deny(CheckMonthlyDownload, limits.MaxDownloadGBPerMonth, msgMonthlyDL)
	}
	return Decision{Allowed: true}
}

// CanExport checks the daily export budget for one more export
func (g *Guard) CanExport(limits PlanLimits, usage OrgUsage) Decision {
	if exceeds(limits.ExportPerDay, float64(usage.ExportUsedDay), 1) {
		return g.deny(CheckDailyExport, limits.ExportPerDay, msgDailyExport)
	}
	return Decision{Allowed: true}
}

// CanUseApproval allows approval workflows only on multi_step plans
func (g *Guard) CanUseApproval(limits PlanLimits) Decision {
	if limits.ApprovalEnabled != ApprovalMultiStep {
		return g.deny(CheckApproval, nil, msgApprovalsOff)
	}
	return Decision{Allowed: true}
}

// CanInviteMember evaluates with English reasons
func CanInviteMember(limits PlanLimits, usage OrgUsage, membersToInvite int) Decision {
	return defaultGuard.CanInviteMember(limits, usage, membersToInvite)
}

// CanCreateProject evaluates with English reasons
func CanCreateProject(limits PlanLimits, usage OrgUsage, projectsToCreate int) Decision {
	return defaultGuard.CanCreateProject(limits, usage, projectsToCreate)
}

// CanUpload evaluates with English reasons
func CanUpload(limits PlanLimits, usage OrgUsage, uploadMB, fileMB float64) Decision {
	return defaultGuard.CanUpload(limits, usage, uploadMB, fileMB)
}

// CanStore evaluates with English reasons
func CanStore(limits PlanLimits, usage OrgUsage, additionalMB float64) Decision {
	return defaultGuard.CanStore(limits, usage, additionalMB)
}

// CanDownload evaluates with English reasons
func CanDownload(limits PlanLimits, usage OrgUsage, downloadGB float64) Decision {
	return defaultGuard.CanDownload(limits, usage, downloadGB)
}

// CanExport evaluates with English reasons
func CanExport(limits PlanLimits, usage OrgUsage) Decision {
	return defaultGuard.CanExport(limits, usage)
}

// CanUseApproval evaluates with English reasons
func CanUseApproval(limits PlanLimits) Decision {
	return defaultGuard.CanUseApproval(limits)
}
