package plans

import (
	"errors"
	"strconv"
)

// PlanKey identifies a subscription tier
type PlanKey string

const (
	PlanStarter    PlanKey = "starter"
	PlanPro        PlanKey = "pro"
	PlanEnterprise PlanKey = "enterprise"
)

// ApprovalMode is the approval-workflow capability granted by a plan
type ApprovalMode string

const (
	ApprovalNone      ApprovalMode = "none"
	ApprovalMultiStep ApprovalMode = "multi_step"
)

// SupportTier is the support level granted by a plan
type SupportTier string

const (
	SupportEmailStandard SupportTier = "email_standard"
	SupportPriority      SupportTier = "priority"
	SupportSLA           SupportTier = "sla"
)

// PlanLimits holds the ceilings for a plan. A nil limit means unlimited.
type PlanLimits struct {
	Plan                  PlanKey      `json:"plan"`
	MaxMembers            *int64       `json:"max_members"`
	MaxActiveProjects     *int64       `json:"max_active_projects"`
	MaxStorageMB          *int64       `json:"max_storage_mb"`
	MaxUploadMBPerDay     *int64       `json:"max_upload_mb_per_day"`
	MaxFileMB             *int64       `json:"max_file_mb"`
	MaxDownloadGBPerMonth *int64       `json:"max_download_gb_per_month"`
	ExportPerDay          *int64       `json:"export_per_day"`
	ApprovalEnabled       ApprovalMode `json:"approval_enabled"`
	Support               SupportTier  `json:"support"`
}

// Limit returns a pointer to n, for building PlanLimits literals
func Limit(n int64) *int64 {
	return &n
}

// Unlimited is the nil limit
func Unlimited() *int64 {
	return nil
}

func cloneLimit(l *int64) *int64 {
	if l == nil {
		return nil
	}
	v := *l
	return &v
}

// Clone returns a deep copy so callers can apply overrides without aliasing
// the catalog's values.
func (l PlanLimits) Clone() PlanLimits {
	out := l
	out.MaxMembers = cloneLimit(l.MaxMembers)
	out.MaxActiveProjects = cloneLimit(l.MaxActiveProjects)
	out.MaxStorageMB = cloneLimit(l.MaxStorageMB)
	out.MaxUploadMBPerDay = cloneLimit(l.MaxUploadMBPerDay)
	out.MaxFileMB = cloneLimit(l.MaxFileMB)
	out.MaxDownloadGBPerMonth = cloneLimit(l.MaxDownloadGBPerMonth)
	out.ExportPerDay = cloneLimit(l.ExportPerDay)
	return out
}

// OrgUsage is a point-in-time reading of an organization's usage counters
type OrgUsage struct {
	OrgID               string  `json:"org_id"`
	MembersCount        int64   `json:"members_count"`
	ActiveProjectsCount int64   `json:"active_projects_count"`
	StorageUsedMB       float64 `json:"storage_used_mb"`
	DownloadUsedGBMonth float64 `json:"download_used_gb_month"`
	MonthKey            string  `json:"month_key"`
	UploadUsedMBDay     float64 `json:"upload_used_mb_day"`
	ExportUsedDay       int64   `json:"export_used_day"`
	DayKey              string  `json:"day_key"`
}

// Check names the guard that produced a decision
type Check string

const (
	CheckInviteMember    Check = "invite_member"
	CheckCreateProject   Check = "create_project"
	CheckFileSize        Check = "file_size"
	CheckDailyUpload     Check = "daily_upload"
	CheckStorage         Check = "storage"
	CheckMonthlyDownload Check = "monthly_download"
	CheckDailyExport     Check = "daily_export"
	CheckApproval        Check = "approval"
)

// Decision is the result of a guard. Denials are values, not errors.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Check   Check  `json:"check,omitempty"`
	Limit   *int64 `json:"limit,omitempty"`
}

// Err converts a denial into a *LimitError, or nil when allowed
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &LimitError{Check: d.Check, Reason: d.Reason, Limit: cloneLimit(d.Limit)}
}

// LimitError carries a plan-limit denial through an error return
type LimitError struct {
	Check  Check
	Reason string
	Limit  *int64
}

func (e *LimitError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.Limit != nil {
		return "plan limit reached for " + string(e.Check) + " (limit " + strconv.FormatInt(*e.Limit, 10) + ")"
	}
	return "plan limit reached for " + string(e.Check)
}

// IsLimitExceeded reports whether err is, or wraps, a *LimitError
func IsLimitExceeded(err error) bool {
	var le *LimitError
	return errors.As(err, &le)
}

// ErrOrgNotFound is returned when the organization has no plan row
var ErrOrgNotFound = errors.New("organization not found")
