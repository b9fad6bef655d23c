package plans

import "time"

const (
	dayKeyLayout   = "2006-01-02"
	monthKeyLayout = "2006-01"
)

// DayKey returns the UTC day bucket for t
func DayKey(t time.Time) string {
	return t.UTC().Format(dayKeyLayout)
}

// MonthKey returns the UTC month bucket for t
func MonthKey(t time.Time) string {
	return t.UTC().Format(monthKeyLayout)
}

// ForPeriod returns a copy of u normalized to the period containing now.
// Daily counters are zeroed only when DayKey names an earlier day, and
// likewise the monthly counter for MonthKey. A reading without a key keeps
// its counters.
func (u OrgUsage) ForPeriod(now time.Time) OrgUsage {
	out := u
	if day := DayKey(now); out.DayKey != day {
		if out.DayKey != "" {
			out.UploadUsedMBDay = 0
			out.ExportUsedDay = 0
		}
		out.DayKey = day
	}
	if month := MonthKey(now); out.MonthKey != month {
		if out.MonthKey != "" {
			out.DownloadUsedGBMonth = 0
		}
		out.MonthKey = month
	}
	return out
}
