package plans

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys double as the English text.
const (
	msgMemberLimit  = "Member limit reached: your plan allows %d members. Upgrade your plan to invite more."
	msgProjectLimit = "Active project limit reached: your plan allows %d active projects. Upgrade your plan to create more."
	msgFileSize     = "File is too large: your plan allows files up to %d MB."
	msgDailyUpload  = "Daily upload limit reached: your plan allows %d MB per day."
	msgStorage      = "Storage limit reached: your plan allows %d MB of storage."
	msgMonthlyDL    = "Monthly download limit reached: your plan allows %d GB per month."
	msgDailyExport  = "Daily export limit reached: your plan allows %d exports per day."
	msgApprovalsOff = "Approval workflows are not available on your plan. Upgrade to enable multi-step approvals."
)

var indonesian = map[string]string{
	msgMemberLimit:  "Batas anggota tercapai: paket Anda mengizinkan %d anggota. Tingkatkan paket untuk mengundang lebih banyak.",
	msgProjectLimit: "Batas proyek aktif tercapai: paket Anda mengizinkan %d proyek aktif. Tingkatkan paket untuk membuat lebih banyak.",
	msgFileSize:     "Ukuran file terlalu besar: paket Anda mengizinkan file hingga %d MB.",
	msgDailyUpload:  "Batas unggahan harian tercapai: paket Anda mengizinkan %d MB per hari.",
	msgStorage:      "Batas penyimpanan tercapai: paket Anda mengizinkan penyimpanan %d MB.",
	msgMonthlyDL:    "Batas unduhan bulanan tercapai: paket Anda mengizinkan %d GB per bulan.",
	msgDailyExport:  "Batas ekspor harian tercapai: paket Anda mengizinkan %d ekspor per hari.",
	msgApprovalsOff: "Alur persetujuan tidak tersedia pada paket Anda. Tingkatkan paket untuk mengaktifkan persetujuan bertingkat.",
}

// SupportedLocales lists the locales with a translated reason catalog
var SupportedLocales = []language.Tag{language.English, language.Indonesian}

var reasons = buildCatalog()

func buildCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for _, key := range []string{
		msgMemberLimit, msgProjectLimit, msgFileSize, msgDailyUpload,
		msgStorage, msgMonthlyDL, msgDailyExport, msgApprovalsOff,
	} {
		if err := b.SetString(language.English, key, key); err != nil {
			panic(err)
		}
		if err := b.SetString(language.Indonesian, key, indonesian[key]); err != nil {
			panic(err)
		}
	}
	return b
}

// newPrinter returns a printer bound to the reason catalog. Printers are
// created per call because message.Printer is not documented as safe for
// concurrent use.
func newPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag, message.Catalog(reasons))
}

// ParseLocale resolves a BCP 47 string against the supported locales,
// falling back to English.
func ParseLocale(s string) language.Tag {
	if s == "" {
		return language.English
	}
	tag, err := language.Parse(s)
	if err != nil {
		return language.English
	}
	matcher := language.NewMatcher(SupportedLocales)
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return language.English
	}
	return SupportedLocales[idx]
}
