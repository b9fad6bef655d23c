package plans

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Override is one overridden limit. Set with a nil Value means the org is
// explicitly unlimited for that limit.
type Override struct {
	Set   bool
	Value *int64
}

// Overrides are per-org adjustments merged on top of the plan's limits
type Overrides struct {
	MaxMembers            Override
	MaxActiveProjects     Override
	MaxStorageMB          Override
	MaxUploadMBPerDay     Override
	MaxFileMB             Override
	MaxDownloadGBPerMonth Override
	ExportPerDay          Override
	ApprovalEnabled       *ApprovalMode
	Support               *SupportTier
}

// OverrideParseError reports a malformed overrides document
type OverrideParseError struct {
	Field   string
	Problem string
	Err     error
}

func (e *OverrideParseError) Error() string {
	if e.Field == "" {
		return "invalid plan overrides: " + e.Problem
	}
	return fmt.Sprintf("invalid plan overrides: %s %s", e.Field, e.Problem)
}

func (e *OverrideParseError) Unwrap() error {
	return e.Err
}

// overrideDocument is the validated shape of a stored overrides object
type overrideDocument struct {
	MaxMembers            *int64  `json:"max_members" validate:"omitempty,gt=0"`
	MaxActiveProjects     *int64  `json:"max_active_projects" validate:"omitempty,gt=0"`
	MaxStorageMB          *int64  `json:"max_storage_mb" validate:"omitempty,gt=0"`
	MaxUploadMBPerDay     *int64  `json:"max_upload_mb_per_day" validate:"omitempty,gt=0"`
	MaxFileMB             *int64  `json:"max_file_mb" validate:"omitempty,gt=0"`
	MaxDownloadGBPerMonth *int64  `json:"max_download_gb_per_month" validate:"omitempty,gt=0"`
	ExportPerDay          *int64  `json:"export_per_day" validate:"omitempty,gt=0"`
	ApprovalEnabled       *string `json:"approval_enabled" validate:"omitempty,oneof=none multi_step"`
	Support               *string `json:"support" validate:"omitempty,oneof=email_standard priority sla"`
}

var overrideValidator = newOverrideValidator()

func newOverrideValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type limitField struct {
	target *Override
	value  **int64
}

func limitFields(o *Overrides, d *overrideDocument) map[string]limitField {
	return map[string]limitField{
		"max_members":               {&o.MaxMembers, &d.MaxMembers},
		"max_active_projects":       {&o.MaxActiveProjects, &d.MaxActiveProjects},
		"max_storage_mb":            {&o.MaxStorageMB, &d.MaxStorageMB},
		"max_upload_mb_per_day":     {&o.MaxUploadMBPerDay, &d.MaxUploadMBPerDay},
		"max_file_mb":               {&o.MaxFileMB, &d.MaxFileMB},
		"max_download_gb_per_month": {&o.MaxDownloadGBPerMonth, &d.MaxDownloadGBPerMonth},
		"export_per_day":            {&o.ExportPerDay, &d.ExportPerDay},
	}
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// ParseOverrides decodes a stored overrides object. Unknown keys, wrong
// types and out-of-range values are rejected with *OverrideParseError. An
// empty document or JSON null yields no overrides.
func ParseOverrides(data []byte) (Overrides, error) {
	var out Overrides
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Overrides{}, &OverrideParseError{Problem: "must be a JSON object", Err: err}
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var doc overrideDocument
	fields := limitFields(&out, &doc)
	for _, key := range keys {
		value := raw[key]
		if f, ok := fields[key]; ok {
			f.target.Set = true
			if isJSONNull(value) {
				continue
			}
			var n int64
			if err := json.Unmarshal(value, &n); err != nil {
				return Overrides{}, &OverrideParseError{Field: key, Problem: "must be an integer or null", Err: err}
			}
			*f.value = &n
			continue
		}

		switch key {
		case "approval_enabled", "support":
			if isJSONNull(value) {
				continue
			}
			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				return Overrides{}, &OverrideParseError{Field: key, Problem: "must be a string", Err: err}
			}
			if key == "approval_enabled" {
				doc.ApprovalEnabled = &s
			} else {
				doc.Support = &s
			}
		default:
			return Overrides{}, &OverrideParseError{Field: key, Problem: "is not a known limit"}
		}
	}

	if err := overrideValidator.Struct(doc); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return Overrides{}, &OverrideParseError{Field: fe.Field(), Problem: describeTag(fe), Err: err}
		}
		return Overrides{}, &OverrideParseError{Problem: err.Error(), Err: err}
	}

	for _, f := range fields {
		if f.target.Set && *f.value != nil {
			f.target.Value = cloneLimit(*f.value)
		}
	}
	if doc.ApprovalEnabled != nil {
		mode := ApprovalMode(*doc.ApprovalEnabled)
		out.ApprovalEnabled = &mode
	}
	if doc.Support != nil {
		tier := SupportTier(*doc.Support)
		out.Support = &tier
	}
	return out, nil
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

func applyOverride(dst **int64, o Override) {
	if o.Set {
		*dst = cloneLimit(o.Value)
	}
}

// Apply merges the overrides into a copy of base
func (o Overrides) Apply(base PlanLimits) PlanLimits {
	out := base.Clone()
	applyOverride(&out.MaxMembers, o.MaxMembers)
	applyOverride(&out.MaxActiveProjects, o.MaxActiveProjects)
	applyOverride(&out.MaxStorageMB, o.MaxStorageMB)
	applyOverride(&out.MaxUploadMBPerDay, o.MaxUploadMBPerDay)
	applyOverride(&out.MaxFileMB, o.MaxFileMB)
	applyOverride(&out.MaxDownloadGBPerMonth, o.MaxDownloadGBPerMonth)
	applyOverride(&out.ExportPerDay, o.ExportPerDay)
	if o.ApprovalEnabled != nil {
		out.ApprovalEnabled = *o.ApprovalEnabled
	}
	if o.Support != nil {
		out.Support = *o.Support
	}
	return out
}
