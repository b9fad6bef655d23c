package plans

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Catalog maps plan keys to their base limits
type Catalog struct {
	plans    map[PlanKey]PlanLimits
	fallback PlanKey
}

// DefaultCatalog returns the built-in plan tiers
func DefaultCatalog() *Catalog {
	return &Catalog{
		fallback: PlanStarter,
		plans: map[PlanKey]PlanLimits{
			PlanStarter: {
				Plan:                  PlanStarter,
				MaxMembers:            Limit(5),
				MaxActiveProjects:     Limit(3),
				MaxStorageMB:          Limit(1024),
				MaxUploadMBPerDay:     Limit(200),
				MaxFileMB:             Limit(25),
				MaxDownloadGBPerMonth: Limit(5),
				ExportPerDay:          Limit(10),
				ApprovalEnabled:       ApprovalNone,
				Support:               SupportEmailStandard,
			},
			PlanPro: {
				Plan:                  PlanPro,
				MaxMembers:            Limit(25),
				MaxActiveProjects:     Limit(25),
				MaxStorageMB:          Limit(20480),
				MaxUploadMBPerDay:     Limit(2048),
				MaxFileMB:             Limit(100),
				MaxDownloadGBPerMonth: Limit(50),
				ExportPerDay:          Limit(100),
				ApprovalEnabled:       ApprovalMultiStep,
				Support:               SupportPriority,
			},
			PlanEnterprise: {
				Plan:            PlanEnterprise,
				MaxFileMB:       Limit(1024),
				ApprovalEnabled: ApprovalMultiStep,
				Support:         SupportSLA,
			},
		},
	}
}

// Limits returns a copy of the limits for key. Unknown keys resolve to the
// fallback plan so a bad plan_key never grants more than starter.
func (c *Catalog) Limits(key PlanKey) PlanLimits {
	l, ok := c.plans[key]
	if !ok {
		l = c.plans[c.fallback]
	}
	return l.Clone()
}

// Has reports whether key is a known plan
func (c *Catalog) Has(key PlanKey) bool {
	_, ok := c.plans[key]
	return ok
}

// Plans returns the known plan keys in sorted order
func (c *Catalog) Plans() []PlanKey {
	keys := make([]PlanKey, 0, len(c.plans))
	for k := range c.plans {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

type catalogFile struct {
	Fallback string                 `yaml:"fallback"`
	Plans    map[string]catalogPlan `yaml:"plans" validate:"dive"`
}

type catalogPlan struct {
	MaxMembers            *int64 `yaml:"max_members" validate:"omitempty,gt=0"`
	MaxActiveProjects     *int64 `yaml:"max_active_projects" validate:"omitempty,gt=0"`
	MaxStorageMB          *int64 `yaml:"max_storage_mb" validate:"omitempty,gt=0"`
	MaxUploadMBPerDay     *int64 `yaml:"max_upload_mb_per_day" validate:"omitempty,gt=0"`
	MaxFileMB             *int64 `yaml:"max_file_mb" validate:"omitempty,gt=0"`
	MaxDownloadGBPerMonth *int64 `yaml:"max_download_gb_per_month" validate:"omitempty,gt=0"`
	ExportPerDay          *int64 `yaml:"export_per_day" validate:"omitempty,gt=0"`
	ApprovalEnabled       string `yaml:"approval_enabled" validate:"required,oneof=none multi_step"`
	Support               string `yaml:"support" validate:"required,oneof=email_standard priority sla"`
}

// LoadCatalog reads a YAML catalog. Plans it defines replace the built-in
// plan of the same key; omitted or null limits are unlimited.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var doc catalogFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse plan catalog: %w", err)
	}
	if err := validator.New().Struct(doc); err != nil {
		return nil, fmt.Errorf("invalid plan catalog: %w", err)
	}

	c := DefaultCatalog()
	for name, p := range doc.Plans {
		key := PlanKey(name)
		c.plans[key] = PlanLimits{
			Plan:                  key,
			MaxMembers:            p.MaxMembers,
			MaxActiveProjects:     p.MaxActiveProjects,
			MaxStorageMB:          p.MaxStorageMB,
			MaxUploadMBPerDay:     p.MaxUploadMBPerDay,
			MaxFileMB:             p.MaxFileMB,
			MaxDownloadGBPerMonth: p.MaxDownloadGBPerMonth,
			ExportPerDay:          p.ExportPerDay,
			ApprovalEnabled:       ApprovalMode(p.ApprovalEnabled),
			Support:               SupportTier(p.Support),
		}
	}
	if doc.Fallback != "" {
		if !c.Has(PlanKey(doc.Fallback)) {
			return nil, fmt.Errorf("invalid plan catalog: fallback plan %q is not defined", doc.Fallback)
		}
		c.fallback = PlanKey(doc.Fallback)
	}
	return c, nil
}

// LoadCatalogFile reads a YAML catalog from path. An empty path returns
// the built-in catalog.
func LoadCatalogFile(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}
