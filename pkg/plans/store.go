package plans

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Counter names a usage column in org_usage
type Counter string

const (
	CounterMembers         Counter = "members_count"
	CounterActiveProjects  Counter = "active_projects_count"
	CounterStorageMB       Counter = "storage_used_mb"
	CounterDownloadGBMonth Counter = "download_used_gb_month"
	CounterUploadMBDay     Counter = "upload_used_mb_day"
	CounterExportDay       Counter = "export_used_day"
)

type period int

const (
	periodLifetime period = iota
	periodDay
	periodMonth
)

var counterPeriods = map[Counter]period{
	CounterMembers:         periodLifetime,
	CounterActiveProjects:  periodLifetime,
	CounterStorageMB:       periodLifetime,
	CounterDownloadGBMonth: periodMonth,
	CounterUploadMBDay:     periodDay,
	CounterExportDay:       periodDay,
}

var orderedCounters = []Counter{
	CounterMembers,
	CounterActiveProjects,
	CounterStorageMB,
	CounterDownloadGBMonth,
	CounterUploadMBDay,
	CounterExportDay,
}

// Valid reports whether c is a known counter
func (c Counter) Valid() bool {
	_, ok := counterPeriods[c]
	return ok
}

// Store reads plan limits and usage for an organization
type Store interface {
	GetPlanLimits(ctx context.Context, orgID string) (PlanLimits, error)
	GetOrgUsage(ctx context.Context, orgID string) (OrgUsage, error)
}

// UsageRecorder mutates usage counters
type UsageRecorder interface {
	RecordUsage(ctx context.Context, orgID string, counter Counter, amount float64) error
	Reserve(ctx context.Context, orgID string, counter Counter, amount float64, limit *int64) (bool, error)
	ReleaseUsage(ctx context.Context, orgID string, counter Counter, amount float64) error
}

// PostgresStore implements Store and UsageRecorder on PostgreSQL
type PostgresStore struct {
	db      *sql.DB
	catalog atomic.Pointer[Catalog]
	now     func() time.Time
}

// NewPostgresStore creates a new PostgreSQL-backed plan store
func NewPostgresStore(db *sql.DB, catalog *Catalog) *PostgresStore {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	s := &PostgresStore{db: db, now: time.Now}
	s.catalog.Store(catalog)
	return s
}

// SetCatalog swaps the plan catalog used by later lookups
func (s *PostgresStore) SetCatalog(c *Catalog) {
	if c != nil {
		s.catalog.Store(c)
	}
}

// GetPlanLimits resolves the org's plan and merges its overrides
func (s *PostgresStore) GetPlanLimits(ctx context.Context, orgID string) (PlanLimits, error) {
	query := `
		SELECT o.plan_key, COALESCE(ov.overrides::text, '')
		FROM organizations o
		LEFT JOIN org_plan_overrides ov ON ov.org_id = o.id
		WHERE o.id = $1
	`

	var planKey, overrides string
	err := s.db.QueryRowContext(ctx, query, orgID).Scan(&planKey, &overrides)
	if errors.Is(err, sql.ErrNoRows) {
		return PlanLimits{}, ErrOrgNotFound
	}
	if err != nil {
		return PlanLimits{}, fmt.Errorf("failed to get plan limits: %w", err)
	}

	ov, err := ParseOverrides([]byte(overrides))
	if err != nil {
		return PlanLimits{}, fmt.Errorf("failed to get plan limits for org %s: %w", orgID, err)
	}
	return ov.Apply(s.catalog.Load().Limits(PlanKey(planKey))), nil
}

// GetOrgUsage reads the usage row, normalized to the current period. An org
// without a usage row has zero usage.
func (s *PostgresStore) GetOrgUsage(ctx context.Context, orgID string) (OrgUsage, error) {
	query := `
		SELECT members_count, active_projects_count, storage_used_mb,
		       download_used_gb_month, month_key, upload_used_mb_day,
		       export_used_day, day_key
		FROM org_usage
		WHERE org_id = $1
	`

	usage := OrgUsage{OrgID: orgID}
	err := s.db.QueryRowContext(ctx, query, orgID).Scan(
		&usage.MembersCount,
		&usage.ActiveProjectsCount,
		&usage.StorageUsedMB,
		&usage.DownloadUsedGBMonth,
		&usage.MonthKey,
		&usage.UploadUsedMBDay,
		&usage.ExportUsedDay,
		&usage.DayKey,
	)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return OrgUsage{}, fmt.Errorf("failed to get org usage: %w", err)
	}
	return usage.ForPeriod(s.now()), nil
}

func rolledExpr(c Counter) string {
	switch counterPeriods[c] {
	case periodDay:
		return fmt.Sprintf("CASE WHEN org_usage.day_key = EXCLUDED.day_key THEN org_usage.%s ELSE 0 END", c)
	case periodMonth:
		return fmt.Sprintf("CASE WHEN org_usage.month_key = EXCLUDED.month_key THEN org_usage.%s ELSE 0 END", c)
	default:
		return "org_usage." + string(c)
	}
}

// usageUpsertQuery adds $4 to target. Period counters are reset when the
// stored key is stale, all of them at once so the row never mixes periods.
// When guarded, the update only applies if the result stays within $5.
func usageUpsertQuery(target Counter, guarded bool) string {
	sets := make([]string, 0, len(orderedCounters)+3)
	for _, c := range orderedCounters {
		if c == target {
			sets = append(sets, fmt.Sprintf("%s = %s + EXCLUDED.%s", c, rolledExpr(c), c))
			continue
		}
		if counterPeriods[c] != periodLifetime {
			sets = append(sets, fmt.Sprintf("%s = %s", c, rolledExpr(c)))
		}
	}
	sets = append(sets, "day_key = EXCLUDED.day_key", "month_key = EXCLUDED.month_key", "updated_at = NOW()")

	query := fmt.Sprintf(
		"INSERT INTO org_usage (org_id, day_key, month_key, %s) VALUES ($1, $2, $3, $4) ON CONFLICT (org_id) DO UPDATE SET %s",
		target, strings.Join(sets, ", "),
	)
	if guarded {
		query += fmt.Sprintf(" WHERE %s + EXCLUDED.%s <= $5", rolledExpr(target), target)
	}
	return query
}

// RecordUsage adds a non-negative amount to a counter
func (s *PostgresStore) RecordUsage(ctx context.Context, orgID string, counter Counter, amount float64) error {
	if !counter.Valid() {
		return fmt.Errorf("unknown usage counter %q", counter)
	}
	amount = sanitize(amount)
	now := s.now()

	_, err := s.db.ExecContext(ctx, usageUpsertQuery(counter, false), orgID, DayKey(now), MonthKey(now), amount)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// Reserve atomically adds amount to a counter only if the result stays
// within limit. It returns false without writing when the limit would be
// exceeded. A nil limit always reserves.
func (s *PostgresStore) Reserve(ctx context.Context, orgID string, counter Counter, amount float64, limit *int64) (bool, error) {
	if limit == nil {
		return true, s.RecordUsage(ctx, orgID, counter, amount)
	}
	if !counter.Valid() {
		return false, fmt.Errorf("unknown usage counter %q", counter)
	}
	amount = sanitize(amount)
	if amount > float64(*limit) {
		return false, nil
	}
	now := s.now()

	result, err := s.db.ExecContext(ctx, usageUpsertQuery(counter, true),
		orgID, DayKey(now), MonthKey(now), amount, float64(*limit))
	if err != nil {
		return false, fmt.Errorf("failed to reserve usage: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to reserve usage: %w", err)
	}
	return rows > 0, nil
}

// ReleaseUsage subtracts from a lifetime counter, flooring at zero. Period
// counters are spent budgets and cannot be released.
func (s *PostgresStore) ReleaseUsage(ctx context.Context, orgID string, counter Counter, amount float64) error {
	p, ok := counterPeriods[counter]
	if !ok {
		return fmt.Errorf("unknown usage counter %q", counter)
	}
	if p != periodLifetime {
		return fmt.Errorf("usage counter %q cannot be released", counter)
	}

	query := fmt.Sprintf(
		"UPDATE org_usage SET %[1]s = GREATEST(%[1]s - $2, 0), updated_at = NOW() WHERE org_id = $1",
		counter,
	)
	if _, err := s.db.ExecContext(ctx, query, orgID, sanitize(amount)); err != nil {
		return fmt.Errorf("failed to release usage: %w", err)
	}
	return nil
}

// RollUsagePeriods zeroes period counters on rows whose day or month key is
// stale and stamps the current keys. Reads and writes already roll lazily;
// this keeps the stored rows honest for reporting. It returns the number of
// rows rolled.
func (s *PostgresStore) RollUsagePeriods(ctx context.Context) (int64, error) {
	now := s.now()
	query := `
		UPDATE org_usage SET
			upload_used_mb_day = CASE WHEN day_key = $1 THEN upload_used_mb_day ELSE 0 END,
			export_used_day = CASE WHEN day_key = $1 THEN export_used_day ELSE 0 END,
			download_used_gb_month = CASE WHEN month_key = $2 THEN download_used_gb_month ELSE 0 END,
			day_key = $1,
			month_key = $2,
			updated_at = NOW()
		WHERE day_key <> $1 OR month_key <> $2
	`
	result, err := s.db.ExecContext(ctx, query, DayKey(now), MonthKey(now))
	if err != nil {
		return 0, fmt.Errorf("failed to roll usage periods: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to roll usage periods: %w", err)
	}
	return rows, nil
}

var _ Store = (*PostgresStore)(nil)
var _ UsageRecorder = (*PostgresStore)(nil)
