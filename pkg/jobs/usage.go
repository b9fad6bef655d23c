package jobs

import (
	"context"

	"github.com/platinummonkey/sitework/pkg/observability"
)

// UsageRollerSpec runs shortly after midnight UTC, when day keys change
const UsageRollerSpec = "1 0 * * *"

// UsageRoller resets stale period counters. *plans.PostgresStore
// satisfies it.
type UsageRoller interface {
	RollUsagePeriods(ctx context.Context) (int64, error)
}

// RollUsage returns a job that rolls every org's usage row into the
// current day and month
func RollUsage(r UsageRoller) Func {
	return func(ctx context.Context) error {
		rolled, err := r.RollUsagePeriods(ctx)
		if err != nil {
			return err
		}
		observability.FromContext(ctx).WithField("rows", rolled).Info("usage periods rolled")
		return nil
	}
}
