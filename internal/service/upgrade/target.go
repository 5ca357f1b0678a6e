package upgrade

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"upgrade-service/internal/domain/subscription"
	"upgrade-service/internal/domain/upgrade"
	xerrors "upgrade-service/internal/pkg/errors"
)

// TargetResolver finds the plan an upgrade moves into.
type TargetResolver struct {
	catalog subscription.PlanCatalog
}

func NewTargetResolver(catalog subscription.PlanCatalog) *TargetResolver {
	return &TargetResolver{catalog: catalog}
}

// Resolve returns the explicit target when one is set. Otherwise it looks for
// the cheapest active default plan of the base length granting the base
// entitlements plus required, minus omitted. It returns
// upgrade.ErrNoUpgradeNeeded when required adds nothing to the base, and a
// *upgrade.NoDefaultPlanError when the catalog has no such plan.
func (r *TargetResolver) Resolve(ctx context.Context, base *subscription.Plan, explicitID int64, required, omitted []string) (*subscription.Plan, error) {
	if explicitID != 0 {
		plan, err := r.catalog.FindByID(ctx, explicitID)
		if err != nil {
			return nil, fmt.Errorf("failed to load target plan %d: %w", explicitID, err)
		}
		return plan, nil
	}

	wanted := union(base.Entitlements, required)
	if len(wanted) == len(base.SortedEntitlements()) {
		return nil, upgrade.ErrNoUpgradeNeeded
	}
	wanted = slices.DeleteFunc(wanted, func(e string) bool { return slices.Contains(omitted, e) })

	lengths := []int{base.LengthDays}
	if base.ExtendingLengthDays > 0 && base.ExtendingLengthDays != base.LengthDays {
		lengths = append(lengths, base.ExtendingLengthDays)
	}

	for _, length := range lengths {
		plans, err := r.catalog.FindDefaultsByLength(ctx, length)
		if err != nil && !errors.Is(err, xerrors.ErrNotFound) {
			return nil, fmt.Errorf("failed to list default plans: %w", err)
		}
		for _, p := range plans {
			if p.IsActive && p.IsDefault && p.GrantsAll(wanted) {
				return p, nil
			}
		}
	}

	return nil, &upgrade.NoDefaultPlanError{Entitlements: wanted, LengthDays: base.LengthDays}
}

// union returns the sorted, duplicate-free union of a and b.
func union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	slices.Sort(out)
	return slices.Compact(out)
}
