package upgrade

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"upgrade-service/internal/domain/recurrent"
	"upgrade-service/internal/domain/subscription"
	"upgrade-service/internal/domain/upgrade"
	xerrors "upgrade-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Following is what happened to one subscription queued after an upgraded one.
type Following struct {
	Original *subscription.Subscription `json:"original"`
	// Nil when the subscription was only moved
	Upgraded *subscription.Subscription `json:"upgraded,omitempty"`
	Target   *subscription.Plan         `json:"-"`
	NewEnd   time.Time                  `json:"new_end"`
}

// ScheduleShift is a recurring schedule moved after propagation.
type ScheduleShift struct {
	ScheduleID     int64         `json:"schedule_id"`
	Delta          time.Duration `json:"delta"`
	NextChargeTime time.Time     `json:"next_charge_time"`
	NextPlanID     sql.NullInt64 `json:"next_plan_id"`
}

type Propagation struct {
	Followers []*Following    `json:"followers,omitempty"`
	Schedules []ScheduleShift `json:"schedules,omitempty"`
}

// move records that subscriptions starting at originalEnd now start at newEnd.
type move struct {
	originalEnd time.Time
	newEnd      time.Time
}

type pendingShift struct {
	schedule   *recurrent.Schedule
	delta      time.Duration
	nextPlanID int64
}

// propagate re-applies an upgrade to every subscription chained after base.
// Followers are walked generation by generation in start order; recurring
// schedules are shifted only after every subscription has been mutated.
func (e *Engine) propagate(ctx context.Context, base *subscription.Subscription, originalEnd, newEnd time.Time, target *subscription.Plan, sub Subsequent) (*Propagation, error) {
	prop := &Propagation{}
	visited := map[int64]bool{base.ID: true}
	shifts := map[int64]*pendingShift{}
	var order []int64

	queueShift := func(s *subscription.Subscription, delta time.Duration, nextPlanID int64) error {
		sched, err := e.scheduleFor(ctx, s.PaymentID)
		if err != nil || sched == nil || !sched.Shiftable() {
			return err
		}
		ps, ok := shifts[sched.ID]
		if !ok {
			ps = &pendingShift{schedule: sched}
			shifts[sched.ID] = ps
			order = append(order, sched.ID)
		}
		ps.delta = delta
		if nextPlanID != 0 {
			ps.nextPlanID = nextPlanID
		}
		return nil
	}

	if delta := newEnd.Sub(originalEnd); delta != 0 {
		if err := queueShift(base, delta, target.ID); err != nil {
			return nil, err
		}
	}

	queue := []move{{originalEnd: originalEnd, newEnd: newEnd}}
	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]

		followers, err := e.Subscriptions.FindStartingAt(ctx, base.UserID, m.originalEnd)
		if err != nil {
			return nil, fmt.Errorf("failed to load following subscriptions: %w", err)
		}

		for _, f := range followers {
			if visited[f.ID] || f.Kind == subscription.KindTrial || f.Duration() <= 0 {
				continue
			}
			// Coverage cut from a visited subscription is this upgrade's own
			from, err := e.upgradedFrom(ctx, f.ID)
			if err != nil {
				return nil, err
			}
			if from != 0 && visited[from] {
				visited[f.ID] = true
				continue
			}
			visited[f.ID] = true

			originalFollowerEnd := f.EndTime
			res, err := sub.UpgradeFollowing(ctx, f, m.newEnd)
			if err != nil {
				return nil, fmt.Errorf("failed to propagate upgrade to subscription %d: %w", f.ID, err)
			}
			prop.Followers = append(prop.Followers, res)

			var nextPlanID int64
			if res.Upgraded != nil {
				visited[res.Upgraded.ID] = true
				nextPlanID = res.Target.ID
			}
			if err := queueShift(f, res.NewEnd.Sub(originalFollowerEnd), nextPlanID); err != nil {
				return nil, err
			}
			queue = append(queue, move{originalEnd: originalFollowerEnd, newEnd: res.NewEnd})
		}
	}

	for _, id := range order {
		ps := shifts[id]
		next := ps.schedule.NextChargeTime.Add(ps.delta)
		nextPlan := ps.schedule.NextPlanID
		if ps.nextPlanID != 0 {
			nextPlan = sql.NullInt64{Int64: ps.nextPlanID, Valid: true}
		}
		if err := e.Schedules.UpdateNextCharge(ctx, id, next, nextPlan); err != nil {
			return nil, fmt.Errorf("failed to shift recurring schedule %d: %w", id, err)
		}
		prop.Schedules = append(prop.Schedules, ScheduleShift{
			ScheduleID:     id,
			Delta:          ps.delta,
			NextChargeTime: next,
			NextPlanID:     nextPlan,
		})
		e.logger.Info("recurring schedule shifted",
			zap.Int64("schedule_id", id),
			zap.Duration("delta", ps.delta),
			zap.Time("next_charge_time", next),
		)
	}
	return prop, nil
}

// upgradedFrom returns the subscription an upgrade record derived id from,
// or zero when no upgrade created it.
func (e *Engine) upgradedFrom(ctx context.Context, id int64) (int64, error) {
	rec, err := e.Records.FindByUpgraded(ctx, id)
	if errors.Is(err, xerrors.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load upgrade record of subscription %d: %w", id, err)
	}
	return rec.BaseSubscriptionID, nil
}

// follower converts chained subscriptions for the proration-based strategies.
type follower struct {
	e        *Engine
	now      time.Time
	typ      upgrade.Type
	option   *upgrade.Option
	basePlan *subscription.Plan
	target   *subscription.Plan
	fix      decimal.NullDecimal
}

// UpgradeFollowing turns sub into target coverage starting at start, worth
// what sub was paid. A subscription that needs no upgrade is only moved to
// start with its length kept.
func (f *follower) UpgradeFollowing(ctx context.Context, sub *subscription.Subscription, start time.Time) (*Following, error) {
	original := *sub

	plan, err := f.e.Plans.FindByID(ctx, sub.PlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan %d: %w", sub.PlanID, err)
	}

	target, err := f.targetFor(ctx, plan)
	var noDefault *upgrade.NoDefaultPlanError
	switch {
	case errors.Is(err, upgrade.ErrNoUpgradeNeeded):
		return f.move(ctx, sub, &original, start)
	case errors.As(err, &noDefault):
		f.e.logger.Warn("no default plan for following subscription",
			zap.Int64("subscription_id", sub.ID),
			zap.Strings("entitlements", noDefault.Entitlements),
		)
		return f.move(ctx, sub, &original, start)
	case err != nil:
		return nil, err
	}

	amount, err := f.e.amountSpentOn(ctx, sub, plan)
	if err != nil {
		return nil, err
	}
	seconds := PurchasableSeconds(SavedValue(sub, amount, f.now), TargetDayPrice(target, plan, f.fix))
	end := AddCoverage(start, seconds)

	upgraded := &subscription.Subscription{
		UserID:      sub.UserID,
		PlanID:      target.ID,
		PaymentID:   sub.PaymentID,
		Kind:        subscription.KindUpgrade,
		IsRecurring: sub.IsRecurring,
		StartTime:   start,
		EndTime:     end,
		AddressID:   sub.AddressID,
		Note:        fmt.Sprintf("upgraded from subscription %d", sub.ID),
	}
	if err := f.e.Subscriptions.Create(ctx, upgraded); err != nil {
		return nil, fmt.Errorf("failed to create upgraded subscription: %w", err)
	}

	note := fmt.Sprintf("upgraded to subscription %d, original period %s - %s",
		upgraded.ID, original.StartTime.Format(time.RFC3339), original.EndTime.Format(time.RFC3339))
	if err := f.e.Subscriptions.UpdatePeriod(ctx, sub.ID, start, start, note); err != nil {
		return nil, fmt.Errorf("failed to collapse subscription %d: %w", sub.ID, err)
	}
	if err := f.e.Subscriptions.SetNextSubscription(ctx, sub.ID, upgraded.ID); err != nil {
		return nil, fmt.Errorf("failed to link subscription %d: %w", sub.ID, err)
	}
	sub.StartTime, sub.EndTime, sub.Note = start, start, note

	if err := f.e.record(ctx, f.typ, sub, upgraded, sub.PaymentID, f.now); err != nil {
		return nil, err
	}
	f.e.shortened(ctx, sub, original.EndTime, start)

	return &Following{Original: &original, Upgraded: upgraded, Target: target, NewEnd: end}, nil
}

// targetFor keeps the strategy target for followers on the base plan and
// re-resolves it for followers that rolled into another plan. Followers
// already on the target are only moved.
func (f *follower) targetFor(ctx context.Context, plan *subscription.Plan) (*subscription.Plan, error) {
	if plan.ID == f.target.ID {
		return nil, upgrade.ErrNoUpgradeNeeded
	}
	if plan.ID == f.basePlan.ID {
		return f.target, nil
	}
	var required, omitted []string
	if f.option != nil {
		required, omitted = f.option.Config.RequireContent, f.option.Config.OmitContent
	}
	return f.e.targets.Resolve(ctx, plan, 0, union(required, f.target.Entitlements), omitted)
}

func (f *follower) move(ctx context.Context, sub, original *subscription.Subscription, start time.Time) (*Following, error) {
	end := start.Add(sub.Duration())
	if start.Equal(sub.StartTime) {
		return &Following{Original: original, NewEnd: end}, nil
	}

	note := fmt.Sprintf("moved from %s", original.StartTime.Format(time.RFC3339))
	if err := f.e.Subscriptions.UpdatePeriod(ctx, sub.ID, start, end, note); err != nil {
		return nil, fmt.Errorf("failed to move subscription %d: %w", sub.ID, err)
	}
	sub.StartTime, sub.EndTime, sub.Note = start, end, note
	if end.Before(original.EndTime) {
		f.e.shortened(ctx, sub, original.EndTime, end)
	}
	return &Following{Original: original, NewEnd: end}, nil
}
