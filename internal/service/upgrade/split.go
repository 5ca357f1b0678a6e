package upgrade

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"upgrade-service/internal/domain/subscription"

	"go.uber.org/zap"
)

// split moves base onto target for [start, end). The new subscription is
// stored before base is truncated to start, so coverage never has a hole.
// With start at the end of base nothing is truncated and the new
// subscription is appended.
func (e *Engine) split(ctx context.Context, base *subscription.Subscription, target *subscription.Plan, paymentID sql.NullInt64, start, end time.Time) (*subscription.Subscription, error) {
	originalEnd := base.EndTime

	upgraded := &subscription.Subscription{
		UserID:      base.UserID,
		PlanID:      target.ID,
		PaymentID:   paymentID,
		Kind:        subscription.KindUpgrade,
		IsRecurring: base.IsRecurring,
		StartTime:   start,
		EndTime:     end,
		AddressID:   base.AddressID,
		Note:        fmt.Sprintf("upgraded from subscription %d", base.ID),
	}
	if err := e.Subscriptions.Create(ctx, upgraded); err != nil {
		return nil, fmt.Errorf("failed to create upgraded subscription: %w", err)
	}

	note := fmt.Sprintf("upgraded to subscription %d, original end %s", upgraded.ID, originalEnd.Format(time.RFC3339))
	if err := e.Subscriptions.UpdatePeriod(ctx, base.ID, base.StartTime, start, note); err != nil {
		return nil, fmt.Errorf("failed to truncate subscription %d: %w", base.ID, err)
	}
	if err := e.Subscriptions.SetNextSubscription(ctx, base.ID, upgraded.ID); err != nil {
		return nil, fmt.Errorf("failed to link subscription %d: %w", base.ID, err)
	}

	base.EndTime = start
	base.Note = note
	base.NextSubscriptionID = sql.NullInt64{Int64: upgraded.ID, Valid: true}

	e.logger.Info("subscription split",
		zap.Int64("subscription_id", base.ID),
		zap.Int64("upgraded_subscription_id", upgraded.ID),
		zap.Int64("target_plan_id", target.ID),
		zap.Time("original_end", originalEnd),
		zap.Time("new_start", start),
		zap.Time("new_end", end),
	)
	if start.Before(originalEnd) {
		e.shortened(ctx, base, originalEnd, start)
	}
	return upgraded, nil
}
