package subscription

import (
	"context"
	"time"
)

// Repository is the subscription store used by the upgrade engine.
// Every method is individually atomic.
type Repository interface {
	Create(ctx context.Context, sub *Subscription) error
	FindByID(ctx context.Context, id int64) (*Subscription, error)

	// FindActiveByUser returns subscriptions with end_time >= at, oldest start first.
	FindActiveByUser(ctx context.Context, userID int64, at time.Time) ([]*Subscription, error)

	// FindStartingAt returns the user's subscriptions whose start_time equals at,
	// ordered by start_time then id.
	FindStartingAt(ctx context.Context, userID int64, at time.Time) ([]*Subscription, error)

	UpdatePeriod(ctx context.Context, id int64, start, end time.Time, note string) error
	UpdateEndTime(ctx context.Context, id int64, end time.Time) error
	SetNextSubscription(ctx context.Context, id, nextID int64) error
}

// PlanCatalog is the read-only plan catalog.
type PlanCatalog interface {
	FindByID(ctx context.Context, id int64) (*Plan, error)
	FindByCode(ctx context.Context, code string) (*Plan, error)

	// FindDefaultsByLength returns active default plans of the given length, cheapest first.
	FindDefaultsByLength(ctx context.Context, lengthDays int) ([]*Plan, error)
}
