package upgrade

import (
	"context"
	"time"
)

type OptionRepository interface {
	// FindBySchema returns options of the schema in id order.
	FindBySchema(ctx context.Context, schemaID int64) ([]*Option, error)
	FindByID(ctx context.Context, id int64) (*Option, error)
}

type RecordRepository interface {
	Create(ctx context.Context, r *Record) error
	FindByBase(ctx context.Context, baseSubscriptionID int64) ([]*Record, error)
	FindByUpgraded(ctx context.Context, upgradedSubscriptionID int64) (*Record, error)
}

type TrialRepository interface {
	HasAccepted(ctx context.Context, userID, trialPlanID int64) (bool, error)
	Create(ctx context.Context, a *TrialAcceptance) error
	FindByTrialSubscription(ctx context.Context, subscriptionID int64) (*TrialAcceptance, error)

	// FindOpenByUser returns acceptances not finalized yet.
	FindOpenByUser(ctx context.Context, userID int64) ([]*TrialAcceptance, error)

	UpdateLatestEligibleEnd(ctx context.Context, id int64, end time.Time) error
	MarkFinalized(ctx context.Context, id int64, at time.Time) error
}

// AuditLog is the user-action log sink.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
}
