package upgrade

import (
	"context"
	"time"

	"upgrade-service/internal/domain/subscription"
	"upgrade-service/internal/domain/upgrade"
	"upgrade-service/internal/events"

	"github.com/shopspring/decimal"
)

// Short trades the unspent base value for a shorter period on the target plan.
type Short struct {
	core
}

func (s *Short) Type() upgrade.Type { return upgrade.TypeShort }

func (s *Short) Usable() bool {
	if !s.scheduleStoppedOrAbsent() {
		return false
	}
	return WholeDays(s.startPoint(), s.coverageEnd()) >= minShortDays
}

// Profitability is the seconds of target coverage bought.
func (s *Short) Profitability() float64 {
	return float64(PurchasableSeconds(s.saved(), s.targetDayPrice()))
}

func (s *Short) Price() decimal.Decimal { return decimal.Zero }

func (s *Short) Execute(ctx context.Context) (*Outcome, error) {
	s.mustReady()

	base := s.in.Base
	originalEnd := base.EndTime
	start, end := s.startPoint(), s.coverageEnd()

	upgraded, err := s.e.split(ctx, base, s.in.Target, base.PaymentID, start, end)
	if err != nil {
		return nil, err
	}
	if err := s.e.record(ctx, s.Type(), base, upgraded, base.PaymentID, s.in.Now); err != nil {
		return nil, err
	}

	prop, err := s.e.propagate(ctx, base, originalEnd, end, s.in.Target, s.follower())
	if err != nil {
		return nil, err
	}

	s.e.funnel(ctx, events.FunnelUpgradeExecuted, s.Type(), base.UserID, decimal.Zero, s.in.Target.ID, upgraded.ID, s.in.BasePayment.ID)
	return &Outcome{Type: s.Type(), Success: true, Base: base, Upgraded: upgraded, Propagation: prop}, nil
}

func (s *Short) UpgradeFollowing(ctx context.Context, sub *subscription.Subscription, start time.Time) (*Following, error) {
	return s.follower().UpgradeFollowing(ctx, sub, start)
}
