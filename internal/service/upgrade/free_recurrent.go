package upgrade

import (
	"context"
	"time"

	"upgrade-service/internal/domain/subscription"
	"upgrade-service/internal/domain/upgrade"
	"upgrade-service/internal/events"

	"github.com/shopspring/decimal"
)

// FreeRecurrent switches plans now and charges the target from the next renewal.
type FreeRecurrent struct {
	core
}

func (s *FreeRecurrent) Type() upgrade.Type { return upgrade.TypeFreeRecurrent }

func (s *FreeRecurrent) prepare(ctx context.Context) error { return s.prepareNext(ctx) }

func (s *FreeRecurrent) Usable() bool {
	if !s.recurrentGate() {
		return false
	}
	if s.in.Target.Price == s.in.BasePlan.Price {
		return true
	}
	return DaysRemaining(s.in.Base, s.in.Now) >= minRecurrentDays
}

func (s *FreeRecurrent) Price() decimal.Decimal { return decimal.Zero }

// Profitability is the reciprocal of the next renewal price.
func (s *FreeRecurrent) Profitability() float64 {
	_, price, _ := s.futureCharge()
	return reciprocal(price)
}

func (s *FreeRecurrent) Execute(ctx context.Context) (*Outcome, error) {
	s.mustReady()
	if s.in.Schedule == nil {
		return nil, upgrade.ErrNotUsable
	}

	upgraded, prop, err := s.keepEnd(ctx, s.in.Base.PaymentID)
	if err != nil {
		return nil, err
	}

	s.e.funnel(ctx, events.FunnelUpgradeExecuted, s.Type(), s.in.Base.UserID, decimal.Zero, s.in.Target.ID, upgraded.ID, s.in.BasePayment.ID)
	return &Outcome{Type: s.Type(), Success: true, Base: s.in.Base, Upgraded: upgraded, Propagation: prop}, nil
}

func (s *FreeRecurrent) UpgradeFollowing(ctx context.Context, sub *subscription.Subscription, start time.Time) (*Following, error) {
	return s.follower().UpgradeFollowing(ctx, sub, start)
}
