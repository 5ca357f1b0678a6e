package upgrade

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"time"

	"upgrade-service/internal/domain/payment"
	"upgrade-service/internal/domain/subscription"
	"upgrade-service/internal/domain/upgrade"
	"upgrade-service/internal/events"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const resultCodeError = "gateway_error"

// PaidRecurrent charges the price difference for the rest of the period
// against the stored method and moves future charges to the target.
type PaidRecurrent struct {
	core
}

func (s *PaidRecurrent) Type() upgrade.Type { return upgrade.TypePaidRecurrent }

func (s *PaidRecurrent) prepare(ctx context.Context) error { return s.prepareNext(ctx) }

func (s *PaidRecurrent) Usable() bool {
	if !s.recurrentGate() {
		return false
	}
	if DaysRemaining(s.in.Base, s.in.Now) < minRecurrentDays {
		return false
	}
	return s.in.Target.Price != s.in.BasePlan.Price
}

func (s *PaidRecurrent) Price() decimal.Decimal {
	days := decimal.NewFromInt(int64(DaysRemaining(s.in.Base, s.in.Now)))
	return ChargePrice(days.Mul(s.targetDayPrice()).Sub(s.saved()))
}

func (s *PaidRecurrent) Profitability() float64 { return reciprocal(s.Price()) }

// Execute charges first. Nothing is split unless the charge succeeds.
func (s *PaidRecurrent) Execute(ctx context.Context) (*Outcome, error) {
	s.mustReady()
	if s.in.Schedule == nil {
		return nil, upgrade.ErrNotUsable
	}

	price := s.Price()
	p := s.newPayment(s.Type(), price)
	if err := s.e.Payments.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create upgrade payment: %w", err)
	}
	s.e.funnel(ctx, events.FunnelUpgradePaymentCreated, s.Type(), p.UserID, price, s.in.Target.ID, s.in.Base.ID, p.ID)

	result, err := s.charge(ctx, p)
	if err != nil || !result.Success {
		code := resultCodeError
		if result != nil && result.ResultCode != "" {
			code = result.ResultCode
		}
		s.e.logger.Warn("upgrade charge failed",
			zap.Int64("payment_id", p.ID),
			zap.String("result_code", code),
			zap.Error(err),
		)
		if err := s.settle(ctx, p, payment.StatusFailed, code); err != nil {
			return nil, err
		}
		return &Outcome{Type: s.Type(), Success: false, ResultCode: code, Base: s.in.Base, Payment: p}, nil
	}

	if err := s.settle(ctx, p, payment.StatusPaid, result.ResultCode); err != nil {
		return nil, err
	}

	upgraded, prop, err := s.keepEnd(ctx, sql.NullInt64{Int64: p.ID, Valid: true})
	if err != nil {
		return nil, err
	}

	s.e.funnel(ctx, events.FunnelUpgradeExecuted, s.Type(), p.UserID, price, s.in.Target.ID, upgraded.ID, p.ID)
	return &Outcome{
		Type:        s.Type(),
		Success:     true,
		ResultCode:  result.ResultCode,
		Base:        s.in.Base,
		Upgraded:    upgraded,
		Payment:     p,
		Propagation: prop,
	}, nil
}

func (s *PaidRecurrent) charge(ctx context.Context, p *payment.Payment) (*payment.ChargeResult, error) {
	if s.e.Gateway == nil {
		return nil, fmt.Errorf("no payment gateway configured")
	}
	return s.e.Gateway.Charge(ctx, p, s.in.Schedule.PaymentMethodToken)
}

func (s *PaidRecurrent) settle(ctx context.Context, p *payment.Payment, status payment.Status, code string) error {
	if err := s.e.Payments.UpdateStatus(ctx, p.ID, status); err != nil {
		return fmt.Errorf("failed to update payment %d status: %w", p.ID, err)
	}
	p.Status = status

	meta := maps.Clone(p.Meta)
	meta[payment.MetaGatewayResultCode] = code
	if err := s.e.Payments.UpdateMeta(ctx, p.ID, meta); err != nil {
		return fmt.Errorf("failed to update payment %d meta: %w", p.ID, err)
	}
	p.Meta = meta
	return nil
}

func (s *PaidRecurrent) UpgradeFollowing(ctx context.Context, sub *subscription.Subscription, start time.Time) (*Following, error) {
	return s.follower().UpgradeFollowing(ctx, sub, start)
}
