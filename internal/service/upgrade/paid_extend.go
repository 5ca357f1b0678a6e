package upgrade

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"time"

	"upgrade-service/internal/domain/payment"
	"upgrade-service/internal/domain/subscription"
	"upgrade-service/internal/domain/upgrade"
	"upgrade-service/internal/events"
	xerrors "upgrade-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaidExtend sells a full target period, discounted by the unspent base
// value. The split happens once the created payment is paid.
type PaidExtend struct {
	core

	// An unpaid PaidExtend payment already exists for the base
	pending bool
}

func (s *PaidExtend) Type() upgrade.Type { return upgrade.TypePaidExtend }

func (s *PaidExtend) prepare(ctx context.Context) error {
	if s.in.Base == nil {
		return nil
	}
	_, err := s.e.Payments.FindPendingUpgrade(ctx, s.in.Base.ID, string(upgrade.TypePaidExtend))
	switch {
	case err == nil:
		s.pending = true
	case !errors.Is(err, xerrors.ErrNotFound):
		return fmt.Errorf("failed to load pending upgrade payment: %w", err)
	}
	return nil
}

func (s *PaidExtend) Usable() bool {
	if s.pending || !s.scheduleStoppedOrAbsent() || s.in.Base.Ended(s.in.Now) {
		return false
	}
	return WholeDays(s.startPoint(), s.coverageEnd()) < minShortDays
}

func (s *PaidExtend) Price() decimal.Decimal {
	return ChargePrice(decimal.NewFromFloat(s.in.Target.Price).Sub(s.saved()))
}

func (s *PaidExtend) Profitability() float64 { return reciprocal(s.Price()) }

func (s *PaidExtend) Execute(ctx context.Context) (*Outcome, error) {
	s.mustReady()

	p := s.newPayment(s.Type(), s.Price())
	if err := s.e.Payments.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create upgrade payment: %w", err)
	}

	s.e.logger.Info("upgrade payment created",
		zap.Int64("payment_id", p.ID),
		zap.Int64("subscription_id", s.in.Base.ID),
		zap.Float64("amount", p.Amount),
	)
	s.e.funnel(ctx, events.FunnelUpgradePaymentCreated, s.Type(), p.UserID, s.Price(), s.in.Target.ID, s.in.Base.ID, p.ID)
	return &Outcome{Type: s.Type(), Success: true, Deferred: true, Base: s.in.Base, Payment: p}, nil
}

func (s *PaidExtend) UpgradeFollowing(ctx context.Context, sub *subscription.Subscription, start time.Time) (*Following, error) {
	return s.follower().UpgradeFollowing(ctx, sub, start)
}

// CompletePaidExtend applies a paid PaidExtend payment. It returns nil
// without mutating anything when the payment was already applied or no
// subscription can be found for it.
func (e *Engine) CompletePaidExtend(ctx context.Context, p *payment.Payment) (*Outcome, error) {
	if p.UpgradeType != string(upgrade.TypePaidExtend) {
		return nil, nil
	}
	if _, done := p.MetaValue(payment.MetaUpgradedSubscriptionID); done {
		e.logger.Info("upgrade payment already applied", zap.Int64("payment_id", p.ID))
		return nil, nil
	}

	now := e.Now()
	base, err := e.paidExtendBase(ctx, p, now)
	if err != nil || base == nil {
		return nil, err
	}
	anchor, err := e.paidExtendAnchor(ctx, base)
	if err != nil {
		return nil, err
	}

	targetID := p.PlanID
	if v, ok := p.MetaValue(payment.MetaTargetPlanID); ok {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			targetID = id
		}
	}
	target, err := e.Plans.FindByID(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load target plan %d: %w", targetID, err)
	}
	basePlan, err := e.Plans.FindByID(ctx, base.PlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load base plan %d: %w", base.PlanID, err)
	}
	opt := e.paidExtendOption(ctx, p)
	fix, err := parseMonthlyFix(opt.ID, opt.Config.MonthlyFix)
	if err != nil {
		e.logger.Warn("ignoring monthly fix", zap.Int64("option_id", opt.ID), zap.Error(err))
	}

	// Coverage already moved to the target is kept and the period is
	// appended to it. Anything else is split at now.
	start := anchor.EndTime
	if anchor.ID == base.ID || anchor.PlanID != target.ID {
		start = clampTime(now, anchor.StartTime, anchor.EndTime)
	}
	start = start.In(e.loc)
	end := start.AddDate(0, 0, target.LengthDays)
	originalEnd := anchor.EndTime
	paymentID := sql.NullInt64{Int64: p.ID, Valid: true}

	upgraded, err := e.split(ctx, anchor, target, paymentID, start, end)
	if err != nil {
		return nil, err
	}
	if err := e.record(ctx, upgrade.TypePaidExtend, anchor, upgraded, paymentID, now); err != nil {
		return nil, err
	}

	meta := maps.Clone(p.Meta)
	if meta == nil {
		meta = map[string]string{}
	}
	meta[payment.MetaUpgradedSubscriptionID] = strconv.FormatInt(upgraded.ID, 10)
	if err := e.Payments.UpdateMeta(ctx, p.ID, meta); err != nil {
		return nil, fmt.Errorf("failed to mark payment %d applied: %w", p.ID, err)
	}
	p.Meta = meta

	f := &follower{e: e, now: now, typ: upgrade.TypePaidExtend, option: opt, basePlan: basePlan, target: target, fix: fix}
	prop, err := e.propagate(ctx, anchor, originalEnd, end, target, f)
	if err != nil {
		return nil, err
	}

	e.funnel(ctx, events.FunnelUpgradeExecuted, upgrade.TypePaidExtend, p.UserID, decimal.NewFromFloat(p.Amount), target.ID, upgraded.ID, p.ID)
	return &Outcome{Type: upgrade.TypePaidExtend, Success: true, Base: anchor, Upgraded: upgraded, Payment: p, Propagation: prop}, nil
}

// PaidExtendSubscription is the subscription a paid PaidExtend payment will
// split or extend. It is nil when the payment has nothing left to apply.
func (e *Engine) PaidExtendSubscription(ctx context.Context, p *payment.Payment) (*subscription.Subscription, error) {
	if p.UpgradeType != string(upgrade.TypePaidExtend) {
		return nil, nil
	}
	if _, done := p.MetaValue(payment.MetaUpgradedSubscriptionID); done {
		return nil, nil
	}
	base, err := e.paidExtendBase(ctx, p, e.Now())
	if err != nil || base == nil {
		return nil, err
	}
	return e.paidExtendAnchor(ctx, base)
}

// paidExtendAnchor follows upgrade records from base to the newest
// subscription that replaced it.
func (e *Engine) paidExtendAnchor(ctx context.Context, base *subscription.Subscription) (*subscription.Subscription, error) {
	cur := base
	seen := map[int64]bool{base.ID: true}
	for {
		records, err := e.Records.FindByBase(ctx, cur.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load upgrade records of subscription %d: %w", cur.ID, err)
		}
		if len(records) == 0 {
			return cur, nil
		}
		last := records[len(records)-1]
		if seen[last.UpgradedSubscriptionID] {
			return cur, nil
		}
		seen[last.UpgradedSubscriptionID] = true

		next, err := e.Subscriptions.FindByID(ctx, last.UpgradedSubscriptionID)
		if errors.Is(err, xerrors.ErrNotFound) {
			return cur, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load upgraded subscription %d: %w", last.UpgradedSubscriptionID, err)
		}
		cur = next
	}
}

func clampTime(t, lo, hi time.Time) time.Time {
	if t.After(hi) {
		t = hi
	}
	if t.Before(lo) {
		t = lo
	}
	return t
}

// paidExtendBase finds the subscription a PaidExtend payment upgrades,
// falling back to the user's current subscription.
func (e *Engine) paidExtendBase(ctx context.Context, p *payment.Payment, now time.Time) (*subscription.Subscription, error) {
	if v, ok := p.MetaValue(payment.MetaBaseSubscriptionID); ok {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			base, err := e.Subscriptions.FindByID(ctx, id)
			if err == nil {
				return base, nil
			}
			if !errors.Is(err, xerrors.ErrNotFound) {
				return nil, fmt.Errorf("failed to load base subscription %d: %w", id, err)
			}
		}
	}

	subs, err := e.source.Upgradeable(ctx, p.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load active subscriptions: %w", err)
	}
	if len(subs) == 0 {
		e.logger.Warn("no subscription to apply upgrade payment to",
			zap.Int64("payment_id", p.ID),
			zap.Int64("user_id", p.UserID),
		)
		return nil, nil
	}
	e.logger.Warn("upgraded subscription not found, using current subscription",
		zap.Int64("payment_id", p.ID),
		zap.Int64("subscription_id", subs[0].ID),
	)
	return subs[0], nil
}

func (e *Engine) paidExtendOption(ctx context.Context, p *payment.Payment) *upgrade.Option {
	fallback := &upgrade.Option{Type: upgrade.TypePaidExtend}
	v, ok := p.MetaValue(payment.MetaUpgradeOptionID)
	if !ok {
		return fallback
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	opt, err := e.Options.FindByID(ctx, id)
	if err != nil {
		e.logger.Warn("upgrade option of payment not found", zap.Int64("option_id", id), zap.Error(err))
		return fallback
	}
	return opt
}
