package upgrade

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"upgrade-service/internal/domain/payment"
	"upgrade-service/internal/domain/recurrent"
	"upgrade-service/internal/domain/subscription"
	"upgrade-service/internal/domain/upgrade"
	xerrors "upgrade-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	minShortDays        = 14
	minRecurrentDays    = 5
	methodExpiryHorizon = 31 * 24 * time.Hour
)

// Strategy is one priced way of moving a base subscription onto a target plan.
// A strategy is built for a single request and never reused.
type Strategy interface {
	Type() upgrade.Type
	Option() *upgrade.Option
	Base() *subscription.Subscription
	Target() *subscription.Plan

	Usable() bool
	// Profitability ranks strategies of the same type only.
	Profitability() float64
	// Price is what executing charges now.
	Price() decimal.Decimal

	Execute(ctx context.Context) (*Outcome, error)

	applyConfig(cfg upgrade.Config) error
	prepare(ctx context.Context) error
}

// Subsequent is implemented by strategies that can re-apply themselves to
// subscriptions queued after the upgraded one.
type Subsequent interface {
	UpgradeFollowing(ctx context.Context, follower *subscription.Subscription, start time.Time) (*Following, error)
}

// Input is everything a strategy needs, loaded before it is built.
type Input struct {
	Now         time.Time
	Option      *upgrade.Option
	Base        *subscription.Subscription
	BasePayment *payment.Payment
	BasePlan    *subscription.Plan
	Target      *subscription.Plan
	Schedule    *recurrent.Schedule
}

type Outcome struct {
	Type       upgrade.Type `json:"type"`
	Success    bool         `json:"success"`
	Deferred   bool         `json:"deferred,omitempty"`
	ResultCode string       `json:"result_code,omitempty"`

	Base        *subscription.Subscription `json:"base,omitempty"`
	Upgraded    *subscription.Subscription `json:"upgraded,omitempty"`
	Payment     *payment.Payment           `json:"payment,omitempty"`
	Propagation *Propagation               `json:"propagation,omitempty"`
}

// NewStrategy builds the strategy configured by in.Option.
func (e *Engine) NewStrategy(ctx context.Context, in Input) (Strategy, error) {
	if in.Option == nil {
		panic("upgrade: strategy built without an option")
	}

	c := core{e: e, in: in}
	if in.Base != nil {
		c.amountSpent = SubscriptionValue(in.Base, in.BasePlan, in.BasePayment)
	}

	var s Strategy
	switch in.Option.Type {
	case upgrade.TypeShort:
		s = &Short{core: c}
	case upgrade.TypePaidExtend:
		s = &PaidExtend{core: c}
	case upgrade.TypePaidRecurrent:
		s = &PaidRecurrent{core: c}
	case upgrade.TypeFreeRecurrent:
		s = &FreeRecurrent{core: c}
	case upgrade.TypeTrial:
		s = &Trial{core: c}
	default:
		return nil, &upgrade.MisconfigurationError{OptionID: in.Option.ID, Field: "type", Value: string(in.Option.Type)}
	}

	if err := s.applyConfig(in.Option.Config); err != nil {
		return nil, err
	}
	if err := s.prepare(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// core holds the state and arithmetic every strategy shares.
type core struct {
	e  *Engine
	in Input

	amountSpent decimal.Decimal
	monthlyFix  decimal.NullDecimal

	// Plan the recurring schedule charges next, nil means the target
	next *subscription.Plan
}

func (c *core) Option() *upgrade.Option          { return c.in.Option }
func (c *core) Base() *subscription.Subscription { return c.in.Base }
func (c *core) Target() *subscription.Plan       { return c.in.Target }

func (c *core) applyConfig(cfg upgrade.Config) error {
	fix, err := parseMonthlyFix(c.in.Option.ID, cfg.MonthlyFix)
	if err != nil {
		return err
	}
	c.monthlyFix = fix
	return nil
}

func (c *core) prepare(context.Context) error { return nil }

func parseMonthlyFix(optionID int64, raw string) (decimal.NullDecimal, error) {
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	fix, err := decimal.NewFromString(raw)
	if err != nil || fix.IsNegative() {
		return decimal.NullDecimal{}, &upgrade.MisconfigurationError{OptionID: optionID, Field: "monthly_fix", Value: raw}
	}
	return decimal.NewNullDecimal(fix), nil
}

func (c *core) mustReady() {
	if c.in.Base == nil || c.in.BasePayment == nil || c.in.Target == nil || c.in.BasePlan == nil {
		panic("upgrade: strategy executed without base subscription, base payment or target plan")
	}
}

func (c *core) startPoint() time.Time {
	return StartPoint(c.in.Base, c.in.Now)
}

func (c *core) saved() decimal.Decimal {
	return SavedValue(c.in.Base, c.amountSpent, c.in.Now)
}

func (c *core) targetDayPrice() decimal.Decimal {
	return TargetDayPrice(c.in.Target, c.in.BasePlan, c.monthlyFix)
}

// coverageEnd is where target coverage bought with the saved value ends.
func (c *core) coverageEnd() time.Time {
	return ShortenedEndTime(c.in.Base, c.amountSpent, c.targetDayPrice(), c.in.Now)
}

func (c *core) scheduleStoppedOrAbsent() bool {
	return c.in.Schedule == nil || c.in.Schedule.Stopped()
}

// recurrentGate holds for an active schedule whose stored method stays valid.
func (c *core) recurrentGate() bool {
	s := c.in.Schedule
	return s != nil && s.Active() && !s.ExpiresWithin(c.in.Now, methodExpiryHorizon)
}

func (c *core) follower() *follower {
	return &follower{
		e:        c.e,
		now:      c.in.Now,
		typ:      c.in.Option.Type,
		option:   c.in.Option,
		basePlan: c.in.BasePlan,
		target:   c.in.Target,
		fix:      c.monthlyFix,
	}
}

// prepareNext resolves the target for the plan the base rolls into after
// this period, so renewals keep the upgrade.
func (c *core) prepareNext(ctx context.Context) error {
	if c.in.BasePlan == nil || c.in.Target == nil || !c.in.BasePlan.NextPlanID.Valid {
		return nil
	}
	nextPlan, err := c.e.Plans.FindByID(ctx, c.in.BasePlan.NextPlanID.Int64)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load next plan: %w", err)
	}

	required := union(c.in.Option.Config.RequireContent, c.in.Target.Entitlements)
	target, err := c.e.targets.Resolve(ctx, nextPlan, 0, required, c.in.Option.Config.OmitContent)
	var noDefault *upgrade.NoDefaultPlanError
	switch {
	case errors.Is(err, upgrade.ErrNoUpgradeNeeded):
		c.next = nextPlan
	case errors.As(err, &noDefault):
		c.e.logger.Warn("no default plan for rollover, charging the target",
			zap.Int64("next_plan_id", nextPlan.ID),
			zap.Strings("entitlements", noDefault.Entitlements),
		)
	case err != nil:
		return err
	default:
		c.next = target
	}
	return nil
}

// futureCharge is the plan and price the schedule charges at the next renewal.
// custom is set when a monthly fix overrides the plan price.
func (c *core) futureCharge() (plan *subscription.Plan, price decimal.Decimal, custom sql.NullFloat64) {
	plan = c.in.Target
	if c.next != nil {
		plan = c.next
	}
	price = decimal.NewFromFloat(plan.Price)
	if c.monthlyFix.Valid {
		price = ChargePrice(decimal.NewFromFloat(c.in.BasePlan.Price).Add(c.monthlyFix.Decimal))
		return plan, price, sql.NullFloat64{Float64: price.InexactFloat64(), Valid: true}
	}
	return plan, ChargePrice(price), sql.NullFloat64{}
}

func (c *core) newPayment(typ upgrade.Type, price decimal.Decimal) *payment.Payment {
	amount := price.InexactFloat64()
	return &payment.Payment{
		Reference:      newReference(),
		UserID:         c.in.Base.UserID,
		PlanID:         c.in.Target.ID,
		SubscriptionID: sql.NullInt64{Int64: c.in.Base.ID, Valid: true},
		Amount:         amount,
		GatewayID:      c.in.BasePayment.GatewayID,
		Status:         payment.StatusPending,
		UpgradeType:    string(typ),
		Meta: map[string]string{
			payment.MetaBaseSubscriptionID: fmt.Sprint(c.in.Base.ID),
			payment.MetaUpgradeOptionID:    fmt.Sprint(c.in.Option.ID),
			payment.MetaTargetPlanID:       fmt.Sprint(c.in.Target.ID),
		},
		Items: []payment.Item{{
			Type:   payment.ItemTypeUpgrade,
			Name:   c.in.Target.Name,
			Amount: amount,
		}},
	}
}

func reciprocal(price decimal.Decimal) float64 {
	if !price.IsPositive() {
		return 0
	}
	return 1 / price.InexactFloat64()
}

// keepEnd splits the base at the start point onto the target, leaving its end in place.
func (c *core) keepEnd(ctx context.Context, paymentID sql.NullInt64) (*subscription.Subscription, *Propagation, error) {
	base := c.in.Base
	originalEnd := base.EndTime

	upgraded, err := c.e.split(ctx, base, c.in.Target, paymentID, c.startPoint(), originalEnd)
	if err != nil {
		return nil, nil, err
	}
	if err := c.e.record(ctx, c.in.Option.Type, base, upgraded, paymentID, c.in.Now); err != nil {
		return nil, nil, err
	}

	next, _, custom := c.futureCharge()
	nextPlanID := sql.NullInt64{Int64: next.ID, Valid: true}
	if err := c.e.Schedules.UpdatePlan(ctx, c.in.Schedule.ID, nextPlanID, custom); err != nil {
		return nil, nil, fmt.Errorf("failed to update recurring schedule: %w", err)
	}

	prop, err := c.e.propagate(ctx, base, originalEnd, originalEnd, c.in.Target, c.follower())
	if err != nil {
		return nil, nil, err
	}
	return upgraded, prop, nil
}
