// Package upgrade resolves, prices and applies subscription upgrades.
package upgrade

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"upgrade-service/internal/domain/payment"
	"upgrade-service/internal/domain/recurrent"
	"upgrade-service/internal/domain/subscription"
	"upgrade-service/internal/domain/upgrade"
	"upgrade-service/internal/events"
	xerrors "upgrade-service/internal/pkg/errors"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Deps are the stores and collaborators the engine reads and mutates.
type Deps struct {
	Subscriptions subscription.Repository
	Plans         subscription.PlanCatalog
	Payments      payment.Repository
	Schedules     recurrent.Repository
	Options       upgrade.OptionRepository
	Records       upgrade.RecordRepository
	Trials        upgrade.TrialRepository
	Audit         upgrade.AuditLog
	Gateway       payment.Gateway
	Events        events.Publisher
}

type Engine struct {
	Deps

	targets *TargetResolver
	source  CandidateSource
	now     func() time.Time
	loc     *time.Location
	logger  *zap.Logger
}

type EngineOption func(*Engine)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the location calendar math runs in.
func WithLocation(loc *time.Location) EngineOption {
	return func(e *Engine) { e.loc = loc }
}

// WithCandidateSource replaces the default active-subscription source.
func WithCandidateSource(src CandidateSource) EngineOption {
	return func(e *Engine) { e.source = src }
}

func NewEngine(deps Deps, logger *zap.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		Deps:    deps,
		targets: NewTargetResolver(deps.Plans),
		source:  ActiveSource{Subscriptions: deps.Subscriptions},
		now:     time.Now,
		loc:     time.UTC,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now is the engine's current instant in its calendar location.
func (e *Engine) Now() time.Time {
	return e.now().In(e.loc)
}

func (e *Engine) Targets() *TargetResolver { return e.targets }

// scheduleFor returns the recurring schedule created from paymentID, nil if none.
func (e *Engine) scheduleFor(ctx context.Context, paymentID sql.NullInt64) (*recurrent.Schedule, error) {
	if !paymentID.Valid {
		return nil, nil
	}
	sched, err := e.Schedules.FindByPayment(ctx, paymentID.Int64)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recurring schedule: %w", err)
	}
	return sched, nil
}

// fundingPayment is the paid payment sub is funded by, xerrors.ErrNotFound if none.
func (e *Engine) fundingPayment(ctx context.Context, sub *subscription.Subscription) (*payment.Payment, error) {
	if sub.PaymentID.Valid {
		p, err := e.Payments.FindByID(ctx, sub.PaymentID.Int64)
		if err != nil && !errors.Is(err, xerrors.ErrNotFound) {
			return nil, err
		}
		if err == nil && p.Status == payment.StatusPaid {
			return p, nil
		}
	}
	return e.Payments.FindFundingPayment(ctx, sub.ID)
}

// amountSpentOn values sub for proration; without a funding payment the plan price is used.
func (e *Engine) amountSpentOn(ctx context.Context, sub *subscription.Subscription, plan *subscription.Plan) (decimal.Decimal, error) {
	p, err := e.fundingPayment(ctx, sub)
	if errors.Is(err, xerrors.ErrNotFound) {
		return SubscriptionValue(sub, plan, nil), nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load funding payment: %w", err)
	}
	return SubscriptionValue(sub, plan, p), nil
}

func (e *Engine) record(ctx context.Context, typ upgrade.Type, base, upgraded *subscription.Subscription, paymentID sql.NullInt64, now time.Time) error {
	r := &upgrade.Record{
		BaseSubscriptionID:     base.ID,
		UpgradedSubscriptionID: upgraded.ID,
		Type:                   typ,
		PaymentID:              paymentID,
		CreatedAt:              now,
	}
	if err := e.Records.Create(ctx, r); err != nil {
		return fmt.Errorf("failed to write upgrade record: %w", err)
	}
	return nil
}

func (e *Engine) audit(ctx context.Context, userID int64, action string, params map[string]any) {
	entry := upgrade.AuditEntry{UserID: userID, Action: action, Params: params, CreatedAt: e.Now()}
	if err := e.Audit.Append(ctx, entry); err != nil {
		e.logger.Warn("failed to append audit entry", zap.String("action", action), zap.Error(err))
	}
}

// publish never fails the caller; the mutation it reports has already happened.
func (e *Engine) publish(ctx context.Context, topic string, key int64, at time.Time, payload any) {
	if e.Events == nil {
		return
	}
	err := e.Events.Publish(ctx, events.Event{
		Topic:      topic,
		Key:        strconv.FormatInt(key, 10),
		OccurredAt: at,
		Payload:    payload,
	})
	if err != nil {
		e.logger.Warn("failed to publish event", zap.String("topic", topic), zap.Error(err))
	}
}

func (e *Engine) shortened(ctx context.Context, sub *subscription.Subscription, originalEnd, newEnd time.Time) {
	e.publish(ctx, events.TopicSubscriptionShortened, sub.ID, e.Now(), events.SubscriptionShortened{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		OriginalEnd:    originalEnd,
		NewEnd:         newEnd,
	})
}

func (e *Engine) funnel(ctx context.Context, event string, typ upgrade.Type, userID int64, revenue decimal.Decimal, productID, subscriptionID, paymentID int64) {
	at := e.Now()
	e.publish(ctx, events.TopicSalesFunnel, userID, at, events.SalesFunnel{
		Event:          event,
		UserID:         userID,
		Strategy:       string(typ),
		Revenue:        revenue.InexactFloat64(),
		ProductID:      productID,
		SubscriptionID: subscriptionID,
		PaymentID:      paymentID,
		OccurredAt:     at,
	})
}

func newReference() string {
	return "UPG-" + ulid.Make().String()
}
