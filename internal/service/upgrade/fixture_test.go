package upgrade

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"upgrade-service/internal/domain/payment"
	"upgrade-service/internal/domain/recurrent"
	"upgrade-service/internal/domain/subscription"
	"upgrade-service/internal/domain/upgrade"
	"upgrade-service/internal/events"
	"upgrade-service/internal/repository/memory"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	userID   int64 = 1
	schemaID int64 = 1

	planBasic   int64 = 1
	planPremium int64 = 2
	planSport   int64 = 3
	planBundle  int64 = 4
	planBasic2  int64 = 5
	planTrial   int64 = 6
)

func day(month time.Month, d int) time.Time {
	return time.Date(2021, month, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	t   *testing.T
	ctx context.Context
	now time.Time

	subs      *memory.SubscriptionRepository
	plans     *memory.PlanCatalog
	payments  *memory.PaymentRepository
	schedules *memory.ScheduleRepository
	options   *memory.OptionRepository
	records   *memory.RecordRepository
	trials    *memory.TrialRepository
	audit     *memory.AuditLog
	events    *events.Recorder

	engine *Engine
	nextOp int64
}

func catalog() *memory.PlanCatalog {
	schema := sql.NullInt64{Int64: schemaID, Valid: true}
	return memory.NewPlanCatalog(
		&subscription.Plan{ID: planBasic, Code: "basic", Name: "Basic", Price: 5, LengthDays: 31, Entitlements: []string{"basic"}, IsDefault: true, IsActive: true, UpgradeSchemaID: schema},
		&subscription.Plan{ID: planPremium, Code: "premium", Name: "Premium", Price: 10, LengthDays: 31, Entitlements: []string{"basic", "premium"}, IsDefault: true, IsActive: true, UpgradeSchemaID: schema},
		&subscription.Plan{ID: planSport, Code: "sport", Name: "Sport", Price: 8, LengthDays: 31, Entitlements: []string{"basic", "sport"}, IsDefault: true, IsActive: true, UpgradeSchemaID: schema},
		&subscription.Plan{ID: planBundle, Code: "bundle", Name: "Bundle", Price: 12, LengthDays: 31, Entitlements: []string{"basic", "premium", "sport"}, IsDefault: true, IsActive: true, UpgradeSchemaID: schema},
		&subscription.Plan{ID: planBasic2, Code: "basic-plus", Name: "Basic Plus", Price: 6, LengthDays: 31, Entitlements: []string{"basic"}, IsActive: true, UpgradeSchemaID: schema},
		&subscription.Plan{ID: planTrial, Code: "premium-trial", Name: "Premium Trial", LengthDays: 31, Entitlements: []string{"basic", "premium"}, IsActive: true},
	)
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{
		t:         t,
		ctx:       context.Background(),
		now:       now,
		subs:      memory.NewSubscriptionRepository(),
		plans:     catalog(),
		payments:  memory.NewPaymentRepository(),
		schedules: memory.NewScheduleRepository(),
		options:   memory.NewOptionRepository(),
		records:   memory.NewRecordRepository(),
		trials:    memory.NewTrialRepository(),
		audit:     memory.NewAuditLog(),
		events:    &events.Recorder{},
	}
	f.build(nil)
	return f
}

func (f *fixture) build(gateway payment.Gateway) {
	f.engine = NewEngine(Deps{
		Subscriptions: f.subs,
		Plans:         f.plans,
		Payments:      f.payments,
		Schedules:     f.schedules,
		Options:       f.options,
		Records:       f.records,
		Trials:        f.trials,
		Audit:         f.audit,
		Gateway:       gateway,
		Events:        f.events,
	}, zaptest.NewLogger(f.t), WithClock(func() time.Time { return f.now }))
}

// subscribe stores a paid subscription on planID for [start, end).
func (f *fixture) subscribe(planID int64, start, end time.Time, amount float64) (*subscription.Subscription, *payment.Payment) {
	f.t.Helper()
	p := &payment.Payment{
		Reference: "PAY",
		UserID:    userID,
		PlanID:    planID,
		Amount:    amount,
		GatewayID: "stripe",
		Status:    payment.StatusPaid,
		Items:     []payment.Item{{Type: payment.ItemTypeSubscription, Name: "subscription", Amount: amount}},
	}
	require.NoError(f.t, f.payments.Create(f.ctx, p))

	sub := &subscription.Subscription{
		UserID:    userID,
		PlanID:    planID,
		PaymentID: sql.NullInt64{Int64: p.ID, Valid: true},
		StartTime: start,
		EndTime:   end,
	}
	require.NoError(f.t, f.subs.Create(f.ctx, sub))
	return sub, p
}

func (f *fixture) option(typ upgrade.Type, targetPlanID int64, cfg upgrade.Config) *upgrade.Option {
	f.nextOp++
	o := &upgrade.Option{ID: f.nextOp, SchemaID: schemaID, Type: typ, Config: cfg}
	if targetPlanID != 0 {
		o.TargetPlanID = sql.NullInt64{Int64: targetPlanID, Valid: true}
	}
	f.options.Put(o)
	return o
}

func (f *fixture) schedule(parent *payment.Payment, state recurrent.State, next time.Time) *recurrent.Schedule {
	f.t.Helper()
	s := &recurrent.Schedule{
		UserID:             userID,
		ParentPaymentID:    parent.ID,
		PaymentMethodToken: "pm_card",
		GatewayID:          "stripe",
		NextChargeTime:     next,
		State:              state,
		NextPlanID:         sql.NullInt64{Int64: parent.PlanID, Valid: true},
	}
	require.NoError(f.t, f.schedules.Create(f.ctx, s))
	return s
}

func (f *fixture) sub(id int64) *subscription.Subscription {
	f.t.Helper()
	s, err := f.subs.FindByID(f.ctx, id)
	require.NoError(f.t, err)
	return s
}

func (f *fixture) resolve(q Query) *Resolution {
	f.t.Helper()
	res, err := f.engine.Resolve(f.ctx, q)
	require.NoError(f.t, err)
	return res
}

// coverage returns the user's non-empty, non-trial subscriptions in start order.
func (f *fixture) coverage() []*subscription.Subscription {
	var out []*subscription.Subscription
	for _, s := range f.subs.FindByUser(userID) {
		if s.Duration() > 0 && s.Kind != subscription.KindTrial {
			out = append(out, s)
		}
	}
	return out
}

func requireContiguous(t *testing.T, subs []*subscription.Subscription) {
	t.Helper()
	for i := 1; i < len(subs); i++ {
		require.Truef(t, subs[i-1].EndTime.Equal(subs[i].StartTime),
			"subscription %d ends %s but %d starts %s", subs[i-1].ID, subs[i-1].EndTime, subs[i].ID, subs[i].StartTime)
	}
}
