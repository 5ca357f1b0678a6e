// Package upgradetest wires a Service over in-memory stores for tests of its callers.
package upgradetest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"upgrade-service/internal/domain/payment"
	"upgrade-service/internal/domain/subscription"
	"upgrade-service/internal/domain/upgrade"
	"upgrade-service/internal/events"
	"upgrade-service/internal/pkg/lock"
	"upgrade-service/internal/pkg/metrics"
	"upgrade-service/internal/repository/memory"
	upgradeUsecase "upgrade-service/internal/service/upgrade"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	UserID   int64 = 1
	SchemaID int64 = 1

	PlanBasic   int64 = 1
	PlanPremium int64 = 2
)

// Now is the fixed clock of every harness.
var Now = time.Date(2021, time.April, 5, 0, 0, 0, 0, time.UTC)

type Harness struct {
	t       *testing.T
	Stores  *memory.Stores
	Events  *events.Recorder
	Metrics *metrics.Metrics
	Service *upgradeUsecase.Service

	nextOption int64
}

// New returns a harness with a basic and a premium plan on schema SchemaID.
func New(t *testing.T) *Harness {
	t.Helper()
	schema := sql.NullInt64{Int64: SchemaID, Valid: true}
	stores := memory.NewStores(
		&subscription.Plan{ID: PlanBasic, Code: "basic", Name: "Basic", Price: 5, LengthDays: 31, Entitlements: []string{"basic"}, IsDefault: true, IsActive: true, UpgradeSchemaID: schema},
		&subscription.Plan{ID: PlanPremium, Code: "premium", Name: "Premium", Price: 10, LengthDays: 31, Entitlements: []string{"basic", "premium"}, IsDefault: true, IsActive: true, UpgradeSchemaID: schema},
	)
	h := &Harness{t: t, Stores: stores, Events: &events.Recorder{}, Metrics: metrics.New()}

	logger := zaptest.NewLogger(t)
	engine := upgradeUsecase.NewEngine(upgradeUsecase.Deps{
		Subscriptions: stores.Subscriptions,
		Plans:         stores.Plans,
		Payments:      stores.Payments,
		Schedules:     stores.Schedules,
		Options:       stores.Options,
		Records:       stores.Records,
		Trials:        stores.Trials,
		Audit:         stores.Audit,
		Events:        h.Events,
	}, logger, upgradeUsecase.WithClock(func() time.Time { return Now }))

	h.Service = upgradeUsecase.NewService(engine, lock.NewMemoryLock(), upgradeUsecase.LockConfig{
		TTL:      5 * time.Second,
		Wait:     2 * time.Second,
		Interval: 5 * time.Millisecond,
	}, h.Metrics, logger)
	return h
}

// Subscribe stores a paid subscription on planID for [start, end).
func (h *Harness) Subscribe(planID int64, start, end time.Time, amount float64) (*subscription.Subscription, *payment.Payment) {
	h.t.Helper()
	ctx := context.Background()

	p := &payment.Payment{
		Reference: "PAY",
		UserID:    UserID,
		PlanID:    planID,
		Amount:    amount,
		GatewayID: "stripe",
		Status:    payment.StatusPaid,
		Items:     []payment.Item{{Type: payment.ItemTypeSubscription, Name: "subscription", Amount: amount}},
	}
	require.NoError(h.t, h.Stores.Payments.Create(ctx, p))

	sub := &subscription.Subscription{
		UserID:    UserID,
		PlanID:    planID,
		PaymentID: sql.NullInt64{Int64: p.ID, Valid: true},
		StartTime: start,
		EndTime:   end,
	}
	require.NoError(h.t, h.Stores.Subscriptions.Create(ctx, sub))
	return sub, p
}

func (h *Harness) Option(typ upgrade.Type, targetPlanID int64, cfg upgrade.Config) *upgrade.Option {
	h.nextOption++
	o := &upgrade.Option{ID: h.nextOption, SchemaID: SchemaID, Type: typ, Config: cfg}
	if targetPlanID != 0 {
		o.TargetPlanID = sql.NullInt64{Int64: targetPlanID, Valid: true}
	}
	h.Stores.Options.Put(o)
	return o
}

// ShortToPremium seeds the basic subscription and one short option to premium.
func (h *Harness) ShortToPremium() *subscription.Subscription {
	h.t.Helper()
	sub, _ := h.Subscribe(PlanBasic, Now.AddDate(0, 0, -1), time.Date(2021, time.May, 5, 0, 0, 0, 0, time.UTC), 5)
	h.Option(upgrade.TypeShort, PlanPremium, upgrade.Config{})
	return sub
}
