// internal/repository/postgres/db.go
package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"upgrade-service/internal/domain/payment"
	"upgrade-service/internal/domain/recurrent"
	"upgrade-service/internal/domain/subscription"
	"upgrade-service/internal/domain/upgrade"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

type DB struct {
	pool *pgxpool.Pool
}

func NewDB(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}

func (db *DB) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return db.pool.Begin(ctx)
}

func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Migrate applies the idempotent schema.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Stores bundles every store port backed by the pool.
type Stores struct {
	Subscriptions *SubscriptionRepository
	Plans         *PlanCatalog
	Payments      *PaymentRepository
	Schedules     *ScheduleRepository
	Options       *OptionRepository
	Records       *RecordRepository
	Trials        *TrialRepository
	Audit         *AuditLog
}

func (db *DB) Stores() *Stores {
	return &Stores{
		Subscriptions: NewSubscriptionRepository(db.pool),
		Plans:         NewPlanCatalog(db.pool),
		Payments:      NewPaymentRepository(db.pool),
		Schedules:     NewScheduleRepository(db.pool),
		Options:       NewOptionRepository(db.pool),
		Records:       NewRecordRepository(db.pool),
		Trials:        NewTrialRepository(db.pool),
		Audit:         NewAuditLog(db.pool),
	}
}

var (
	_ subscription.Repository  = (*SubscriptionRepository)(nil)
	_ subscription.PlanCatalog = (*PlanCatalog)(nil)
	_ payment.Repository       = (*PaymentRepository)(nil)
	_ recurrent.Repository     = (*ScheduleRepository)(nil)
	_ upgrade.OptionRepository = (*OptionRepository)(nil)
	_ upgrade.RecordRepository = (*RecordRepository)(nil)
	_ upgrade.TrialRepository  = (*TrialRepository)(nil)
	_ upgrade.AuditLog         = (*AuditLog)(nil)
)
