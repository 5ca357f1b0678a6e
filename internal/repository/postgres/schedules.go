// internal/repository/postgres/schedules.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"upgrade-service/internal/domain/recurrent"
	xerrors "upgrade-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ScheduleRepository struct {
	db *pgxpool.Pool
}

func NewScheduleRepository(db *pgxpool.Pool) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

func (r *ScheduleRepository) Create(ctx context.Context, s *recurrent.Schedule) error {
	query := `
		INSERT INTO recurrent_schedules (
			user_id, parent_payment_id, payment_method_token, gateway_customer, gateway_id,
			next_charge_time, state, next_plan_id, custom_amount, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(
		ctx, query,
		s.UserID, s.ParentPaymentID, s.PaymentMethodToken, s.GatewayCustomer, s.GatewayID,
		s.NextChargeTime, s.State, s.NextPlanID, s.CustomAmount, s.ExpiresAt,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

func (r *ScheduleRepository) FindByPayment(ctx context.Context, paymentID int64) (*recurrent.Schedule, error) {
	query := `
		SELECT id, user_id, parent_payment_id, payment_method_token, gateway_customer, gateway_id,
		       next_charge_time, state, next_plan_id, custom_amount, expires_at, created_at, updated_at
		FROM recurrent_schedules
		WHERE parent_payment_id = $1
		ORDER BY id DESC
		LIMIT 1
	`
	var s recurrent.Schedule
	err := r.db.QueryRow(ctx, query, paymentID).Scan(
		&s.ID, &s.UserID, &s.ParentPaymentID, &s.PaymentMethodToken, &s.GatewayCustomer, &s.GatewayID,
		&s.NextChargeTime, &s.State, &s.NextPlanID, &s.CustomAmount, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find schedule: %w", err)
	}
	return &s, nil
}

func affected(result pgconn.CommandTag, err error, action string) error {
	if err != nil {
		return fmt.Errorf("failed to %s: %w", action, err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *ScheduleRepository) UpdateNextCharge(ctx context.Context, id int64, next time.Time, nextPlanID sql.NullInt64) error {
	query := `
		UPDATE recurrent_schedules
		SET next_charge_time = $1, next_plan_id = $2, updated_at = NOW()
		WHERE id = $3
	`
	result, err := r.db.Exec(ctx, query, next, nextPlanID, id)
	return affected(result, err, "update schedule charge time")
}

func (r *ScheduleRepository) UpdatePlan(ctx context.Context, id int64, nextPlanID sql.NullInt64, customAmount sql.NullFloat64) error {
	query := `
		UPDATE recurrent_schedules
		SET next_plan_id = $1, custom_amount = $2, updated_at = NOW()
		WHERE id = $3
	`
	result, err := r.db.Exec(ctx, query, nextPlanID, customAmount, id)
	return affected(result, err, "update schedule plan")
}
