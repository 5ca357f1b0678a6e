// internal/repository/postgres/plans.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"upgrade-service/internal/domain/subscription"
	xerrors "upgrade-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// PlanCatalog reads plans from subscription_plans.
type PlanCatalog struct {
	db *pgxpool.Pool
}

func NewPlanCatalog(db *pgxpool.Pool) *PlanCatalog {
	return &PlanCatalog{db: db}
}

const planColumns = `
	id, code, name, price, length_days, extending_length_days, entitlements,
	is_default, is_active, next_plan_id, upgrade_schema_id, created_at, updated_at`

func scanPlan(row pgx.Row) (*subscription.Plan, error) {
	var (
		plan         subscription.Plan
		entitlements []string
	)
	err := row.Scan(
		&plan.ID, &plan.Code, &plan.Name, &plan.Price, &plan.LengthDays, &plan.ExtendingLengthDays,
		pq.Array(&entitlements),
		&plan.IsDefault, &plan.IsActive, &plan.NextPlanID, &plan.UpgradeSchemaID,
		&plan.CreatedAt, &plan.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	plan.Entitlements = entitlements
	return &plan, nil
}

func (c *PlanCatalog) findOne(ctx context.Context, where string, arg any) (*subscription.Plan, error) {
	query := `SELECT` + planColumns + ` FROM subscription_plans WHERE ` + where

	plan, err := scanPlan(c.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find plan: %w", err)
	}
	return plan, nil
}

func (c *PlanCatalog) findMany(ctx context.Context, query string, args ...any) ([]*subscription.Plan, error) {
	rows, err := c.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []*subscription.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

func (c *PlanCatalog) FindByID(ctx context.Context, id int64) (*subscription.Plan, error) {
	return c.findOne(ctx, "id = $1", id)
}

func (c *PlanCatalog) FindByCode(ctx context.Context, code string) (*subscription.Plan, error) {
	return c.findOne(ctx, "code = $1", code)
}

func (c *PlanCatalog) FindDefaultsByLength(ctx context.Context, lengthDays int) ([]*subscription.Plan, error) {
	query := `SELECT` + planColumns + `
		FROM subscription_plans
		WHERE is_active AND is_default AND length_days = $1
		ORDER BY price, id
	`
	return c.findMany(ctx, query, lengthDays)
}

// Create is used by seeding tools; the engine never writes plans.
func (c *PlanCatalog) Create(ctx context.Context, plan *subscription.Plan) error {
	query := `
		INSERT INTO subscription_plans (
			code, name, price, length_days, extending_length_days, entitlements,
			is_default, is_active, next_plan_id, upgrade_schema_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`
	err := c.db.QueryRow(
		ctx, query,
		plan.Code, plan.Name, plan.Price, plan.LengthDays, plan.ExtendingLengthDays, pq.Array(plan.Entitlements),
		plan.IsDefault, plan.IsActive, plan.NextPlanID, plan.UpgradeSchemaID,
	).Scan(&plan.ID, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}
	return nil
}
