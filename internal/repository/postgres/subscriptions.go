// internal/repository/postgres/subscriptions.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"upgrade-service/internal/domain/subscription"
	xerrors "upgrade-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SubscriptionRepository struct {
	db *pgxpool.Pool
}

func NewSubscriptionRepository(db *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `
	id, user_id, plan_id, payment_id, kind, is_recurring,
	start_time, end_time, next_subscription_id, address_id, note,
	created_at, updated_at`

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanID, &sub.PaymentID, &sub.Kind, &sub.IsRecurring,
		&sub.StartTime, &sub.EndTime, &sub.NextSubscriptionID, &sub.AddressID, &sub.Note,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func collectSubscriptions(rows pgx.Rows) ([]*subscription.Subscription, error) {
	defer rows.Close()

	var subs []*subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// Create inserts the subscription and fills its id and timestamps.
func (r *SubscriptionRepository) Create(ctx context.Context, sub *subscription.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			user_id, plan_id, payment_id, kind, is_recurring,
			start_time, end_time, next_subscription_id, address_id, note
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`
	if sub.Kind == "" {
		sub.Kind = subscription.KindRegular
	}

	err := r.db.QueryRow(
		ctx, query,
		sub.UserID, sub.PlanID, sub.PaymentID, sub.Kind, sub.IsRecurring,
		sub.StartTime, sub.EndTime, sub.NextSubscriptionID, sub.AddressID, sub.Note,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) FindByID(ctx context.Context, id int64) (*subscription.Subscription, error) {
	query := `SELECT` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	return sub, nil
}

func (r *SubscriptionRepository) FindActiveByUser(ctx context.Context, userID int64, at time.Time) ([]*subscription.Subscription, error) {
	query := `SELECT` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1 AND end_time >= $2
		ORDER BY start_time, id
	`
	rows, err := r.db.Query(ctx, query, userID, at)
	if err != nil {
		return nil, fmt.Errorf("failed to list active subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

func (r *SubscriptionRepository) FindStartingAt(ctx context.Context, userID int64, at time.Time) ([]*subscription.Subscription, error) {
	query := `SELECT` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1 AND start_time = $2
		ORDER BY start_time, id
	`
	rows, err := r.db.Query(ctx, query, userID, at)
	if err != nil {
		return nil, fmt.Errorf("failed to list following subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

func (r *SubscriptionRepository) UpdatePeriod(ctx context.Context, id int64, start, end time.Time, note string) error {
	query := `
		UPDATE subscriptions
		SET start_time = $1, end_time = $2, note = $3, updated_at = NOW()
		WHERE id = $4
	`
	result, err := r.db.Exec(ctx, query, start, end, note, id)
	if err != nil {
		return fmt.Errorf("failed to update subscription period: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *SubscriptionRepository) UpdateEndTime(ctx context.Context, id int64, end time.Time) error {
	query := `UPDATE subscriptions SET end_time = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.Exec(ctx, query, end, id)
	if err != nil {
		return fmt.Errorf("failed to update subscription end: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *SubscriptionRepository) SetNextSubscription(ctx context.Context, id, nextID int64) error {
	query := `UPDATE subscriptions SET next_subscription_id = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.Exec(ctx, query, nextID, id)
	if err != nil {
		return fmt.Errorf("failed to link next subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}
