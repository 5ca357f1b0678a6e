// internal/repository/postgres/payments.go
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"upgrade-service/internal/domain/payment"
	xerrors "upgrade-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PaymentRepository struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `
	id, reference, user_id, plan_id, subscription_id, amount, gateway_id, status,
	upgrade_type, meta, paid_at, created_at, updated_at`

// Create stores the payment and its items in one transaction.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.CreateWithTx(ctx, tx, p); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, p *payment.Payment) error {
	query := `
		INSERT INTO payments (
			reference, user_id, plan_id, subscription_id, amount, gateway_id, status, upgrade_type, meta, paid_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`
	metaJSON, err := json.Marshal(p.Meta)
	if err != nil {
		return fmt.Errorf("failed to marshal meta: %w", err)
	}

	err = tx.QueryRow(
		ctx, query,
		p.Reference, p.UserID, p.PlanID, p.SubscriptionID, p.Amount, p.GatewayID, p.Status, p.UpgradeType, metaJSON, p.PaidAt,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}

	itemQuery := `INSERT INTO payment_items (payment_id, type, name, amount) VALUES ($1, $2, $3, $4)`
	for _, it := range p.Items {
		if _, err := tx.Exec(ctx, itemQuery, p.ID, it.Type, it.Name, it.Amount); err != nil {
			return fmt.Errorf("failed to create payment item: %w", err)
		}
	}
	return nil
}

func (r *PaymentRepository) findOne(ctx context.Context, query string, args ...any) (*payment.Payment, error) {
	var (
		p        payment.Payment
		metaJSON []byte
	)
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&p.ID, &p.Reference, &p.UserID, &p.PlanID, &p.SubscriptionID, &p.Amount, &p.GatewayID, &p.Status,
		&p.UpgradeType, &metaJSON, &p.PaidAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment: %w", err)
	}

	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &p.Meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal meta: %w", err)
		}
	}

	items, err := r.items(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Items = items
	return &p, nil
}

func (r *PaymentRepository) items(ctx context.Context, paymentID int64) ([]payment.Item, error) {
	query := `SELECT type, name, amount FROM payment_items WHERE payment_id = $1 ORDER BY id`

	rows, err := r.db.Query(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment items: %w", err)
	}
	defer rows.Close()

	var items []payment.Item
	for rows.Next() {
		var it payment.Item
		if err := rows.Scan(&it.Type, &it.Name, &it.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan payment item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *PaymentRepository) FindByID(ctx context.Context, id int64) (*payment.Payment, error) {
	return r.findOne(ctx, `SELECT`+paymentColumns+` FROM payments WHERE id = $1`, id)
}

// FindFundingPayment returns the earliest paid, non-upgrade payment of the subscription.
func (r *PaymentRepository) FindFundingPayment(ctx context.Context, subscriptionID int64) (*payment.Payment, error) {
	query := `SELECT` + paymentColumns + `
		FROM payments
		WHERE subscription_id = $1 AND status = $2 AND upgrade_type = ''
		ORDER BY id
		LIMIT 1
	`
	return r.findOne(ctx, query, subscriptionID, payment.StatusPaid)
}

func (r *PaymentRepository) FindPendingUpgrade(ctx context.Context, subscriptionID int64, upgradeType string) (*payment.Payment, error) {
	query := `SELECT` + paymentColumns + `
		FROM payments
		WHERE subscription_id = $1 AND status = $2 AND upgrade_type = $3
		ORDER BY id DESC
		LIMIT 1
	`
	return r.findOne(ctx, query, subscriptionID, payment.StatusPending, upgradeType)
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, id int64, status payment.Status) error {
	query := `
		UPDATE payments
		SET status = $1,
		    paid_at = CASE WHEN $1 = 'paid' THEN NOW() ELSE paid_at END,
		    updated_at = NOW()
		WHERE id = $2
	`
	result, err := r.db.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *PaymentRepository) UpdateMeta(ctx context.Context, id int64, meta map[string]string) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal meta: %w", err)
	}

	result, err := r.db.Exec(ctx, `UPDATE payments SET meta = $1, updated_at = NOW() WHERE id = $2`, metaJSON, id)
	if err != nil {
		return fmt.Errorf("failed to update payment meta: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *PaymentRepository) SumItemsByType(ctx context.Context, paymentID int64, itemType string) (float64, bool, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0), COUNT(*)
		FROM payment_items
		WHERE payment_id = $1 AND type = $2
	`
	var (
		sum   float64
		count int64
	)
	if err := r.db.QueryRow(ctx, query, paymentID, itemType).Scan(&sum, &count); err != nil {
		return 0, false, fmt.Errorf("failed to sum payment items: %w", err)
	}
	return sum, count > 0, nil
}
