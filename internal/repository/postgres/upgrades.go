// internal/repository/postgres/upgrades.go
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"upgrade-service/internal/domain/upgrade"
	xerrors "upgrade-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OptionRepository struct {
	db *pgxpool.Pool
}

func NewOptionRepository(db *pgxpool.Pool) *OptionRepository {
	return &OptionRepository{db: db}
}

func scanOption(row pgx.Row) (*upgrade.Option, error) {
	var (
		o          upgrade.Option
		configJSON []byte
	)
	if err := row.Scan(&o.ID, &o.SchemaID, &o.Type, &o.TargetPlanID, &configJSON); err != nil {
		return nil, err
	}
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &o.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal option %d config: %w", o.ID, err)
		}
	}
	return &o, nil
}

func (r *OptionRepository) FindBySchema(ctx context.Context, schemaID int64) ([]*upgrade.Option, error) {
	query := `
		SELECT id, schema_id, type, target_plan_id, config
		FROM upgrade_options
		WHERE schema_id = $1
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, schemaID)
	if err != nil {
		return nil, fmt.Errorf("failed to list upgrade options: %w", err)
	}
	defer rows.Close()

	var options []*upgrade.Option
	for rows.Next() {
		o, err := scanOption(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upgrade option: %w", err)
		}
		options = append(options, o)
	}
	return options, rows.Err()
}

func (r *OptionRepository) FindByID(ctx context.Context, id int64) (*upgrade.Option, error) {
	query := `SELECT id, schema_id, type, target_plan_id, config FROM upgrade_options WHERE id = $1`

	o, err := scanOption(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find upgrade option: %w", err)
	}
	return o, nil
}

// Create stores an option with its config as JSON.
func (r *OptionRepository) Create(ctx context.Context, o *upgrade.Option) error {
	configJSON, err := json.Marshal(o.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	query := `
		INSERT INTO upgrade_options (schema_id, type, target_plan_id, config)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	if err := r.db.QueryRow(ctx, query, o.SchemaID, o.Type, o.TargetPlanID, configJSON).Scan(&o.ID); err != nil {
		return fmt.Errorf("failed to create upgrade option: %w", err)
	}
	return nil
}

type RecordRepository struct {
	db *pgxpool.Pool
}

func NewRecordRepository(db *pgxpool.Pool) *RecordRepository {
	return &RecordRepository{db: db}
}

func (r *RecordRepository) Create(ctx context.Context, rec *upgrade.Record) error {
	query := `
		INSERT INTO upgrade_records (base_subscription_id, upgraded_subscription_id, type, payment_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query, rec.BaseSubscriptionID, rec.UpgradedSubscriptionID, rec.Type, rec.PaymentID).
		Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create upgrade record: %w", err)
	}
	return nil
}

func (r *RecordRepository) FindByBase(ctx context.Context, baseID int64) ([]*upgrade.Record, error) {
	query := `
		SELECT id, base_subscription_id, upgraded_subscription_id, type, payment_id, created_at
		FROM upgrade_records
		WHERE base_subscription_id = $1
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, baseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list upgrade records: %w", err)
	}
	defer rows.Close()

	var records []*upgrade.Record
	for rows.Next() {
		var rec upgrade.Record
		if err := rows.Scan(&rec.ID, &rec.BaseSubscriptionID, &rec.UpgradedSubscriptionID, &rec.Type, &rec.PaymentID, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan upgrade record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func (r *RecordRepository) FindByUpgraded(ctx context.Context, upgradedID int64) (*upgrade.Record, error) {
	query := `
		SELECT id, base_subscription_id, upgraded_subscription_id, type, payment_id, created_at
		FROM upgrade_records
		WHERE upgraded_subscription_id = $1
	`
	var rec upgrade.Record
	err := r.db.QueryRow(ctx, query, upgradedID).
		Scan(&rec.ID, &rec.BaseSubscriptionID, &rec.UpgradedSubscriptionID, &rec.Type, &rec.PaymentID, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find upgrade record: %w", err)
	}
	return &rec, nil
}

type TrialRepository struct {
	db *pgxpool.Pool
}

func NewTrialRepository(db *pgxpool.Pool) *TrialRepository {
	return &TrialRepository{db: db}
}

const trialColumns = `
	id, user_id, trial_plan_id, option_id, base_subscription_id, trial_subscription_id,
	ceiling_end, latest_eligible_end, finalized_at, created_at`

func scanTrial(row pgx.Row) (*upgrade.TrialAcceptance, error) {
	var a upgrade.TrialAcceptance
	err := row.Scan(
		&a.ID, &a.UserID, &a.TrialPlanID, &a.OptionID, &a.BaseSubscriptionID, &a.TrialSubscriptionID,
		&a.CeilingEnd, &a.LatestEligibleEnd, &a.FinalizedAt, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *TrialRepository) HasAccepted(ctx context.Context, userID, trialPlanID int64) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM trial_acceptances WHERE user_id = $1 AND trial_plan_id = $2)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, userID, trialPlanID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check trial acceptance: %w", err)
	}
	return exists, nil
}

func (r *TrialRepository) Create(ctx context.Context, a *upgrade.TrialAcceptance) error {
	query := `
		INSERT INTO trial_acceptances (
			user_id, trial_plan_id, option_id, base_subscription_id, trial_subscription_id,
			ceiling_end, latest_eligible_end
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(
		ctx, query,
		a.UserID, a.TrialPlanID, a.OptionID, a.BaseSubscriptionID, a.TrialSubscriptionID,
		a.CeilingEnd, a.LatestEligibleEnd,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create trial acceptance: %w", err)
	}
	return nil
}

func (r *TrialRepository) FindByTrialSubscription(ctx context.Context, subscriptionID int64) (*upgrade.TrialAcceptance, error) {
	query := `SELECT` + trialColumns + ` FROM trial_acceptances WHERE trial_subscription_id = $1`

	a, err := scanTrial(r.db.QueryRow(ctx, query, subscriptionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find trial acceptance: %w", err)
	}
	return a, nil
}

func (r *TrialRepository) FindOpenByUser(ctx context.Context, userID int64) ([]*upgrade.TrialAcceptance, error) {
	query := `SELECT` + trialColumns + `
		FROM trial_acceptances
		WHERE user_id = $1 AND finalized_at IS NULL
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open trials: %w", err)
	}
	defer rows.Close()

	var out []*upgrade.TrialAcceptance
	for rows.Next() {
		a, err := scanTrial(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trial acceptance: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *TrialRepository) UpdateLatestEligibleEnd(ctx context.Context, id int64, end time.Time) error {
	result, err := r.db.Exec(ctx, `UPDATE trial_acceptances SET latest_eligible_end = $1 WHERE id = $2`, end, id)
	return affected(result, err, "update trial eligible end")
}

func (r *TrialRepository) MarkFinalized(ctx context.Context, id int64, at time.Time) error {
	result, err := r.db.Exec(ctx, `UPDATE trial_acceptances SET finalized_at = $1 WHERE id = $2`, at, id)
	return affected(result, err, "finalize trial")
}

// AuditLog appends to user_action_log with params as JSONB.
type AuditLog struct {
	db *pgxpool.Pool
}

func NewAuditLog(db *pgxpool.Pool) *AuditLog {
	return &AuditLog{db: db}
}

func (l *AuditLog) Append(ctx context.Context, entry upgrade.AuditEntry) error {
	paramsJSON, err := json.Marshal(entry.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal audit params: %w", err)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `INSERT INTO user_action_log (user_id, action, params, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := l.db.Exec(ctx, query, entry.UserID, entry.Action, paramsJSON, entry.CreatedAt); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}
