// internal/domain/upgrade/entity.go
package upgrade

import (
	"database/sql"
	"time"
)

type Type string

const (
	TypeShort         Type = "short"
	TypePaidExtend    Type = "paid_extend"
	TypePaidRecurrent Type = "paid_recurrent"
	TypeFreeRecurrent Type = "free_recurrent"
	TypeTrial         Type = "trial"
)

func (t Type) Valid() bool {
	switch t {
	case TypeShort, TypePaidExtend, TypePaidRecurrent, TypeFreeRecurrent, TypeTrial:
		return true
	}
	return false
}

// Schema groups upgrade options; plans reference a schema so they share one rule set.
type Schema struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

type Option struct {
	ID       int64 `json:"id" db:"id"`
	SchemaID int64 `json:"schema_id" db:"schema_id"`
	Type     Type  `json:"type" db:"type"`

	// Empty means the target is resolved from Config.RequireContent
	TargetPlanID sql.NullInt64 `json:"target_plan_id,omitempty" db:"target_plan_id"`

	Config Config `json:"config" db:"config"`
}

// Config is the raw per-option configuration. Numeric values stay strings
// until a strategy parses them, so a bad value fails only that option.
type Config struct {
	MonthlyFix     string   `json:"monthly_fix,omitempty"`
	RequireTags    []string `json:"require_tags,omitempty"`
	RequireContent []string `json:"require_content,omitempty"`
	OmitContent    []string `json:"omit_content,omitempty"`

	TrialPlanCode     string `json:"trial_plan_code,omitempty"`
	TrialPeriodDays   string `json:"trial_period_days,omitempty"`
	TrialFinalizeType Type   `json:"trial_finalize_type,omitempty"`
}

// Record is the immutable audit row written for every executed upgrade.
type Record struct {
	ID                     int64         `json:"id" db:"id"`
	BaseSubscriptionID     int64         `json:"base_subscription_id" db:"base_subscription_id"`
	UpgradedSubscriptionID int64         `json:"upgraded_subscription_id" db:"upgraded_subscription_id"`
	Type                   Type          `json:"type" db:"type"`
	PaymentID              sql.NullInt64 `json:"payment_id,omitempty" db:"payment_id"`
	CreatedAt              time.Time     `json:"created_at" db:"created_at"`
}

type TrialAcceptance struct {
	ID                  int64 `json:"id" db:"id"`
	UserID              int64 `json:"user_id" db:"user_id"`
	TrialPlanID         int64 `json:"trial_plan_id" db:"trial_plan_id"`
	OptionID            int64 `json:"option_id" db:"option_id"`
	BaseSubscriptionID  int64 `json:"base_subscription_id" db:"base_subscription_id"`
	TrialSubscriptionID int64 `json:"trial_subscription_id" db:"trial_subscription_id"`

	// Latest end the trial may ever reach
	CeilingEnd time.Time `json:"ceiling_end" db:"ceiling_end"`
	// End of the paid chain the trial is riding on
	LatestEligibleEnd time.Time `json:"latest_eligible_end" db:"latest_eligible_end"`

	FinalizedAt sql.NullTime `json:"finalized_at,omitempty" db:"finalized_at"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
}

// Audit actions
const (
	ActionCannotUpgrade            = "cannot_upgrade"
	ActionMissingDefaultTargetPlan = "missing_default_target_plan"
)

type AuditEntry struct {
	UserID    int64          `json:"user_id"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
