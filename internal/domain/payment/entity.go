// internal/domain/payment/entity.go
package payment

import (
	"database/sql"
	"time"
)

type Status string

const (
	StatusForm     Status = "form"
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
)

const (
	ItemTypeSubscription = "subscription"
	ItemTypeUpgrade      = "upgrade"
)

// Meta keys written by upgrade strategies
const (
	MetaBaseSubscriptionID     = "base_subscription_id"
	MetaUpgradeOptionID        = "upgrade_option_id"
	MetaTargetPlanID           = "target_plan_id"
	MetaUpgradedSubscriptionID = "upgraded_subscription_id"
	MetaGatewayResultCode      = "gateway_result_code"
)

type Payment struct {
	ID        int64  `json:"id" db:"id"`
	Reference string `json:"reference" db:"reference"`

	UserID         int64         `json:"user_id" db:"user_id"`
	PlanID         int64         `json:"plan_id" db:"plan_id"`
	SubscriptionID sql.NullInt64 `json:"subscription_id,omitempty" db:"subscription_id"`

	Amount    float64 `json:"amount" db:"amount"`
	GatewayID string  `json:"gateway_id" db:"gateway_id"`
	Status    Status  `json:"status" db:"status"`

	// Empty for payments not created by an upgrade
	UpgradeType string `json:"upgrade_type,omitempty" db:"upgrade_type"`

	Meta  map[string]string `json:"meta,omitempty" db:"meta"`
	Items []Item            `json:"items,omitempty"`

	PaidAt    sql.NullTime `json:"paid_at,omitempty" db:"paid_at"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

type Item struct {
	Type   string  `json:"type" db:"type"`
	Name   string  `json:"name" db:"name"`
	Amount float64 `json:"amount" db:"amount"`
}

func (p *Payment) MetaValue(key string) (string, bool) {
	if p.Meta == nil {
		return "", false
	}
	v, ok := p.Meta[key]
	return v, ok
}

// ChargeResult is what the gateway reports for a synchronous charge.
type ChargeResult struct {
	Success    bool   `json:"success"`
	ResultCode string `json:"result_code"`
	ExternalID string `json:"external_id,omitempty"`
}
