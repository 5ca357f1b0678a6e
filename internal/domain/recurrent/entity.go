// internal/domain/recurrent/entity.go
package recurrent

import (
	"context"
	"database/sql"
	"time"
)

type State string

const (
	StateActive     State = "active"
	StateUserStop   State = "user_stop"
	StateSystemStop State = "system_stop"
	StateCharged    State = "charged"
)

// Schedule drives automatic future charges for a recurring subscription.
type Schedule struct {
	ID     int64 `json:"id" db:"id"`
	UserID int64 `json:"user_id" db:"user_id"`

	// Payment the schedule was created from
	ParentPaymentID int64 `json:"parent_payment_id" db:"parent_payment_id"`

	PaymentMethodToken string `json:"-" db:"payment_method_token"`
	GatewayCustomer    string `json:"-" db:"gateway_customer"`
	GatewayID          string `json:"gateway_id" db:"gateway_id"`

	NextChargeTime time.Time       `json:"next_charge_time" db:"next_charge_time"`
	State          State           `json:"state" db:"state"`
	NextPlanID     sql.NullInt64   `json:"next_plan_id,omitempty" db:"next_plan_id"`
	CustomAmount   sql.NullFloat64 `json:"custom_amount,omitempty" db:"custom_amount"`

	// Stored payment method expiry
	ExpiresAt sql.NullTime `json:"expires_at,omitempty" db:"expires_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (s *Schedule) Stopped() bool {
	return s.State == StateUserStop || s.State == StateSystemStop
}

func (s *Schedule) Active() bool {
	return s.State == StateActive
}

// ExpiresWithin reports whether the stored method expires before at+d.
func (s *Schedule) ExpiresWithin(at time.Time, d time.Duration) bool {
	return s.ExpiresAt.Valid && s.ExpiresAt.Time.Before(at.Add(d))
}

// Shiftable reports whether a moved subscription end should move the next charge.
func (s *Schedule) Shiftable() bool {
	return s.State == StateActive || s.State == StateUserStop
}

type Repository interface {
	// FindByPayment returns the schedule created from the payment, xerrors.ErrNotFound if none.
	FindByPayment(ctx context.Context, paymentID int64) (*Schedule, error)

	UpdateNextCharge(ctx context.Context, id int64, next time.Time, nextPlanID sql.NullInt64) error
	UpdatePlan(ctx context.Context, id int64, nextPlanID sql.NullInt64, customAmount sql.NullFloat64) error
}
