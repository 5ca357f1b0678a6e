// internal/domain/subscription/entity.go
package subscription

import (
	"database/sql"
	"slices"
	"time"
)

type Kind string

const (
	KindRegular Kind = "regular"
	KindUpgrade Kind = "upgrade"
	KindTrial   Kind = "trial"
)

type Subscription struct {
	ID     int64 `json:"id" db:"id"`
	UserID int64 `json:"user_id" db:"user_id"`
	PlanID int64 `json:"plan_id" db:"plan_id"`

	// Funding payment, empty for trial subscriptions
	PaymentID sql.NullInt64 `json:"payment_id,omitempty" db:"payment_id"`

	Kind        Kind `json:"kind" db:"kind"`
	IsRecurring bool `json:"is_recurring" db:"is_recurring"`

	// Period, end is exclusive
	StartTime time.Time `json:"start_time" db:"start_time"`
	EndTime   time.Time `json:"end_time" db:"end_time"`

	NextSubscriptionID sql.NullInt64 `json:"next_subscription_id,omitempty" db:"next_subscription_id"`
	AddressID          sql.NullInt64 `json:"address_id,omitempty" db:"address_id"`
	Note               string        `json:"note,omitempty" db:"note"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ActiveAt reports whether the subscription covers t.
func (s *Subscription) ActiveAt(t time.Time) bool {
	return !t.Before(s.StartTime) && t.Before(s.EndTime)
}

// Ended reports whether the subscription is over at t.
func (s *Subscription) Ended(t time.Time) bool {
	return !t.Before(s.EndTime)
}

func (s *Subscription) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

type Plan struct {
	ID   int64  `json:"id" db:"id"`
	Code string `json:"code" db:"code"`
	Name string `json:"name" db:"name"`

	// Pricing
	Price float64 `json:"price" db:"price"`

	// Billing
	LengthDays          int `json:"length_days" db:"length_days"`
	ExtendingLengthDays int `json:"extending_length_days,omitempty" db:"extending_length_days"`

	// Content access granted by the plan
	Entitlements []string `json:"entitlements" db:"entitlements"`

	IsDefault bool `json:"is_default" db:"is_default"`
	IsActive  bool `json:"is_active" db:"is_active"`

	// Plan charged by the recurring schedule after this one
	NextPlanID sql.NullInt64 `json:"next_plan_id,omitempty" db:"next_plan_id"`

	UpgradeSchemaID sql.NullInt64 `json:"upgrade_schema_id,omitempty" db:"upgrade_schema_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (p *Plan) Grants(entitlement string) bool {
	return slices.Contains(p.Entitlements, entitlement)
}

// GrantsAll reports whether p grants every entitlement in names.
func (p *Plan) GrantsAll(names []string) bool {
	for _, n := range names {
		if !p.Grants(n) {
			return false
		}
	}
	return true
}

// StrictSupersetOf reports whether p grants everything other grants plus at least one more.
func (p *Plan) StrictSupersetOf(other *Plan) bool {
	if !p.GrantsAll(other.Entitlements) {
		return false
	}
	for _, e := range p.Entitlements {
		if !other.Grants(e) {
			return true
		}
	}
	return false
}

// SortedEntitlements returns a sorted, de-duplicated copy.
func (p *Plan) SortedEntitlements() []string {
	out := slices.Clone(p.Entitlements)
	slices.Sort(out)
	return slices.Compact(out)
}

// DayPrice is the plan price spread over its length.
func (p *Plan) DayPrice() float64 {
	if p.LengthDays <= 0 {
		return 0
	}
	return p.Price / float64(p.LengthDays)
}
