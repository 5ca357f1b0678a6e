package payment

import (
	"context"
)

//go:generate mockgen -destination=../../mocks/mock_gateway.go -package=mocks upgrade-service/internal/domain/payment Gateway

// Repository is the payment store.
type Repository interface {
	FindByID(ctx context.Context, id int64) (*Payment, error)

	// FindFundingPayment returns the paid payment that funded the subscription.
	FindFundingPayment(ctx context.Context, subscriptionID int64) (*Payment, error)

	// FindPendingUpgrade returns the newest pending payment of the given
	// upgrade type against the subscription.
	FindPendingUpgrade(ctx context.Context, subscriptionID int64, upgradeType string) (*Payment, error)

	// Create stores the payment together with its items.
	Create(ctx context.Context, p *Payment) error

	UpdateStatus(ctx context.Context, id int64, status Status) error
	UpdateMeta(ctx context.Context, id int64, meta map[string]string) error

	// SumItemsByType sums the payment's items of the given type.
	// ok is false when the payment has no items of that type.
	SumItemsByType(ctx context.Context, paymentID int64, itemType string) (sum float64, ok bool, err error)
}

// Gateway charges a payment against a stored payment method.
// Retries are the gateway's concern.
type Gateway interface {
	Charge(ctx context.Context, p *Payment, methodToken string) (*ChargeResult, error)
}
