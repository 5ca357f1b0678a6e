// Package gateway charges upgrade payments against stored payment methods.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"upgrade-service/internal/domain/payment"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

const resultDeclined = "card_declined"

// PaymentIntents is the part of the Stripe client the gateway uses.
type PaymentIntents interface {
	Create(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
}

// Stripe confirms an off-session PaymentIntent per charge.
type Stripe struct {
	intents  PaymentIntents
	currency string
	logger   *zap.Logger
}

func NewStripe(intents PaymentIntents, currency string, logger *zap.Logger) *Stripe {
	return &Stripe{intents: intents, currency: strings.ToLower(currency), logger: logger}
}

// NewStripeFromKey builds the gateway on a Stripe API client.
func NewStripeFromKey(apiKey, currency string, logger *zap.Logger) *Stripe {
	client := stripe.NewClient(apiKey, nil)
	return NewStripe(client.V1PaymentIntents, currency, logger)
}

// Charge confirms the payment amount against methodToken. Stored tokens have
// the form "customer:payment_method"; a bare payment method id is accepted too.
// A declined card is a failed result, not an error.
func (g *Stripe) Charge(ctx context.Context, p *payment.Payment, methodToken string) (*payment.ChargeResult, error) {
	customer, method := splitToken(methodToken)
	if method == "" {
		return nil, fmt.Errorf("payment %d: empty payment method token", p.ID)
	}

	params := &stripe.PaymentIntentCreateParams{
		Amount:        stripe.Int64(cents(p.Amount)),
		Currency:      stripe.String(g.currency),
		PaymentMethod: stripe.String(method),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
		Description:   stripe.String(p.Reference),
		Metadata: map[string]string{
			"payment_id": strconv.FormatInt(p.ID, 10),
			"reference":  p.Reference,
		},
	}
	if customer != "" {
		params.Customer = stripe.String(customer)
	}
	params.SetIdempotencyKey(p.Reference)

	pi, err := g.intents.Create(ctx, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Type == stripe.ErrorTypeCard {
			code := string(se.DeclineCode)
			if code == "" {
				code = string(se.Code)
			}
			if code == "" {
				code = resultDeclined
			}
			g.logger.Warn("stripe charge declined",
				zap.Int64("payment_id", p.ID),
				zap.String("code", code),
			)
			return &payment.ChargeResult{Success: false, ResultCode: code}, nil
		}
		return nil, fmt.Errorf("stripe charge for payment %d: %w", p.ID, err)
	}

	res := &payment.ChargeResult{
		Success:    pi.Status == stripe.PaymentIntentStatusSucceeded,
		ResultCode: string(pi.Status),
		ExternalID: pi.ID,
	}
	g.logger.Info("stripe charge completed",
		zap.Int64("payment_id", p.ID),
		zap.String("payment_intent", pi.ID),
		zap.String("status", res.ResultCode),
	)
	return res, nil
}

func splitToken(token string) (customer, method string) {
	if c, m, ok := strings.Cut(token, ":"); ok {
		return c, m
	}
	return "", token
}

func cents(amount float64) int64 {
	return decimal.NewFromFloat(amount).Shift(2).Round(0).IntPart()
}
