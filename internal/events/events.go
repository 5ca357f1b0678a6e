// Package events carries domain events and sales-funnel telemetry out of the upgrade engine.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Topics
const (
	TopicSubscriptionShortened = "subscription.shortened"
	TopicSalesFunnel           = "sales_funnel"
)

// Sales funnel event names
const (
	FunnelUpgradeExecuted       = "upgrade_executed"
	FunnelUpgradePaymentCreated = "upgrade_payment_created"
	FunnelTrialStarted          = "trial_started"
)

type Event struct {
	Topic      string    `json:"topic"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// SubscriptionShortened is emitted whenever a subscription's end moves earlier.
type SubscriptionShortened struct {
	SubscriptionID int64     `json:"subscription_id"`
	UserID         int64     `json:"user_id"`
	OriginalEnd    time.Time `json:"original_end"`
	NewEnd         time.Time `json:"new_end"`
}

type SalesFunnel struct {
	Event          string    `json:"event"`
	UserID         int64     `json:"user_id"`
	Strategy       string    `json:"strategy"`
	Revenue        float64   `json:"revenue"`
	ProductID      int64     `json:"product_id"`
	SubscriptionID int64     `json:"subscription_id,omitempty"`
	PaymentID      int64     `json:"payment_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher is the narrow sink the engine calls synchronously.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Multi fans an event out to every publisher and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LogPublisher writes events to the logger. Used when no queue is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.logger.Info("event published",
		zap.String("topic", e.Topic),
		zap.String("key", e.Key),
		zap.Time("occurred_at", e.OccurredAt),
		zap.Any("payload", e.Payload),
	)
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events(topic string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if topic == "" || e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}
