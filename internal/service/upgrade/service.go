package upgrade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"upgrade-service/internal/domain/payment"
	"upgrade-service/internal/domain/subscription"
	"upgrade-service/internal/domain/upgrade"
	"upgrade-service/internal/pkg/lock"
	"upgrade-service/internal/pkg/metrics"

	"go.uber.org/zap"
)

type LockConfig struct {
	TTL      time.Duration
	Wait     time.Duration
	Interval time.Duration
}

func DefaultLockConfig() LockConfig {
	return LockConfig{TTL: 30 * time.Second, Wait: 3 * time.Second, Interval: 50 * time.Millisecond}
}

// Service is the call-site layer: it holds the upgrade lock around every
// mutation and records metrics.
type Service struct {
	engine  *Engine
	locker  lock.Locker
	lockCfg LockConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewService(engine *Engine, locker lock.Locker, lockCfg LockConfig, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		engine:  engine,
		locker:  locker,
		lockCfg: lockCfg,
		metrics: m,
		logger:  logger,
	}
}

func (s *Service) Engine() *Engine { return s.engine }

func subscriptionKey(id int64) string { return fmt.Sprintf("upgrade:subscription:%d", id) }
func paymentKey(id int64) string      { return fmt.Sprintf("upgrade:payment:%d", id) }

// Candidates lists the upgrades available to the user.
func (s *Service) Candidates(ctx context.Context, q Query) (*Resolution, error) {
	res, err := s.engine.Resolve(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, c := range res.Candidates {
		s.metrics.RecordCandidate(string(c.Type()))
	}
	return res, nil
}

// Execute runs the candidate at index. Candidates are resolved again under
// the lock so the index refers to the current state.
func (s *Service) Execute(ctx context.Context, q Query, index int) (*Outcome, error) {
	first, err := s.engine.Resolve(ctx, q)
	if err != nil {
		return nil, err
	}

	var out *Outcome
	err = s.withLock(ctx, subscriptionKey(first.Base.ID), func() error {
		res, err := s.engine.Resolve(ctx, q)
		if err != nil {
			return err
		}
		if res.Base.ID != first.Base.ID {
			return upgrade.ErrNotUsable
		}
		if index < 0 || index >= len(res.Candidates) {
			return upgrade.ErrInvalidCandidate
		}

		strategy := res.Candidates[index]
		out, err = strategy.Execute(ctx)
		if err != nil {
			s.metrics.RecordExecution(string(strategy.Type()), "error")
			return err
		}
		s.metrics.RecordExecution(string(strategy.Type()), result(out))
		return nil
	})
	if err != nil {
		s.logger.Warn("upgrade not executed",
			zap.Int64("user_id", q.UserID),
			zap.Int("index", index),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("upgrade executed",
		zap.Int64("user_id", q.UserID),
		zap.String("strategy", string(out.Type)),
		zap.Bool("success", out.Success),
		zap.Bool("deferred", out.Deferred),
	)
	return out, nil
}

// PaymentStatusChanged applies deferred upgrades when a payment becomes paid.
func (s *Service) PaymentStatusChanged(ctx context.Context, paymentID int64, from, to payment.Status) (*Outcome, error) {
	if to != payment.StatusPaid || from == payment.StatusPaid {
		return nil, nil
	}

	var out *Outcome
	err := s.withLock(ctx, paymentKey(paymentID), func() error {
		p, err := s.engine.Payments.FindByID(ctx, paymentID)
		if err != nil {
			return fmt.Errorf("failed to load payment %d: %w", paymentID, err)
		}
		out, err = s.completePaidExtend(ctx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out != nil {
		s.metrics.RecordExecution(string(out.Type), result(out))
	}
	return out, nil
}

const completeAttempts = 3

// completePaidExtend holds the lock of the subscription the payment splits.
// The subscription is looked up again under the lock and the attempt is
// repeated when another upgrade replaced it in between.
func (s *Service) completePaidExtend(ctx context.Context, p *payment.Payment) (*Outcome, error) {
	for range completeAttempts {
		sub, err := s.engine.PaidExtendSubscription(ctx, p)
		if err != nil {
			return nil, err
		}
		if sub == nil {
			return s.engine.CompletePaidExtend(ctx, p)
		}

		var (
			out   *Outcome
			moved bool
		)
		err = s.withLock(ctx, subscriptionKey(sub.ID), func() error {
			current, err := s.engine.PaidExtendSubscription(ctx, p)
			if err != nil {
				return err
			}
			if current != nil && current.ID != sub.ID {
				moved = true
				return nil
			}
			out, err = s.engine.CompletePaidExtend(ctx, p)
			return err
		})
		if err != nil || !moved {
			return out, err
		}
		s.logger.Info("subscription replaced while waiting for lock, retrying",
			zap.Int64("payment_id", p.ID),
			zap.Int64("subscription_id", sub.ID),
		)
	}
	return nil, upgrade.ErrLockNotAcquired
}

// SubscriptionRenewed extends open trials riding on the renewed chain.
func (s *Service) SubscriptionRenewed(ctx context.Context, subscriptionID int64) ([]*subscription.Subscription, error) {
	var extended []*subscription.Subscription
	err := s.withLock(ctx, subscriptionKey(subscriptionID), func() error {
		var err error
		extended, err = s.engine.ExtendTrials(ctx, subscriptionID)
		return err
	})
	return extended, err
}

// FinalizeTrial runs the real upgrade for a trial that reached its end.
func (s *Service) FinalizeTrial(ctx context.Context, trialSubscriptionID int64) (*Outcome, error) {
	base, err := s.engine.TrialBase(ctx, trialSubscriptionID)
	if err != nil {
		return nil, err
	}

	var out *Outcome
	err = s.withLock(ctx, subscriptionKey(base.ID), func() error {
		var err error
		out, err = s.engine.FinalizeTrial(ctx, trialSubscriptionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out != nil {
		s.metrics.RecordExecution(string(out.Type), result(out))
	}
	return out, nil
}

func (s *Service) withLock(ctx context.Context, key string, fn func() error) error {
	start := time.Now()
	release, err := lock.Wait(ctx, s.locker, key, s.lockCfg.TTL, s.lockCfg.Wait, s.lockCfg.Interval)
	s.metrics.ObserveLockWait(time.Since(start))
	if errors.Is(err, lock.ErrNotAcquired) {
		return upgrade.ErrLockNotAcquired
	}
	if err != nil {
		return fmt.Errorf("failed to acquire %s: %w", key, err)
	}
	defer release()
	return fn()
}

func result(out *Outcome) string {
	switch {
	case !out.Success:
		return "failed"
	case out.Deferred:
		return "deferred"
	}
	return "success"
}
