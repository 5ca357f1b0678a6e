package upgrade

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"upgrade-service/internal/domain/subscription"
	"upgrade-service/internal/domain/upgrade"
	"upgrade-service/internal/events"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Trial grants a time-boxed parallel subscription on the trial plan
// without touching the base. It is never propagated.
type Trial struct {
	core

	planCode   string
	periodDays int
	finalize   upgrade.Type
	accepted   bool
}

func (s *Trial) Type() upgrade.Type { return upgrade.TypeTrial }

func (s *Trial) applyConfig(cfg upgrade.Config) error {
	tc, err := parseTrialConfig(s.in.Option.ID, cfg)
	if err != nil {
		return err
	}
	s.planCode, s.periodDays, s.finalize = tc.planCode, tc.periodDays, tc.finalize
	return nil
}

func (s *Trial) prepare(ctx context.Context) error {
	if s.in.Base == nil || s.in.Target == nil {
		return nil
	}
	accepted, err := s.e.Trials.HasAccepted(ctx, s.in.Base.UserID, s.in.Target.ID)
	if err != nil {
		return fmt.Errorf("failed to check trial acceptance: %w", err)
	}
	s.accepted = accepted
	return nil
}

func (s *Trial) ceiling() time.Time {
	return s.in.Now.AddDate(0, 0, s.periodDays)
}

// end is capped by the trial period and the base subscription.
func (s *Trial) end() time.Time {
	end := s.ceiling()
	if s.in.Base.EndTime.Before(end) {
		end = s.in.Base.EndTime
	}
	return end
}

func (s *Trial) Usable() bool {
	return !s.accepted && s.end().After(s.startPoint())
}

// Profitability is the trial length in days.
func (s *Trial) Profitability() float64 { return float64(s.periodDays) }

func (s *Trial) Price() decimal.Decimal { return decimal.Zero }

func (s *Trial) Execute(ctx context.Context) (*Outcome, error) {
	s.mustReady()
	base := s.in.Base

	trial := &subscription.Subscription{
		UserID:    base.UserID,
		PlanID:    s.in.Target.ID,
		Kind:      subscription.KindTrial,
		StartTime: s.startPoint(),
		EndTime:   s.end(),
		AddressID: base.AddressID,
		Note:      fmt.Sprintf("trial %s from upgrade option %d", s.planCode, s.in.Option.ID),
	}
	if err := s.e.Subscriptions.Create(ctx, trial); err != nil {
		return nil, fmt.Errorf("failed to create trial subscription: %w", err)
	}

	acc := &upgrade.TrialAcceptance{
		UserID:              base.UserID,
		TrialPlanID:         s.in.Target.ID,
		OptionID:            s.in.Option.ID,
		BaseSubscriptionID:  base.ID,
		TrialSubscriptionID: trial.ID,
		CeilingEnd:          s.ceiling(),
		LatestEligibleEnd:   base.EndTime,
		CreatedAt:           s.in.Now,
	}
	if err := s.e.Trials.Create(ctx, acc); err != nil {
		return nil, fmt.Errorf("failed to record trial acceptance: %w", err)
	}

	s.e.logger.Info("trial started",
		zap.Int64("subscription_id", trial.ID),
		zap.Int64("base_subscription_id", base.ID),
		zap.Time("end", trial.EndTime),
		zap.Time("ceiling", acc.CeilingEnd),
	)
	s.e.funnel(ctx, events.FunnelTrialStarted, s.Type(), base.UserID, decimal.Zero, s.in.Target.ID, trial.ID, 0)
	return &Outcome{Type: s.Type(), Success: true, Base: base, Upgraded: trial}, nil
}

type trialConfig struct {
	planCode   string
	periodDays int
	finalize   upgrade.Type
}

func parseTrialConfig(optionID int64, cfg upgrade.Config) (trialConfig, error) {
	if cfg.TrialPlanCode == "" {
		return trialConfig{}, &upgrade.MisconfigurationError{OptionID: optionID, Field: "trial_plan_code"}
	}
	days, err := strconv.Atoi(cfg.TrialPeriodDays)
	if err != nil || days <= 0 {
		return trialConfig{}, &upgrade.MisconfigurationError{OptionID: optionID, Field: "trial_period_days", Value: cfg.TrialPeriodDays}
	}
	finalize := cfg.TrialFinalizeType
	switch finalize {
	case "":
		finalize = upgrade.TypeFreeRecurrent
	case upgrade.TypeFreeRecurrent, upgrade.TypeShort:
	default:
		return trialConfig{}, &upgrade.MisconfigurationError{OptionID: optionID, Field: "trial_finalize_type", Value: string(finalize)}
	}
	return trialConfig{planCode: cfg.TrialPlanCode, periodDays: days, finalize: finalize}, nil
}

// ExtendTrials moves the end of open trials riding on the chain renewed
// continues, up to each trial's ceiling.
func (e *Engine) ExtendTrials(ctx context.Context, renewedID int64) ([]*subscription.Subscription, error) {
	renewed, err := e.Subscriptions.FindByID(ctx, renewedID)
	if err != nil {
		return nil, fmt.Errorf("failed to load renewed subscription %d: %w", renewedID, err)
	}
	if renewed.Kind == subscription.KindTrial {
		return nil, nil
	}

	open, err := e.Trials.FindOpenByUser(ctx, renewed.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load open trials: %w", err)
	}

	var extended []*subscription.Subscription
	for _, acc := range open {
		if renewed.StartTime.After(acc.LatestEligibleEnd) || !renewed.EndTime.After(acc.LatestEligibleEnd) {
			continue
		}
		trial, err := e.Subscriptions.FindByID(ctx, acc.TrialSubscriptionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load trial subscription %d: %w", acc.TrialSubscriptionID, err)
		}

		end := acc.CeilingEnd
		if renewed.EndTime.Before(end) {
			end = renewed.EndTime
		}
		if end.After(trial.EndTime) {
			if err := e.Subscriptions.UpdateEndTime(ctx, trial.ID, end); err != nil {
				return nil, fmt.Errorf("failed to extend trial %d: %w", trial.ID, err)
			}
			trial.EndTime = end
			extended = append(extended, trial)
			e.logger.Info("trial extended", zap.Int64("subscription_id", trial.ID), zap.Time("end", end))
		}
		if err := e.Trials.UpdateLatestEligibleEnd(ctx, acc.ID, renewed.EndTime); err != nil {
			return nil, fmt.Errorf("failed to update trial %d: %w", acc.ID, err)
		}
	}
	return extended, nil
}

// TrialBase returns the subscription a trial finalize upgrades.
func (e *Engine) TrialBase(ctx context.Context, trialSubscriptionID int64) (*subscription.Subscription, error) {
	acc, err := e.Trials.FindByTrialSubscription(ctx, trialSubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trial acceptance: %w", err)
	}
	f, err := e.firstFunded(ctx, acc.UserID, e.Now())
	if err != nil {
		return nil, err
	}
	return f.sub, nil
}

// FinalizeTrial performs the real upgrade once a trial has run out, using
// the finalize strategy of the trial option and Short as fallback.
func (e *Engine) FinalizeTrial(ctx context.Context, trialSubscriptionID int64) (*Outcome, error) {
	acc, err := e.Trials.FindByTrialSubscription(ctx, trialSubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trial acceptance: %w", err)
	}
	if acc.FinalizedAt.Valid {
		return nil, nil
	}

	now := e.Now()
	trial, err := e.Subscriptions.FindByID(ctx, trialSubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trial subscription: %w", err)
	}
	if now.Before(trial.EndTime) {
		return nil, fmt.Errorf("trial %d runs until %s: %w", trial.ID, trial.EndTime.Format(time.RFC3339), upgrade.ErrNotUsable)
	}

	opt, err := e.Options.FindByID(ctx, acc.OptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trial option %d: %w", acc.OptionID, err)
	}
	tc, err := parseTrialConfig(opt.ID, opt.Config)
	if err != nil {
		return nil, err
	}
	trialPlan, err := e.Plans.FindByID(ctx, acc.TrialPlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trial plan: %w", err)
	}

	f, err := e.firstFunded(ctx, acc.UserID, now)
	if err != nil {
		return nil, err
	}
	basePlan, err := e.Plans.FindByID(ctx, f.sub.PlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load base plan: %w", err)
	}

	target, err := e.targets.Resolve(ctx, basePlan, 0, trialPlan.Entitlements, opt.Config.OmitContent)
	if errors.Is(err, upgrade.ErrNoUpgradeNeeded) {
		if err := e.Trials.MarkFinalized(ctx, acc.ID, now); err != nil {
			return nil, fmt.Errorf("failed to finalize trial %d: %w", acc.ID, err)
		}
		return &Outcome{Type: tc.finalize, Success: true, Base: f.sub}, nil
	}
	if err != nil {
		return nil, err
	}

	sched, err := e.scheduleFor(ctx, sql.NullInt64{Int64: f.pay.ID, Valid: true})
	if err != nil {
		return nil, err
	}

	types := []upgrade.Type{tc.finalize}
	if tc.finalize != upgrade.TypeShort {
		types = append(types, upgrade.TypeShort)
	}
	for _, typ := range types {
		fo := *opt
		fo.Type = typ
		fo.TargetPlanID = sql.NullInt64{Int64: target.ID, Valid: true}

		s, err := e.NewStrategy(ctx, Input{
			Now:         now,
			Option:      &fo,
			Base:        f.sub,
			BasePayment: f.pay,
			BasePlan:    basePlan,
			Target:      target,
			Schedule:    sched,
		})
		if err != nil {
			return nil, err
		}
		if !s.Usable() {
			continue
		}

		out, err := s.Execute(ctx)
		if err != nil {
			return nil, err
		}
		if out.Success {
			if err := e.Trials.MarkFinalized(ctx, acc.ID, now); err != nil {
				return nil, fmt.Errorf("failed to finalize trial %d: %w", acc.ID, err)
			}
		}
		return out, nil
	}
	return nil, upgrade.ErrNotUsable
}
