package upgrade

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"upgrade-service/internal/domain/payment"
	"upgrade-service/internal/domain/subscription"
	"upgrade-service/internal/domain/upgrade"
	xerrors "upgrade-service/internal/pkg/errors"

	"go.uber.org/zap"
)

// CandidateSource lists the subscriptions a user may upgrade, in preference order.
type CandidateSource interface {
	Upgradeable(ctx context.Context, userID int64, now time.Time) ([]*subscription.Subscription, error)
}

// ActiveSource offers every subscription not ended at now, oldest start first.
// Trials and collapsed subscriptions are left out.
type ActiveSource struct {
	Subscriptions subscription.Repository
}

func (s ActiveSource) Upgradeable(ctx context.Context, userID int64, now time.Time) ([]*subscription.Subscription, error) {
	subs, err := s.Subscriptions.FindActiveByUser(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(subs, func(sub *subscription.Subscription) bool {
		return sub.Kind == subscription.KindTrial || sub.Duration() <= 0 || sub.Ended(now)
	}), nil
}

type Query struct {
	UserID int64
	// Entitlements the caller wants the target to grant
	TargetContent []string
	RequiredTags  []string
	// Only offer options whose require_content covers TargetContent
	EnforceRequireContent bool
}

type Resolution struct {
	Now        time.Time
	Base       *subscription.Subscription
	Candidates []Strategy
}

// Candidate is the caller-facing description of one resolved strategy.
type Candidate struct {
	Index          int          `json:"index"`
	Type           upgrade.Type `json:"type"`
	OptionID       int64        `json:"option_id"`
	TargetPlanID   int64        `json:"target_plan_id"`
	TargetPlanCode string       `json:"target_plan_code"`
	Entitlements   []string     `json:"entitlements"`
	Price          string       `json:"price"`
	Profitability  float64      `json:"profitability"`
}

func (r *Resolution) Describe() []Candidate {
	out := make([]Candidate, 0, len(r.Candidates))
	for i, s := range r.Candidates {
		out = append(out, Candidate{
			Index:          i,
			Type:           s.Type(),
			OptionID:       s.Option().ID,
			TargetPlanID:   s.Target().ID,
			TargetPlanCode: s.Target().Code,
			Entitlements:   s.Target().SortedEntitlements(),
			Price:          s.Price().StringFixed(2),
			Profitability:  s.Profitability(),
		})
	}
	return out
}

type funded struct {
	sub *subscription.Subscription
	pay *payment.Payment
}

func (e *Engine) fundedSubscriptions(ctx context.Context, subs []*subscription.Subscription) ([]funded, error) {
	var out []funded
	for _, sub := range subs {
		p, err := e.fundingPayment(ctx, sub)
		if errors.Is(err, xerrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load funding payment of subscription %d: %w", sub.ID, err)
		}
		out = append(out, funded{sub: sub, pay: p})
	}
	return out, nil
}

// firstFunded is the first upgradeable subscription with a funding payment.
func (e *Engine) firstFunded(ctx context.Context, userID int64, now time.Time) (funded, error) {
	subs, err := e.source.Upgradeable(ctx, userID, now)
	if err != nil {
		return funded{}, fmt.Errorf("failed to load upgradeable subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return funded{}, upgrade.ErrNoSubscription
	}
	list, err := e.fundedSubscriptions(ctx, subs)
	if err != nil {
		return funded{}, err
	}
	if len(list) == 0 {
		return funded{}, upgrade.ErrNoBasePayment
	}
	return list[0], nil
}

// Resolve returns the upgrades the user can execute now, best first within
// each strategy type.
func (e *Engine) Resolve(ctx context.Context, q Query) (*Resolution, error) {
	if q.UserID <= 0 {
		return nil, upgrade.ErrNotLoggedIn
	}
	now := e.Now()

	subs, err := e.source.Upgradeable(ctx, q.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load upgradeable subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil, upgrade.ErrNoSubscription
	}

	list, err := e.fundedSubscriptions(ctx, subs)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		ids := make([]int64, 0, len(subs))
		for _, s := range subs {
			ids = append(ids, s.ID)
		}
		e.audit(ctx, q.UserID, upgrade.ActionCannotUpgrade, map[string]any{
			"reason":           upgrade.ReasonNoBasePayment,
			"subscription_ids": ids,
		})
		return nil, upgrade.ErrNoBasePayment
	}

	res := &Resolution{Now: now, Base: list[0].sub}

	// A subscription whose plan has no options must not hide the next one.
	var (
		chosen   funded
		basePlan *subscription.Plan
		options  []*upgrade.Option
		explicit map[int64]*subscription.Plan
	)
	for _, f := range list {
		plan, opts, targets, err := e.optionsFor(ctx, f.sub)
		if err != nil {
			return nil, err
		}
		if len(opts) > 0 {
			chosen, basePlan, options, explicit = f, plan, opts, targets
			break
		}
	}
	if len(options) == 0 {
		return res, nil
	}
	res.Base = chosen.sub

	sched, err := e.scheduleFor(ctx, sql.NullInt64{Int64: chosen.pay.ID, Valid: true})
	if err != nil {
		return nil, err
	}

	type group struct {
		key      string
		strategy Strategy
	}
	var (
		groups  []*group
		byKey   = map[string]*group{}
		missing [][]string
	)

	for _, opt := range options {
		target, err := e.optionTarget(ctx, basePlan, opt, explicit)
		var (
			noDefault *upgrade.NoDefaultPlanError
			misconfig *upgrade.MisconfigurationError
		)
		switch {
		case errors.Is(err, upgrade.ErrNoUpgradeNeeded):
			continue
		case errors.As(err, &noDefault):
			missing = appendCombination(missing, noDefault.Entitlements)
			continue
		case errors.As(err, &misconfig):
			e.logger.Warn("skipping misconfigured upgrade option", zap.Int64("option_id", opt.ID), zap.Error(err))
			continue
		case err != nil:
			return nil, err
		}

		// No-op upgrades are never offered.
		if !target.StrictSupersetOf(basePlan) {
			continue
		}

		s, err := e.NewStrategy(ctx, Input{
			Now:         now,
			Option:      opt,
			Base:        chosen.sub,
			BasePayment: chosen.pay,
			BasePlan:    basePlan,
			Target:      target,
			Schedule:    sched,
		})
		if errors.As(err, &misconfig) {
			e.logger.Warn("skipping misconfigured upgrade option", zap.Int64("option_id", opt.ID), zap.Error(err))
			continue
		}
		if err != nil {
			return nil, err
		}

		if !sameTags(q.RequiredTags, opt.Config.RequireTags) {
			continue
		}
		if !s.Usable() {
			continue
		}
		if q.EnforceRequireContent && !containsAll(opt.Config.RequireContent, q.TargetContent) {
			continue
		}
		if len(q.TargetContent) > 0 && !target.GrantsAll(q.TargetContent) {
			continue
		}

		key := string(s.Type()) + "|" + strings.Join(target.SortedEntitlements(), ",")
		if g, ok := byKey[key]; ok {
			if s.Profitability() > g.strategy.Profitability() {
				g.strategy = s
			}
			continue
		}
		g := &group{key: key, strategy: s}
		byKey[key] = g
		groups = append(groups, g)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].strategy.Profitability() > groups[j].strategy.Profitability()
	})
	for _, g := range groups {
		res.Candidates = append(res.Candidates, g.strategy)
	}

	if len(res.Candidates) == 0 && len(missing) > 0 {
		e.audit(ctx, q.UserID, upgrade.ActionMissingDefaultTargetPlan, map[string]any{
			"plan_id":      basePlan.ID,
			"length_days":  basePlan.LengthDays,
			"combinations": missing,
		})
	}
	return res, nil
}

// optionsFor loads the options of sub's plan schema. Options with an
// explicit target of another billing length are dropped.
func (e *Engine) optionsFor(ctx context.Context, sub *subscription.Subscription) (*subscription.Plan, []*upgrade.Option, map[int64]*subscription.Plan, error) {
	plan, err := e.Plans.FindByID(ctx, sub.PlanID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load plan %d: %w", sub.PlanID, err)
	}
	if !plan.UpgradeSchemaID.Valid {
		return plan, nil, nil, nil
	}

	all, err := e.Options.FindBySchema(ctx, plan.UpgradeSchemaID.Int64)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load upgrade options: %w", err)
	}

	explicit := map[int64]*subscription.Plan{}
	opts := make([]*upgrade.Option, 0, len(all))
	for _, opt := range all {
		if opt.TargetPlanID.Valid {
			target, err := e.Plans.FindByID(ctx, opt.TargetPlanID.Int64)
			if errors.Is(err, xerrors.ErrNotFound) {
				e.logger.Warn("upgrade option targets a missing plan",
					zap.Int64("option_id", opt.ID),
					zap.Int64("target_plan_id", opt.TargetPlanID.Int64),
				)
				continue
			}
			if err != nil {
				return nil, nil, nil, fmt.Errorf("failed to load target plan: %w", err)
			}
			if target.LengthDays != plan.LengthDays {
				continue
			}
			explicit[target.ID] = target
		}
		opts = append(opts, opt)
	}
	return plan, opts, explicit, nil
}

func (e *Engine) optionTarget(ctx context.Context, basePlan *subscription.Plan, opt *upgrade.Option, explicit map[int64]*subscription.Plan) (*subscription.Plan, error) {
	if opt.TargetPlanID.Valid {
		return explicit[opt.TargetPlanID.Int64], nil
	}
	if opt.Type == upgrade.TypeTrial {
		code := opt.Config.TrialPlanCode
		if code == "" {
			return nil, &upgrade.MisconfigurationError{OptionID: opt.ID, Field: "trial_plan_code"}
		}
		plan, err := e.Plans.FindByCode(ctx, code)
		if errors.Is(err, xerrors.ErrNotFound) {
			return nil, &upgrade.MisconfigurationError{OptionID: opt.ID, Field: "trial_plan_code", Value: code}
		}
		return plan, err
	}
	return e.targets.Resolve(ctx, basePlan, 0, opt.Config.RequireContent, opt.Config.OmitContent)
}

// sameTags holds when both tag sets are equal; tags are matched exactly.
func sameTags(required, configured []string) bool {
	return containsAll(required, configured) && containsAll(configured, required)
}

func containsAll(set, items []string) bool {
	for _, it := range items {
		if !slices.Contains(set, it) {
			return false
		}
	}
	return true
}

func appendCombination(list [][]string, combo []string) [][]string {
	for _, c := range list {
		if slices.Equal(c, combo) {
			return list
		}
	}
	return append(list, combo)
}
