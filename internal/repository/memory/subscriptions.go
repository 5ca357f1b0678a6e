// Package memory holds map-backed stores for tests and local runs.
package memory

import (
	"cmp"
	"context"
	"database/sql"
	"slices"
	"sync"
	"time"

	"upgrade-service/internal/domain/subscription"
	xerrors "upgrade-service/internal/pkg/errors"
)

type SubscriptionRepository struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[int64]subscription.Subscription
}

func NewSubscriptionRepository() *SubscriptionRepository {
	return &SubscriptionRepository{rows: make(map[int64]subscription.Subscription)}
}

func (r *SubscriptionRepository) Create(_ context.Context, sub *subscription.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub.ID == 0 {
		r.nextID++
		sub.ID = r.nextID
	} else if sub.ID > r.nextID {
		r.nextID = sub.ID
	}
	if _, ok := r.rows[sub.ID]; ok {
		return xerrors.ErrConflict
	}
	if sub.Kind == "" {
		sub.Kind = subscription.KindRegular
	}
	now := time.Now()
	sub.CreatedAt, sub.UpdatedAt = now, now
	r.rows[sub.ID] = *sub
	return nil
}

func (r *SubscriptionRepository) FindByID(_ context.Context, id int64) (*subscription.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return &row, nil
}

func (r *SubscriptionRepository) FindActiveByUser(_ context.Context, userID int64, at time.Time) ([]*subscription.Subscription, error) {
	return r.filter(func(s *subscription.Subscription) bool {
		return s.UserID == userID && !s.EndTime.Before(at)
	}), nil
}

func (r *SubscriptionRepository) FindStartingAt(_ context.Context, userID int64, at time.Time) ([]*subscription.Subscription, error) {
	return r.filter(func(s *subscription.Subscription) bool {
		return s.UserID == userID && s.StartTime.Equal(at)
	}), nil
}

// FindByUser returns every subscription of the user in start order.
func (r *SubscriptionRepository) FindByUser(userID int64) []*subscription.Subscription {
	return r.filter(func(s *subscription.Subscription) bool { return s.UserID == userID })
}

func (r *SubscriptionRepository) filter(keep func(*subscription.Subscription) bool) []*subscription.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*subscription.Subscription
	for _, row := range r.rows {
		if keep(&row) {
			out = append(out, &row)
		}
	}
	slices.SortFunc(out, func(a, b *subscription.Subscription) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (r *SubscriptionRepository) update(id int64, fn func(*subscription.Subscription)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	fn(&row)
	row.UpdatedAt = time.Now()
	r.rows[id] = row
	return nil
}

func (r *SubscriptionRepository) UpdatePeriod(_ context.Context, id int64, start, end time.Time, note string) error {
	return r.update(id, func(s *subscription.Subscription) {
		s.StartTime, s.EndTime, s.Note = start, end, note
	})
}

func (r *SubscriptionRepository) UpdateEndTime(_ context.Context, id int64, end time.Time) error {
	return r.update(id, func(s *subscription.Subscription) { s.EndTime = end })
}

func (r *SubscriptionRepository) SetNextSubscription(_ context.Context, id, nextID int64) error {
	return r.update(id, func(s *subscription.Subscription) {
		s.NextSubscriptionID = sql.NullInt64{Int64: nextID, Valid: true}
	})
}

type PlanCatalog struct {
	mu    sync.RWMutex
	plans map[int64]subscription.Plan
}

func NewPlanCatalog(plans ...*subscription.Plan) *PlanCatalog {
	c := &PlanCatalog{plans: make(map[int64]subscription.Plan)}
	for _, p := range plans {
		c.Put(p)
	}
	return c
}

// Put adds or replaces a plan.
func (c *PlanCatalog) Put(p *subscription.Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row := *p
	row.Entitlements = slices.Clone(p.Entitlements)
	c.plans[p.ID] = row
}

func (c *PlanCatalog) get(keep func(*subscription.Plan) bool) []*subscription.Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*subscription.Plan
	for _, row := range c.plans {
		if keep(&row) {
			p := row
			p.Entitlements = slices.Clone(row.Entitlements)
			out = append(out, &p)
		}
	}
	slices.SortFunc(out, func(a, b *subscription.Plan) int {
		if c := cmp.Compare(a.Price, b.Price); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (c *PlanCatalog) FindByID(_ context.Context, id int64) (*subscription.Plan, error) {
	found := c.get(func(p *subscription.Plan) bool { return p.ID == id })
	if len(found) == 0 {
		return nil, xerrors.ErrNotFound
	}
	return found[0], nil
}

func (c *PlanCatalog) FindByCode(_ context.Context, code string) (*subscription.Plan, error) {
	found := c.get(func(p *subscription.Plan) bool { return p.Code == code })
	if len(found) == 0 {
		return nil, xerrors.ErrNotFound
	}
	return found[0], nil
}

func (c *PlanCatalog) FindDefaultsByLength(_ context.Context, lengthDays int) ([]*subscription.Plan, error) {
	return c.get(func(p *subscription.Plan) bool {
		return p.IsActive && p.IsDefault && p.LengthDays == lengthDays
	}), nil
}
