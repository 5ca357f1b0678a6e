package memory

import (
	"context"
	"database/sql"
	"maps"
	"slices"
	"sync"
	"time"

	"upgrade-service/internal/domain/payment"
	"upgrade-service/internal/domain/recurrent"
	xerrors "upgrade-service/internal/pkg/errors"
)

type PaymentRepository struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[int64]payment.Payment
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{rows: make(map[int64]payment.Payment)}
}

func clonePayment(p payment.Payment) *payment.Payment {
	p.Meta = maps.Clone(p.Meta)
	p.Items = slices.Clone(p.Items)
	return &p
}

func (r *PaymentRepository) Create(_ context.Context, p *payment.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == 0 {
		r.nextID++
		p.ID = r.nextID
	} else if p.ID > r.nextID {
		r.nextID = p.ID
	}
	if _, ok := r.rows[p.ID]; ok {
		return xerrors.ErrConflict
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	r.rows[p.ID] = *clonePayment(*p)
	return nil
}

func (r *PaymentRepository) FindByID(_ context.Context, id int64) (*payment.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return clonePayment(row), nil
}

// FindFundingPayment returns the lowest-id paid payment of the subscription.
func (r *PaymentRepository) FindFundingPayment(_ context.Context, subscriptionID int64) (*payment.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *payment.Payment
	for _, row := range r.rows {
		if !row.SubscriptionID.Valid || row.SubscriptionID.Int64 != subscriptionID || row.Status != payment.StatusPaid || row.UpgradeType != "" {
			continue
		}
		if found == nil || row.ID < found.ID {
			found = clonePayment(row)
		}
	}
	if found == nil {
		return nil, xerrors.ErrNotFound
	}
	return found, nil
}

func (r *PaymentRepository) FindPendingUpgrade(_ context.Context, subscriptionID int64, upgradeType string) (*payment.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *payment.Payment
	for _, row := range r.rows {
		if !row.SubscriptionID.Valid || row.SubscriptionID.Int64 != subscriptionID || row.Status != payment.StatusPending || row.UpgradeType != upgradeType {
			continue
		}
		if found == nil || row.ID > found.ID {
			found = clonePayment(row)
		}
	}
	if found == nil {
		return nil, xerrors.ErrNotFound
	}
	return found, nil
}

func (r *PaymentRepository) update(id int64, fn func(*payment.Payment)) error {
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

func (r *PaymentRepository) UpdateStatus(_ context.Context, id int64, status payment.Status) error {
	return r.update(id, func(p *payment.Payment) {
		p.Status = status
		if status == payment.StatusPaid {
			p.PaidAt = sql.NullTime{Time: time.Now(), Valid: true}
		}
	})
}

func (r *PaymentRepository) UpdateMeta(_ context.Context, id int64, meta map[string]string) error {
	return r.update(id, func(p *payment.Payment) { p.Meta = maps.Clone(meta) })
}

func (r *PaymentRepository) SumItemsByType(_ context.Context, paymentID int64, itemType string) (float64, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[paymentID]
	if !ok {
		return 0, false, xerrors.ErrNotFound
	}
	var (
		sum   float64
		found bool
	)
	for _, it := range row.Items {
		if it.Type == itemType {
			sum += it.Amount
			found = true
		}
	}
	return sum, found, nil
}

type ScheduleRepository struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[int64]recurrent.Schedule
}

func NewScheduleRepository() *ScheduleRepository {
	return &ScheduleRepository{rows: make(map[int64]recurrent.Schedule)}
}

func (r *ScheduleRepository) Create(_ context.Context, s *recurrent.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.ID == 0 {
		r.nextID++
		s.ID = r.nextID
	}
	r.rows[s.ID] = *s
	return nil
}

func (r *ScheduleRepository) FindByID(_ context.Context, id int64) (*recurrent.Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return &row, nil
}

func (r *ScheduleRepository) FindByPayment(_ context.Context, paymentID int64) (*recurrent.Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, row := range r.rows {
		if row.ParentPaymentID == paymentID {
			return &row, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (r *ScheduleRepository) update(id int64, fn func(*recurrent.Schedule)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	fn(&row)
	r.rows[id] = row
	return nil
}

func (r *ScheduleRepository) UpdateNextCharge(_ context.Context, id int64, next time.Time, nextPlanID sql.NullInt64) error {
	return r.update(id, func(s *recurrent.Schedule) {
		s.NextChargeTime, s.NextPlanID = next, nextPlanID
	})
}

func (r *ScheduleRepository) UpdatePlan(_ context.Context, id int64, nextPlanID sql.NullInt64, customAmount sql.NullFloat64) error {
	return r.update(id, func(s *recurrent.Schedule) {
		s.NextPlanID, s.CustomAmount = nextPlanID, customAmount
	})
}
