package memory

import (
	"cmp"
	"context"
	"database/sql"
	"slices"
	"sync"
	"time"

	"upgrade-service/internal/domain/upgrade"
	xerrors "upgrade-service/internal/pkg/errors"
)

type OptionRepository struct {
	mu   sync.RWMutex
	rows map[int64]upgrade.Option
}

func NewOptionRepository(options ...*upgrade.Option) *OptionRepository {
	r := &OptionRepository{rows: make(map[int64]upgrade.Option)}
	for _, o := range options {
		r.Put(o)
	}
	return r
}

func (r *OptionRepository) Put(o *upgrade.Option) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[o.ID] = *o
}

func (r *OptionRepository) FindBySchema(_ context.Context, schemaID int64) ([]*upgrade.Option, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*upgrade.Option
	for _, row := range r.rows {
		if row.SchemaID == schemaID {
			out = append(out, &row)
		}
	}
	slices.SortFunc(out, func(a, b *upgrade.Option) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *OptionRepository) FindByID(_ context.Context, id int64) (*upgrade.Option, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return &row, nil
}

type RecordRepository struct {
	mu   sync.RWMutex
	rows []upgrade.Record
}

func NewRecordRepository() *RecordRepository {
	return &RecordRepository{}
}

func (r *RecordRepository) Create(_ context.Context, rec *upgrade.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.ID = int64(len(r.rows) + 1)
	r.rows = append(r.rows, *rec)
	return nil
}

func (r *RecordRepository) FindByBase(_ context.Context, baseID int64) ([]*upgrade.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*upgrade.Record
	for _, row := range r.rows {
		if row.BaseSubscriptionID == baseID {
			out = append(out, &row)
		}
	}
	return out, nil
}

func (r *RecordRepository) FindByUpgraded(_ context.Context, upgradedID int64) (*upgrade.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, row := range r.rows {
		if row.UpgradedSubscriptionID == upgradedID {
			return &row, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

// All returns every record in insertion order.
func (r *RecordRepository) All() []upgrade.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.rows)
}

type TrialRepository struct {
	mu   sync.RWMutex
	rows []upgrade.TrialAcceptance
}

func NewTrialRepository() *TrialRepository {
	return &TrialRepository{}
}

func (r *TrialRepository) HasAccepted(_ context.Context, userID, trialPlanID int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, row := range r.rows {
		if row.UserID == userID && row.TrialPlanID == trialPlanID {
			return true, nil
		}
	}
	return false, nil
}

func (r *TrialRepository) Create(_ context.Context, a *upgrade.TrialAcceptance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.ID = int64(len(r.rows) + 1)
	r.rows = append(r.rows, *a)
	return nil
}

func (r *TrialRepository) FindByTrialSubscription(_ context.Context, subscriptionID int64) (*upgrade.TrialAcceptance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, row := range r.rows {
		if row.TrialSubscriptionID == subscriptionID {
			return &row, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (r *TrialRepository) FindOpenByUser(_ context.Context, userID int64) ([]*upgrade.TrialAcceptance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*upgrade.TrialAcceptance
	for _, row := range r.rows {
		if row.UserID == userID && !row.FinalizedAt.Valid {
			out = append(out, &row)
		}
	}
	return out, nil
}

func (r *TrialRepository) update(id int64, fn func(*upgrade.TrialAcceptance)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.rows {
		if r.rows[i].ID == id {
			fn(&r.rows[i])
			return nil
		}
	}
	return xerrors.ErrNotFound
}

func (r *TrialRepository) UpdateLatestEligibleEnd(_ context.Context, id int64, end time.Time) error {
	return r.update(id, func(a *upgrade.TrialAcceptance) { a.LatestEligibleEnd = end })
}

func (r *TrialRepository) MarkFinalized(_ context.Context, id int64, at time.Time) error {
	return r.update(id, func(a *upgrade.TrialAcceptance) {
		a.FinalizedAt = sql.NullTime{Time: at, Valid: true}
	})
}

type AuditLog struct {
	mu      sync.Mutex
	entries []upgrade.AuditEntry
}

func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (l *AuditLog) Append(_ context.Context, entry upgrade.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *AuditLog) Entries(action string) []upgrade.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []upgrade.AuditEntry
	for _, e := range l.entries {
		if action == "" || e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
