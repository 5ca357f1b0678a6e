package memory

import (
	"upgrade-service/internal/domain/subscription"
)

// Stores bundles one of every in-memory store.
type Stores struct {
	Subscriptions *SubscriptionRepository
	Plans         *PlanCatalog
	Payments      *PaymentRepository
	Schedules     *ScheduleRepository
	Options       *OptionRepository
	Records       *RecordRepository
	Trials        *TrialRepository
	Audit         *AuditLog
}

func NewStores(plans ...*subscription.Plan) *Stores {
	return &Stores{
		Subscriptions: NewSubscriptionRepository(),
		Plans:         NewPlanCatalog(plans...),
		Payments:      NewPaymentRepository(),
		Schedules:     NewScheduleRepository(),
		Options:       NewOptionRepository(),
		Records:       NewRecordRepository(),
		Trials:        NewTrialRepository(),
		Audit:         NewAuditLog(),
	}
}
