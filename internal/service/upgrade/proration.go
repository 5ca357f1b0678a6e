package upgrade

import (
	"time"

	"upgrade-service/internal/domain/payment"
	"upgrade-service/internal/domain/subscription"

	"github.com/shopspring/decimal"
)

const secondsPerDay = 86400

var minChargePrice = decimal.New(1, -2)

// WholeDays counts calendar days from a to b in a's location. A partial
// last day does not count. DST days count as one day.
func WholeDays(a, b time.Time) int {
	if !b.After(a) {
		return 0
	}
	b = b.In(a.Location())

	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	days := int(time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC).Sub(time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)).Hours() / 24)
	if clock(b) < clock(a) {
		days--
	}
	return days
}

func clock(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}

// StartPoint is where remaining value is counted from.
func StartPoint(sub *subscription.Subscription, now time.Time) time.Time {
	if sub.StartTime.After(now) {
		return sub.StartTime
	}
	return now
}

// AmountSpent is what the funding payment paid for the subscription itself.
func AmountSpent(p *payment.Payment) decimal.Decimal {
	var (
		sum   decimal.Decimal
		found bool
	)
	for _, it := range p.Items {
		if it.Type == payment.ItemTypeSubscription {
			sum = sum.Add(decimal.NewFromFloat(it.Amount))
			found = true
		}
	}
	if !found {
		return decimal.NewFromFloat(p.Amount)
	}
	return sum
}

// SubscriptionValue is what sub is worth in full. Upgrade-derived
// subscriptions share their funding payment with the subscription they came
// from, so they are valued at their plan's day price instead.
func SubscriptionValue(sub *subscription.Subscription, plan *subscription.Plan, p *payment.Payment) decimal.Decimal {
	if sub.Kind == subscription.KindUpgrade && plan != nil && plan.LengthDays > 0 {
		days := decimal.NewFromInt(int64(WholeDays(sub.StartTime, sub.EndTime)))
		return decimal.NewFromFloat(plan.Price).Div(decimal.NewFromInt(int64(plan.LengthDays))).Mul(days)
	}
	if p == nil {
		if plan == nil {
			return decimal.Zero
		}
		return decimal.NewFromFloat(plan.Price)
	}
	return AmountSpent(p)
}

// DaysRemaining counts whole days left on sub from the start point.
func DaysRemaining(sub *subscription.Subscription, now time.Time) int {
	return WholeDays(StartPoint(sub, now), sub.EndTime)
}

// SavedValue is the unspent part of amountSpent at now.
func SavedValue(sub *subscription.Subscription, amountSpent decimal.Decimal, now time.Time) decimal.Decimal {
	total := WholeDays(sub.StartTime, sub.EndTime)
	if total <= 0 {
		return decimal.Zero
	}
	remaining := DaysRemaining(sub, now)
	return amountSpent.Div(decimal.NewFromInt(int64(total))).Mul(decimal.NewFromInt(int64(remaining)))
}

// TargetDayPrice is the daily price of target. A monthly fix replaces it
// with fix/31 plus the current plan price spread over the target length.
func TargetDayPrice(target, current *subscription.Plan, monthlyFix decimal.NullDecimal) decimal.Decimal {
	if target.LengthDays <= 0 {
		return decimal.Zero
	}
	length := decimal.NewFromInt(int64(target.LengthDays))
	if monthlyFix.Valid {
		return monthlyFix.Decimal.Div(decimal.NewFromInt(31)).
			Add(decimal.NewFromFloat(current.Price).Div(length))
	}
	return decimal.NewFromFloat(target.Price).Div(length)
}

// PurchasableSeconds is how much target time saved buys, rounded up to a second.
func PurchasableSeconds(saved, targetDayPrice decimal.Decimal) int64 {
	if !targetDayPrice.IsPositive() || !saved.IsPositive() {
		return 0
	}
	return saved.Div(targetDayPrice).Mul(decimal.NewFromInt(secondsPerDay)).Round(6).Ceil().IntPart()
}

// ShortenedEndTime is the end of target coverage bought with the unspent
// value of sub. A subscription that already ended keeps its end.
func ShortenedEndTime(sub *subscription.Subscription, amountSpent, targetDayPrice decimal.Decimal, now time.Time) time.Time {
	if sub.Ended(now) {
		return sub.EndTime
	}
	seconds := PurchasableSeconds(SavedValue(sub, amountSpent, now), targetDayPrice)
	return AddCoverage(StartPoint(sub, now).In(now.Location()), seconds)
}

// AddCoverage adds purchased seconds to start as whole calendar days in
// start's location plus the remaining seconds, so a day bought across a
// DST change still ends at the same wall clock.
func AddCoverage(start time.Time, seconds int64) time.Time {
	days := seconds / secondsPerDay
	rest := seconds % secondsPerDay
	return start.AddDate(0, 0, int(days)).Add(time.Duration(rest) * time.Second)
}

// ChargePrice rounds to cents and never goes below one cent.
func ChargePrice(d decimal.Decimal) decimal.Decimal {
	d = d.Round(2)
	if d.LessThan(minChargePrice) {
		return minChargePrice
	}
	return d
}
