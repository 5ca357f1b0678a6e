package upgrade

import (
	"testing"
	"time"
	_ "time/tzdata"

	"upgrade-service/internal/domain/payment"
	"upgrade-service/internal/domain/subscription"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWholeDays(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		name string
		a, b time.Time
		want int
	}{
		{name: "same instant", a: day(time.April, 5), b: day(time.April, 5), want: 0},
		{name: "reversed", a: day(time.April, 6), b: day(time.April, 5), want: 0},
		{name: "full month", a: day(time.April, 4), b: day(time.May, 5), want: 31},
		{name: "partial day dropped", a: day(time.April, 4).Add(10 * time.Hour), b: day(time.April, 6).Add(9 * time.Hour), want: 1},
		{name: "partial day reached", a: day(time.April, 4).Add(10 * time.Hour), b: day(time.April, 6).Add(10 * time.Hour), want: 2},
		{name: "spring forward", a: time.Date(2021, time.March, 13, 12, 0, 0, 0, ny), b: time.Date(2021, time.March, 15, 12, 0, 0, 0, ny), want: 2},
		{name: "short day", a: time.Date(2021, time.March, 14, 0, 0, 0, 0, ny), b: time.Date(2021, time.March, 15, 0, 0, 0, 0, ny), want: 1},
		{name: "fall back", a: time.Date(2021, time.November, 7, 0, 0, 0, 0, ny), b: time.Date(2021, time.November, 8, 0, 0, 0, 0, ny), want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WholeDays(tt.a, tt.b))
		})
	}
}

func TestChargePrice(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "-3", want: "0.01"},
		{in: "0", want: "0.01"},
		{in: "0.004", want: "0.01"},
		{in: "4.835", want: "4.84"},
		{in: "8.387096774193548", want: "8.39"},
		{in: "12", want: "12.00"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ChargePrice(decimal.RequireFromString(tt.in)).StringFixed(2))
		})
	}
}

func TestPurchasableSeconds(t *testing.T) {
	saved := decimal.NewFromInt(5).Div(decimal.NewFromInt(31)).Mul(decimal.NewFromInt(30))
	dayPrice := decimal.NewFromInt(10).Div(decimal.NewFromInt(31))
	assert.Equal(t, int64(15*secondsPerDay), PurchasableSeconds(saved, dayPrice))

	assert.Zero(t, PurchasableSeconds(decimal.Zero, dayPrice))
	assert.Zero(t, PurchasableSeconds(saved, decimal.Zero))
	assert.Equal(t, int64(2), PurchasableSeconds(decimal.RequireFromString("1.5"), decimal.NewFromInt(secondsPerDay)))
}

func TestSavedValueNeverGrowsOverTime(t *testing.T) {
	sub := &subscription.Subscription{StartTime: day(time.April, 4), EndTime: day(time.May, 5)}
	spent := decimal.NewFromInt(5)

	prev := SavedValue(sub, spent, day(time.April, 1))
	assert.Equal(t, "5.00", prev.StringFixed(2))
	for now := day(time.April, 1); !now.After(day(time.May, 6)); now = now.Add(6 * time.Hour) {
		cur := SavedValue(sub, spent, now)
		assert.Truef(t, cur.LessThanOrEqual(prev), "saved value grew at %s", now)
		prev = cur
	}
	assert.True(t, prev.IsZero())
}

func TestShortenedEndTime(t *testing.T) {
	sub := &subscription.Subscription{StartTime: day(time.April, 4), EndTime: day(time.May, 5)}
	target := &subscription.Plan{Price: 10, LengthDays: 31}
	tdp := TargetDayPrice(target, nil, decimal.NullDecimal{})

	assert.Equal(t, day(time.April, 20), ShortenedEndTime(sub, decimal.NewFromInt(5), tdp, day(time.April, 5)))
	assert.Equal(t, day(time.May, 5), ShortenedEndTime(sub, decimal.NewFromInt(5), tdp, day(time.May, 6)))

	future := &subscription.Subscription{StartTime: day(time.May, 5), EndTime: day(time.June, 5)}
	assert.Equal(t, day(time.May, 20).Add(12*time.Hour), ShortenedEndTime(future, decimal.NewFromInt(5), tdp, day(time.April, 5)))
}

func TestShortenedEndTimeAcrossDST(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	sub := &subscription.Subscription{
		StartTime: time.Date(2021, time.March, 20, 0, 0, 0, 0, berlin),
		EndTime:   time.Date(2021, time.April, 20, 0, 0, 0, 0, berlin),
	}
	target := &subscription.Plan{Price: 62, LengthDays: 31}
	tdp := TargetDayPrice(target, nil, decimal.NullDecimal{})

	got := ShortenedEndTime(sub, decimal.NewFromInt(31), tdp, sub.StartTime)
	assert.True(t, time.Date(2021, time.April, 4, 12, 0, 0, 0, berlin).Equal(got), got.String())
	assert.Equal(t, 12, got.Hour())
}

func TestAddCoverage(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	start := time.Date(2021, time.March, 27, 0, 0, 0, 0, berlin)

	tests := []struct {
		name    string
		seconds int64
		want    time.Time
	}{
		{name: "zero", seconds: 0, want: start},
		{name: "under a day", seconds: 3600, want: start.Add(time.Hour)},
		{name: "whole days keep wall clock", seconds: 2 * secondsPerDay, want: time.Date(2021, time.March, 29, 0, 0, 0, 0, berlin)},
		{name: "days plus remainder", seconds: 2*secondsPerDay + 1800, want: time.Date(2021, time.March, 29, 0, 30, 0, 0, berlin)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(AddCoverage(start, tt.seconds)))
		})
	}
}

func TestTargetDayPrice(t *testing.T) {
	target := &subscription.Plan{Price: 10, LengthDays: 31}
	current := &subscription.Plan{Price: 5, LengthDays: 31}

	plain := TargetDayPrice(target, current, decimal.NullDecimal{})
	assert.Equal(t, "0.3226", plain.StringFixed(4))

	fixed := TargetDayPrice(target, current, decimal.NewNullDecimal(decimal.NewFromInt(1)))
	assert.Equal(t, "0.1935", fixed.StringFixed(4))

	assert.True(t, TargetDayPrice(&subscription.Plan{Price: 10}, current, decimal.NullDecimal{}).IsZero())
}

func TestAmountSpent(t *testing.T) {
	p := &payment.Payment{Amount: 12, Items: []payment.Item{
		{Type: payment.ItemTypeSubscription, Amount: 5},
		{Type: "delivery", Amount: 7},
	}}
	assert.Equal(t, "5", AmountSpent(p).String())

	assert.Equal(t, "12", AmountSpent(&payment.Payment{Amount: 12}).String())
}

func TestSubscriptionValue(t *testing.T) {
	plan := &subscription.Plan{Price: 10, LengthDays: 31}
	pay := &payment.Payment{Amount: 5}

	regular := &subscription.Subscription{Kind: subscription.KindRegular, StartTime: day(time.April, 4), EndTime: day(time.May, 5)}
	assert.Equal(t, "5", SubscriptionValue(regular, plan, pay).String())
	assert.Equal(t, "10", SubscriptionValue(regular, plan, nil).String())
	assert.True(t, SubscriptionValue(regular, nil, nil).IsZero())

	upgraded := &subscription.Subscription{Kind: subscription.KindUpgrade, StartTime: day(time.April, 5), EndTime: day(time.April, 20)}
	assert.Equal(t, "4.84", SubscriptionValue(upgraded, plan, pay).StringFixed(2))
}
