package upgrade

import (
	"context"
	"testing"

	"upgrade-service/internal/domain/subscription"
	"upgrade-service/internal/domain/upgrade"
	xerrors "upgrade-service/internal/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetResolver(t *testing.T) {
	ctx := context.Background()
	plans := catalog()
	plans.Put(&subscription.Plan{ID: 40, Code: "basic-week", Price: 2, LengthDays: 7, ExtendingLengthDays: 31, Entitlements: []string{"basic"}, IsActive: true})
	plans.Put(&subscription.Plan{ID: 41, Code: "sport-promo", Price: 7, LengthDays: 31, Entitlements: []string{"basic", "sport"}, IsActive: false, IsDefault: true})
	r := NewTargetResolver(plans)

	basic, err := plans.FindByID(ctx, planBasic)
	require.NoError(t, err)
	week, err := plans.FindByID(ctx, 40)
	require.NoError(t, err)

	t.Run("explicit target", func(t *testing.T) {
		got, err := r.Resolve(ctx, basic, planBundle, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, planBundle, got.ID)
	})

	t.Run("explicit target missing", func(t *testing.T) {
		_, err := r.Resolve(ctx, basic, 999, nil, nil)
		assert.ErrorIs(t, err, xerrors.ErrNotFound)
	})

	t.Run("nothing to add", func(t *testing.T) {
		_, err := r.Resolve(ctx, basic, 0, []string{"basic"}, nil)
		assert.ErrorIs(t, err, upgrade.ErrNoUpgradeNeeded)
	})

	t.Run("cheapest active default", func(t *testing.T) {
		got, err := r.Resolve(ctx, basic, 0, []string{"sport"}, nil)
		require.NoError(t, err)
		assert.Equal(t, planSport, got.ID)
	})

	t.Run("combined content", func(t *testing.T) {
		got, err := r.Resolve(ctx, basic, 0, []string{"sport", "premium"}, nil)
		require.NoError(t, err)
		assert.Equal(t, planBundle, got.ID)
	})

	t.Run("omitted content", func(t *testing.T) {
		got, err := r.Resolve(ctx, &subscription.Plan{ID: 50, LengthDays: 31, Entitlements: []string{"basic", "legacy"}}, 0, []string{"premium"}, []string{"legacy"})
		require.NoError(t, err)
		assert.Equal(t, planPremium, got.ID)
	})

	t.Run("extending length", func(t *testing.T) {
		got, err := r.Resolve(ctx, week, 0, []string{"premium"}, nil)
		require.NoError(t, err)
		assert.Equal(t, planPremium, got.ID)
	})

	t.Run("no default plan", func(t *testing.T) {
		_, err := r.Resolve(ctx, basic, 0, []string{"cinema"}, nil)
		var noDefault *upgrade.NoDefaultPlanError
		require.ErrorAs(t, err, &noDefault)
		assert.Equal(t, []string{"basic", "cinema"}, noDefault.Entitlements)
		assert.Equal(t, 31, noDefault.LengthDays)
	})
}

func TestUnion(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, union([]string{"c", "a"}, []string{"b", "a"}))
	assert.Empty(t, union(nil, nil))
}
