package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	upgradeUsecase "upgrade-service/internal/service/upgrade"
	"upgrade-service/internal/service/upgrade/upgradetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func harnessBuilder(h *upgradetest.Harness) Builder {
	return func(context.Context) (*upgradeUsecase.Service, func(), error) {
		return h.Service, func() {}, nil
	}
}

func run(t *testing.T, build Builder, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd(build)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCandidatesCommand(t *testing.T) {
	h := upgradetest.New(t)
	base := h.ShortToPremium()

	out, err := run(t, harnessBuilder(h), "candidates", "--user", "1", "--content", "premium")
	require.NoError(t, err)

	var got candidatesOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, base.ID, got.BaseSubscriptionID)
	require.Len(t, got.Candidates, 1)
	assert.Equal(t, upgradetest.PlanPremium, got.Candidates[0].TargetPlanID)
}

func TestExecuteCommand(t *testing.T) {
	h := upgradetest.New(t)
	h.ShortToPremium()

	out, err := run(t, harnessBuilder(h), "execute", "--user", "1", "--index", "0")
	require.NoError(t, err)

	var got struct {
		Type    string `json:"type"`
		Success bool   `json:"success"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.Success)
	assert.Equal(t, "short", got.Type)
	assert.Len(t, h.Stores.Records.All(), 1)

	_, err = run(t, harnessBuilder(h), "execute", "--user", "1", "--index", "7")
	assert.Error(t, err)
}

func TestCandidatesCommandAnonymous(t *testing.T) {
	h := upgradetest.New(t)

	_, err := run(t, harnessBuilder(h), "candidates")
	assert.ErrorContains(t, err, "not logged in")
}

func TestRequiredFlags(t *testing.T) {
	built := false
	build := func(context.Context) (*upgradeUsecase.Service, func(), error) {
		built = true
		return nil, func() {}, nil
	}

	for _, name := range []string{"payment-status", "trial-renewed", "trial-finalize"} {
		_, err := run(t, build, name)
		assert.ErrorContains(t, err, "is required", name)
	}
	assert.False(t, built)
}

func TestPaymentStatusCommandIgnoresNonPaid(t *testing.T) {
	h := upgradetest.New(t)

	out, err := run(t, harnessBuilder(h), "payment-status", "--payment", "3", "--to", "failed")
	require.NoError(t, err)
	assert.Equal(t, "null\n", out)
}
