// Package cli implements upgradectl, the operator CLI for the upgrade service.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"upgrade-service/internal/app"
	"upgrade-service/internal/config"
	"upgrade-service/internal/pkg/logger"
	upgradeUsecase "upgrade-service/internal/service/upgrade"

	"github.com/spf13/cobra"
)

// Builder wires the service a command runs against. The returned func releases it.
type Builder func(ctx context.Context) (*upgradeUsecase.Service, func(), error)

// Execute runs the CLI against the configured stores.
func Execute() {
	if err := NewRootCmd(defaultBuilder).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultBuilder(ctx context.Context) (*upgradeUsecase.Service, func(), error) {
	cfg := config.Load()
	lg, err := logger.New(cfg.Stage, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	comps, err := app.Build(ctx, cfg, lg)
	if err != nil {
		return nil, nil, err
	}
	return comps.Service, func() {
		comps.Close()
		_ = lg.Sync()
	}, nil
}

func NewRootCmd(build Builder) *cobra.Command {
	root := &cobra.Command{
		Use:           "upgradectl",
		Short:         "Inspect and run subscription upgrades",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newCandidatesCmd(build),
		newExecuteCmd(build),
		newPaymentStatusCmd(build),
		newTrialRenewedCmd(build),
		newTrialFinalizeCmd(build),
		newTokenCmd(),
	)
	return root
}

// withService builds the service for one command run.
func withService(cmd *cobra.Command, build Builder, fn func(ctx context.Context, svc *upgradeUsecase.Service) (any, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	svc, release, err := build(ctx)
	if err != nil {
		return fmt.Errorf("failed to build service: %w", err)
	}
	defer release()

	out, err := fn(ctx, svc)
	if err != nil {
		return err
	}
	return printJSON(cmd, out)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func queryFlags(cmd *cobra.Command, q *upgradeUsecase.Query) {
	cmd.Flags().Int64Var(&q.UserID, "user", 0, "user id")
	cmd.Flags().StringSliceVar(&q.TargetContent, "content", nil, "entitlements the target must grant")
	cmd.Flags().StringSliceVar(&q.RequiredTags, "tags", nil, "option tags to match exactly")
	cmd.Flags().BoolVar(&q.EnforceRequireContent, "enforce-content", false, "only options whose require_content covers --content")
}
