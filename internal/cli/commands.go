package cli

import (
	"context"
	"fmt"
	"time"

	"upgrade-service/internal/domain/payment"
	"upgrade-service/internal/pkg/jwt"
	upgradeUsecase "upgrade-service/internal/service/upgrade"

	"github.com/spf13/cobra"
)

type candidatesOutput struct {
	BaseSubscriptionID int64                      `json:"base_subscription_id"`
	Candidates         []upgradeUsecase.Candidate `json:"candidates"`
}

func newCandidatesCmd(build Builder) *cobra.Command {
	var q upgradeUsecase.Query
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "List the ranked upgrades for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, build, func(ctx context.Context, svc *upgradeUsecase.Service) (any, error) {
				res, err := svc.Candidates(ctx, q)
				if err != nil {
					return nil, err
				}
				return candidatesOutput{BaseSubscriptionID: res.Base.ID, Candidates: res.Describe()}, nil
			})
		},
	}
	queryFlags(cmd, &q)
	return cmd
}

func newExecuteCmd(build Builder) *cobra.Command {
	var (
		q     upgradeUsecase.Query
		index int
	)
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Execute the candidate at --index for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, build, func(ctx context.Context, svc *upgradeUsecase.Service) (any, error) {
				return svc.Execute(ctx, q, index)
			})
		},
	}
	queryFlags(cmd, &q)
	cmd.Flags().IntVar(&index, "index", 0, "candidate index as listed by candidates")
	return cmd
}

func newPaymentStatusCmd(build Builder) *cobra.Command {
	var (
		paymentID int64
		from, to  string
	)
	cmd := &cobra.Command{
		Use:   "payment-status",
		Short: "Apply a payment status transition",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if paymentID <= 0 {
				return fmt.Errorf("--payment is required")
			}
			return withService(cmd, build, func(ctx context.Context, svc *upgradeUsecase.Service) (any, error) {
				return svc.PaymentStatusChanged(ctx, paymentID, payment.Status(from), payment.Status(to))
			})
		},
	}
	cmd.Flags().Int64Var(&paymentID, "payment", 0, "payment id")
	cmd.Flags().StringVar(&from, "from", string(payment.StatusPending), "previous status")
	cmd.Flags().StringVar(&to, "to", string(payment.StatusPaid), "new status")
	return cmd
}

func newTrialRenewedCmd(build Builder) *cobra.Command {
	var subscriptionID int64
	cmd := &cobra.Command{
		Use:   "trial-renewed",
		Short: "Extend trials riding on a renewed subscription",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if subscriptionID <= 0 {
				return fmt.Errorf("--subscription is required")
			}
			return withService(cmd, build, func(ctx context.Context, svc *upgradeUsecase.Service) (any, error) {
				return svc.SubscriptionRenewed(ctx, subscriptionID)
			})
		},
	}
	cmd.Flags().Int64Var(&subscriptionID, "subscription", 0, "renewed subscription id")
	return cmd
}

func newTrialFinalizeCmd(build Builder) *cobra.Command {
	var subscriptionID int64
	cmd := &cobra.Command{
		Use:   "trial-finalize",
		Short: "Finalize an ended trial",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if subscriptionID <= 0 {
				return fmt.Errorf("--subscription is required")
			}
			return withService(cmd, build, func(ctx context.Context, svc *upgradeUsecase.Service) (any, error) {
				return svc.FinalizeTrial(ctx, subscriptionID)
			})
		},
	}
	cmd.Flags().Int64Var(&subscriptionID, "subscription", 0, "trial subscription id")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		keyPath, issuer, audience string
		userID                    int64
		roles                     []string
		ttl                       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for calling the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			priv, err := jwt.LoadRSAPrivateKeyFromPEM(keyPath)
			if err != nil {
				return err
			}
			token, _, err := jwt.NewGenerator(priv, issuer, audience, ttl).GenerateAccessToken(userID, roles)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "jwt_private.pem", "RSA private key (PEM)")
	cmd.Flags().StringVar(&issuer, "issuer", "accounts", "token issuer")
	cmd.Flags().StringVar(&audience, "audience", "subscriptions", "token audience")
	cmd.Flags().Int64Var(&userID, "user", 0, "identity id")
	cmd.Flags().StringSliceVar(&roles, "role", []string{jwt.RoleSystem}, "roles")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
