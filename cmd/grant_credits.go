package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	pgledger "github.com/JakeFAU/crawl-admission/internal/billing/postgres"
	"github.com/JakeFAU/crawl-admission/internal/clock/system"
	"github.com/JakeFAU/crawl-admission/internal/database"
	"github.com/JakeFAU/crawl-admission/internal/id/uuid"
)

func newGrantCreditsCmd(path func() string, load configLoader) *cobra.Command {
	var (
		tenant  string
		credits int
	)
	cmd := &cobra.Command{
		Use:   "grant-credits",
		Short: "Add credits to a tenant in the Postgres ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tenant == "" {
				return errors.New("--tenant is required")
			}
			if credits <= 0 {
				return errors.New("--credits must be > 0")
			}
			cfg, err := load(path())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			pool, err := database.Open(cmd.Context(), database.Config{
				DSN:             cfg.DB.DSN,
				MaxConns:        2,
				MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
			})
			if err != nil {
				return err
			}
			defer pool.Close()

			ledger, err := pgledger.NewLedger(pool, pgledger.Tables{
				Balances: cfg.Billing.BalancesTable,
				Holds:    cfg.Billing.HoldsTable,
			}, uuid.New(), system.New())
			if err != nil {
				return err
			}
			if cfg.DB.EnsureSchema {
				if err := ledger.EnsureSchema(cmd.Context()); err != nil {
					return err
				}
			}
			if err := ledger.Grant(cmd.Context(), tenant, credits); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %d credits to %s\n", credits, tenant)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	cmd.Flags().IntVar(&credits, "credits", 0, "credits to add")
	return cmd
}
