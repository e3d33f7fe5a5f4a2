package cli

import (
	"context"
	"fmt"

	"github.com/ayo6706/custodial-ledger/internal/app"
	"github.com/ayo6706/custodial-ledger/internal/config"
	"github.com/ayo6706/custodial-ledger/internal/db"
	"github.com/ayo6706/custodial-ledger/internal/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(resetLimitsCmd)
	rootCmd.AddCommand(processWithdrawalsCmd)
	rootCmd.AddCommand(ensureWalletCmd)
	rootCmd.AddCommand(verifySignerCmd)

	processWithdrawalsCmd.Flags().Int("limit", 10, "Maximum number of withdrawals to process")
	processWithdrawalsCmd.Flags().String("id", "", "Process only this withdrawal, regardless of age")
	ensureWalletCmd.Flags().String("passphrase", "", "Optional BIP-39 passphrase")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		pool, err := db.Connect(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := db.Migrate(cmd.Context(), pool); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare the ledger with the platform's on-chain balance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
			report, err := c.Reconciler.Reconcile(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		})
	},
}

var resetLimitsCmd = &cobra.Command{
	Use:   "reset-limits",
	Short: "Zero the platform's daily withdrawal usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
			pw, err := c.Reconciler.ResetDailyLimits(ctx, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), pw)
		})
	},
}

var processWithdrawalsCmd = &cobra.Command{
	Use:   "process-withdrawals",
	Short: "Settle pending withdrawals now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		rawID, _ := cmd.Flags().GetString("id")
		var id uuid.UUID
		if rawID != "" {
			parsed, err := uuid.Parse(rawID)
			if err != nil {
				return fmt.Errorf("invalid --id: %w", err)
			}
			id = parsed
		}
		return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
			if id != uuid.Nil {
				res, err := c.Withdrawals.ProcessWithdrawal(ctx, id)
				if res != nil {
					_ = printJSON(cmd.OutOrStdout(), res)
				}
				return err
			}
			batch, err := c.Withdrawals.ProcessPendingWithdrawals(ctx, limit, c.Withdrawals.MinWait())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), batch)
		})
	},
}

var ensureWalletCmd = &cobra.Command{
	Use:   "ensure-wallet USER_ID",
	Short: "Create the custodial wallet for a user if it does not exist",
	Long: `Create the custodial wallet for a user. The mnemonic is printed only when
the wallet is created and is never shown again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid user id: %w", err)
		}
		passphrase, _ := cmd.Flags().GetString("passphrase")
		return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
			if !c.WalletsEnabled {
				return fmt.Errorf("ENCRYPTION_KEY is required to create custodial wallets")
			}
			if _, err := c.Repo.GetUser(ctx, userID); err != nil {
				return err
			}
			res, err := c.Vault.EnsureWallet(ctx, userID, passphrase)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

var verifySignerCmd = &cobra.Command{
	Use:   "verify-signer",
	Short: "Check that the configured private key controls the active platform address",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
			pw, err := c.Platform.Get(ctx)
			if err != nil {
				return err
			}
			signer, err := c.Vault.PlatformSigner(ctx)
			if err != nil {
				return err
			}
			if err := checkSigner(signer.Address().Hex(), pw.Address); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signer %s controls platform wallet %s\n", signer.Address().Hex(), pw.Address)
			return nil
		})
	},
}

func checkSigner(signerAddress, platformAddress string) error {
	if !domain.SameAddress(signerAddress, platformAddress) {
		return fmt.Errorf("%w: signer %s, platform %s", domain.ErrSignerMismatch, signerAddress, platformAddress)
	}
	return nil
}
