package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/user/papertrade/backend/internal/id"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/models"
)

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the ledger tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withLedger(cmd.Context(), func(*ledger.Coordinator) error {
				fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", e.cfg.Driver)
				return nil
			})
		},
	}
}

func newOpenAccountCmd(e *env) *cobra.Command {
	var (
		idFlag  string
		balance string
	)
	cmd := &cobra.Command{
		Use:   "open-account",
		Short: "Open an account with an initial cash balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID := uuid.New()
			if idFlag != "" {
				var err error
				if accountID, err = uuid.Parse(idFlag); err != nil {
					return fmt.Errorf("--id: %w", err)
				}
			}
			initial, err := decimal.NewFromString(balance)
			if err != nil {
				return fmt.Errorf("--balance: %w", err)
			}
			return e.withLedger(cmd.Context(), func(c *ledger.Coordinator) error {
				acct, err := c.OpenAccount(cmd.Context(), accountID, initial)
				if err != nil {
					return err
				}
				return printJSON(cmd, acct)
			})
		},
	}
	cmd.Flags().StringVar(&idFlag, "id", "", "account id (default: a new UUID)")
	cmd.Flags().StringVar(&balance, "balance", "100000", "initial cash balance")
	return cmd
}

func accountArg(args []string) (uuid.UUID, error) {
	accountID, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("account id: %w", err)
	}
	return accountID, nil
}

func newWalletCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "wallet <account-id>",
		Short: "Print an account's cash balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, err := accountArg(args)
			if err != nil {
				return err
			}
			return e.withLedger(cmd.Context(), func(c *ledger.Coordinator) error {
				bal, err := c.Wallet(cmd.Context(), accountID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), bal.String())
				return nil
			})
		},
	}
}

func newHoldingsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "holdings <account-id>",
		Short: "Print an account's open positions per symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, err := accountArg(args)
			if err != nil {
				return err
			}
			return e.withLedger(cmd.Context(), func(c *ledger.Coordinator) error {
				holdings, err := c.Holdings(cmd.Context(), accountID)
				if err != nil {
					return err
				}
				return printJSON(cmd, holdings)
			})
		},
	}
}

func newTransactionsCmd(e *env) *cobra.Command {
	var kind, lotID string
	cmd := &cobra.Command{
		Use:   "transactions <account-id>",
		Short: "Print an account's transaction history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, err := accountArg(args)
			if err != nil {
				return err
			}
			if lotID != "" && !id.Valid(lotID) {
				return fmt.Errorf("--id: %q is not a lot id", lotID)
			}
			return e.withLedger(cmd.Context(), func(c *ledger.Coordinator) error {
				recs, err := c.Transactions(cmd.Context(), accountID, ledger.Filter{Kind: models.TxKind(kind), ID: lotID})
				if err != nil {
					return err
				}
				return printJSON(cmd, recs)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only records of this kind (hold or sold)")
	cmd.Flags().StringVar(&lotID, "id", "", "only the record for this lot id")
	return cmd
}
