package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/user/papertrade/backend/internal/config"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/logging"
	"github.com/user/papertrade/backend/internal/storage"
	"go.uber.org/zap"
)

// env is shared by every subcommand once the root has loaded configuration.
type env struct {
	load    func() (*config.Config, error)
	cfg     *config.Config
	log     *zap.Logger
	closeFn func()
	verbose bool
}

func newRootCmd(load func() (*config.Config, error)) *cobra.Command {
	e := &env{load: load}
	root := &cobra.Command{
		Use:          "ledgerctl",
		Short:        "Administer the paper-trading ledger",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e.closeFn != nil {
				e.closeFn()
			}
		},
	}
	root.PersistentFlags().BoolVarP(&e.verbose, "verbose", "v", false, "log at info level instead of warn")
	root.AddCommand(
		newMigrateCmd(e),
		newOpenAccountCmd(e),
		newWalletCmd(e),
		newHoldingsCmd(e),
		newTransactionsCmd(e),
		newTokenCmd(e),
	)
	return root
}

func (e *env) init() error {
	cfg, err := e.load()
	if err != nil {
		return err
	}
	if !e.verbose {
		cfg.Log.Level = "warn"
	}
	log, closeFn, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	e.cfg, e.log, e.closeFn = cfg, log, closeFn
	return nil
}

// Each command is its own process, so an in-memory ledger would be empty every time.
var errMemoryDriver = errors.New("ledgerctl needs a persistent store: set LEDGER_DRIVER to sqlite or postgres")

// withLedger opens the store, runs fn against a coordinator and closes the store.
func (e *env) withLedger(ctx context.Context, fn func(*ledger.Coordinator) error) error {
	if e.cfg.Driver == config.DriverMemory {
		return errMemoryDriver
	}
	store, err := storage.Open(ctx, e.cfg, e.log)
	if err != nil {
		return fmt.Errorf("open %s store: %w", e.cfg.Driver, err)
	}
	defer store.Close()
	return fn(ledger.NewCoordinator(store, nil, e.log))
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
