// Command ledgerctl administers the paper-trading ledger directly against its store.
package main

import (
	"os"

	"github.com/user/papertrade/backend/internal/config"
)

func main() {
	if err := newRootCmd(func() (*config.Config, error) { return config.Load() }).Execute(); err != nil {
		os.Exit(1)
	}
}
