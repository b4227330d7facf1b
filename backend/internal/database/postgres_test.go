package database

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/ledger/ledgertest"
)

// Set PAPERTRADE_TEST_DATABASE_URL to a disposable database to run these.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("PAPERTRADE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PAPERTRADE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestStore(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Store { return openTestStore(t) })
}

func TestMigrateIsRepeatable(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestCoordinator(t *testing.T) {
	ledgertest.RunCoordinator(t, func(t *testing.T) ledger.Store { return openTestStore(t) })
}
