// Package ledgertest holds the behaviour every ledger.Store backend must share.
package ledgertest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/papertrade/backend/internal/id"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/models"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func eq(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

var errAbort = errors.New("abort")

// Run exercises a store produced by open. Each subtest opens its own accounts,
// so open may hand back a shared database.
func Run(t *testing.T, open func(t *testing.T) ledger.Store) {
	t.Run("Accounts", func(t *testing.T) { testAccounts(t, open(t)) })
	t.Run("Positions", func(t *testing.T) { testPositions(t, open(t)) })
	t.Run("Aggregate", func(t *testing.T) { testAggregate(t, open(t)) })
	t.Run("Transactions", func(t *testing.T) { testTransactions(t, open(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("Precision", func(t *testing.T) { testPrecision(t, open(t)) })
	t.Run("ReadOnlyView", func(t *testing.T) { testReadOnlyView(t, open(t)) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, open(t).Ping(context.Background())) })
}

func update(t *testing.T, s ledger.Store, fn ledger.TxFunc) error {
	t.Helper()
	return s.Update(context.Background(), fn)
}

func openAccount(t *testing.T, s ledger.Store, balance string) uuid.UUID {
	t.Helper()
	acct := uuid.New()
	err := update(t, s, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.Accounts().Open(ctx, acct, dec(balance))
		return err
	})
	require.NoError(t, err)
	return acct
}

func balanceOf(t *testing.T, s ledger.Store, acct uuid.UUID) decimal.Decimal {
	t.Helper()
	var bal decimal.Decimal
	err := s.View(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		var err error
		bal, err = tx.Accounts().GetBalance(ctx, acct)
		return err
	})
	require.NoError(t, err)
	return bal
}

func testAccounts(t *testing.T, s ledger.Store) {
	acct := openAccount(t, s, "100")
	eq(t, "100", balanceOf(t, s, acct))

	err := update(t, s, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.Accounts().Open(ctx, acct, dec("1"))
		return err
	})
	require.ErrorIs(t, err, ledger.ErrDuplicateKey)

	err = s.View(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.Accounts().GetBalance(ctx, uuid.New())
		return err
	})
	require.ErrorIs(t, err, ledger.ErrNotFound)

	err = update(t, s, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.Accounts().Debit(ctx, acct, dec("100.001"))
		return err
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	eq(t, "100", balanceOf(t, s, acct))

	var after decimal.Decimal
	err = update(t, s, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		after, err = tx.Accounts().Debit(ctx, acct, dec("100"))
		return err
	})
	require.NoError(t, err)
	eq(t, "0", after)

	err = update(t, s, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		after, err = tx.Accounts().Credit(ctx, acct, dec("42.5"))
		return err
	})
	require.NoError(t, err)
	eq(t, "42.5", after)
	eq(t, "42.5", balanceOf(t, s, acct))

	err = update(t, s, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.Accounts().Credit(ctx, uuid.New(), dec("1"))
		return err
	})
	require.ErrorIs(t, err, ledger.ErrNotFound)

	err = update(t, s, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.Accounts().Debit(ctx, uuid.New(), dec("1"))
		return err
	})
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func testPositions(t *testing.T, s ledger.Store) {
	acct := openAccount(t, s, "0")

	var lot *models.Lot
	err := update(t, s, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		lot, err = tx.Positions().CreateLot(ctx, acct, "BTC", dec("2"), dec("50000"))
		return err
	})
	require.NoError(t, err)
	require.NotEmpty(t, lot.ID)
	assert.Equal(t, acct, lot.AccountID)

	err = s.View(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		found, err := tx.Positions().FindLot(ctx, lot.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, lot.ID, found.ID)
		assert.Equal(t, acct, found.AccountID)
		assert.Equal(t, "BTC", found.Symbol)
		eq(t, "2", found.Quantity)
		eq(t, "50000", found.UnitPrice)
		return nil
	})
	require.NoError(t, err)

	err = update(t, s, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.Positions().CreateLot(ctx, acct, "BTC", dec("0"), dec("1"))
		return err
	})
	require.ErrorIs(t, err, ledger.ErrValidation)

	err = update(t, s, func(ctx context.Context, tx ledger.Tx) error {
		deleted, err := tx.Positions().DeleteLot(ctx, lot.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, lot.ID, deleted.ID)
		eq(t, "2", deleted.Quantity)
		return nil
	})
	require.NoError(t, err)

	err = update(t, s, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.Positions().DeleteLot(ctx, lot.ID)
		return err
	})
	require.ErrorIs(t, err, ledger.ErrNotFound)

	err = s.View(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.Positions().FindLot(ctx, lot.ID)
		return err
	})
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func testAggregate(t *testing.T, s ledger.Store) {
	acct := openAccount(t, s, "0")
	other := openAccount(t, s, "0")

	err := update(t, s, func(ctx context.Context, tx ledger.Tx) error {
		p := tx.Positions()
		for _, l := range []struct{ acct uuid.UUID; sym, q, p string }{
			{acct, "ETH", "1", "100"},
			{acct, "ETH", "2", "200"},
			{acct, "ADA", "10", "0.5"},
			{other, "ETH", "99", "1"},
		} {
			if _, err := p.CreateLot(ctx, l.acct, l.sym, dec(l.q), dec(l.p)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	var holdings []models.Holding
	err = s.View(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		var err error
		holdings, err = tx.Positions().AggregateOpenPositions(ctx, acct)
		return err
	})
	require.NoError(t, err)
	require.Len(t, holdings, 2)
	assert.Equal(t, "ADA", holdings[0].Symbol)
	eq(t, "10", holdings[0].TotalQuantity)
	eq(t, "5", holdings[0].TotalCost)
	assert.Equal(t, "ETH", holdings[1].Symbol)
	eq(t, "3", holdings[1].TotalQuantity)
	eq(t, "500", holdings[1].TotalCost)

	err = s.View(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		var err error
		holdings, err = tx.Positions().AggregateOpenPositions(ctx, uuid.New())
		return err
	})
	require.NoError(t, err)
	assert.Empty(t, holdings)
}

func testTransactions(t *testing.T, s ledger.Store) {
	acct := openAccount(t, s, "0")
	first := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)

	recs := []models.TransactionRecord{
		{ID: id.New(), AccountID: acct, Symbol: "BTC", Quantity: dec("1"), BuyPrice: dec("10"), CreatedAt: first},
		{ID: id.New(), AccountID: acct, Symbol: "ETH", Quantity: dec("2"), BuyPrice: dec("20"), CreatedAt: first.Add(time.Second)},
	}
	err := update(t, s, func(ctx context.Context, tx ledger.Tx) error {
		for i := range recs {
			if err := tx.Transactions().Append(ctx, &recs[i]); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = update(t, s, func(ctx context.Context, tx ledger.Tx) error {
		return tx.Transactions().Append(ctx, &recs[0])
	})
	require.ErrorIs(t, err, ledger.ErrDuplicateKey)

	var sold *models.TransactionRecord
	err = update(t, s, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		sold, err = tx.Transactions().MarkSold(ctx, recs[0].ID, dec("15.5"))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, models.KindSold, sold.Kind)
	require.NotNil(t, sold.SaleProceeds)
	eq(t, "15.5", *sold.SaleProceeds)
	assert.NotNil(t, sold.SoldAt)

	err = update(t, s, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.Transactions().MarkSold(ctx, recs[0].ID, dec("99"))
		return err
	})
	require.ErrorIs(t, err, ledger.ErrAlreadySold)

	err = update(t, s, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.Transactions().MarkSold(ctx, id.New(), dec("1"))
		return err
	})
	require.ErrorIs(t, err, ledger.ErrNotFound)

	list := func(f ledger.Filter) []models.TransactionRecord {
		var out []models.TransactionRecord
		err := s.View(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
			var err error
			out, err = tx.Transactions().ListByAccount(ctx, acct, f)
			return err
		})
		require.NoError(t, err)
		return out
	}

	all := list(ledger.Filter{})
	require.Len(t, all, 2)
	assert.Equal(t, recs[0].ID, all[0].ID)
	assert.Equal(t, models.KindSold, all[0].Kind)
	eq(t, "15.5", *all[0].SaleProceeds)
	eq(t, "1", all[0].Quantity)
	eq(t, "10", all[0].BuyPrice)
	assert.Equal(t, recs[1].ID, all[1].ID)
	assert.Equal(t, models.KindHold, all[1].Kind)
	assert.Nil(t, all[1].SaleProceeds)
	assert.Nil(t, all[1].SoldAt)

	held := list(ledger.Filter{Kind: models.KindHold})
	require.Len(t, held, 1)
	assert.Equal(t, "ETH", held[0].Symbol)

	byID := list(ledger.Filter{ID: recs[1].ID})
	require.Len(t, byID, 1)
	assert.Equal(t, recs[1].ID, byID[0].ID)

	assert.Empty(t, list(ledger.Filter{ID: recs[1].ID, Kind: models.KindSold}))
}

func testRollback(t *testing.T, s ledger.Store) {
	acct := openAccount(t, s, "100")

	var lotID string
	err := update(t, s, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.Accounts().Debit(ctx, acct, dec("60")); err != nil {
			return err
		}
		lot, err := tx.Positions().CreateLot(ctx, acct, "XRP", dec("60"), dec("1"))
		if err != nil {
			return err
		}
		lotID = lot.ID
		if err := tx.Transactions().Append(ctx, &models.TransactionRecord{
			ID: lot.ID, AccountID: acct, Symbol: "XRP", Quantity: dec("60"), BuyPrice: dec("1"),
		}); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	eq(t, "100", balanceOf(t, s, acct))
	err = s.View(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.Positions().FindLot(ctx, lotID); !errors.Is(err, ledger.ErrNotFound) {
			t.Errorf("lot survived rollback: %v", err)
		}
		recs, err := tx.Transactions().ListByAccount(ctx, acct, ledger.Filter{})
		if err != nil {
			return err
		}
		assert.Empty(t, recs)
		return nil
	})
	require.NoError(t, err)
}

func testPrecision(t *testing.T, s ledger.Store) {
	acct := openAccount(t, s, "1000000.123")

	var lot *models.Lot
	err := update(t, s, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.Accounts().Debit(ctx, acct, dec("0.001")); err != nil {
			return err
		}
		var err error
		lot, err = tx.Positions().CreateLot(ctx, acct, "BTC", dec("0.00012345"), dec("61234.5678"))
		return err
	})
	require.NoError(t, err)
	eq(t, "1000000.122", balanceOf(t, s, acct))

	err = s.View(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		found, err := tx.Positions().FindLot(ctx, lot.ID)
		if err != nil {
			return err
		}
		eq(t, "0.00012345", found.Quantity)
		eq(t, "61234.5678", found.UnitPrice)

		h, err := tx.Positions().AggregateOpenPositions(ctx, acct)
		if err != nil {
			return err
		}
		require.Len(t, h, 1)
		eq(t, "7.55940739491", h[0].TotalCost)
		return nil
	})
	require.NoError(t, err)
}

func testReadOnlyView(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	acct := uuid.New()
	err := s.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.Accounts().Open(ctx, acct, dec("1"))
		return err
	})
	require.Error(t, err)
	assert.False(t, ledger.IsBusiness(err), "got %v", err)

	err = s.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.Accounts().GetBalance(ctx, acct)
		return err
	})
	require.ErrorIs(t, err, ledger.ErrNotFound)
}
