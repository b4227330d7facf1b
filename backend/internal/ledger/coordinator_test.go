package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/memstore"
	"github.com/user/papertrade/backend/internal/models"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

type recorder struct {
	mu     sync.Mutex
	events []models.TradeEvent
	err    error
}

func (r *recorder) Publish(_ context.Context, ev models.TradeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) all() []models.TradeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.TradeEvent(nil), r.events...)
}

// setup opens one account with the given balance on a fresh memstore.
func setup(t *testing.T, balance string, opts ...memstore.Option) (*ledger.Coordinator, *memstore.Store, uuid.UUID, *recorder) {
	t.Helper()
	store := memstore.New(opts...)
	pub := &recorder{}
	c := ledger.NewCoordinator(store, pub, nil)
	acct := uuid.New()
	_, err := c.OpenAccount(context.Background(), acct, d(balance))
	require.NoError(t, err)
	return c, store, acct, pub
}

func onlyLot(t *testing.T, c *ledger.Coordinator, acct uuid.UUID) models.TransactionRecord {
	t.Helper()
	recs, err := c.Transactions(context.Background(), acct, ledger.Filter{Kind: models.KindHold})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	return recs[0]
}

func TestBuyDebitsAndOpensLot(t *testing.T) {
	ctx := context.Background()
	c, _, acct, pub := setup(t, "100000")

	bal, err := c.Buy(ctx, acct, "btc", d("2"), d("50000"))
	require.NoError(t, err)
	assertDec(t, "0", bal)

	holdings, err := c.Holdings(ctx, acct)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, "BTC", holdings[0].Symbol)
	assertDec(t, "2", holdings[0].TotalQuantity)
	assertDec(t, "100000", holdings[0].TotalCost)

	rec := onlyLot(t, c, acct)
	assert.Equal(t, models.KindHold, rec.Kind)
	assertDec(t, "2", rec.Quantity)
	assertDec(t, "50000", rec.BuyPrice)
	assert.Nil(t, rec.SaleProceeds)

	events := pub.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.SideBuy, events[0].Side)
	assert.Equal(t, rec.ID, events[0].LotID)
	assertDec(t, "100000", events[0].Amount)
}

func TestBuyInsufficientFundsChangesNothing(t *testing.T) {
	ctx := context.Background()
	c, _, acct, pub := setup(t, "100000")

	_, err := c.Buy(ctx, acct, "BTC", d("3"), d("50000"))
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Equal(t, ledger.CategoryConflict, ledger.Classify(err))

	bal, err := c.Wallet(ctx, acct)
	require.NoError(t, err)
	assertDec(t, "100000", bal)

	holdings, err := c.Holdings(ctx, acct)
	require.NoError(t, err)
	assert.Empty(t, holdings)

	recs, err := c.Transactions(ctx, acct, ledger.Filter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Empty(t, pub.all())
}

func TestBuyRoundsCostToThreePlaces(t *testing.T) {
	ctx := context.Background()
	c, _, acct, _ := setup(t, "10")

	// 0.3333 × 3.0001 = 0.99993333 → 1.000
	bal, err := c.Buy(ctx, acct, "ETH", d("0.3333"), d("3.0001"))
	require.NoError(t, err)
	assertDec(t, "9", bal)
}

func TestBuyValidation(t *testing.T) {
	ctx := context.Background()
	c, _, acct, _ := setup(t, "1000")

	cases := []struct {
		name, symbol, qty, price string
	}{
		{"empty symbol", "  ", "1", "1"},
		{"zero quantity", "BTC", "0", "1"},
		{"negative quantity", "BTC", "-1", "1"},
		{"zero price", "BTC", "1", "0"},
		{"negative price", "BTC", "1", "-5"},
		{"rounds to zero", "BTC", "0.0001", "1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Buy(ctx, acct, tc.symbol, d(tc.qty), d(tc.price))
			require.ErrorIs(t, err, ledger.ErrValidation)
			assert.Equal(t, ledger.CategoryInvalid, ledger.Classify(err))
		})
	}

	bal, err := c.Wallet(ctx, acct)
	require.NoError(t, err)
	assertDec(t, "1000", bal)
}

func TestBuyUnknownAccount(t *testing.T) {
	c, _, _, _ := setup(t, "1")
	_, err := c.Buy(context.Background(), uuid.New(), "BTC", d("1"), d("1"))
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestSellCreditsPerUnitProceeds(t *testing.T) {
	ctx := context.Background()
	c, _, acct, pub := setup(t, "100000")

	_, err := c.Buy(ctx, acct, "BTC", d("2"), d("50000"))
	require.NoError(t, err)
	lot := onlyLot(t, c, acct)

	bal, err := c.Sell(ctx, acct, lot.ID, d("60000"))
	require.NoError(t, err)
	assertDec(t, "120000", bal)

	holdings, err := c.Holdings(ctx, acct)
	require.NoError(t, err)
	assert.Empty(t, holdings)

	recs, err := c.Transactions(ctx, acct, ledger.Filter{ID: lot.ID})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, models.KindSold, recs[0].Kind)
	require.NotNil(t, recs[0].SaleProceeds)
	assertDec(t, "120000", *recs[0].SaleProceeds)
	assert.NotNil(t, recs[0].SoldAt)
	assertDec(t, "2", recs[0].Quantity, "quantity is frozen")
	assertDec(t, "50000", recs[0].BuyPrice, "buy price is frozen")

	events := pub.all()
	require.Len(t, events, 2)
	assert.Equal(t, models.SideSell, events[1].Side)
	assertDec(t, "120000", events[1].Amount)
}

func TestSellAtZeroPrice(t *testing.T) {
	ctx := context.Background()
	c, _, acct, _ := setup(t, "100")

	_, err := c.Buy(ctx, acct, "DOGE", d("10"), d("10"))
	require.NoError(t, err)
	lot := onlyLot(t, c, acct)

	bal, err := c.Sell(ctx, acct, lot.ID, decimal.Zero)
	require.NoError(t, err)
	assertDec(t, "0", bal)
}

func TestSellUnknownLot(t *testing.T) {
	ctx := context.Background()
	c, _, acct, _ := setup(t, "500")

	_, err := c.Sell(ctx, acct, "01HZZZZZZZZZZZZZZZZZZZZZZZ", d("1"))
	require.ErrorIs(t, err, ledger.ErrNotFound)

	bal, err := c.Wallet(ctx, acct)
	require.NoError(t, err)
	assertDec(t, "500", bal)
}

func TestSellTwiceFails(t *testing.T) {
	ctx := context.Background()
	c, _, acct, _ := setup(t, "100")

	_, err := c.Buy(ctx, acct, "SOL", d("1"), d("100"))
	require.NoError(t, err)
	lot := onlyLot(t, c, acct)

	_, err = c.Sell(ctx, acct, lot.ID, d("150"))
	require.NoError(t, err)

	_, err = c.Sell(ctx, acct, lot.ID, d("150"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrNotFound) || errors.Is(err, ledger.ErrAlreadySold))

	bal, err := c.Wallet(ctx, acct)
	require.NoError(t, err)
	assertDec(t, "150", bal)

	recs, err := c.Transactions(ctx, acct, ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assertDec(t, "150", *recs[0].SaleProceeds)
}

func TestSellOtherAccountsLotIsNotFound(t *testing.T) {
	ctx := context.Background()
	c, _, owner, _ := setup(t, "100")
	thief := uuid.New()
	_, err := c.OpenAccount(ctx, thief, d("0"))
	require.NoError(t, err)

	_, err = c.Buy(ctx, owner, "SOL", d("1"), d("100"))
	require.NoError(t, err)
	lot := onlyLot(t, c, owner)

	_, err = c.Sell(ctx, thief, lot.ID, d("1000"))
	require.ErrorIs(t, err, ledger.ErrNotFound)

	holdings, err := c.Holdings(ctx, owner)
	require.NoError(t, err)
	require.Len(t, holdings, 1)

	bal, err := c.Wallet(ctx, thief)
	require.NoError(t, err)
	assertDec(t, "0", bal)
}

func TestSellValidation(t *testing.T) {
	ctx := context.Background()
	c, _, acct, _ := setup(t, "100")

	_, err := c.Sell(ctx, acct, "", d("1"))
	require.ErrorIs(t, err, ledger.ErrValidation)

	_, err = c.Sell(ctx, acct, "some-lot", d("-0.01"))
	require.ErrorIs(t, err, ledger.ErrValidation)

	_, err = c.Sell(ctx, acct, "some-lot", d("1"))
	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestSellRollsBackDeleteWhenRecordAlreadySold(t *testing.T) {
	ctx := context.Background()
	c, store, acct, pub := setup(t, "100")

	_, err := c.Buy(ctx, acct, "SOL", d("1"), d("100"))
	require.NoError(t, err)
	lot := onlyLot(t, c, acct)

	// Corrupt the history so the record is SOLD while its lot is still open.
	err = store.Update(ctx, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.Transactions().MarkSold(ctx, lot.ID, d("1"))
		return err
	})
	require.NoError(t, err)

	_, err = c.Sell(ctx, acct, lot.ID, d("200"))
	require.ErrorIs(t, err, ledger.ErrAlreadySold)

	holdings, err := c.Holdings(ctx, acct)
	require.NoError(t, err)
	require.Len(t, holdings, 1, "lot delete must roll back")

	bal, err := c.Wallet(ctx, acct)
	require.NoError(t, err)
	assertDec(t, "0", bal)
	assert.Len(t, pub.all(), 1, "only the buy was published")
}

func TestBuyRollsBackDebitOnLotIDCollision(t *testing.T) {
	ctx := context.Background()
	fixed := func() string { return "01J00000000000000000000000" }
	c, _, acct, _ := setup(t, "1000", memstore.WithIDGenerator(fixed))

	bal, err := c.Buy(ctx, acct, "BTC", d("1"), d("100"))
	require.NoError(t, err)
	assertDec(t, "900", bal)

	_, err = c.Buy(ctx, acct, "BTC", d("1"), d("100"))
	require.ErrorIs(t, err, ledger.ErrDuplicateKey)

	bal, err = c.Wallet(ctx, acct)
	require.NoError(t, err)
	assertDec(t, "900", bal, "debit must roll back")

	recs, err := c.Transactions(ctx, acct, ledger.Filter{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

// failingStore runs every unit of work and then refuses to commit it.
type failingStore struct {
	*memstore.Store
}

var errDiskOnFire = errors.New("disk on fire")

func (f failingStore) Update(ctx context.Context, fn ledger.TxFunc) error {
	return f.Store.Update(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return errDiskOnFire
	})
}

func TestCommitFailureIsPersistenceErrorAndLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	_, store, acct, _ := setup(t, "1000")
	pub := &recorder{}
	c := ledger.NewCoordinator(failingStore{store}, pub, nil)

	_, err := c.Buy(ctx, acct, "BTC", d("1"), d("10"))
	require.ErrorIs(t, err, ledger.ErrPersistence)
	require.ErrorIs(t, err, errDiskOnFire)
	assert.Equal(t, ledger.CategoryInternal, ledger.Classify(err))

	bal, err := c.Wallet(ctx, acct)
	require.NoError(t, err)
	assertDec(t, "1000", bal)
	holdings, err := c.Holdings(ctx, acct)
	require.NoError(t, err)
	assert.Empty(t, holdings)
	assert.Empty(t, pub.all())
}

func TestHoldingsAggregateBySymbol(t *testing.T) {
	ctx := context.Background()
	c, _, acct, _ := setup(t, "10000")

	_, err := c.Buy(ctx, acct, "AAPL", d("1"), d("100"))
	require.NoError(t, err)
	_, err = c.Buy(ctx, acct, "AAPL", d("2"), d("200"))
	require.NoError(t, err)
	_, err = c.Buy(ctx, acct, "MSFT", d("0.5"), d("10"))
	require.NoError(t, err)

	holdings, err := c.Holdings(ctx, acct)
	require.NoError(t, err)
	require.Len(t, holdings, 2)
	assert.Equal(t, "AAPL", holdings[0].Symbol)
	assertDec(t, "3", holdings[0].TotalQuantity)
	assertDec(t, "500", holdings[0].TotalCost)
	assert.Equal(t, "MSFT", holdings[1].Symbol)
	assertDec(t, "0.5", holdings[1].TotalQuantity)
	assertDec(t, "5", holdings[1].TotalCost)

	// Selling one AAPL lot is reflected immediately.
	recs, err := c.Transactions(ctx, acct, ledger.Filter{Kind: models.KindHold})
	require.NoError(t, err)
	_, err = c.Sell(ctx, acct, recs[0].ID, d("1"))
	require.NoError(t, err)

	holdings, err = c.Holdings(ctx, acct)
	require.NoError(t, err)
	assertDec(t, "2", holdings[0].TotalQuantity)
	assertDec(t, "400", holdings[0].TotalCost)
}

func TestReadsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	c, _, acct, _ := setup(t, "1000")
	_, err := c.Buy(ctx, acct, "BTC", d("1.5"), d("20"))
	require.NoError(t, err)

	w1, err := c.Wallet(ctx, acct)
	require.NoError(t, err)
	h1, err := c.Holdings(ctx, acct)
	require.NoError(t, err)
	w2, err := c.Wallet(ctx, acct)
	require.NoError(t, err)
	h2, err := c.Holdings(ctx, acct)
	require.NoError(t, err)

	assert.True(t, w1.Equal(w2))
	assert.Equal(t, h1, h2)
}

func TestTransactionsFilter(t *testing.T) {
	ctx := context.Background()
	c, _, acct, _ := setup(t, "1000")
	for _, sym := range []string{"A", "B", "C"} {
		_, err := c.Buy(ctx, acct, sym, d("1"), d("10"))
		require.NoError(t, err)
	}
	all, err := c.Transactions(ctx, acct, ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{all[0].Symbol, all[1].Symbol, all[2].Symbol})

	_, err = c.Sell(ctx, acct, all[1].ID, d("12"))
	require.NoError(t, err)

	held, err := c.Transactions(ctx, acct, ledger.Filter{Kind: models.KindHold})
	require.NoError(t, err)
	assert.Len(t, held, 2)

	sold, err := c.Transactions(ctx, acct, ledger.Filter{Kind: models.KindSold})
	require.NoError(t, err)
	require.Len(t, sold, 1)
	assert.Equal(t, all[1].ID, sold[0].ID)

	one, err := c.Transactions(ctx, acct, ledger.Filter{ID: all[2].ID})
	require.NoError(t, err)
	require.Len(t, one, 1)

	_, err = c.Transactions(ctx, acct, ledger.Filter{Kind: "pending"})
	require.ErrorIs(t, err, ledger.ErrValidation)

	other, err := c.Transactions(ctx, uuid.New(), ledger.Filter{})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMissingIdentityIsRejectedBeforeAnyWork(t *testing.T) {
	ctx := context.Background()
	c, _, _, pub := setup(t, "1")

	_, err := c.Buy(ctx, uuid.Nil, "BTC", d("1"), d("1"))
	assert.ErrorIs(t, err, ledger.ErrAuthentication)
	_, err = c.Sell(ctx, uuid.Nil, "x", d("1"))
	assert.ErrorIs(t, err, ledger.ErrAuthentication)
	_, err = c.Wallet(ctx, uuid.Nil)
	assert.ErrorIs(t, err, ledger.ErrAuthentication)
	_, err = c.Holdings(ctx, uuid.Nil)
	assert.ErrorIs(t, err, ledger.ErrAuthentication)
	_, err = c.Transactions(ctx, uuid.Nil, ledger.Filter{})
	assert.ErrorIs(t, err, ledger.ErrAuthentication)
	assert.Equal(t, ledger.CategoryUnauthenticated, ledger.Classify(err))
	assert.Empty(t, pub.all())
}

func TestOpenAccountTwice(t *testing.T) {
	ctx := context.Background()
	c, _, acct, _ := setup(t, "1")
	_, err := c.OpenAccount(ctx, acct, d("5"))
	require.ErrorIs(t, err, ledger.ErrDuplicateKey)

	_, err = c.OpenAccount(ctx, uuid.New(), d("-1"))
	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestPublishFailureDoesNotFailTrade(t *testing.T) {
	ctx := context.Background()
	c, _, acct, pub := setup(t, "100")
	pub.err = errors.New("broker down")

	bal, err := c.Buy(ctx, acct, "BTC", d("1"), d("40"))
	require.NoError(t, err)
	assertDec(t, "60", bal)
}

func TestConcurrentSellsOnSameLot(t *testing.T) {
	ctx := context.Background()
	c, _, acct, _ := setup(t, "100")
	_, err := c.Buy(ctx, acct, "BTC", d("1"), d("100"))
	require.NoError(t, err)
	lot := onlyLot(t, c, acct)

	const n = 32
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		notFound int
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := c.Sell(ctx, acct, lot.ID, d("150"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ledger.ErrNotFound):
				notFound++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, notFound)

	bal, err := c.Wallet(ctx, acct)
	require.NoError(t, err)
	assertDec(t, "150", bal)
}

func TestConcurrentBuysConserveMoney(t *testing.T) {
	ctx := context.Background()
	c, _, acct, _ := setup(t, "1000")

	const n = 150 // more than the balance can fund at 10 each
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := c.Buy(ctx, acct, "ETH", d("1"), d("10"))
			if err != nil && !errors.Is(err, ledger.ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	bal, err := c.Wallet(ctx, acct)
	require.NoError(t, err)
	assertDec(t, "0", bal)

	holdings, err := c.Holdings(ctx, acct)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assertDec(t, "100", holdings[0].TotalQuantity)

	recs, err := c.Transactions(ctx, acct, ledger.Filter{})
	require.NoError(t, err)
	ids := make(map[string]struct{}, len(recs))
	for _, r := range recs {
		ids[r.ID] = struct{}{}
	}
	assert.Len(t, ids, 100)
}

func TestMoneyConservationAcrossMixedTrades(t *testing.T) {
	ctx := context.Background()
	c, _, acct, _ := setup(t, "5000")

	trades := []struct{ qty, price string }{
		{"1", "100"}, {"2.5", "40"}, {"0.125", "800"}, {"3", "1000"}, {"7", "13.37"},
	}
	expected := d("5000")
	for _, tr := range trades {
		before, err := c.Wallet(ctx, acct)
		require.NoError(t, err)
		cost := d(tr.qty).Mul(d(tr.price)).Round(ledger.MoneyPlaces)

		after, err := c.Buy(ctx, acct, "MIX", d(tr.qty), d(tr.price))
		if before.LessThan(cost) {
			require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
			cur, werr := c.Wallet(ctx, acct)
			require.NoError(t, werr)
			assert.True(t, cur.Equal(before))
			continue
		}
		require.NoError(t, err)
		expected = expected.Sub(cost)
		assert.True(t, after.Equal(before.Sub(cost)))
	}

	bal, err := c.Wallet(ctx, acct)
	require.NoError(t, err)
	assert.True(t, bal.Equal(expected))
	assert.False(t, bal.IsNegative())
}

func TestProceeds(t *testing.T) {
	assertDec(t, "120000", ledger.Proceeds(d("60000"), d("2")))
	assertDec(t, "0.333", ledger.Proceeds(d("0.33333"), d("1")))
	assertDec(t, "0", ledger.Proceeds(decimal.Zero, d("5")))
}
