package ledgertest

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/models"
)

// RunCoordinator drives trades through a Coordinator on top of the store,
// including concurrent ones, and checks the balances and lots that result.
func RunCoordinator(t *testing.T, open func(t *testing.T) ledger.Store) {
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, ledger.NewCoordinator(open(t), nil, nil)) })
	t.Run("ConcurrentBuys", func(t *testing.T) { testConcurrentBuys(t, ledger.NewCoordinator(open(t), nil, nil)) })
	t.Run("ConcurrentSells", func(t *testing.T) { testConcurrentSells(t, ledger.NewCoordinator(open(t), nil, nil)) })
}

func newAccount(t *testing.T, c *ledger.Coordinator, balance string) uuid.UUID {
	t.Helper()
	acct := uuid.New()
	_, err := c.OpenAccount(context.Background(), acct, dec(balance))
	require.NoError(t, err)
	return acct
}

func testRoundTrip(t *testing.T, c *ledger.Coordinator) {
	ctx := context.Background()
	acct := newAccount(t, c, "1000")

	bal, err := c.Buy(ctx, acct, "aapl", dec("2"), dec("150.25"))
	require.NoError(t, err)
	eq(t, "699.5", bal)

	recs, err := c.Transactions(ctx, acct, ledger.Filter{Kind: models.KindHold})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "AAPL", recs[0].Symbol)

	bal, err = c.Sell(ctx, acct, recs[0].ID, dec("160"))
	require.NoError(t, err)
	eq(t, "1019.5", bal)

	holdings, err := c.Holdings(ctx, acct)
	require.NoError(t, err)
	assert.Empty(t, holdings)

	recs, err = c.Transactions(ctx, acct, ledger.Filter{ID: recs[0].ID})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, models.KindSold, recs[0].Kind)
	eq(t, "320", *recs[0].SaleProceeds)

	_, err = c.Sell(ctx, acct, recs[0].ID, dec("160"))
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func testConcurrentBuys(t *testing.T, c *ledger.Coordinator) {
	const (
		attempts = 30
		fits     = 20
	)
	ctx := context.Background()
	acct := newAccount(t, c, "200")

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		ok, refused int
		other       []error
	)
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			_, err := c.Buy(ctx, acct, "BTC", dec("1"), dec("10"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case ledger.Classify(err) == ledger.CategoryConflict:
				refused++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, fits, ok)
	assert.Equal(t, attempts-fits, refused)

	bal, err := c.Wallet(ctx, acct)
	require.NoError(t, err)
	eq(t, "0", bal)

	holdings, err := c.Holdings(ctx, acct)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	eq(t, "20", holdings[0].TotalQuantity)
	eq(t, "200", holdings[0].TotalCost)
}

func testConcurrentSells(t *testing.T, c *ledger.Coordinator) {
	const sellers = 8
	ctx := context.Background()
	acct := newAccount(t, c, "100")

	_, err := c.Buy(ctx, acct, "ETH", dec("1"), dec("100"))
	require.NoError(t, err)
	recs, err := c.Transactions(ctx, acct, ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	lotID := recs[0].ID

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, gone int
		other    []error
	)
	wg.Add(sellers)
	for i := 0; i < sellers; i++ {
		go func() {
			defer wg.Done()
			_, err := c.Sell(ctx, acct, lotID, dec("150"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case ledger.Classify(err) == ledger.CategoryNotFound:
				gone++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, 1, ok)
	assert.Equal(t, sellers-1, gone)

	bal, err := c.Wallet(ctx, acct)
	require.NoError(t, err)
	eq(t, "150", bal)
}
