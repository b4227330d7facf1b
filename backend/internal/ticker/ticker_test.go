package ticker

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/papertrade/backend/internal/models"
)

func ev(symbol, price string, side models.TradeSide, at time.Time) models.TradeEvent {
	return models.TradeEvent{Symbol: symbol, Price: decimal.RequireFromString(price), Side: side, At: at}
}

func TestBoardTracksLastTrade(t *testing.T) {
	b := NewBoard()
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, b.Publish(ctx, ev("ETH", "3000", models.SideBuy, t0)))
	require.NoError(t, b.Publish(ctx, ev("BTC", "60000", models.SideBuy, t0)))
	require.NoError(t, b.Publish(ctx, ev("ETH", "3100", models.SideSell, t0.Add(time.Second))))
	// Late delivery of an older trade is ignored.
	require.NoError(t, b.Publish(ctx, ev("ETH", "2900", models.SideBuy, t0.Add(-time.Second))))

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "BTC", snap[0].Symbol)
	assert.Equal(t, "ETH", snap[1].Symbol)
	assert.True(t, decimal.RequireFromString("3100").Equal(snap[1].Price))
	assert.Equal(t, models.SideSell, snap[1].Side)

	q, ok := b.Get("BTC")
	require.True(t, ok)
	assert.Equal(t, t0.UnixMilli(), q.Ts)

	_, ok = b.Get("DOGE")
	assert.False(t, ok)
}
