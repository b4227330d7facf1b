// Package ticker keeps the last traded price of every symbol seen on the ledger.
package ticker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/models"
)

// Quote is the most recent trade price for one symbol.
type Quote struct {
	Symbol string           `json:"symbol"`
	Price  decimal.Decimal  `json:"price"`
	Side   models.TradeSide `json:"side"`
	Ts     int64            `json:"ts"` // Unix timestamp milliseconds
}

// Board is fed by committed trades. It is informational only; the ledger
// always trades at the caller's price.
type Board struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{quotes: make(map[string]Quote)}
}

// Publish implements ledger.Publisher. Out-of-order events never move a quote backwards in time.
func (b *Board) Publish(_ context.Context, ev models.TradeEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	q := Quote{Symbol: ev.Symbol, Price: ev.Price, Side: ev.Side, Ts: at.UnixMilli()}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.quotes[ev.Symbol]; ok && cur.Ts > q.Ts {
		return nil
	}
	b.quotes[ev.Symbol] = q
	return nil
}

// Snapshot returns a copy of the current quotes ordered by symbol.
func (b *Board) Snapshot() []Quote {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Quote, 0, len(b.quotes))
	for _, q := range b.quotes {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Get returns the last quote for symbol.
func (b *Board) Get(symbol string) (Quote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[symbol]
	return q, ok
}
