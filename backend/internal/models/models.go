package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Amounts go over the wire as JSON numbers, not strings.
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// TxKind is the lifecycle state of a TransactionRecord.
type TxKind string

const (
	KindHold TxKind = "hold"
	KindSold TxKind = "sold"
)

// Valid reports whether k is one of the known kinds.
func (k TxKind) Valid() bool {
	return k == KindHold || k == KindSold
}

// Account holds a user's cash balance. Balance never goes negative.
type Account struct {
	ID        uuid.UUID       `json:"id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Lot is one open position created by a single buy and closed in full by a single sell.
type Lot struct {
	ID        string          `json:"id"`
	AccountID uuid.UUID       `json:"account_id"`
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	CreatedAt time.Time       `json:"created_at"`
}

// Cost is quantity × unit price, unrounded.
func (l *Lot) Cost() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// TransactionRecord is the permanent audit entry for a lot. ID equals the lot id.
// Quantity and BuyPrice are frozen at creation; only Kind, SaleProceeds and
// SoldAt change, exactly once, when the lot is sold.
type TransactionRecord struct {
	ID           string           `json:"id"`
	AccountID    uuid.UUID        `json:"-"`
	Symbol       string           `json:"symbol"`
	Quantity     decimal.Decimal  `json:"quantity"`
	BuyPrice     decimal.Decimal  `json:"buyPrice"`
	Kind         TxKind           `json:"kind"`
	SaleProceeds *decimal.Decimal `json:"saleProceeds,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	SoldAt       *time.Time       `json:"soldAt,omitempty"`
}

// Holding is the per-symbol fold over an account's open lots.
type Holding struct {
	Symbol        string          `json:"symbol"`
	TotalQuantity decimal.Decimal `json:"totalQuantity"`
	TotalCost     decimal.Decimal `json:"totalCost"`
}

// TradeSide tells a buy event from a sell event.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// TradeEvent is emitted after a buy or sell has committed.
type TradeEvent struct {
	Side      TradeSide       `json:"side"`
	LotID     string          `json:"lot_id"`
	AccountID uuid.UUID       `json:"account_id"`
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`  // unit price paid or received
	Amount    decimal.Decimal `json:"amount"` // cost debited or proceeds credited
	Balance   decimal.Decimal `json:"balance"`
	At        time.Time       `json:"ts"`
}
