package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/models"
)

// AccountStore holds cash balances.
type AccountStore interface {
	// Open creates an account with an initial balance. ErrDuplicateKey if it exists.
	Open(ctx context.Context, accountID uuid.UUID, initial decimal.Decimal) (*models.Account, error)
	GetBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
	// Debit subtracts amount only if the balance covers it and returns the new balance.
	Debit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
	Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
}

// PositionStore holds open lots.
type PositionStore interface {
	CreateLot(ctx context.Context, accountID uuid.UUID, symbol string, quantity, unitPrice decimal.Decimal) (*models.Lot, error)
	FindLot(ctx context.Context, lotID string) (*models.Lot, error)
	DeleteLot(ctx context.Context, lotID string) (*models.Lot, error)
	// AggregateOpenPositions folds the account's open lots by symbol, ordered by symbol.
	AggregateOpenPositions(ctx context.Context, accountID uuid.UUID) ([]models.Holding, error)
}

// Filter narrows ListByAccount. Zero values match everything.
type Filter struct {
	Kind models.TxKind
	ID   string
}

// TransactionLedger is the append-only trade history.
type TransactionLedger interface {
	Append(ctx context.Context, rec *models.TransactionRecord) error
	MarkSold(ctx context.Context, recordID string, proceeds decimal.Decimal) (*models.TransactionRecord, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, f Filter) ([]models.TransactionRecord, error)
}

// Tx is one unit of work. Every store it hands out shares the same
// transaction, so their writes commit or roll back together.
type Tx interface {
	Accounts() AccountStore
	Positions() PositionStore
	Transactions() TransactionLedger
}

// TxFunc runs inside a unit of work.
type TxFunc func(ctx context.Context, tx Tx) error

// Store opens units of work. Update commits only when fn returns nil and
// rolls back every write otherwise; View never writes.
type Store interface {
	Update(ctx context.Context, fn TxFunc) error
	View(ctx context.Context, fn TxFunc) error
	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
	Close() error
}
