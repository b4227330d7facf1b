package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/id"
	"github.com/user/papertrade/backend/internal/models"
	"go.uber.org/zap"
)

// MoneyPlaces is the rounding applied to every cash amount that touches a balance.
const MoneyPlaces = 3

// Publisher receives trade events after their unit of work has committed.
type Publisher interface {
	Publish(ctx context.Context, ev models.TradeEvent) error
}

// Coordinator runs buys and sells across the account, position and
// transaction stores inside a single unit of work. It keeps no state between
// calls; every consistency guarantee comes from the Store's transactions.
type Coordinator struct {
	store Store
	pub   Publisher
	log   *zap.Logger
	now   func() time.Time
}

// NewCoordinator wires a coordinator. pub and log may be nil.
func NewCoordinator(store Store, pub Publisher, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{store: store, pub: pub, log: log.Named("ledger"), now: time.Now}
}

// Buy debits quantity × unitPrice (rounded to MoneyPlaces) and opens a lot
// with its HOLD record. Returns the new balance.
func (c *Coordinator) Buy(ctx context.Context, accountID uuid.UUID, symbol string, quantity, unitPrice decimal.Decimal) (decimal.Decimal, error) {
	if accountID == uuid.Nil {
		return decimal.Zero, ErrAuthentication
	}
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return decimal.Zero, invalid("symbol is required")
	}
	if !quantity.IsPositive() {
		return decimal.Zero, invalid("quantity must be positive")
	}
	if !unitPrice.IsPositive() {
		return decimal.Zero, invalid("price must be positive")
	}
	cost := quantity.Mul(unitPrice).Round(MoneyPlaces)
	if !cost.IsPositive() {
		return decimal.Zero, invalid("order value rounds to zero")
	}

	var (
		balance decimal.Decimal
		lot     *models.Lot
	)
	err := c.store.Update(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if balance, err = tx.Accounts().Debit(ctx, accountID, cost); err != nil {
			return err
		}
		if lot, err = tx.Positions().CreateLot(ctx, accountID, symbol, quantity, unitPrice); err != nil {
			return err
		}
		return tx.Transactions().Append(ctx, &models.TransactionRecord{
			ID:        lot.ID,
			AccountID: accountID,
			Symbol:    symbol,
			Quantity:  quantity,
			BuyPrice:  unitPrice,
			Kind:      models.KindHold,
			CreatedAt: lot.CreatedAt,
		})
	})
	if err != nil {
		return decimal.Zero, c.reject("buy", accountID, err)
	}

	c.log.Info("buy committed",
		zap.Stringer("account", accountID),
		zap.String("lot", lot.ID),
		zap.String("symbol", symbol),
		zap.Stringer("quantity", quantity),
		zap.Stringer("price", unitPrice),
		zap.Stringer("cost", cost),
		zap.Stringer("balance", balance))

	c.emit(ctx, models.TradeEvent{
		Side:      models.SideBuy,
		LotID:     lot.ID,
		AccountID: accountID,
		Symbol:    symbol,
		Quantity:  quantity,
		Price:     unitPrice,
		Amount:    cost,
		Balance:   balance,
		At:        c.now(),
	})
	return balance, nil
}

// Sell closes the caller's lot in full. salePrice is a per-unit price:
// proceeds = salePrice × lot quantity, rounded to MoneyPlaces. Returns the
// new balance.
func (c *Coordinator) Sell(ctx context.Context, accountID uuid.UUID, lotID string, salePrice decimal.Decimal) (decimal.Decimal, error) {
	if accountID == uuid.Nil {
		return decimal.Zero, ErrAuthentication
	}
	lotID = strings.TrimSpace(lotID)
	if lotID == "" {
		return decimal.Zero, invalid("lot id is required")
	}
	if !id.Valid(lotID) {
		return decimal.Zero, invalid("malformed lot id %q", lotID)
	}
	if salePrice.IsNegative() {
		return decimal.Zero, invalid("sale price must not be negative")
	}

	var (
		balance  decimal.Decimal
		proceeds decimal.Decimal
		lot      *models.Lot
	)
	err := c.store.Update(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if lot, err = tx.Positions().FindLot(ctx, lotID); err != nil {
			return err
		}
		// Someone else's lot looks exactly like a missing one.
		if lot.AccountID != accountID {
			return ErrNotFound
		}
		proceeds = Proceeds(salePrice, lot.Quantity)
		if _, err = tx.Positions().DeleteLot(ctx, lotID); err != nil {
			return err
		}
		if _, err = tx.Transactions().MarkSold(ctx, lotID, proceeds); err != nil {
			return err
		}
		balance, err = tx.Accounts().Credit(ctx, accountID, proceeds)
		return err
	})
	if err != nil {
		return decimal.Zero, c.reject("sell", accountID, err)
	}

	c.log.Info("sell committed",
		zap.Stringer("account", accountID),
		zap.String("lot", lotID),
		zap.String("symbol", lot.Symbol),
		zap.Stringer("quantity", lot.Quantity),
		zap.Stringer("price", salePrice),
		zap.Stringer("proceeds", proceeds),
		zap.Stringer("balance", balance))

	c.emit(ctx, models.TradeEvent{
		Side:      models.SideSell,
		LotID:     lotID,
		AccountID: accountID,
		Symbol:    lot.Symbol,
		Quantity:  lot.Quantity,
		Price:     salePrice,
		Amount:    proceeds,
		Balance:   balance,
		At:        c.now(),
	})
	return balance, nil
}

// Wallet returns the current balance.
func (c *Coordinator) Wallet(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	if accountID == uuid.Nil {
		return decimal.Zero, ErrAuthentication
	}
	var balance decimal.Decimal
	err := c.store.View(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		balance, err = tx.Accounts().GetBalance(ctx, accountID)
		return err
	})
	if err != nil {
		return decimal.Zero, c.reject("wallet", accountID, err)
	}
	return balance, nil
}

// Holdings returns the per-symbol fold of the account's open lots.
func (c *Coordinator) Holdings(ctx context.Context, accountID uuid.UUID) ([]models.Holding, error) {
	if accountID == uuid.Nil {
		return nil, ErrAuthentication
	}
	var holdings []models.Holding
	err := c.store.View(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		holdings, err = tx.Positions().AggregateOpenPositions(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, c.reject("holdings", accountID, err)
	}
	if holdings == nil {
		holdings = make([]models.Holding, 0)
	}
	return holdings, nil
}

// Transactions lists the account's history, optionally narrowed by kind or record id.
func (c *Coordinator) Transactions(ctx context.Context, accountID uuid.UUID, f Filter) ([]models.TransactionRecord, error) {
	if accountID == uuid.Nil {
		return nil, ErrAuthentication
	}
	if f.Kind != "" && !f.Kind.Valid() {
		return nil, invalid("unknown kind %q", f.Kind)
	}
	f.ID = strings.TrimSpace(f.ID)

	var recs []models.TransactionRecord
	err := c.store.View(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		recs, err = tx.Transactions().ListByAccount(ctx, accountID, f)
		return err
	})
	if err != nil {
		return nil, c.reject("transactions", accountID, err)
	}
	if recs == nil {
		recs = make([]models.TransactionRecord, 0)
	}
	return recs, nil
}

// OpenAccount seeds a new account. Account creation belongs to the identity
// side of the system; this exists for it and for the admin CLI.
func (c *Coordinator) OpenAccount(ctx context.Context, accountID uuid.UUID, initial decimal.Decimal) (*models.Account, error) {
	if accountID == uuid.Nil {
		return nil, invalid("account id is required")
	}
	if initial.IsNegative() {
		return nil, invalid("initial balance must not be negative")
	}
	var acct *models.Account
	err := c.store.Update(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		acct, err = tx.Accounts().Open(ctx, accountID, initial.Round(MoneyPlaces))
		return err
	})
	if err != nil {
		return nil, c.reject("open account", accountID, err)
	}
	c.log.Info("account opened", zap.Stringer("account", accountID), zap.Stringer("balance", acct.Balance))
	return acct, nil
}

// reject logs a failed unit of work and makes sure anything that is not a
// business rule surfaces as ErrPersistence.
func (c *Coordinator) reject(op string, accountID uuid.UUID, err error) error {
	if IsBusiness(err) {
		c.log.Debug(op+" rejected", zap.Stringer("account", accountID), zap.Error(err))
		return err
	}
	err = Persistence(op, err)
	c.log.Error(op+" failed", zap.Stringer("account", accountID), zap.Error(err))
	return err
}

func (c *Coordinator) emit(ctx context.Context, ev models.TradeEvent) {
	if c.pub == nil {
		return
	}
	// The trade is already committed; a lost notification must not undo it.
	if err := c.pub.Publish(ctx, ev); err != nil {
		c.log.Warn("trade event not published",
			zap.String("side", string(ev.Side)),
			zap.String("lot", ev.LotID),
			zap.Error(err))
	}
}

// Proceeds is the credit for selling quantity units at a per-unit salePrice.
func Proceeds(salePrice, quantity decimal.Decimal) decimal.Decimal {
	return salePrice.Mul(quantity).Round(MoneyPlaces)
}

// NormalizeSymbol trims and upper-cases a ticker.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
