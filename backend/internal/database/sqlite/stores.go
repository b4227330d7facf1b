package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/models"
)

func (t *txStore) Open(ctx context.Context, accountID uuid.UUID, initial decimal.Decimal) (*models.Account, error) {
	if initial.IsNegative() {
		return nil, fmt.Errorf("%w: initial balance must not be negative", ledger.ErrValidation)
	}
	now := t.now()
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO accounts (id, balance, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		accountID.String(), initial.String(), now, now)
	if err != nil {
		return nil, classify(err, fmt.Sprintf("open account %s", accountID))
	}
	return &models.Account{ID: accountID, Balance: initial, CreatedAt: fromNanos(now), UpdatedAt: fromNanos(now)}, nil
}

func (t *txStore) GetBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	var raw string
	err := t.tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = ?`, accountID.String()).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("%w: account %s", ledger.ErrNotFound, accountID)
		}
		return decimal.Zero, fmt.Errorf("error getting balance for account %s: %w", accountID, err)
	}
	return parseDecimal(raw)
}

func (t *txStore) setBalance(ctx context.Context, accountID uuid.UUID, bal decimal.Decimal) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?`,
		bal.String(), t.now(), accountID.String())
	if err != nil {
		return fmt.Errorf("error updating balance for account %s: %w", accountID, err)
	}
	return nil
}

func (t *txStore) Debit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: debit amount must not be negative", ledger.ErrValidation)
	}
	bal, err := t.GetBalance(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	if bal.LessThan(amount) {
		return decimal.Zero, fmt.Errorf("%w: available %s, required %s", ledger.ErrInsufficientFunds, bal, amount)
	}
	bal = bal.Sub(amount)
	if err := t.setBalance(ctx, accountID, bal); err != nil {
		return decimal.Zero, err
	}
	return bal, nil
}

func (t *txStore) Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: credit amount must not be negative", ledger.ErrValidation)
	}
	bal, err := t.GetBalance(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	bal = bal.Add(amount)
	if err := t.setBalance(ctx, accountID, bal); err != nil {
		return decimal.Zero, err
	}
	return bal, nil
}

func (t *txStore) CreateLot(ctx context.Context, accountID uuid.UUID, symbol string, quantity, unitPrice decimal.Decimal) (*models.Lot, error) {
	if !quantity.IsPositive() || !unitPrice.IsPositive() {
		return nil, fmt.Errorf("%w: lot quantity and price must be positive", ledger.ErrValidation)
	}
	lot := &models.Lot{
		ID:        t.store.newID(),
		AccountID: accountID,
		Symbol:    symbol,
		Quantity:  quantity,
		UnitPrice: unitPrice,
	}
	now := t.now()
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO lots (id, account_id, symbol, quantity, unit_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		lot.ID, accountID.String(), symbol, quantity.String(), unitPrice.String(), now)
	if err != nil {
		return nil, classify(err, fmt.Sprintf("create lot %s", lot.ID))
	}
	lot.CreatedAt = fromNanos(now)
	return lot, nil
}

func (t *txStore) FindLot(ctx context.Context, lotID string) (*models.Lot, error) {
	var (
		lot        models.Lot
		acct       string
		qty, price string
		created    int64
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, account_id, symbol, quantity, unit_price, created_at FROM lots WHERE id = ?`, lotID,
	).Scan(&lot.ID, &acct, &lot.Symbol, &qty, &price, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: lot %s", ledger.ErrNotFound, lotID)
		}
		return nil, fmt.Errorf("error getting lot %s: %w", lotID, err)
	}
	if lot.AccountID, err = uuid.Parse(acct); err != nil {
		return nil, fmt.Errorf("lot %s: bad account id: %w", lotID, err)
	}
	if lot.Quantity, err = parseDecimal(qty); err != nil {
		return nil, err
	}
	if lot.UnitPrice, err = parseDecimal(price); err != nil {
		return nil, err
	}
	lot.CreatedAt = fromNanos(created)
	return &lot, nil
}

func (t *txStore) DeleteLot(ctx context.Context, lotID string) (*models.Lot, error) {
	lot, err := t.FindLot(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM lots WHERE id = ?`, lotID); err != nil {
		return nil, fmt.Errorf("error deleting lot %s: %w", lotID, err)
	}
	return lot, nil
}

func (t *txStore) AggregateOpenPositions(ctx context.Context, accountID uuid.UUID) ([]models.Holding, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT symbol, quantity, unit_price FROM lots WHERE account_id = ?`, accountID.String())
	if err != nil {
		return nil, fmt.Errorf("error querying lots for account %s: %w", accountID, err)
	}
	defer rows.Close()

	bySymbol := make(map[string]*models.Holding)
	for rows.Next() {
		var sym, qty, price string
		if err := rows.Scan(&sym, &qty, &price); err != nil {
			return nil, fmt.Errorf("error scanning lot row for account %s: %w", accountID, err)
		}
		q, err := parseDecimal(qty)
		if err != nil {
			return nil, err
		}
		p, err := parseDecimal(price)
		if err != nil {
			return nil, err
		}
		h, ok := bySymbol[sym]
		if !ok {
			h = &models.Holding{Symbol: sym, TotalQuantity: decimal.Zero, TotalCost: decimal.Zero}
			bySymbol[sym] = h
		}
		h.TotalQuantity = h.TotalQuantity.Add(q)
		h.TotalCost = h.TotalCost.Add(q.Mul(p))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lot rows for account %s: %w", accountID, err)
	}

	holdings := make([]models.Holding, 0, len(bySymbol))
	for _, h := range bySymbol {
		holdings = append(holdings, *h)
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Symbol < holdings[j].Symbol })
	return holdings, nil
}

func (t *txStore) Append(ctx context.Context, rec *models.TransactionRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: record id is required", ledger.ErrValidation)
	}
	created := rec.CreatedAt.UnixNano()
	if rec.CreatedAt.IsZero() {
		created = t.now()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, symbol, quantity, buy_price, kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.AccountID.String(), rec.Symbol, rec.Quantity.String(), rec.BuyPrice.String(),
		string(models.KindHold), created)
	if err != nil {
		return classify(err, fmt.Sprintf("append transaction %s", rec.ID))
	}
	rec.Kind = models.KindHold
	rec.SaleProceeds = nil
	rec.SoldAt = nil
	rec.CreatedAt = fromNanos(created)
	return nil
}

const recordColumns = `id, account_id, symbol, quantity, buy_price, kind, sale_proceeds, created_at, sold_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.TransactionRecord, error) {
	var (
		rec        models.TransactionRecord
		acct, kind string
		qty, price string
		proceeds   sql.NullString
		created    int64
		soldAt     sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &acct, &rec.Symbol, &qty, &price, &kind, &proceeds, &created, &soldAt); err != nil {
		return nil, err
	}
	var err error
	if rec.AccountID, err = uuid.Parse(acct); err != nil {
		return nil, fmt.Errorf("transaction %s: bad account id: %w", rec.ID, err)
	}
	if rec.Quantity, err = parseDecimal(qty); err != nil {
		return nil, err
	}
	if rec.BuyPrice, err = parseDecimal(price); err != nil {
		return nil, err
	}
	rec.Kind = models.TxKind(kind)
	if proceeds.Valid {
		p, err := parseDecimal(proceeds.String)
		if err != nil {
			return nil, err
		}
		rec.SaleProceeds = &p
	}
	rec.CreatedAt = fromNanos(created)
	if soldAt.Valid {
		ts := fromNanos(soldAt.Int64)
		rec.SoldAt = &ts
	}
	return &rec, nil
}

func (t *txStore) MarkSold(ctx context.Context, recordID string, proceeds decimal.Decimal) (*models.TransactionRecord, error) {
	rec, err := scanRecord(t.tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM transactions WHERE id = ?`, recordID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: transaction %s", ledger.ErrNotFound, recordID)
		}
		return nil, fmt.Errorf("error getting transaction %s: %w", recordID, err)
	}
	if rec.Kind == models.KindSold {
		return nil, fmt.Errorf("%w: transaction %s", ledger.ErrAlreadySold, recordID)
	}
	now := t.now()
	_, err = t.tx.ExecContext(ctx,
		`UPDATE transactions SET kind = ?, sale_proceeds = ?, sold_at = ? WHERE id = ?`,
		string(models.KindSold), proceeds.String(), now, recordID)
	if err != nil {
		return nil, fmt.Errorf("error marking transaction %s sold: %w", recordID, err)
	}
	soldAt := fromNanos(now)
	rec.Kind = models.KindSold
	rec.SaleProceeds = &proceeds
	rec.SoldAt = &soldAt
	return rec, nil
}

func (t *txStore) ListByAccount(ctx context.Context, accountID uuid.UUID, f ledger.Filter) ([]models.TransactionRecord, error) {
	where := []string{"account_id = ?"}
	args := []any{accountID.String()}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.ID != "" {
		where = append(where, "id = ?")
		args = append(args, f.ID)
	}
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM transactions WHERE `+strings.Join(where, " AND ")+` ORDER BY created_at, id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("error querying transactions for account %s: %w", accountID, err)
	}
	defer rows.Close()

	recs := make([]models.TransactionRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning transaction row for account %s: %w", accountID, err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction rows for account %s: %w", accountID, err)
	}
	return recs, nil
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad decimal %q: %w", raw, err)
	}
	return d, nil
}
