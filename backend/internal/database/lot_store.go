package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/models"
)

const lotColumns = `id, account_id, symbol, quantity::text, unit_price::text, created_at`

func scanLot(row pgx.Row) (*models.Lot, error) {
	var (
		lot        models.Lot
		qty, price string
	)
	if err := row.Scan(&lot.ID, &lot.AccountID, &lot.Symbol, &qty, &price, &lot.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if lot.Quantity, err = parseNumeric(qty); err != nil {
		return nil, err
	}
	if lot.UnitPrice, err = parseNumeric(price); err != nil {
		return nil, err
	}
	return &lot, nil
}

func (t *txStore) CreateLot(ctx context.Context, accountID uuid.UUID, symbol string, quantity, unitPrice decimal.Decimal) (*models.Lot, error) {
	if !quantity.IsPositive() || !unitPrice.IsPositive() {
		return nil, fmt.Errorf("%w: lot quantity and price must be positive", ledger.ErrValidation)
	}
	lot := &models.Lot{
		ID:        t.newID(),
		AccountID: accountID,
		Symbol:    symbol,
		Quantity:  quantity,
		UnitPrice: unitPrice,
	}
	query := `INSERT INTO lots (id, account_id, symbol, quantity, unit_price)
			  VALUES ($1, $2, $3, $4::numeric, $5::numeric)
			  RETURNING created_at`

	err := t.q.QueryRow(ctx, query,
		lot.ID, lot.AccountID, lot.Symbol, quantity.String(), unitPrice.String(),
	).Scan(&lot.CreatedAt)
	if err != nil {
		return nil, classify(err, fmt.Sprintf("create lot %s", lot.ID))
	}
	return lot, nil
}

// FindLot locks the lot row, so a concurrent sell of the same lot waits and
// then finds it gone.
func (t *txStore) FindLot(ctx context.Context, lotID string) (*models.Lot, error) {
	lot, err := scanLot(t.q.QueryRow(ctx, `SELECT `+lotColumns+` FROM lots WHERE id = $1 FOR UPDATE`, lotID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: lot %s", ledger.ErrNotFound, lotID)
		}
		return nil, fmt.Errorf("error getting lot %s: %w", lotID, err)
	}
	return lot, nil
}

func (t *txStore) DeleteLot(ctx context.Context, lotID string) (*models.Lot, error) {
	lot, err := scanLot(t.q.QueryRow(ctx, `DELETE FROM lots WHERE id = $1 RETURNING `+lotColumns, lotID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: lot %s", ledger.ErrNotFound, lotID)
		}
		return nil, fmt.Errorf("error deleting lot %s: %w", lotID, err)
	}
	return lot, nil
}

func (t *txStore) AggregateOpenPositions(ctx context.Context, accountID uuid.UUID) ([]models.Holding, error) {
	holdings := make([]models.Holding, 0)
	query := `SELECT symbol, SUM(quantity)::text, SUM(quantity * unit_price)::text
			  FROM lots WHERE account_id = $1
			  GROUP BY symbol ORDER BY symbol`

	rows, err := t.q.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("error aggregating lots for account %s: %w", accountID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			h         models.Holding
			qty, cost string
		)
		if err := rows.Scan(&h.Symbol, &qty, &cost); err != nil {
			return nil, fmt.Errorf("error scanning holding row for account %s: %w", accountID, err)
		}
		if h.TotalQuantity, err = parseNumeric(qty); err != nil {
			return nil, err
		}
		if h.TotalCost, err = parseNumeric(cost); err != nil {
			return nil, err
		}
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holding rows for account %s: %w", accountID, err)
	}
	return holdings, nil
}
