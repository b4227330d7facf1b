package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/models"
)

const recordColumns = `id, account_id, symbol, quantity::text, buy_price::text, kind,
	sale_proceeds::text, created_at, sold_at`

func scanRecord(row pgx.Row) (*models.TransactionRecord, error) {
	var (
		rec        models.TransactionRecord
		qty, price string
		kind       string
		proceeds   *string
	)
	err := row.Scan(&rec.ID, &rec.AccountID, &rec.Symbol, &qty, &price, &kind, &proceeds, &rec.CreatedAt, &rec.SoldAt)
	if err != nil {
		return nil, err
	}
	rec.Kind = models.TxKind(kind)
	if rec.Quantity, err = parseNumeric(qty); err != nil {
		return nil, err
	}
	if rec.BuyPrice, err = parseNumeric(price); err != nil {
		return nil, err
	}
	if rec.SaleProceeds, err = parseNullNumeric(proceeds); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Append always writes a HOLD record; the sold state is reached only via MarkSold.
func (t *txStore) Append(ctx context.Context, rec *models.TransactionRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: record id is required", ledger.ErrValidation)
	}
	query := `INSERT INTO transactions (id, account_id, symbol, quantity, buy_price, kind, created_at)
			  VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, COALESCE($7, NOW()))
			  RETURNING created_at`

	var createdAt any
	if !rec.CreatedAt.IsZero() {
		createdAt = rec.CreatedAt
	}
	err := t.q.QueryRow(ctx, query,
		rec.ID, rec.AccountID, rec.Symbol, rec.Quantity.String(), rec.BuyPrice.String(),
		string(models.KindHold), createdAt,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return classify(err, fmt.Sprintf("append transaction %s", rec.ID))
	}
	rec.Kind = models.KindHold
	rec.SaleProceeds = nil
	rec.SoldAt = nil
	return nil
}

// MarkSold flips a HOLD record to SOLD. The kind guard in the WHERE clause
// makes a second sale of the same record fail rather than overwrite it.
func (t *txStore) MarkSold(ctx context.Context, recordID string, proceeds decimal.Decimal) (*models.TransactionRecord, error) {
	query := `UPDATE transactions
			  SET kind = 'sold', sale_proceeds = $2::numeric, sold_at = NOW()
			  WHERE id = $1 AND kind = 'hold'
			  RETURNING ` + recordColumns

	rec, err := scanRecord(t.q.QueryRow(ctx, query, recordID, proceeds.String()))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("error marking transaction %s sold: %w", recordID, err)
	}

	var kind string
	err = t.q.QueryRow(ctx, `SELECT kind FROM transactions WHERE id = $1`, recordID).Scan(&kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: transaction %s", ledger.ErrNotFound, recordID)
		}
		return nil, fmt.Errorf("error getting transaction %s: %w", recordID, err)
	}
	return nil, fmt.Errorf("%w: transaction %s", ledger.ErrAlreadySold, recordID)
}

func (t *txStore) ListByAccount(ctx context.Context, accountID uuid.UUID, f ledger.Filter) ([]models.TransactionRecord, error) {
	var (
		where = []string{"account_id = $1"}
		args  = []any{accountID}
	)
	if f.Kind != "" {
		args = append(args, string(f.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if f.ID != "" {
		args = append(args, f.ID)
		where = append(where, fmt.Sprintf("id = $%d", len(args)))
	}
	query := `SELECT ` + recordColumns + ` FROM transactions
			  WHERE ` + strings.Join(where, " AND ") + `
			  ORDER BY created_at, id`

	rows, err := t.q.Query(ctx, query, args...)
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
