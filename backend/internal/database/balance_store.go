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

func (t *txStore) Open(ctx context.Context, accountID uuid.UUID, initial decimal.Decimal) (*models.Account, error) {
	if initial.IsNegative() {
		return nil, fmt.Errorf("%w: initial balance must not be negative", ledger.ErrValidation)
	}
	acct := &models.Account{ID: accountID, Balance: initial}
	query := `INSERT INTO accounts (id, balance) VALUES ($1, $2::numeric)
			  RETURNING created_at, updated_at`

	err := t.q.QueryRow(ctx, query, accountID, initial.String()).Scan(&acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		return nil, classify(err, fmt.Sprintf("open account %s", accountID))
	}
	return acct, nil
}

// GetBalance reads the current balance.
func (t *txStore) GetBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	return t.balance(ctx, `SELECT balance::text FROM accounts WHERE id = $1`, accountID)
}

func (t *txStore) balance(ctx context.Context, query string, accountID uuid.UUID) (decimal.Decimal, error) {
	var raw string
	err := t.q.QueryRow(ctx, query, accountID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("%w: account %s", ledger.ErrNotFound, accountID)
		}
		return decimal.Zero, fmt.Errorf("error getting balance for account %s: %w", accountID, err)
	}
	return parseNumeric(raw)
}

// Debit subtracts amount only while the balance covers it. The guard lives in
// the UPDATE itself, so two racing debits cannot both pass.
func (t *txStore) Debit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: debit amount must not be negative", ledger.ErrValidation)
	}
	query := `UPDATE accounts
			  SET balance = balance - $1::numeric, updated_at = NOW()
			  WHERE id = $2 AND balance >= $1::numeric
			  RETURNING balance::text`

	var raw string
	err := t.q.QueryRow(ctx, query, amount.String(), accountID).Scan(&raw)
	if err == nil {
		return parseNumeric(raw)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("error debiting account %s: %w", accountID, err)
	}

	// No row updated: either the account is missing or the funds are short.
	current, getErr := t.balance(ctx, `SELECT balance::text FROM accounts WHERE id = $1 FOR UPDATE`, accountID)
	if getErr != nil {
		return decimal.Zero, getErr
	}
	return decimal.Zero, fmt.Errorf("%w: available %s, required %s", ledger.ErrInsufficientFunds, current, amount)
}

func (t *txStore) Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: credit amount must not be negative", ledger.ErrValidation)
	}
	query := `UPDATE accounts
			  SET balance = balance + $1::numeric, updated_at = NOW()
			  WHERE id = $2
			  RETURNING balance::text`

	var raw string
	err := t.q.QueryRow(ctx, query, amount.String(), accountID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("%w: account %s", ledger.ErrNotFound, accountID)
		}
		return decimal.Zero, fmt.Errorf("error crediting account %s: %w", accountID, err)
	}
	return parseNumeric(raw)
}

func parseNumeric(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad numeric %q: %w", raw, err)
	}
	return d, nil
}

func parseNullNumeric(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := parseNumeric(*raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
