// Package sqlite is a single-file ledger.Store on mattn/go-sqlite3.
//
// Amounts are stored as decimal TEXT and all arithmetic happens in Go. Write
// transactions begin IMMEDIATE, so the read-check-write in Debit is
// serialised against every other writer. Reads go through a separate
// query-only handle with deferred transactions and never take the write lock.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/user/papertrade/backend/internal/id"
	"github.com/user/papertrade/backend/internal/ledger"
	"go.uber.org/zap"
)

const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id          TEXT PRIMARY KEY,
	balance     TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS lots (
	id          TEXT PRIMARY KEY,
	account_id  TEXT NOT NULL REFERENCES accounts (id),
	symbol      TEXT NOT NULL,
	quantity    TEXT NOT NULL,
	unit_price  TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS lots_account_symbol_idx ON lots (account_id, symbol);

CREATE TABLE IF NOT EXISTS transactions (
	id             TEXT PRIMARY KEY,
	account_id     TEXT NOT NULL REFERENCES accounts (id),
	symbol         TEXT NOT NULL,
	quantity       TEXT NOT NULL,
	buy_price      TEXT NOT NULL,
	kind           TEXT NOT NULL CHECK (kind IN ('hold', 'sold')),
	sale_proceeds  TEXT,
	created_at     INTEGER NOT NULL,
	sold_at        INTEGER
);

CREATE INDEX IF NOT EXISTS transactions_account_created_idx ON transactions (account_id, created_at, id);
`

// Store is the SQLite ledger backend.
type Store struct {
	db    *sql.DB
	ro    *sql.DB
	log   *zap.Logger
	newID id.Generator
	now   func() time.Time
}

// Open opens (creating if needed) the database at path and applies Schema.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	rw := url.Values{}
	rw.Set("_txlock", "immediate")
	rw.Set("_busy_timeout", "10000")
	rw.Set("_foreign_keys", "on")
	rw.Set("_journal_mode", "WAL")

	db, err := sql.Open("sqlite3", "file:"+path+"?"+rw.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	readOnly := url.Values{}
	readOnly.Set("_busy_timeout", "10000")
	readOnly.Set("_query_only", "true")
	ro, err := sql.Open("sqlite3", "file:"+path+"?"+readOnly.Encode())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite %s read-only: %w", path, err)
	}

	log = log.Named("sqlite")
	log.Info("opened", zap.String("path", path))
	return &Store{db: db, ro: ro, log: log, newID: id.New, now: time.Now}, nil
}

// Update implements ledger.Store.
func (s *Store) Update(ctx context.Context, fn ledger.TxFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &txStore{tx: tx, store: s}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// View implements ledger.Store. It runs on the query-only handle, so any
// write fails, and the transaction is always rolled back.
func (s *Store) View(ctx context.Context, fn ledger.TxFunc) error {
	tx, err := s.ro.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	return fn(ctx, &txStore{tx: tx, store: s})
}

// Ping checks both handles can reach the file.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return err
	}
	return s.ro.PingContext(ctx)
}

// Close implements ledger.Store.
func (s *Store) Close() error {
	return errors.Join(s.ro.Close(), s.db.Close())
}

type txStore struct {
	tx    *sql.Tx
	store *Store
}

func (t *txStore) Accounts() ledger.AccountStore          { return t }
func (t *txStore) Positions() ledger.PositionStore        { return t }
func (t *txStore) Transactions() ledger.TransactionLedger { return t }

func (t *txStore) now() int64 { return t.store.now().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// classify maps constraint failures onto ledger errors.
func classify(err error, what string) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("%s: %w", what, err)
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
		return fmt.Errorf("%w: %s", ledger.ErrDuplicateKey, what)
	case sqlite3.ErrConstraintForeignKey:
		return fmt.Errorf("%w: %s: account does not exist", ledger.ErrNotFound, what)
	case sqlite3.ErrConstraintCheck:
		return fmt.Errorf("%w: %s", ledger.ErrValidation, what)
	}
	return fmt.Errorf("%s: %w", what, err)
}
