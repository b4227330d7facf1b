// Package memstore is an in-process ledger.Store.
//
// A single RWMutex serialises writers. Update runs fn against a private copy
// of the state and swaps it in only when fn succeeds, so a failed unit of
// work leaves nothing behind and readers never see a half-applied trade.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/id"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/models"
)

var errReadOnly = errors.New("memstore: write inside a read-only unit")

type state struct {
	accounts map[uuid.UUID]models.Account
	lots     map[string]models.Lot
	records  map[string]models.TransactionRecord
}

func newState() *state {
	return &state{
		accounts: make(map[uuid.UUID]models.Account),
		lots:     make(map[string]models.Lot),
		records:  make(map[string]models.TransactionRecord),
	}
}

// clone is shallow per entry; entries are replaced, never mutated in place.
func (s *state) clone() *state {
	cp := &state{
		accounts: make(map[uuid.UUID]models.Account, len(s.accounts)),
		lots:     make(map[string]models.Lot, len(s.lots)),
		records:  make(map[string]models.TransactionRecord, len(s.records)),
	}
	for k, v := range s.accounts {
		cp.accounts[k] = v
	}
	for k, v := range s.lots {
		cp.lots[k] = v
	}
	for k, v := range s.records {
		cp.records[k] = v
	}
	return cp
}

// Store is the in-memory ledger backend.
type Store struct {
	mu    sync.RWMutex
	st    *state
	newID id.Generator
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator replaces the lot id generator.
func WithIDGenerator(g id.Generator) Option {
	return func(s *Store) { s.newID = g }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{st: newState(), newID: id.New, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Update implements ledger.Store.
func (s *Store) Update(ctx context.Context, fn ledger.TxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(ctx, &tx{st: work, store: s}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// View implements ledger.Store.
func (s *Store) View(ctx context.Context, fn ledger.TxFunc) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, &tx{st: s.st, store: s, readOnly: true})
}

// Ping implements ledger.Store.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// Close implements ledger.Store.
func (s *Store) Close() error { return nil }

// tx serves all three stores over one state snapshot.
type tx struct {
	st       *state
	store    *Store
	readOnly bool
}

func (t *tx) Accounts() ledger.AccountStore         { return t }
func (t *tx) Positions() ledger.PositionStore       { return t }
func (t *tx) Transactions() ledger.TransactionLedger { return t }

func (t *tx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func (t *tx) Open(_ context.Context, accountID uuid.UUID, initial decimal.Decimal) (*models.Account, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	if initial.IsNegative() {
		return nil, fmt.Errorf("%w: initial balance must not be negative", ledger.ErrValidation)
	}
	if _, ok := t.st.accounts[accountID]; ok {
		return nil, fmt.Errorf("%w: account %s already exists", ledger.ErrDuplicateKey, accountID)
	}
	now := t.store.now()
	a := models.Account{ID: accountID, Balance: initial, CreatedAt: now, UpdatedAt: now}
	t.st.accounts[accountID] = a
	return &a, nil
}

func (t *tx) GetBalance(_ context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	a, ok := t.st.accounts[accountID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: account %s", ledger.ErrNotFound, accountID)
	}
	return a.Balance, nil
}

func (t *tx) Debit(_ context.Context, accountID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := t.writable(); err != nil {
		return decimal.Zero, err
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: debit amount must not be negative", ledger.ErrValidation)
	}
	a, ok := t.st.accounts[accountID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: account %s", ledger.ErrNotFound, accountID)
	}
	if a.Balance.LessThan(amount) {
		return decimal.Zero, fmt.Errorf("%w: available %s, required %s", ledger.ErrInsufficientFunds, a.Balance, amount)
	}
	a.Balance = a.Balance.Sub(amount)
	a.UpdatedAt = t.store.now()
	t.st.accounts[accountID] = a
	return a.Balance, nil
}

func (t *tx) Credit(_ context.Context, accountID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := t.writable(); err != nil {
		return decimal.Zero, err
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: credit amount must not be negative", ledger.ErrValidation)
	}
	a, ok := t.st.accounts[accountID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: account %s", ledger.ErrNotFound, accountID)
	}
	a.Balance = a.Balance.Add(amount)
	a.UpdatedAt = t.store.now()
	t.st.accounts[accountID] = a
	return a.Balance, nil
}

func (t *tx) CreateLot(_ context.Context, accountID uuid.UUID, symbol string, quantity, unitPrice decimal.Decimal) (*models.Lot, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	if !quantity.IsPositive() || !unitPrice.IsPositive() {
		return nil, fmt.Errorf("%w: lot quantity and price must be positive", ledger.ErrValidation)
	}
	lotID := t.store.newID()
	if _, ok := t.st.lots[lotID]; ok {
		return nil, fmt.Errorf("%w: lot %s", ledger.ErrDuplicateKey, lotID)
	}
	l := models.Lot{
		ID:        lotID,
		AccountID: accountID,
		Symbol:    symbol,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		CreatedAt: t.store.now(),
	}
	t.st.lots[lotID] = l
	return &l, nil
}

func (t *tx) FindLot(_ context.Context, lotID string) (*models.Lot, error) {
	l, ok := t.st.lots[lotID]
	if !ok {
		return nil, fmt.Errorf("%w: lot %s", ledger.ErrNotFound, lotID)
	}
	return &l, nil
}

func (t *tx) DeleteLot(_ context.Context, lotID string) (*models.Lot, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	l, ok := t.st.lots[lotID]
	if !ok {
		return nil, fmt.Errorf("%w: lot %s", ledger.ErrNotFound, lotID)
	}
	delete(t.st.lots, lotID)
	return &l, nil
}

func (t *tx) AggregateOpenPositions(_ context.Context, accountID uuid.UUID) ([]models.Holding, error) {
	bySymbol := make(map[string]*models.Holding)
	for _, l := range t.st.lots {
		if l.AccountID != accountID {
			continue
		}
		h, ok := bySymbol[l.Symbol]
		if !ok {
			h = &models.Holding{Symbol: l.Symbol, TotalQuantity: decimal.Zero, TotalCost: decimal.Zero}
			bySymbol[l.Symbol] = h
		}
		h.TotalQuantity = h.TotalQuantity.Add(l.Quantity)
		h.TotalCost = h.TotalCost.Add(l.Cost())
	}
	out := make([]models.Holding, 0, len(bySymbol))
	for _, h := range bySymbol {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (t *tx) Append(_ context.Context, rec *models.TransactionRecord) error {
	if err := t.writable(); err != nil {
		return err
	}
	if rec.ID == "" {
		return fmt.Errorf("%w: record id is required", ledger.ErrValidation)
	}
	if _, ok := t.st.records[rec.ID]; ok {
		return fmt.Errorf("%w: transaction %s", ledger.ErrDuplicateKey, rec.ID)
	}
	r := *rec
	r.Kind = models.KindHold
	r.SaleProceeds = nil
	r.SoldAt = nil
	if r.CreatedAt.IsZero() {
		r.CreatedAt = t.store.now()
	}
	t.st.records[r.ID] = r
	return nil
}

func (t *tx) MarkSold(_ context.Context, recordID string, proceeds decimal.Decimal) (*models.TransactionRecord, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	r, ok := t.st.records[recordID]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", ledger.ErrNotFound, recordID)
	}
	if r.Kind == models.KindSold {
		return nil, fmt.Errorf("%w: transaction %s", ledger.ErrAlreadySold, recordID)
	}
	soldAt := t.store.now()
	r.Kind = models.KindSold
	r.SaleProceeds = &proceeds
	r.SoldAt = &soldAt
	t.st.records[recordID] = r
	return &r, nil
}

func (t *tx) ListByAccount(_ context.Context, accountID uuid.UUID, f ledger.Filter) ([]models.TransactionRecord, error) {
	out := make([]models.TransactionRecord, 0)
	for _, r := range t.st.records {
		if r.AccountID != accountID {
			continue
		}
		if f.Kind != "" && r.Kind != f.Kind {
			continue
		}
		if f.ID != "" && r.ID != f.ID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
