package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/middleware"
	"github.com/user/papertrade/backend/internal/models"
	"go.uber.org/zap"
)

// Ledger is the trading surface the handlers drive. *ledger.Coordinator satisfies it.
type Ledger interface {
	Buy(ctx context.Context, accountID uuid.UUID, symbol string, quantity, unitPrice decimal.Decimal) (decimal.Decimal, error)
	Sell(ctx context.Context, accountID uuid.UUID, lotID string, salePrice decimal.Decimal) (decimal.Decimal, error)
	Wallet(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
	Holdings(ctx context.Context, accountID uuid.UUID) ([]models.Holding, error)
	Transactions(ctx context.Context, accountID uuid.UUID, f ledger.Filter) ([]models.TransactionRecord, error)
}

// BuyRequest defines the expected JSON body for a buy.
type BuyRequest struct {
	Symbol   string          `json:"symbol"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// SellRequest defines the expected JSON body for a sell. PriceAt is per unit.
type SellRequest struct {
	ID      string          `json:"id"`
	PriceAt decimal.Decimal `json:"priceat"`
}

// Trade serves the account-scoped ledger routes.
type Trade struct {
	ledger Ledger
	log    *zap.Logger
}

// NewTrade returns the trade handlers.
func NewTrade(l Ledger, log *zap.Logger) *Trade {
	if log == nil {
		log = zap.NewNop()
	}
	return &Trade{ledger: l, log: log.Named("handlers")}
}

// Buy handles POST /api/buy and responds with the new balance.
func (h *Trade) Buy(c *fiber.Ctx) error {
	req := new(BuyRequest)
	if err := c.BodyParser(req); err != nil {
		return badBody(c)
	}
	balance, err := h.ledger.Buy(c.Context(), middleware.AccountID(c), req.Symbol, req.Quantity, req.Price)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(balance)
}

// Sell handles POST /api/sell and responds with the new balance.
func (h *Trade) Sell(c *fiber.Ctx) error {
	req := new(SellRequest)
	if err := c.BodyParser(req); err != nil {
		return badBody(c)
	}
	balance, err := h.ledger.Sell(c.Context(), middleware.AccountID(c), req.ID, req.PriceAt)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(balance)
}

// Holdings handles GET /api/holdings.
func (h *Trade) Holdings(c *fiber.Ctx) error {
	holdings, err := h.ledger.Holdings(c.Context(), middleware.AccountID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(holdings)
}

// Wallet handles GET /api/wallet.
func (h *Trade) Wallet(c *fiber.Ctx) error {
	balance, err := h.ledger.Wallet(c.Context(), middleware.AccountID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(balance)
}

// Transactions handles GET /api/transactions with optional ?id= and ?kind=.
func (h *Trade) Transactions(c *fiber.Ctx) error {
	f := ledger.Filter{
		ID:   c.Query("id"),
		Kind: models.TxKind(c.Query("kind")),
	}
	recs, err := h.ledger.Transactions(c.Context(), middleware.AccountID(c), f)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(recs)
}
