package handlers

import (
	"context"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/user/papertrade/backend/internal/ticker"
	ws "github.com/user/papertrade/backend/internal/websocket"
	"go.uber.org/zap"
)

const healthTimeout = 2 * time.Second

// Pinger reports storage reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health handles GET /api/health. It answers 503 when the store cannot be reached.
func Health(db Pinger, driver string, log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), healthTimeout)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			log.Error("health check failed", zap.String("driver", driver), zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable", "driver": driver})
		}
		return c.JSON(fiber.Map{"status": "ok", "driver": driver})
	}
}

// Prices handles GET /api/prices with the last traded price per symbol.
func Prices(board *ticker.Board) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(board.Snapshot())
	}
}

// Routes mounts the API on app. protected resolves the caller's account.
// board and hub may be nil, in which case prices and the trade tape are not served.
func Routes(app *fiber.App, h *Trade, protected fiber.Handler, board *ticker.Board, hub *ws.Hub, db Pinger, driver string, log *zap.Logger) {
	api := app.Group("/api")
	api.Get("/health", Health(db, driver, log))
	if board != nil {
		api.Get("/prices", Prices(board))
	}

	api.Post("/buy", protected, h.Buy)
	api.Post("/sell", protected, h.Sell)
	api.Get("/holdings", protected, h.Holdings)
	api.Get("/wallet", protected, h.Wallet)
	api.Get("/transactions", protected, h.Transactions)

	if hub == nil {
		return
	}
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/trades", websocket.New(TradeTape(hub, log)))
}
