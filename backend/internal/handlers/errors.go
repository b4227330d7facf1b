package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/user/papertrade/backend/internal/ledger"
	"go.uber.org/zap"
)

const unavailable = "storage unavailable, try again later"

// StatusFor maps a ledger error onto an HTTP status.
func StatusFor(err error) int {
	switch ledger.Classify(err) {
	case ledger.CategoryInvalid:
		return fiber.StatusBadRequest
	case ledger.CategoryUnauthenticated:
		return fiber.StatusUnauthorized
	case ledger.CategoryNotFound:
		return fiber.StatusNotFound
	case ledger.CategoryConflict:
		return fiber.StatusConflict
	default:
		return fiber.StatusServiceUnavailable
	}
}

// fail writes {"error": msg}. Internal errors are logged and never echoed.
func (h *Trade) fail(c *fiber.Ctx, err error) error {
	status := StatusFor(err)
	msg := err.Error()
	if status == fiber.StatusServiceUnavailable {
		h.log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		msg = unavailable
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func badBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "cannot parse request body"})
}

// ErrorHandler renders errors that escape a handler in the same shape as ledger errors.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}
		log.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
