package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/user/papertrade/backend/internal/auth"
	"github.com/user/papertrade/backend/internal/ledger"
	"go.uber.org/zap"
)

const accountKey = "accountID"

// TokenValidator checks a bearer token.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// Protected verifies the bearer token and stores the caller's account id in
// the request locals. Any failure is a 401 with the same body, so clients
// cannot tell a missing token from a bad one.
func Protected(v TokenValidator, log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *fiber.Ctx) error {
		tokenString, ok := bearer(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return unauthenticated(c)
		}
		claims, err := v.Validate(tokenString)
		if err != nil {
			log.Debug("token rejected", zap.String("path", c.Path()), zap.Error(err))
			return unauthenticated(c)
		}
		c.Locals(accountKey, claims.AccountID)
		return c.Next()
	}
}

// AccountID returns the authenticated account, or uuid.Nil outside Protected routes.
func AccountID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(accountKey).(uuid.UUID)
	return id
}

func bearer(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func unauthenticated(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": ledger.ErrAuthentication.Error()})
}
