package controllers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/rockidapp/rockid-server/internal/pkg/billing"
)

// respondBillingError maps the closed billing error taxonomy to its HTTP
// representation. Unexpected errors are logged with the user id before a
// generic internal response; no internal detail leaks to the client.
func respondBillingError(c *fiber.Ctx, appUserID string, err error) error {
	switch {
	case errors.Is(err, billing.ErrEntitlementNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "not-found",
			"message": "User entitlement not found.",
		})
	case errors.Is(err, billing.ErrOutOfTokens):
		return c.Status(fiber.StatusPreconditionFailed).JSON(fiber.Map{
			"error":   "failed-precondition",
			"message": billing.OutOfTokensMessage,
		})
	default:
		log.Printf("billing operation failed for user %s: %v", appUserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal",
			"message": "An internal error occurred.",
		})
	}
}

func respondUnauthenticated(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error":   "unauthenticated",
		"message": "The request must be authenticated.",
	})
}
