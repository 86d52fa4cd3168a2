package controllers

import (
	"crypto/subtle"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/rockidapp/rockid-server/internal/pkg/billing"
)

// WebhookController receives billing events from RevenueCat. The shared
// bearer secret is loaded once at startup; an empty secret is a fatal
// misconfiguration and every delivery is rejected until it is fixed.
type WebhookController struct {
	svc    *billing.Service
	secret string
}

// NewWebhookController creates a webhook controller with an injected billing
// service and the server-held bearer secret.
func NewWebhookController(svc *billing.Service, secret string) *WebhookController {
	return &WebhookController{svc: svc, secret: strings.TrimSpace(secret)}
}

// HandleRevenueCatWebhook authenticates, parses, and applies one webhook
// delivery. Replays of an already processed event id are acknowledged without
// any mutation, so the provider may retry arbitrarily often.
func (wc *WebhookController) HandleRevenueCatWebhook(c *fiber.Ctx) error {
	if wc.secret == "" {
		log.Print("CRITICAL: RevenueCat bearer token missing or not loaded (env vars/Secret Manager)")
		return c.Status(fiber.StatusInternalServerError).SendString("Webhook authentication not configured properly.")
	}

	authHeader := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if authHeader == "" {
		log.Print("webhook: missing Authorization header")
		return c.Status(fiber.StatusUnauthorized).SendString("Unauthorized: Missing Authorization header.")
	}

	authType, receivedToken, found := strings.Cut(authHeader, " ")
	receivedToken = strings.TrimSpace(receivedToken)
	if !found || authType != "Bearer" || receivedToken == "" {
		log.Print("webhook: invalid Authorization header format")
		return c.Status(fiber.StatusUnauthorized).SendString("Unauthorized: Invalid Authorization header format.")
	}

	if subtle.ConstantTimeCompare([]byte(receivedToken), []byte(wc.secret)) != 1 {
		log.Print("webhook: invalid bearer token received")
		return c.Status(fiber.StatusUnauthorized).SendString("Unauthorized: Invalid token.")
	}

	event, err := billing.ParseWebhookEvent(c.Body())
	if err != nil {
		log.Printf("webhook: failed to parse payload: %v", err)
		return c.Status(fiber.StatusBadRequest).SendString("Invalid JSON payload.")
	}

	log.Printf("webhook: received authenticated event id=%s type=%s user=%s original=%s product=%s",
		event.ID, event.Type, event.AppUserID, event.OriginalAppUserID, event.ProductID)

	if err := event.Validate(); err != nil {
		switch err {
		case billing.ErrMissingAppUserID:
			log.Print("webhook: no app_user_id provided in payload")
			return c.Status(fiber.StatusBadRequest).SendString("Missing app_user_id.")
		case billing.ErrMissingEventID:
			log.Print("webhook: no event ID provided, cannot ensure idempotency")
			return c.Status(fiber.StatusBadRequest).SendString("Missing event ID.")
		default:
			return c.Status(fiber.StatusBadRequest).SendString("Invalid payload.")
		}
	}

	result, err := wc.svc.ProcessEvent(c.Context(), event)
	if err != nil {
		log.Printf("webhook: error processing event id=%s type=%s user=%s: %v",
			event.ID, event.Type, event.AppUserID, err)
		return c.Status(fiber.StatusInternalServerError).SendString("Internal server error while processing payload.")
	}

	if result.Duplicate {
		return c.Status(fiber.StatusOK).SendString("Event already processed.")
	}
	return c.Status(fiber.StatusOK).SendString("Webhook processed successfully.")
}
