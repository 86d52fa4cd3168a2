package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/rockidapp/rockid-server/app/controllers"
	"github.com/rockidapp/rockid-server/internal/pkg/constants"
	"github.com/rockidapp/rockid-server/internal/pkg/env"
)

type WebhookRouter struct {
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	webhookController := controllers.NewWebhookController(
		getBillingService(),
		env.GetEnv("REVENUECAT_BEARER_TOKEN", ""),
	)

	// No rate limiter here: the billing provider retries on non-2xx and a
	// throttled delivery would just come back again.
	app.Post(constants.WebhookRevenueCatRoute, webhookController.HandleRevenueCatWebhook)
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}
