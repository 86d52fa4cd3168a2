package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/rockidapp/rockid-server/app/controllers"
	"github.com/rockidapp/rockid-server/app/repository"
	"github.com/rockidapp/rockid-server/internal/pkg/constants"
	"github.com/rockidapp/rockid-server/internal/pkg/database"
	"github.com/rockidapp/rockid-server/internal/pkg/identify"
	"github.com/rockidapp/rockid-server/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, limiter.New(limiter.Config{
		Max:     120,
		Storage: newLimiterStorage(),
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	svc := getBillingService()

	deviceController := controllers.NewDeviceController(database.GetDB(), repository.GetGlobalFactory().GetUserRepository())
	tokenController := controllers.NewTokenController(svc)
	identifyController := controllers.NewIdentifyController(svc, identify.NewGeminiClientFromEnv())

	// API v1 routes
	v1 := api.Group("/v1")
	v1.Post("/device/register", deviceController.HandleRegisterDevice)

	protected := v1.Group("/", middleware.APIKeyAuthMiddleware())
	protected.Get("/tokens", tokenController.HandleGetTokenBalance)
	protected.Post("/tokens/consume", tokenController.HandleConsumeToken)
	protected.Get("/tokens/live", tokenController.HandleTokenStream)
	protected.Post("/identify", identifyController.HandleIdentify)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
