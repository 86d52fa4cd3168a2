package controllers

import (
	"context"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/rockidapp/rockid-server/internal/pkg/billing"
	"github.com/rockidapp/rockid-server/internal/pkg/identify"
	"github.com/rockidapp/rockid-server/internal/pkg/usercontext"
)

// VisionClient is the slice of the identification backend this controller
// needs. Satisfied by identify.GeminiClient.
type VisionClient interface {
	IdentifyRock(ctx context.Context, imageBase64 string) (*identify.RockReport, error)
}

// IdentifyController runs the paid identification flow: spend a token, then
// send the image to the vision backend.
type IdentifyController struct {
	svc    *billing.Service
	vision VisionClient
}

func NewIdentifyController(svc *billing.Service, vision VisionClient) *IdentifyController {
	return &IdentifyController{svc: svc, vision: vision}
}

type identifyRequest struct {
	Image string `json:"image"`
}

// HandleIdentify consumes one token and returns the structured rock report.
// The token is spent before the vision call, matching the billing model of
// charging per attempt.
func (ic *IdentifyController) HandleIdentify(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return respondUnauthenticated(c)
	}

	var req identifyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid-argument",
			"message": "Invalid JSON payload.",
		})
	}
	req.Image = strings.TrimSpace(req.Image)
	if req.Image == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid-argument",
			"message": "Missing image data.",
		})
	}

	ent, err := ic.svc.Consume(c.Context(), userCtx.AppUserID)
	if err != nil {
		return respondBillingError(c, userCtx.AppUserID, err)
	}

	report, err := ic.vision.IdentifyRock(c.Context(), req.Image)
	if err != nil {
		log.Printf("[Identify] Identification failed for %s: %v", userCtx.AppUserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal",
			"message": "An unexpected error occurred during identification.",
		})
	}

	return c.JSON(fiber.Map{
		"result":           report,
		"tokens_remaining": ent.Tokens,
	})
}
