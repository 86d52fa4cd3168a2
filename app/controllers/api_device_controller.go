package controllers

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rockidapp/rockid-server/app/models"
	"github.com/rockidapp/rockid-server/app/repository"
)

// DeviceController handles anonymous device onboarding. A device registers
// once, receives an API key plus its signup token balance, and uses that key
// for every subsequent call.
type DeviceController struct {
	db    *gorm.DB
	users repository.UserRepository
}

func NewDeviceController(db *gorm.DB, users repository.UserRepository) *DeviceController {
	return &DeviceController{db: db, users: users}
}

type registerDeviceRequest struct {
	AppUserID  string `json:"app_user_id"`
	Platform   string `json:"platform"`
	AppVersion string `json:"app_version"`
}

// HandleRegisterDevice creates a user record for a device and issues its API
// key. The raw key is only ever returned here; we store the hash. User row
// and entitlement are written in one transaction: a registration either
// fully succeeds or leaves no trace, so the device can always retry.
func (dc *DeviceController) HandleRegisterDevice(c *fiber.Ctx) error {
	var req registerDeviceRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "invalid-argument",
				"message": "Invalid JSON payload.",
			})
		}
	}

	appUserID := strings.TrimSpace(req.AppUserID)
	if appUserID == "" {
		appUserID = uuid.NewString()
	}

	existing, err := dc.users.GetByAppUserID(appUserID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("[Device] Lookup failed for %s: %v", appUserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal",
			"message": "An internal error occurred.",
		})
	}
	if existing != nil && err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "already-exists",
			"message": "A device with this app_user_id is already registered.",
		})
	}

	user := &models.User{
		AppUserID:  appUserID,
		Platform:   strings.TrimSpace(req.Platform),
		AppVersion: strings.TrimSpace(req.AppVersion),
		Status:     models.STATUS_ACTIVE,
	}
	if err := user.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid-argument",
			"message": "Invalid app_user_id.",
		})
	}

	rawKey, err := user.IssueAPIKey()
	if err != nil {
		log.Printf("[Device] Could not issue API key for %s: %v", appUserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal",
			"message": "An internal error occurred.",
		})
	}

	var ent *models.UserEntitlement
	err = dc.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		created, err := models.GetOrCreateUserEntitlement(tx, appUserID)
		if err != nil {
			return err
		}
		ent = created
		return nil
	})
	if err != nil {
		// A concurrent registration can slip past the lookup above; the
		// unique index reports it here.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":   "already-exists",
				"message": "A device with this app_user_id is already registered.",
			})
		}
		log.Printf("[Device] Could not register device %s: %v", appUserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal",
			"message": "An internal error occurred.",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"app_user_id": appUserID,
		"api_key":     rawKey,
		"tokens":      ent.Tokens,
	})
}
