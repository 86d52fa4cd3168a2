package usercontext

import "github.com/gofiber/fiber/v2"

// UserContext represents the verified caller identity for a request
type UserContext struct {
	UserID     uint   `json:"user_id"`
	AppUserID  string `json:"app_user_id"`
	IsLoggedIn bool   `json:"is_logged_in"`
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx := c.Locals(KeyUserContext); ctx != nil {
		return ctx.(UserContext)
	}
	return UserContext{IsLoggedIn: false}
}

// IsLoggedIn checks if the current request carries a verified identity
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// GetAppUserID returns the current caller's app user id, or empty string
func GetAppUserID(c *fiber.Ctx) string {
	return GetUserContext(c).AppUserID
}
