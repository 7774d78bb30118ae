package middleware

import (
	"github.com/gofiber/fiber/v2"
)

const ownerKey = "owner"

// PlugOwner attaches the request's owner. There is no authentication, so every
// request acts as the configured owner.
func PlugOwner(owner string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(ownerKey, owner)
		return c.Next()
	}
}

// Owner returns the owner set by PlugOwner, or "" when it did not run.
func Owner(c *fiber.Ctx) string {
	owner, _ := c.Locals(ownerKey).(string)
	return owner
}
