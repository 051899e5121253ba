// handlers/notifications.go
package handlers

import (
	"economy-engine/middleware"
	"economy-engine/services"

	"github.com/gofiber/fiber/v2"
)

// SetupNotificationRoutes must run before the other Setup*Routes so the stream
// route is matched ahead of the header-only user context middleware.
func SetupNotificationRoutes(app *fiber.App, notifications *services.NotificationService, validator middleware.TokenValidator) {
	app.Get("/s/notifications/stream", middleware.SSEAuthMiddleware(validator), notifications.Stream)

	securedGroup := app.Group("/", middleware.UserContextMiddleware())

	securedGroup.Get("/s/notifications", func(c *fiber.Ctx) error {
		rows, err := notifications.List(c.UserContext(), middleware.UserID(c), c.QueryBool("unread"), c.QueryInt("limit", 50))
		if err != nil {
			return fail(c, err)
		}
		return ok(c, fiber.Map{"notifications": rows})
	})

	securedGroup.Post("/s/notifications/:id/viewed", func(c *fiber.Ctx) error {
		if err := notifications.MarkViewed(c.UserContext(), middleware.UserID(c), c.Params("id")); err != nil {
			return fail(c, err)
		}
		return ok(c, nil)
	})
}
