// handlers/store.go
package handlers

import (
	"economy-engine/middleware"
	"economy-engine/models"
	"economy-engine/services"

	"github.com/gofiber/fiber/v2"
)

func SetupStoreRoutes(app *fiber.App, fulfillment *services.FulfillmentService) {
	securedGroup := app.Group("/", middleware.UserContextMiddleware())

	securedGroup.Get("/store", func(c *fiber.Ctx) error {
		rows, err := fulfillment.ListDeliverables(c.UserContext())
		if err != nil {
			return fail(c, err)
		}
		return ok(c, fiber.Map{"deliverables": rows})
	})

	securedGroup.Post("/s/store/redeem", func(c *fiber.Ctx) error {
		var body struct {
			DeliverableID string `json:"deliverable_id"`
		}
		if err := c.BodyParser(&body); err != nil || body.DeliverableID == "" {
			return badRequest(c, "deliverable_id is required")
		}
		res, err := fulfillment.Redeem(c.UserContext(), middleware.UserID(c), body.DeliverableID)
		if err != nil {
			return fail(c, err)
		}
		return ok(c, fiber.Map{"redemption": res.Redemption, "queue": res.Queue, "balance": res.Balance.Balance})
	})

	admin := app.Group("/s/admin/fulfillment", middleware.RequireRole(string(models.RoleAdmin), string(models.RoleOwner)))

	admin.Get("/", func(c *fiber.Ctx) error {
		rows, err := fulfillment.ListQueue(c.UserContext(), models.QueueStatus(c.Query("status")))
		if err != nil {
			return fail(c, err)
		}
		return ok(c, fiber.Map{"queue": rows})
	})

	admin.Post("/", func(c *fiber.Ctx) error {
		var body struct {
			SubjectID     string `json:"subject_id"`
			DeliverableID string `json:"deliverable_id"`
			RedemptionID  string `json:"redemption_id"`
		}
		if err := c.BodyParser(&body); err != nil || body.SubjectID == "" || body.DeliverableID == "" {
			return badRequest(c, "subject_id and deliverable_id are required")
		}
		entry, err := fulfillment.Enqueue(c.UserContext(), body.SubjectID, body.DeliverableID, body.RedemptionID)
		if err != nil {
			return fail(c, err)
		}
		return ok(c, fiber.Map{"entry": entry})
	})

	admin.Post("/:id/complete", func(c *fiber.Ctx) error {
		rec, err := fulfillment.Complete(c.UserContext(), middleware.UserID(c), c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		return ok(c, fiber.Map{"record": rec})
	})
}
