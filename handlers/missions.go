// handlers/missions.go
package handlers

import (
	"economy-engine/middleware"
	"economy-engine/models"
	"economy-engine/services"

	"github.com/gofiber/fiber/v2"
)

func SetupMissionRoutes(app *fiber.App, missions *services.MissionService) {
	securedGroup := app.Group("/", middleware.UserContextMiddleware())

	securedGroup.Get("/missions", func(c *fiber.Ctx) error {
		rows, err := missions.ListMissions(c.UserContext())
		if err != nil {
			return fail(c, err)
		}
		return ok(c, fiber.Map{"missions": rows})
	})

	securedGroup.Post("/s/missions/:id/submit", func(c *fiber.Ctx) error {
		var body struct {
			Proof string `json:"proof"`
		}
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
		claim, err := missions.Submit(c.UserContext(), middleware.UserID(c), c.Params("id"), body.Proof)
		if err != nil {
			return fail(c, err)
		}
		return ok(c, fiber.Map{"claim": claim})
	})

	reviewers := app.Group("/s/admin/claims", middleware.RequireRole(
		string(models.RoleModerator), string(models.RoleAdmin), string(models.RoleOwner)))

	reviewers.Get("/", func(c *fiber.Ctx) error {
		rows, err := missions.ListClaims(c.UserContext(), models.ClaimStatus(c.Query("status", string(models.ClaimPending))), c.QueryInt("limit", 50))
		if err != nil {
			return fail(c, err)
		}
		return ok(c, fiber.Map{"claims": rows})
	})

	reviewers.Post("/:id/resolve", func(c *fiber.Ctx) error {
		var body struct {
			Status string `json:"status"`
		}
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
		var approved bool
		switch models.ClaimStatus(body.Status) {
		case models.ClaimApproved:
			approved = true
		case models.ClaimRejected:
		default:
			return badRequest(c, "status must be approved or rejected")
		}
		res, err := missions.Resolve(c.UserContext(), middleware.UserID(c), c.Params("id"), approved)
		if err != nil {
			return fail(c, err)
		}
		return ok(c, fiber.Map{"result": res})
	})
}
