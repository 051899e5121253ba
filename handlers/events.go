// handlers/events.go
package handlers

import (
	"economy-engine/middleware"
	"economy-engine/models"
	"economy-engine/services"

	"github.com/gofiber/fiber/v2"
)

func SetupEventRoutes(app *fiber.App, events *services.EventService) {
	securedGroup := app.Group("/", middleware.UserContextMiddleware())

	securedGroup.Get("/events", func(c *fiber.Ctx) error {
		rows, err := events.ListEvents(c.UserContext())
		if err != nil {
			return fail(c, err)
		}
		return ok(c, fiber.Map{"events": rows})
	})

	// Public; the viewer row is flagged when the gateway forwarded an identity.
	securedGroup.Get("/events/:id/ranking", func(c *fiber.Ctx) error {
		viewer := c.Query("viewer", middleware.UserID(c))
		rows, err := events.Rank(c.UserContext(), c.Params("id"), viewer)
		if err != nil {
			return fail(c, err)
		}
		return ok(c, fiber.Map{"ranking": rows})
	})

	securedGroup.Post("/s/events/:id/join", func(c *fiber.Ctx) error {
		var body struct {
			Tier     string `json:"tier"`
			EntryFee *int64 `json:"entry_fee"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&body); err != nil {
				return badRequest(c, "invalid request body")
			}
		}
		p, err := events.Join(c.UserContext(), services.JoinRequest{
			SubjectID: middleware.UserID(c),
			EventID:   c.Params("id"),
			Tier:      models.ParticipationTier(body.Tier),
			EntryFee:  body.EntryFee,
		})
		if err != nil {
			return fail(c, err)
		}
		return ok(c, fiber.Map{"participation": p})
	})

	admin := app.Group("/s/admin/events", middleware.RequireRole(string(models.RoleAdmin), string(models.RoleOwner)))

	admin.Post("/:id/payout", func(c *fiber.Ctx) error {
		var body struct {
			SubjectID string  `json:"subject_id"`
			Coins     float64 `json:"coins"`
		}
		if err := c.BodyParser(&body); err != nil || body.SubjectID == "" {
			return badRequest(c, "subject_id is required")
		}
		coins, err := services.NormalizeAmount(body.Coins)
		if err != nil {
			return fail(c, err)
		}
		res, err := events.PayoutPrize(c.UserContext(), c.Params("id"), body.SubjectID, coins)
		if err != nil {
			return fail(c, err)
		}
		return ok(c, fiber.Map{"balance": res.Balance, "granted": res.Granted, "entry": res.Entry})
	})
}
