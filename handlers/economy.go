// handlers/economy.go
package handlers

import (
	"strconv"

	"economy-engine/middleware"
	"economy-engine/models"
	"economy-engine/services"

	"github.com/gofiber/fiber/v2"
)

type amountRequest struct {
	SubjectID   string  `json:"subject_id"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
}

func SetupEconomyRoutes(app *fiber.App, ledger *services.LedgerService) {
	securedGroup := app.Group("/", middleware.UserContextMiddleware())

	securedGroup.Get("/s/account", func(c *fiber.Ctx) error {
		acct, err := ledger.EnsureAccount(c.UserContext(), middleware.UserID(c), "")
		if err != nil {
			return fail(c, err)
		}
		fixed, err := ledger.GetAccount(c.UserContext(), acct.ID)
		if err != nil {
			return fail(c, err)
		}
		return ok(c, fiber.Map{"account": fixed})
	})

	securedGroup.Get("/s/account/statement", func(c *fiber.Ctx) error {
		page, _ := strconv.Atoi(c.Query("page", "1"))
		size, _ := strconv.Atoi(c.Query("size", "20"))
		instrument := models.Instrument(c.Query("instrument"))
		if instrument != "" && !instrument.Valid() {
			return badRequest(c, "unknown instrument")
		}
		rows, total, err := ledger.Statement(c.UserContext(), middleware.UserID(c), instrument, page, size)
		if err != nil {
			return fail(c, err)
		}
		return ok(c, fiber.Map{"entries": rows, "total": total, "page": page})
	})

	admin := app.Group("/s/admin/economy", middleware.RequireRole(string(models.RoleAdmin), string(models.RoleOwner)))

	// Sources are fixed server-side; callers cannot pick a trusted source.
	admin.Post("/credit", func(c *fiber.Ctx) error {
		req, amount, err := parseAmount(c)
		if err != nil {
			return fail(c, err)
		}
		res, err := ledger.Credit(c.UserContext(), req.SubjectID, models.InstrumentCurrency, amount,
			models.SourceAdminGrant, describe(req.Description, "Admin grant"))
		if err != nil {
			return fail(c, err)
		}
		return ok(c, fiber.Map{"balance": res.Balance, "entry": res.Entry})
	})

	admin.Post("/debit", func(c *fiber.Ctx) error {
		req, amount, err := parseAmount(c)
		if err != nil {
			return fail(c, err)
		}
		res, err := ledger.Debit(c.UserContext(), req.SubjectID, models.InstrumentCurrency, amount,
			models.SourceAdminDebit, describe(req.Description, "Admin debit"))
		if err != nil {
			return fail(c, err)
		}
		return ok(c, fiber.Map{"balance": res.Balance, "entry": res.Entry})
	})

	admin.Post("/xp", func(c *fiber.Ctx) error {
		req, amount, err := parseAmount(c)
		if err != nil {
			return fail(c, err)
		}
		res, err := ledger.Credit(c.UserContext(), req.SubjectID, models.InstrumentExperience, amount,
			models.SourceAdminGrant, describe(req.Description, "Admin XP grant"))
		if err != nil {
			return fail(c, err)
		}
		return ok(c, fiber.Map{
			"xp":       res.Balance,
			"level":    res.Level,
			"level_up": res.LevelUp,
			"bonuses":  res.Bonuses,
			"entry":    res.Entry,
		})
	})
}

func parseAmount(c *fiber.Ctx) (*amountRequest, int64, error) {
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, 0, services.ErrValidationFailed
	}
	if req.SubjectID == "" {
		return nil, 0, &services.Error{Code: services.CodeValidationFailed, Message: "subject_id is required"}
	}
	amount, err := services.NormalizeAmount(req.Amount)
	if err != nil {
		return nil, 0, err
	}
	return &req, amount, nil
}

func describe(given, fallback string) string {
	if given != "" {
		return given
	}
	return fallback
}
