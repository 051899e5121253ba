// handlers/respond.go
package handlers

import (
	"errors"

	"economy-engine/services"

	"github.com/gofiber/fiber/v2"
)

var statusByCode = map[services.Code]int{
	services.CodeNotFound:          fiber.StatusNotFound,
	services.CodeInsufficientFunds: fiber.StatusPaymentRequired,
	services.CodeAlreadyCompleted:  fiber.StatusConflict,
	services.CodeAlreadyPending:    fiber.StatusConflict,
	services.CodeAlreadyJoined:     fiber.StatusConflict,
	services.CodeEventFull:         fiber.StatusConflict,
	services.CodeExpired:           fiber.StatusGone,
	services.CodeLimitReached:      fiber.StatusTooManyRequests,
	services.CodeRateLimited:       fiber.StatusTooManyRequests,
	services.CodeLockBusy:          fiber.StatusLocked,
	services.CodeFraudBlocked:      fiber.StatusForbidden,
	services.CodeValidationFailed:  fiber.StatusBadRequest,
	services.CodeInternal:          fiber.StatusInternalServerError,
}

// fail renders a service error as {success:false, error, code, limit?}.
func fail(c *fiber.Ctx, err error) error {
	code := services.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		status = fiber.StatusInternalServerError
	}

	body := fiber.Map{"success": false, "code": code}
	var e *services.Error
	switch {
	case code == services.CodeInternal:
		body["error"] = "internal error"
	case errors.As(err, &e):
		body["error"] = e.Message
		if code == services.CodeLimitReached {
			body["limit"] = e.Limit
		}
	default:
		body["error"] = err.Error()
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"code":    services.CodeValidationFailed,
		"error":   msg,
	})
}

// ok merges payload into {success:true}.
func ok(c *fiber.Ctx, payload fiber.Map) error {
	out := fiber.Map{"success": true}
	for k, v := range payload {
		out[k] = v
	}
	return c.JSON(out)
}
