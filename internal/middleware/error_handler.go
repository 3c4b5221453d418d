// Package middleware holds Fiber-level cross-cutting concerns for the
// plain HTTP surface (the /health endpoint). Grounded directly on the
// teacher's internal/middleware package: the same ErrorHandler shape,
// remapped from the document-editing HTTP error codes to this daemon's
// Kind taxonomy (§7).
package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"dispatchd/internal/domain"
)

// ErrorHandler maps a domain.Error's Kind to an HTTP status code for
// the plain HTTP surface. The WebSocket surface never uses this —
// ws errors are rendered into OutboundEnvelope instead (wsserver.writeError).
func ErrorHandler(c *fiber.Ctx, err error) error {
	var derr *domain.Error
	if errors.As(err, &derr) {
		return c.Status(statusFor(derr.Kind)).JSON(fiber.Map{
			"kind":    derr.Kind,
			"message": derr.Message,
		})
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(fiber.Map{"message": fiberErr.Message})
	}

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "internal error"})
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindInvalidInput, domain.KindWorkflowOrderError:
		return fiber.StatusBadRequest
	case domain.KindAuthFailed:
		return fiber.StatusUnauthorized
	case domain.KindUnknownTool, domain.KindUnknownContinuation:
		return fiber.StatusNotFound
	case domain.KindToolDisabled, domain.KindCapabilityUnavailable:
		return fiber.StatusServiceUnavailable
	case domain.KindBusy:
		return fiber.StatusTooManyRequests
	case domain.KindTimeout:
		return fiber.StatusGatewayTimeout
	case domain.KindPayloadTooLarge, domain.KindPayloadBusDown:
		return fiber.StatusRequestEntityTooLarge
	case domain.KindBusUnavailable:
		return fiber.StatusServiceUnavailable
	case domain.KindCancelled:
		return 499
	default:
		return fiber.StatusInternalServerError
	}
}
