package handlers

import (
	"errors"

	"zakat-ledger/internal/core/domain"
	"zakat-ledger/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// respondError maps the domain error taxonomy onto HTTP statuses
func respondError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return response.BadRequest(c, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return response.NotFound(c, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrConflict):
		return response.Conflict(c, err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		return response.UnprocessableEntity(c, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return response.Forbidden(c, err.Error())
	default:
		return response.InternalServerError(c, fallback)
	}
}

func isLedgerUnavailable(err error) bool {
	return errors.Is(err, domain.ErrLedgerUnavailable)
}
