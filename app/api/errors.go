package api

import (
	"errors"
	"fmt"
	"log/slog"

	"docrag/types"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandler turns handler errors into JSON responses. Pipeline errors are
// mapped by kind; anything unknown is a 500.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var (
		apiErr    Error
		valErr    ValidationError
		domainVal types.ValidationError
		fiberErr  *fiber.Error
	)
	switch {
	case errors.As(err, &apiErr):
		return c.Status(apiErr.Code).JSON(apiErr)
	case errors.As(err, &valErr):
		return c.Status(valErr.Status).JSON(valErr)
	case errors.As(err, &domainVal):
		valErr = NewValidationError(domainVal.Errors)
		return c.Status(valErr.Status).JSON(valErr)
	case errors.As(err, &fiberErr):
		return c.Status(fiberErr.Code).JSON(NewError(fiberErr.Code, fiberErr.Message))
	case errors.Is(err, types.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(NewError(fiber.StatusNotFound, err.Error()))
	}

	code := statusFor(err)
	slog.Error("request failed",
		"method", c.Method(),
		"path", c.Path(),
		"code", code,
		"err", err)
	return c.Status(code).JSON(NewError(code, err.Error()))
}

func statusFor(err error) int {
	switch types.KindOf(err) {
	case types.ErrValidation:
		return fiber.StatusUnprocessableEntity
	case types.ErrLoad:
		return fiber.StatusBadRequest
	case types.ErrEmbedding, types.ErrGeneration:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: fiber.StatusUnprocessableEntity,
		Errors: errors,
	}
}

// Error implements the Error interface
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid JSON request",
	}
}

func ErrNotFound[T any](arg T, resource string) Error {
	return Error{
		Code:    fiber.StatusNotFound,
		Message: fmt.Sprintf("%s with %v not found", resource, arg),
	}
}
