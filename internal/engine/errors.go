package engine

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"slate-backend/internal/schema"
	"slate-backend/internal/store"
)

// AppError is the API error envelope.
type AppError struct {
	Code    string `json:"code"`
	Status  int    `json:"-"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return e.Message
}

func NewAppError(code string, status int, message string) *AppError {
	return &AppError{Code: code, Status: status, Message: message}
}

func (e *AppError) WithDetails(details any) *AppError {
	return &AppError{Code: e.Code, Status: e.Status, Message: e.Message, Details: details}
}

func ErrTableNotFound(table string) *AppError {
	return NewAppError("TABLE_NOT_FOUND", fiber.StatusNotFound, "table not found: "+table)
}

func ErrRecordNotFound(table string) *AppError {
	return NewAppError("RECORD_NOT_FOUND", fiber.StatusNotFound, "record not found in "+table)
}

func ErrPermissionDenied(op, table string) *AppError {
	return NewAppError("PERMISSION_DENIED", fiber.StatusForbidden,
		"not allowed to "+op+" on "+table)
}

func ErrUnauthorizedAlter() *AppError {
	return NewAppError("UNAUTHORIZED_TABLE_ALTER", fiber.StatusForbidden,
		"group is not allowed to alter the schema")
}

func ErrValidation(message string) *AppError {
	return NewAppError("VALIDATION_FAILED", fiber.StatusUnprocessableEntity, message)
}

func ErrBadRequest(message string) *AppError {
	return NewAppError("BAD_REQUEST", fiber.StatusBadRequest, message)
}

func ErrUnauthorized(message string) *AppError {
	return NewAppError("UNAUTHORIZED", fiber.StatusUnauthorized, message)
}

func ErrDuplicate(message string) *AppError {
	return NewAppError("DUPLICATE", fiber.StatusConflict, message)
}

// MapStoreError converts well-known storage errors into API errors.
func MapStoreError(err error, table string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrRecordNotFound(table)
	case errors.Is(err, store.ErrUniqueViolation):
		return ErrDuplicate("duplicate value violates a unique constraint")
	case errors.Is(err, schema.ErrInvalidTableName):
		return ErrBadRequest("invalid table name")
	default:
		return err
	}
}

// ErrorHandler renders AppError values as JSON envelopes and hides
// internal errors behind a generic 500.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(fiber.Map{"error": appErr})
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(fiber.Map{
			"error": fiber.Map{"code": "HTTP_ERROR", "message": fiberErr.Message},
		})
	}

	log.Printf("internal error: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": fiber.Map{"code": "INTERNAL_ERROR", "message": "internal server error"},
	})
}
