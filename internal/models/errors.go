package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Error codes shared by the realtime pipeline and the REST surface.
const (
	CodeAuth          = "AUTH_ERROR"
	CodeAuthorization = "AUTHORIZATION_ERROR"
	CodeValidation    = "VALIDATION_ERROR"
	CodePersistence   = "PERSISTENCE_ERROR"
	CodeNotFound      = "NOT_FOUND"
	CodeInternal      = "INTERNAL_ERROR"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error.
// Silent errors are expected rejections that must not be reported back to the
// connection that triggered them.
type AppError struct {
	Code    string
	Message string
	Err     error
	Silent  bool
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAuthError is returned when a handshake credential is missing, malformed, expired
// or references a user that no longer exists.
func NewAuthError(message string) *AppError {
	return &AppError{
		Code:    CodeAuth,
		Message: message,
	}
}

// NewAuthorizationError marks a request from a user that is not a participant of the
// target chat. It is always silent so chat existence is not confirmed to outsiders.
func NewAuthorizationError(message string) *AppError {
	return &AppError{
		Code:    CodeAuthorization,
		Message: message,
		Silent:  true,
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

// NewSilentValidationError is a validation failure that drops the event without feedback.
func NewSilentValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
		Silent:  true,
	}
}

func NewPersistenceError(message string, err error) *AppError {
	return &AppError{
		Code:    CodePersistence,
		Message: message,
		Err:     err,
	}
}

func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// ErrorCode returns the AppError code carried by err, or "" when err is not an AppError.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsSilent reports whether err is an expected rejection that should be dropped without feedback.
func IsSilent(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Silent
}

// RespondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		if appErr.Err != nil && appErr.Code != CodeInternal {
			response.Details = appErr.Err.Error()
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}

// StatusFor maps an error onto the HTTP status used by the REST handlers.
func StatusFor(err error) int {
	switch ErrorCode(err) {
	case CodeAuth:
		return fiber.StatusUnauthorized
	case CodeAuthorization:
		return fiber.StatusForbidden
	case CodeValidation:
		return fiber.StatusBadRequest
	case CodeNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}
