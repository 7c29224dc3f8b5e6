package domain

import (
	"fmt"
)

type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
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

// Is matches on Code so that wrapped copies produced by WithError still
// satisfy errors.Is against the predefined values.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Err:        err,
	}
}

// WithMessage returns a copy carrying a more specific message.
func (e *AppError) WithMessage(msg string) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    msg,
		StatusCode: e.StatusCode,
		Err:        e.Err,
	}
}

// Pre-defined errors
var (
	ErrInternal = &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected error occurred",
		StatusCode: 500,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: 400,
	}

	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Invalid or missing API token",
		StatusCode: 401,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: 404,
	}

	ErrRateLimitExceeded = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Rate limit exceeded, please try again later",
		StatusCode: 429,
	}

	ErrValidationFailed = &AppError{
		Code:       "VALIDATION_FAILED",
		Message:    "Request validation failed",
		StatusCode: 422,
	}

	// Webhook registry errors
	ErrWebhookNotFound = &AppError{
		Code:       "WEBHOOK_NOT_FOUND",
		Message:    "Webhook not found",
		StatusCode: 404,
	}

	ErrInvalidWebhookURL = &AppError{
		Code:       "INVALID_WEBHOOK_URL",
		Message:    "Webhook URL must be an absolute http or https URL",
		StatusCode: 422,
	}

	ErrInvalidEvents = &AppError{
		Code:       "INVALID_EVENTS",
		Message:    "Webhook must subscribe to at least one known event",
		StatusCode: 422,
	}

	ErrWebhookSuspended = &AppError{
		Code:       "WEBHOOK_SUSPENDED",
		Message:    "Webhook is suspended and must be reactivated first",
		StatusCode: 409,
	}

	// Delivery errors
	ErrDeliveryNotFound = &AppError{
		Code:       "DELIVERY_NOT_FOUND",
		Message:    "Delivery not found",
		StatusCode: 404,
	}

	ErrDeliveryNotTerminal = &AppError{
		Code:       "DELIVERY_NOT_TERMINAL",
		Message:    "Only succeeded or failed deliveries can be redelivered",
		StatusCode: 409,
	}

	ErrConfiguration = &AppError{
		Code:       "CONFIGURATION_ERROR",
		Message:    "Webhook signing secret is missing or invalid",
		StatusCode: 500,
	}
)
