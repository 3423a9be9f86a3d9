package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

const (
	// Validation (400)
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidBody  ErrorCode = "validation_invalid_body"
	ErrCodeValidationChannel      ErrorCode = "validation_invalid_channel"
	ErrCodeValidationTimezone     ErrorCode = "validation_invalid_timezone"
	ErrCodeValidationSchedule     ErrorCode = "validation_invalid_schedule"

	// Auth (401)
	ErrCodeAuthKeyMissing ErrorCode = "auth_admin_key_missing"
	ErrCodeAuthKeyInvalid ErrorCode = "auth_admin_key_invalid"

	// Not Found (404)
	ErrCodeNotFoundUser     ErrorCode = "not_found_user"
	ErrCodeNotFoundReminder ErrorCode = "not_found_reminder"
	ErrCodeNotFoundJob      ErrorCode = "not_found_job"
	ErrCodeNotFoundRoute    ErrorCode = "not_found_route"

	// Conflict (409)
	ErrCodeConflictSchedulerBusy ErrorCode = "conflict_scheduler_busy"

	// Internal/Upstream (500/502/503)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalQueue       ErrorCode = "internal_queue_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamPush        ErrorCode = "upstream_push_unavailable"
	ErrCodeUpstreamSMS         ErrorCode = "upstream_sms_unavailable"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeServiceDisabled     ErrorCode = "service_disabled"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case s == string(ErrCodeUpstreamRateLimited):
		return http.StatusTooManyRequests
	case s == string(ErrCodeServiceDisabled):
		return http.StatusServiceUnavailable
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type. It carries a stable code
// for HTTP mapping and keeps the underlying cause for errors.Is/As.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, Err: err, Details: details}
}
