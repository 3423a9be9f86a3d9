package core

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"habitly/internal/types"
)

const maxBodyBytes = 1 << 20

// APIResponse wraps successful payloads.
type APIResponse struct {
	Data any `json:"data"`
}

// APIErrorResponse is the JSON envelope for every error response.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the stable code and a human readable message.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// JSON writes data with the given status.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		if logger := types.LoggerFromContext(r.Context()); logger != nil {
			logger.Error("failed to encode response", "error", err)
		}
	}
}

// Error writes err as an APIErrorResponse. Non-AppErrors are reported as
// internal errors without leaking their message.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		slog.Default().Error("unhandled error", "error", err, "path", r.URL.Path)
		appErr = types.NewAppError(types.ErrCodeInternalUnexpected, "an unexpected error occurred", err)
	}

	JSON(w, r, appErr.HTTPStatus(), APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(appErr.Code),
			Message:   appErr.Message,
			Details:   appErr.Details,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}

// DecodeJSON reads a bounded JSON body into dst and rejects unknown fields.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return types.NewAppError(types.ErrCodeValidationInvalidBody, "request body is empty", err)
		}
		return types.NewAppError(types.ErrCodeValidationInvalidBody, "request body is not valid JSON", err)
	}
	return nil
}
