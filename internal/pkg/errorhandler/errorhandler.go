package errorhandler

import (
	"context"
	"net/http"

	"github.com/nanobanana/nanobanana-api/internal/pkg/logger"
	"github.com/nanobanana/nanobanana-api/internal/pkg/response"
)

// HandleError logs the failure and writes the error envelope.
func HandleError(ctx context.Context, w http.ResponseWriter, status int, code, message string, err error) {
	event := logger.FromContext(ctx).Error().
		Str("error_code", code).
		Int("status_code", status)
	if status < http.StatusInternalServerError {
		event = logger.FromContext(ctx).Warn().
			Str("error_code", code).
			Int("status_code", status)
	}
	if err != nil {
		event = event.Err(err)
	}
	event.Msg(message)

	response.Error(w, status, code, message)
}

// HandleErrorWithDetails is HandleError with a details object.
func HandleErrorWithDetails(ctx context.Context, w http.ResponseWriter, status int, code, message string, details map[string]interface{}, err error) {
	event := logger.FromContext(ctx).Warn().
		Str("error_code", code).
		Int("status_code", status).
		Interface("error_details", details)
	if status >= http.StatusInternalServerError {
		event = logger.FromContext(ctx).Error().
			Str("error_code", code).
			Int("status_code", status).
			Interface("error_details", details)
	}
	if err != nil {
		event = event.Err(err)
	}
	event.Msg(message)

	response.ErrorWithDetails(w, status, code, message, details)
}

// HandlePanic logs a recovered panic and answers 500.
func HandlePanic(ctx context.Context, w http.ResponseWriter, panicErr interface{}, stackTrace string) {
	logger.FromContext(ctx).Error().
		Interface("panic_error", panicErr).
		Str("panic_stack", stackTrace).
		Msg("Request panic error")

	response.InternalError(w)
}

// LogExternalServiceError logs errors from external service calls
func LogExternalServiceError(ctx context.Context, service, endpoint string, statusCode int, err error) {
	logger.FromContext(ctx).Error().
		Str("external_service", service).
		Str("endpoint", endpoint).
		Int("status_code", statusCode).
		Err(err).
		Msg("External service error")
}

// LogValidationError logs validation errors with details
func LogValidationError(ctx context.Context, fieldErrors map[string]string) {
	logger.FromContext(ctx).Warn().
		Interface("validation_errors", fieldErrors).
		Msg("Validation error")
}
