package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sanoy-si/doom-blocker-backend/services"
	"github.com/sanoy-si/doom-blocker-backend/utils"
)

// HandleServiceError maps domain errors to HTTP responses. Internal failures
// are logged and answered with an opaque message.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)

	var writeErr error
	switch {
	case services.IsRateLimitError(err):
		code := "RATE_LIMIT_EXCEEDED"
		var domainErr *services.DomainError
		if errors.As(err, &domainErr) && domainErr.Message != "" {
			code = domainErr.Message
		}
		writeErr = utils.WriteTooManyRequests(w, code, details)

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, err.Error(), details)

	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteUnauthorized(w, err.Error())

	case services.IsNotFoundError(err):
		writeErr = utils.WriteNotFound(w, err.Error())

	case services.IsExternalError(err):
		logger.Error("upstream error", zap.Error(err))
		writeErr = utils.WriteServiceUnavailable(w, "AI service unavailable")

	case services.IsInternalError(err):
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
