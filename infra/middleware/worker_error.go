package middleware

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"engagement_worker/pkg/apperr"
	"engagement_worker/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     ErrorDetail `json:"error"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorHandler is a centralized error handler for Fiber
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		requestID, _ := c.Locals("request_id").(string)

		response := ErrorResponse{
			Success:   false,
			RequestID: requestID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			response.Error = ErrorDetail{
				Code:    mapHTTPStatusToCode(fiberErr.Code),
				Message: fiberErr.Message,
			}
			return c.Status(fiberErr.Code).JSON(response)
		}

		// Errors without an AppError in their chain become a generic 500.
		appErr := apperr.AsAppError(err)
		response.Error = ErrorDetail{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		}

		log := logger.WithField("request_id", requestID).WithField("error_code", appErr.Code)
		if appErr.Err != nil {
			log = log.WithError(appErr.Err)
		}
		if appErr.Status >= 500 {
			log.Error("Internal error: %s", appErr.Message)
		} else {
			log.Warn("Client error: %s", appErr.Message)
		}

		return c.Status(appErr.Status).JSON(response)
	}
}

// RequestID middleware adds a unique request ID to each request
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Locals("request_id", requestID)
		c.Set("X-Request-ID", requestID)
		return c.Next()
	}
}

// RequestLogger logs every request with its status and latency.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		requestID, _ := c.Locals("request_id").(string)
		status := c.Response().StatusCode()
		if err != nil {
			status = errorStatus(err)
		}

		log := logger.WithFields(map[string]any{
			"request_id": requestID,
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     status,
			"ip":         c.IP(),
		}).WithDuration(time.Since(start))
		if operator, ok := c.Locals(LocalOperator).(string); ok {
			log = log.WithField("operator", operator)
		}

		switch {
		case status >= 500:
			log.Error("Request failed: %s %s -> %d", c.Method(), c.Path(), status)
		case status >= 400:
			log.Warn("Request error: %s %s -> %d", c.Method(), c.Path(), status)
		default:
			log.Info("Request completed: %s %s -> %d", c.Method(), c.Path(), status)
		}

		return err
	}
}

// Recover turns a handler panic into a 500 AppError.
func Recover() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				requestID, _ := c.Locals("request_id").(string)
				logger.WithFields(map[string]any{
					"request_id": requestID,
					"panic":      fmt.Sprintf("%v", r),
					"path":       c.Path(),
					"method":     c.Method(),
					"stack":      string(debug.Stack()),
				}).Error("Panic recovered")
				err = apperr.InternalWithError(fmt.Errorf("panic: %v", r))
			}
		}()
		return c.Next()
	}
}

// errorStatus is the status ErrorHandler will answer err with.
func errorStatus(err error) int {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}
	return apperr.GetHTTPStatus(err)
}

func mapHTTPStatusToCode(status int) string {
	switch status {
	case 400:
		return apperr.CodeBadRequest
	case 401:
		return apperr.CodeUnauthorized
	case 403:
		return apperr.CodeForbidden
	case 404:
		return apperr.CodeNotFound
	case 405:
		return "METHOD_NOT_ALLOWED"
	case 409:
		return apperr.CodeConflict
	case 429:
		return apperr.CodeRateLimited
	case 500:
		return apperr.CodeInternalError
	case 502, 503, 504:
		return "SERVICE_UNAVAILABLE"
	default:
		return "UNKNOWN_ERROR"
	}
}
