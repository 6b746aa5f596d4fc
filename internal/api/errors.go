package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/traceloom-io/traceloom/internal/search"
)

// getRequestID extracts the request ID from the Fiber context.
func getRequestID(c *fiber.Ctx) string {
	if requestID := c.Locals("requestid"); requestID != nil {
		if id, ok := requestID.(string); ok && id != "" {
			return id
		}
	}
	return c.Get("X-Request-ID", "")
}

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// SendError sends a standardized error response with request ID
func SendError(c *fiber.Ctx, statusCode int, errMsg string) error {
	return c.Status(statusCode).JSON(ErrorResponse{
		Error:     errMsg,
		RequestID: getRequestID(c),
	})
}

// SendErrorWithCode sends a standardized error response with error code and request ID
func SendErrorWithCode(c *fiber.Ctx, statusCode int, errMsg string, code string) error {
	return c.Status(statusCode).JSON(ErrorResponse{
		Error:     errMsg,
		Code:      code,
		RequestID: getRequestID(c),
	})
}

// sendSearchError maps search subsystem errors to HTTP responses.
// Validation failures are caller-fixable (400); execution failures surface
// as a generic 500 without leaking schema or bound values.
func sendSearchError(c *fiber.Ctx, err error) error {
	var validationErr *search.ValidationError
	if errors.As(err, &validationErr) {
		return SendErrorWithCode(c, fiber.StatusBadRequest, validationErr.Message, string(validationErr.Code))
	}

	var execErr *search.QueryExecutionError
	if errors.As(err, &execErr) {
		return SendErrorWithCode(c, fiber.StatusInternalServerError, "Failed to execute search", "QUERY_EXECUTION_ERROR")
	}

	return SendErrorWithCode(c, fiber.StatusInternalServerError, "Internal server error", "INTERNAL_ERROR")
}
