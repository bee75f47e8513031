// Package utils holds small HTTP response helpers shared by every handler.
package utils

import (
	"github.com/gofiber/fiber/v2"

	"github.com/benchlab/run-engine/internal/middleware"
)

// APIResponse is the common envelope for every JSON response the control API
// returns. Error envelopes carry the request's correlation id so a failed
// run operation can be matched against server logs.
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message"`
	RequestID string      `json:"request_id,omitempty"`
}

// SendSuccess writes a 200 success envelope.
func SendSuccess(c *fiber.Ctx, message string, data interface{}) error {
	return SendSuccessWithStatus(c, fiber.StatusOK, message, data)
}

// SendSuccessWithStatus writes a success envelope using the given HTTP status.
func SendSuccessWithStatus(c *fiber.Ctx, status int, message string, data interface{}) error {
	if message == "" {
		message = "success"
	}
	return c.Status(status).JSON(APIResponse{Success: true, Data: data, Message: message})
}

// SendError writes an error envelope using the given HTTP status.
func SendError(c *fiber.Ctx, status int, message string) error {
	if message == "" {
		message = "error"
	}
	return c.Status(status).JSON(APIResponse{
		Success:   false,
		Message:   message,
		RequestID: middleware.GetCorrelationID(c),
	})
}
