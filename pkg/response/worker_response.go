// Package response provides the admin API response envelope.
package response

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// Response is the standard API response structure. Errors use the same
// envelope and are written by middleware.ErrorHandler.
type Response struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Meta      *Meta  `json:"meta,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Meta carries list metadata.
type Meta struct {
	Total  int  `json:"total"`
	DryRun bool `json:"dry_run,omitempty"`
}

// OK returns a successful response.
func OK(c *fiber.Ctx, data any) error {
	return c.JSON(envelope(c, data, nil))
}

// OKWithMeta returns a successful response with metadata.
func OKWithMeta(c *fiber.Ctx, data any, meta *Meta) error {
	return c.JSON(envelope(c, data, meta))
}

// Accepted returns a 202 for work handed to the send queue.
func Accepted(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusAccepted).JSON(envelope(c, data, nil))
}

func envelope(c *fiber.Ctx, data any, meta *Meta) Response {
	requestID, _ := c.Locals("request_id").(string)
	return Response{
		Success:   true,
		Data:      data,
		Meta:      meta,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
