package middleware

import (
	"fmt"
	"net/http"

	"engagement_worker/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// SecurityHeaders adds security headers to all responses
func SecurityHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "no-referrer")
		c.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Set("Server", "")
		return c.Next()
	}
}

// NoCache sets no-cache headers for dynamic API responses.
func NoCache() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("Cache-Control", "no-cache, no-store, must-revalidate")
		c.Set("Pragma", "no-cache")
		c.Set("Expires", "0")
		return c.Next()
	}
}

// MaxBodySize rejects request bodies larger than maxBytes.
func MaxBodySize(maxBytes int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(c.Body()) > maxBytes {
			return apperr.New("PAYLOAD_TOO_LARGE", fmt.Sprintf("request body exceeds %d bytes", maxBytes), http.StatusRequestEntityTooLarge).
				WithDetail("max_size", maxBytes)
		}
		return c.Next()
	}
}
