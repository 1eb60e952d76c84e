package middleware

import (
	"net/url"
	"regexp"
	"strings"

	"engagement_worker/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidEmail reports whether s looks like an email address.
func ValidEmail(s string) bool {
	return emailRegex.MatchString(strings.TrimSpace(s))
}

// LocalEmail holds the validated email set by ValidateEmailParam.
const LocalEmail = "email"

// ValidateEmailParam checks that a route parameter is an email address and
// stores the decoded value under LocalEmail.
func ValidateEmailParam(paramName string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Params(paramName)
		if raw == "" {
			return apperr.MissingField(paramName)
		}
		email, err := url.PathUnescape(raw)
		if err != nil || !ValidEmail(email) {
			return apperr.InvalidInput(paramName, "invalid email format")
		}
		c.Locals(LocalEmail, strings.TrimSpace(email))
		return c.Next()
	}
}
