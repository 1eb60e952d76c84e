package middleware

import (
	"context"
	"strconv"
	"time"

	"engagement_worker/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// Allower is a keyed rate limiter such as ratelimit.SlidingWindowLimiter.
type Allower interface {
	Allow(ctx context.Context, key string) (bool, time.Duration)
}

// RateLimit throttles requests per client IP within scope.
func RateLimit(limiter Allower, scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		allowed, wait := limiter.Allow(c.UserContext(), "api:"+scope+":"+c.IP())
		if allowed {
			return c.Next()
		}
		retryAfter := int(wait.Round(time.Second).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
		return apperr.New(apperr.CodeRateLimited, "rate limit exceeded", fiber.StatusTooManyRequests).
			WithDetail("retry_after", retryAfter)
	}
}
