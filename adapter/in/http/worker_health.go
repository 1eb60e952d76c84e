package http

import (
	"context"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HealthChecker is any dependency that can be pinged.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to HealthChecker.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthHandler struct {
	checks  map[string]HealthChecker
	timeout time.Duration
}

// NewHealthHandler creates a handler for the named dependencies. A nil checker
// is reported as not configured and does not fail readiness.
func NewHealthHandler(checks map[string]HealthChecker) *HealthHandler {
	if checks == nil {
		checks = map[string]HealthChecker{}
	}
	return &HealthHandler{checks: checks, timeout: 5 * time.Second}
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	allHealthy := true
	for _, name := range names {
		checker := h.checks[name]
		if checker == nil {
			checks[name] = "not configured"
			continue
		}
		if err := checker.Ping(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			allHealthy = false
			continue
		}
		checks[name] = "healthy"
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
