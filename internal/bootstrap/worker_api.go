package bootstrap

import (
	"context"
	"strings"

	"engagement_worker/adapter/in/http"
	"engagement_worker/config"
	"engagement_worker/infra/middleware"
	"engagement_worker/pkg/logger"
	"engagement_worker/pkg/metrics"
	"engagement_worker/pkg/ratelimit"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxRequestBody = 1 << 20

// NewAPI builds the admin API on a fresh set of dependencies.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}
	return NewAPIWithDeps(cfg, deps), cleanup, nil
}

// NewAPIWithDeps builds the admin API on shared dependencies.
func NewAPIWithDeps(cfg *config.Config, deps *Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		AppName:               "engagement-worker",

		// go-json for request and response bodies
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:          maxRequestBody,
		ServerHeader:       "",
		DisableDefaultDate: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger())
	app.Use(metrics.HTTP())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	if allowOrigins == "" && !cfg.IsProduction() {
		allowOrigins = "http://localhost:3000,http://localhost:5173"
	}
	if allowOrigins != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins:  allowOrigins,
			AllowMethods:  "GET,POST,OPTIONS",
			AllowHeaders:  "Origin,Content-Type,Accept,Authorization,X-Request-ID",
			ExposeHeaders: "X-Request-ID,Retry-After",
			MaxAge:        86400,
		}))
	}

	// Unauthenticated endpoints
	http.NewHealthHandler(healthChecks(deps)).Register(app)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	limiter := ratelimit.NewSlidingWindowLimiter(deps.Redis, cfg.APIRatePerSec, cfg.APIRateBurst)
	api := app.Group("/api/v1",
		middleware.NoCache(),
		middleware.MaxBodySize(maxRequestBody),
		middleware.JWTAuth(cfg.JWTSecret),
		middleware.RateLimit(limiter, "admin"),
	)

	var auditor http.Auditor
	if deps.Redis != nil {
		auditor = middleware.NewAuditLogger(deps.Redis)
	}
	http.NewPipelineHandler(deps.Pipeline, deps.SourcesStatus).Register(api, auditor)

	return app
}

// healthChecks lists every dependency /ready reports. Unconfigured ones stay
// nil so they show as "not configured" instead of failing readiness.
func healthChecks(deps *Dependencies) map[string]http.HealthChecker {
	checks := map[string]http.HealthChecker{
		"mongodb":  deps.RawData,
		"postgres": nil,
		"redis":    nil,
		"neo4j":    nil,
	}
	if deps.DB != nil {
		checks["postgres"] = deps.DB
	}
	if deps.Redis != nil {
		checks["redis"] = http.PingFunc(func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		})
	}
	if deps.Affinity != nil {
		checks["neo4j"] = deps.Affinity
	}
	return checks
}
