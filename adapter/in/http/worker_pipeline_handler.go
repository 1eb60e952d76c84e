package http

import (
	"context"
	"strconv"
	"strings"

	"engagement_worker/core/port/in"
	"engagement_worker/core/service/decision"
	"engagement_worker/infra/middleware"
	"engagement_worker/pkg/apperr"
	"engagement_worker/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// Auditor wraps routes that change state.
type Auditor interface {
	Audit(action string) fiber.Handler
}

// SourceStatusFunc reports the raw data collections.
type SourceStatusFunc func(ctx context.Context) (any, error)

// PipelineHandler exposes the lifecycle pipeline to operators.
type PipelineHandler struct {
	pipeline in.PipelineService
	sources  SourceStatusFunc
}

func NewPipelineHandler(pipeline in.PipelineService, sources SourceStatusFunc) *PipelineHandler {
	return &PipelineHandler{pipeline: pipeline, sources: sources}
}

// Register registers pipeline routes. auditor may be nil.
func (h *PipelineHandler) Register(router fiber.Router, auditor Auditor) {
	audit := func(action string) fiber.Handler {
		if auditor == nil {
			return func(c *fiber.Ctx) error { return c.Next() }
		}
		return auditor.Audit(action)
	}
	email := middleware.ValidateEmailParam("email")

	users := router.Group("/users")
	users.Post("/:email/process", email, audit("user.process"), h.ProcessUser)
	users.Post("/:email/unsubscribe", email, audit("user.unsubscribe"), h.Unsubscribe)
	users.Get("/:email/features", email, h.Features)
	users.Get("/:email/data", email, h.RawData)

	router.Post("/pipeline/run", audit("pipeline.run"), h.RunPipeline)
	router.Get("/rules", h.Rules)
	router.Post("/content/preview", h.PreviewContent)
	router.Get("/sources/status", h.SourcesStatus)
}

// ProcessUser handles POST /users/:email/process?dry_run=.
func (h *PipelineHandler) ProcessUser(c *fiber.Ctx) error {
	dryRun, err := queryBool(c, "dry_run")
	if err != nil {
		return err
	}

	result, err := h.pipeline.ProcessUser(c.UserContext(), emailLocal(c), in.ProcessOptions{DryRun: dryRun})
	if err != nil {
		return err
	}
	if result.Queued {
		return response.Accepted(c, result)
	}
	return response.OK(c, result)
}

// Unsubscribe handles POST /users/:email/unsubscribe.
func (h *PipelineHandler) Unsubscribe(c *fiber.Ctx) error {
	email := emailLocal(c)
	if err := h.pipeline.Unsubscribe(c.UserContext(), email); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"user_email": email, "unsubscribed": true})
}

// Features handles GET /users/:email/features.
func (h *PipelineHandler) Features(c *fiber.Ctx) error {
	snapshot, err := h.pipeline.Features(c.UserContext(), emailLocal(c))
	if err != nil {
		return err
	}
	return response.OK(c, snapshot)
}

// RawData handles GET /users/:email/data.
func (h *PipelineHandler) RawData(c *fiber.Ctx) error {
	summary, err := h.pipeline.RawSummary(c.UserContext(), emailLocal(c))
	if err != nil {
		return err
	}
	return response.OK(c, summary)
}

// RunPipeline handles POST /pipeline/run. The run is synchronous.
func (h *PipelineHandler) RunPipeline(c *fiber.Ctx) error {
	summary, err := h.pipeline.RunDaily(c.UserContext())
	if err != nil {
		return err
	}
	return response.OK(c, summary)
}

// Rules handles GET /rules.
func (h *PipelineHandler) Rules(c *fiber.Ctx) error {
	views := decision.DescribeRules(h.pipeline.Rules())
	return response.OKWithMeta(c, views, &response.Meta{Total: len(views)})
}

type previewRequest struct {
	TemplateID string `json:"template_id"`
	Email      string `json:"email"`
}

// PreviewContent handles POST /content/preview.
func (h *PipelineHandler) PreviewContent(c *fiber.Ctx) error {
	var req previewRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	req.TemplateID = strings.TrimSpace(req.TemplateID)
	if req.TemplateID == "" {
		return apperr.MissingField("template_id")
	}
	if strings.TrimSpace(req.Email) == "" {
		return apperr.MissingField("email")
	}
	if !middleware.ValidEmail(req.Email) {
		return apperr.InvalidInput("email", "must be an email address")
	}

	content, err := h.pipeline.PreviewContent(c.UserContext(), req.Email, req.TemplateID)
	if err != nil {
		return err
	}
	return response.OK(c, content)
}

// SourcesStatus handles GET /sources/status.
func (h *PipelineHandler) SourcesStatus(c *fiber.Ctx) error {
	if h.sources == nil {
		return apperr.ConfigError("raw data source is not configured")
	}
	status, err := h.sources(c.UserContext())
	if err != nil {
		return apperr.ExternalError("raw data source", err)
	}
	return response.OK(c, status)
}

func emailLocal(c *fiber.Ctx) string {
	email, _ := c.Locals(middleware.LocalEmail).(string)
	return email
}

// queryBool returns nil when the parameter is absent.
func queryBool(c *fiber.Ctx, key string) (*bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, apperr.InvalidInput(key, "must be a boolean")
	}
	return &v, nil
}
