package middleware

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"engagement_worker/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// AuditStream receives operator actions.
const AuditStream = "audit:operator"

// AuditEvent is one operator action against the admin API.
type AuditEvent struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Operator   string    `json:"operator,omitempty"`
	Action     string    `json:"action"`
	Target     string    `json:"target,omitempty"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	IP         string    `json:"ip"`
	StatusCode int       `json:"status_code"`
	DurationMS int64     `json:"duration_ms"`
	RequestID  string    `json:"request_id"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
}

// AuditLogger appends operator actions to a capped Redis stream. Without
// Redis the events are only logged.
type AuditLogger struct {
	redis  *redis.Client
	stream string
}

func NewAuditLogger(redisClient *redis.Client) *AuditLogger {
	return &AuditLogger{redis: redisClient, stream: AuditStream}
}

// Log records event.
func (a *AuditLogger) Log(ctx context.Context, event *AuditEvent) error {
	event.ID = uuid.NewString()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	logger.WithFields(map[string]any{
		"action":   event.Action,
		"operator": event.Operator,
		"target":   event.Target,
		"status":   event.StatusCode,
	}).Info("operator action")

	if a == nil || a.redis == nil {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return a.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: a.stream,
		Values: map[string]any{"event": string(data)},
		MaxLen: 100000,
		Approx: true,
	}).Err()
}

// Audit records the route's action after the handler ran. The target is the
// validated email when the route has one.
func (a *AuditLogger) Audit(action string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = errorStatus(err)
		}

		event := &AuditEvent{
			Action:     action,
			Method:     c.Method(),
			Path:       c.Path(),
			IP:         c.IP(),
			StatusCode: status,
			DurationMS: time.Since(start).Milliseconds(),
			Success:    status < 400,
		}
		event.Operator, _ = c.Locals(LocalOperator).(string)
		event.Target, _ = c.Locals(LocalEmail).(string)
		event.RequestID, _ = c.Locals("request_id").(string)
		if err != nil {
			event.Error = err.Error()
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if logErr := a.Log(ctx, event); logErr != nil {
				logger.WithError(logErr).Warn("Failed to log audit event")
			}
		}()

		return err
	}
}
