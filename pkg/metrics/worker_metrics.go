// Package metrics exposes Prometheus collectors for the engagement pipeline.
//
// Label sets are kept small: rule ids and stage names come from a closed set,
// user emails are never used as labels.
package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// UsersProcessed counts ProcessUser outcomes (decided, skipped, not_found, error).
	UsersProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_users_processed_total",
			Help: "Users run through the pipeline by outcome.",
		},
		[]string{"outcome"},
	)

	// Decisions counts winning rules.
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_decisions_total",
			Help: "Winning rule decisions by rule id.",
		},
		[]string{"rule_id"},
	)

	// LLMFallbacks counts deterministic fallbacks taken instead of model output.
	LLMFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_llm_fallbacks_total",
			Help: "Deterministic fallbacks by call (analyze, generate) and reason.",
		},
		[]string{"call", "reason"},
	)

	// Sends counts send worker results by attempt status.
	Sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_email_sends_total",
			Help: "Email send attempts by final status.",
		},
		[]string{"status"},
	)

	// StageLatency observes per-stage durations in seconds.
	StageLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engagement_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(UsersProcessed, Decisions, LLMFallbacks, Sends, StageLatency, httpRequests, httpLatency)
}

// ObserveStage records the time elapsed since start for a stage.
func ObserveStage(stage string, start time.Time) {
	StageLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// HTTP returns a fiber middleware recording request counts and latency.
// The path label is the registered route to keep cardinality bounded.
func HTTP() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		method := c.Method()
		httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
		httpLatency.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		return err
	}
}
