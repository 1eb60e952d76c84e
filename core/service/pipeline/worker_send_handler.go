package pipeline

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"engagement_worker/core/domain"
	"engagement_worker/core/port/out"
	"engagement_worker/pkg/logger"
	"engagement_worker/pkg/metrics"
)

// ErrSendRateLimited asks the consumer to redeliver the job later.
var ErrSendRateLimited = errors.New("send rate limited")

// RateLimiter reports whether a call under key may proceed now, and how long
// to wait otherwise.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration)
}

// Deduper remembers delivered attempt keys so redelivered jobs are not sent twice.
type Deduper interface {
	IsDuplicate(ctx context.Context, key string) bool
	Mark(ctx context.Context, key string)
}

const sendRateKey = "email:send"

// SendHandler delivers queued send jobs. Without a sender every job is
// recorded as a dry run.
type SendHandler struct {
	sender    out.EmailSender
	audit     out.AuditStore
	counters  out.FeatureCache
	limiter   RateLimiter
	deduper   Deduper
	maxPerDay int
	now       func() time.Time
}

type SendOption func(*SendHandler)

func WithSendAudit(a out.AuditStore) SendOption {
	return func(h *SendHandler) { h.audit = a }
}

func WithSendCounters(c out.FeatureCache) SendOption {
	return func(h *SendHandler) { h.counters = c }
}

func WithRateLimiter(l RateLimiter) SendOption {
	return func(h *SendHandler) { h.limiter = l }
}

func WithDeduper(d Deduper) SendOption {
	return func(h *SendHandler) { h.deduper = d }
}

func WithSendClock(now func() time.Time) SendOption {
	return func(h *SendHandler) { h.now = now }
}

func NewSendHandler(sender out.EmailSender, maxPerDay int, opts ...SendOption) *SendHandler {
	h := &SendHandler{sender: sender, maxPerDay: maxPerDay, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Do sends one job. A returned error means the job should be retried; jobs
// that must not be sent are marked skipped and return nil.
func (h *SendHandler) Do(ctx context.Context, job *domain.SendJob) error {
	start := time.Now()
	defer metrics.ObserveStage("send", start)

	if job == nil || job.UserEmail == "" {
		logger.Warn("dropping send job without recipient")
		return nil
	}
	log := logger.WithField("user_email", job.UserEmail).WithField("rule_id", job.RuleID)
	now := h.now()
	dedupeKey := domain.AttemptKey(job.UserEmail, job.TemplateID, attemptStage(job.EnqueuedAt))

	if h.deduper != nil && h.deduper.IsDuplicate(ctx, dedupeKey) {
		log.Info("attempt %s already delivered", dedupeKey)
		return nil
	}

	if h.counters != nil && h.maxPerDay > 0 {
		sent, err := h.counters.SentToday(ctx, job.UserEmail, now)
		if err != nil {
			return fmt.Errorf("read daily counter: %w", err)
		}
		if int(sent) >= h.maxPerDay {
			h.finish(ctx, log, job, domain.AttemptSkipped, "", "daily cap reached")
			return nil
		}
	}

	if h.limiter != nil {
		if ok, wait := h.limiter.Allow(ctx, sendRateKey); !ok {
			return fmt.Errorf("%w: retry in %s", ErrSendRateLimited, wait)
		}
	}

	if h.sender == nil {
		h.finish(ctx, log, job, domain.AttemptDryRun, "", "")
		return nil
	}

	msgID, err := h.sender.Send(ctx, job.UserEmail, job.Content.Subject, RenderHTML(job.Content.Content))
	if err != nil {
		h.finish(ctx, log, job, domain.AttemptFailed, "", err.Error())
		return fmt.Errorf("send email: %w", err)
	}
	h.finish(ctx, log, job, domain.AttemptSent, msgID, "")

	if h.deduper != nil {
		h.deduper.Mark(ctx, dedupeKey)
	}
	if h.counters != nil {
		if _, err := h.counters.IncrSentToday(ctx, job.UserEmail, now); err != nil {
			log.WithError(err).Warn("failed to bump daily counter")
		}
	}
	log.Info("sent %q (%s)", job.Content.Subject, msgID)
	return nil
}

func (h *SendHandler) finish(ctx context.Context, log *logger.Logger, job *domain.SendJob, status domain.AttemptStatus, msgID, reason string) {
	metrics.Sends.WithLabelValues(string(status)).Inc()
	if reason != "" && status != domain.AttemptFailed {
		log.Info("attempt %s: %s", status, reason)
	}
	if h.audit == nil || job.AttemptID == 0 {
		return
	}
	if err := h.audit.UpdateEmailAttempt(ctx, job.AttemptID, status, msgID, reason); err != nil {
		log.WithError(err).Warn("failed to update attempt %d", job.AttemptID)
	}
}

// RenderHTML turns a plain-text body into escaped HTML paragraphs.
func RenderHTML(body string) string {
	var b strings.Builder
	for _, para := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		lines := strings.Split(para, "\n")
		for i := range lines {
			lines[i] = html.EscapeString(strings.TrimSpace(lines[i]))
		}
		b.WriteString("<p>")
		b.WriteString(strings.Join(lines, "<br>"))
		b.WriteString("</p>\n")
	}
	return b.String()
}
