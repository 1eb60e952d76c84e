// Package content turns a decision into the final subject and body of a
// lifecycle email.
//
// A deterministic per-purpose template is always built first. When a
// generator is configured its output replaces the template only if it passes
// the alignment guard; percentages attributed to a single subject are then
// stripped from the generated body.
package content

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"engagement_worker/core/domain"
	"engagement_worker/core/port/out"
	"engagement_worker/pkg/logger"
	"engagement_worker/pkg/metrics"
)

const defaultGenerateTimeout = 20 * time.Second

// Request is one composition job.
type Request struct {
	TemplateID string
	UserEmail  string
	Snapshot   *domain.FeatureSnapshot
	// Triggers overrides Snapshot.AIEmailTriggers when non-nil.
	Triggers []domain.Trigger
}

// Composer builds email content. The generator is optional.
type Composer struct {
	generator out.ContentGenerator
	timeout   time.Duration
	now       func() time.Time
}

// Option configures a Composer.
type Option func(*Composer)

// WithGenerator sets the language-model content generator.
func WithGenerator(g out.ContentGenerator) Option {
	return func(c *Composer) { c.generator = g }
}

// WithTimeout bounds a single generator call.
func WithTimeout(d time.Duration) Option {
	return func(c *Composer) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock overrides the generation timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(c *Composer) { c.now = now }
}

func NewComposer(opts ...Option) *Composer {
	c := &Composer{timeout: defaultGenerateTimeout, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose never fails: any internal error yields a generic non-empty email.
func (c *Composer) Compose(ctx context.Context, req Request) (result domain.EmailContent) {
	start := time.Now()
	defer metrics.ObserveStage("compose", start)

	email := domain.NormalizeEmail(req.UserEmail)
	result = domain.EmailContent{
		TemplateID:  req.TemplateID,
		RuleID:      RuleIDForTemplate(req.TemplateID),
		Purpose:     domain.PurposeEncouragement,
		GeneratedAt: c.now().UTC(),
	}
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("user_email", email).
				WithField("template_id", req.TemplateID).
				Error("content composition panicked: %v", r)
			result.Subject, result.Content = catchAll()
			result.UsedFallback = true
		}
	}()

	snap := req.Snapshot
	if snap == nil {
		snap = domain.ColdSnapshot(email, result.GeneratedAt)
	}
	triggers := req.Triggers
	if triggers == nil {
		triggers = snap.AIEmailTriggers
	}

	subjects := topicSubjects(snap.TopTopics)
	cc := resolveContext(snap, triggers, subjects)
	result.Purpose = cc.purpose
	result.SubjectArea = cc.subjectArea
	result.DayHint = cc.dayHint

	subject, body := deterministic(cc)
	result.Subject, result.Content, result.UsedFallback = subject, body, true

	if c.generator == nil {
		return result
	}
	gen, reason := c.generate(ctx, email, result.RuleID, cc, snap)
	if gen == nil {
		metrics.LLMFallbacks.WithLabelValues("generate", reason).Inc()
		return result
	}

	g := newGuard(cc, subjects)
	if reason := g.check(gen.Subject, gen.Content); reason != "" {
		metrics.LLMFallbacks.WithLabelValues("generate", reason).Inc()
		logger.WithField("user_email", email).
			WithField("purpose", string(cc.purpose)).
			Info("generated copy misaligned (%s), using template", reason)
		return result
	}
	body = sanitizeMetrics(gen.Content, g.subjectArea)
	if body == "" {
		metrics.LLMFallbacks.WithLabelValues("generate", misalignedMetrics).Inc()
		return result
	}
	result.Subject = strings.TrimSpace(gen.Subject)
	result.Content = body
	result.UsedFallback = false
	return result
}

// generate returns nil and a fallback reason when the generator fails.
func (c *Composer) generate(ctx context.Context, email, ruleID string, cc composeContext, snap *domain.FeatureSnapshot) (*out.GeneratedEmail, string) {
	req := &out.GenerationRequest{
		RuleID:       ruleID,
		Purpose:      cc.purpose,
		UserEmail:    email,
		FirstName:    firstName(snap.FirstName, email),
		DayHint:      cc.dayHint,
		MetricsScope: out.MetricsScopeOverall,
		Snapshot:     snap,
	}
	if !isGenericSubject(cc.subjectArea) {
		req.PreferredSubject = cc.subjectArea
	}

	gctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	gen, err := c.generator.Generate(gctx, req)
	switch {
	case err != nil:
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		logger.WithField("user_email", email).WithError(err).Warn("content generation failed, using template")
		return nil, reason
	case gen == nil:
		return nil, misalignedEmptyOut
	}
	return gen, ""
}

func resolveContext(snap *domain.FeatureSnapshot, triggers []domain.Trigger, subjects []string) composeContext {
	cc := composeContext{
		purpose:     ResolvePurpose(snap, triggers),
		subjectArea: defaultSubjectArea(subjects),
		greet:       greeting(learningLevel(snap.TopTopics)),
	}
	if len(snap.CompletedCourseTitles) > 0 {
		cc.course = snap.CompletedCourseTitles[0]
	}

	events := snap.ConversationInsights.UpcomingEvents
	switch cc.purpose {
	case domain.PurposeExamLastMinutePrep:
		if best, ok := mostUrgentExam(examCandidates(triggers, events), subjects); ok {
			if !isGenericSubject(best.subject) {
				cc.subjectArea = best.subject
			}
			cc.dayHint = best.dayHint
		}
	case domain.PurposeAppointmentReminder:
		cc.when = appointmentWhen(triggers, events)
	}
	if cc.subjectArea == "" {
		cc.subjectArea = purposeTriggerSubject(triggers, cc.purpose)
	}
	return cc
}

func purposeTriggerSubject(triggers []domain.Trigger, purpose domain.Purpose) string {
	for _, t := range triggers {
		if p, ok := triggerPurpose(t); ok && p == purpose && !isGenericSubject(t.Subject) {
			return t.Subject
		}
	}
	return ""
}

// firstName falls back to the title-cased local part of the email.
func firstName(name, email string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	local, _, _ := strings.Cut(email, "@")
	if local == "" {
		return "Student"
	}
	runes := []rune(strings.ToLower(local))
	for i, r := range runes {
		if i == 0 || !unicode.IsLetter(runes[i-1]) {
			runes[i] = unicode.ToUpper(r)
		}
	}
	return string(runes)
}
