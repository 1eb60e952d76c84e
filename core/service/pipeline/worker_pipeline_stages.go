package pipeline

import (
	"context"
	"time"

	"engagement_worker/core/domain"
	"engagement_worker/core/port/in"
	"engagement_worker/core/service/content"
	"engagement_worker/core/service/feature"
	"engagement_worker/pkg/logger"

	"github.com/google/uuid"
)

// evaluation is the state of one user between decision and delivery.
type evaluation struct {
	result   *in.UserResult
	snapshot *domain.FeatureSnapshot
	decision *domain.Decision
}

func (s *Service) safeEvaluate(ctx context.Context, email string, runID *uuid.UUID) (ev *evaluation, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("user_email", email).Error("recovered from panic: %v", r)
			ev, err = nil, panicError(r)
		}
	}()
	return s.evaluate(ctx, domain.NormalizeEmail(email), runID)
}

// evaluate loads, normalizes and audits a user's data, computes the
// snapshot and picks at most one decision.
func (s *Service) evaluate(ctx context.Context, email string, runID *uuid.UUID) (*evaluation, error) {
	data, err := s.load(ctx, email)
	if err != nil {
		return nil, err
	}
	log := logger.WithField("user_email", email)

	events := s.normalizer.Normalize(data)
	result := &in.UserResult{UserEmail: email, RunID: runID, EventCount: len(events)}
	account := s.syncAccount(ctx, email, data.Profile)

	if s.audit != nil {
		logged, err := s.audit.LogEvents(ctx, events)
		if err != nil {
			log.WithError(err).Warn("failed to log events")
		}
		result.EventsLogged = logged
	}

	now := s.now()
	state, ok := s.emailState(ctx, email, account, now)
	snap := s.features.Compute(ctx, email, events, now, state)
	result.Features = snap
	s.storeSnapshot(ctx, snap)

	ev := &evaluation{result: result, snapshot: snap}
	if !ok {
		log.Warn("send counters unavailable, skipping decision")
		return ev, nil
	}

	decisions := s.decide(ctx, email, snap, account)
	if len(decisions) > 0 {
		d := decisions[0]
		ev.decision = &d
		result.Decision = &d
	}
	return ev, nil
}

func (s *Service) decide(ctx context.Context, email string, snap *domain.FeatureSnapshot, account *domain.LearnerAccount) []domain.Decision {
	if s.audit == nil {
		return s.decisions.EvaluateUser(email, snap)
	}
	return s.decisions.EvaluateStored(ctx, email, snap, account)
}

// syncAccount mirrors the source profile into the audit store and returns
// the stored account. A store failure yields nil, which the stored
// eligibility check treats as no consent.
func (s *Service) syncAccount(ctx context.Context, email string, profile *domain.RawProfile) *domain.LearnerAccount {
	account := profileAccount(email, profile)
	if s.audit == nil {
		return account
	}
	log := logger.WithField("user_email", email)
	if err := s.audit.UpsertUser(ctx, account); err != nil {
		log.WithError(err).Warn("failed to upsert user")
	}
	stored, err := s.audit.GetUser(ctx, email)
	if err != nil {
		log.WithError(err).Warn("failed to read user account")
		return nil
	}
	return stored
}

func profileAccount(email string, p *domain.RawProfile) *domain.LearnerAccount {
	account := &domain.LearnerAccount{Email: email, ConsentEmail: true}
	if p != nil {
		account.FirstName = p.FirstName
		account.Plan = p.Subscription
		account.Timezone = p.Timezone
	}
	return account
}

// emailState gathers consent and send counters. ok is false when the audit
// store could not count past sends.
func (s *Service) emailState(ctx context.Context, email string, account *domain.LearnerAccount, now time.Time) (feature.EmailState, bool) {
	state := feature.EmailState{ConsentEmail: true}
	if account != nil {
		state.FirstName = account.FirstName
		state.Timezone = account.Timezone
		state.ConsentEmail = account.ConsentEmail
		state.Unsubscribed = account.Unsubscribed
	}

	ok := true
	log := logger.WithField("user_email", email)
	if s.audit != nil {
		week, err := s.audit.CountSentSince(ctx, email, now.AddDate(0, 0, -7))
		if err != nil {
			log.WithError(err).Warn("failed to count weekly sends")
			ok = false
		}
		today, err := s.audit.CountSentSince(ctx, email, startOfDay(now))
		if err != nil {
			log.WithError(err).Warn("failed to count daily sends")
			ok = false
		}
		state.EmailsSent7d, state.EmailsSentToday = week, today
	}
	if s.cache != nil {
		n, err := s.cache.SentToday(ctx, email, now)
		if err != nil {
			log.WithError(err).Debug("send counter read failed")
		} else if int(n) > state.EmailsSentToday {
			state.EmailsSentToday = int(n)
		}
	}
	return state, ok
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *Service) storeSnapshot(ctx context.Context, snap *domain.FeatureSnapshot) {
	log := logger.WithField("user_email", snap.UserEmail)
	if s.audit != nil {
		if err := s.audit.SaveFeatures(ctx, snap); err != nil {
			log.WithError(err).Warn("failed to save features")
		}
	}
	s.cacheSnapshot(ctx, snap)
	if s.graph != nil && len(snap.SubjectAffinity) > 0 {
		if err := s.graph.UpsertAffinity(ctx, snap.UserEmail, snap.SubjectAffinity); err != nil {
			log.WithError(err).Warn("failed to update affinity graph")
		}
	}
}

func (s *Service) cacheSnapshot(ctx context.Context, snap *domain.FeatureSnapshot) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetSnapshot(ctx, snap, s.cfg.FeatureTTL); err != nil {
		logger.WithField("user_email", snap.UserEmail).WithError(err).Warn("failed to cache snapshot")
	}
}

// attemptStage scopes attempt idempotency to one template per user per UTC day.
func attemptStage(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// attemptKeyStage keeps dry-run attempts out of the key space of real sends,
// so a preview never blocks the day's delivery.
func attemptKeyStage(stage string, dryRun bool) string {
	if dryRun {
		return stage + ":" + string(domain.AttemptDryRun)
	}
	return stage
}

// deliver composes the email for a decision, records the decision and the
// attempt, and queues the send job. It reports whether a new attempt was
// accepted (queued, or recorded as a dry run).
func (s *Service) deliver(ctx context.Context, ev *evaluation, runID *uuid.UUID, dryRun bool) bool {
	d, result := ev.decision, ev.result
	log := logger.WithField("user_email", d.UserEmail).WithField("rule_id", d.RuleID)

	if s.audit != nil {
		if err := s.audit.LogDecision(ctx, runID, d); err != nil {
			log.WithError(err).Warn("failed to log decision")
		}
	}

	c := s.composer.Compose(ctx, content.Request{
		TemplateID: d.TemplateID,
		UserEmail:  d.UserEmail,
		Snapshot:   ev.snapshot,
	})
	result.Content = &c

	now := s.now().UTC()
	attempt := &domain.EmailAttempt{
		RunID:      runID,
		UserEmail:  d.UserEmail,
		RuleID:     d.RuleID,
		TemplateID: d.TemplateID,
		Stage:      attemptStage(now),
		Status:     domain.AttemptQueued,
		Subject:    c.Subject,
		CreatedAt:  now,
	}
	attempt.IdempotencyKey = domain.AttemptKey(d.UserEmail, d.TemplateID, attemptKeyStage(attempt.Stage, dryRun))
	if dryRun {
		attempt.Status = domain.AttemptDryRun
	}

	if s.audit != nil {
		if err := s.audit.EnsureTemplate(ctx, d.TemplateID, string(c.Purpose)); err != nil {
			log.WithError(err).Warn("failed to register template")
		}
		existing, created, err := s.audit.CreateEmailAttempt(ctx, attempt)
		if err != nil {
			log.WithError(err).Warn("failed to record email attempt, not queuing")
			return false
		}
		if !created {
			log.Info("attempt %s already exists", attempt.IdempotencyKey)
			result.Attempt = existing
			result.Duplicate = true
			return false
		}
	}
	result.Attempt = attempt

	if dryRun {
		result.DryRun = true
		log.Info("dry run: %q", c.Subject)
		return true
	}
	if s.producer == nil {
		log.Warn("no send queue configured, attempt left queued")
		return false
	}

	job := &domain.SendJob{
		AttemptID:  attempt.ID,
		RunID:      runID,
		UserEmail:  d.UserEmail,
		RuleID:     d.RuleID,
		TemplateID: d.TemplateID,
		Priority:   d.Priority,
		Content:    c,
		EnqueuedAt: now,
	}
	if err := s.producer.PublishSendJob(ctx, job); err != nil {
		log.WithError(err).Warn("failed to queue send job")
		if s.audit != nil && attempt.ID != 0 {
			if err := s.audit.UpdateEmailAttempt(ctx, attempt.ID, domain.AttemptFailed, "", "enqueue: "+err.Error()); err != nil {
				log.WithError(err).Warn("failed to mark attempt failed")
			}
		}
		return false
	}
	result.Queued = true
	return true
}
