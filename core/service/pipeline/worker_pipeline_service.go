// Package pipeline wires the normalizer, feature engine, decision engine and
// content composer into the per-user and daily runs, and delivers queued
// send jobs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"engagement_worker/core/domain"
	"engagement_worker/core/port/in"
	"engagement_worker/core/port/out"
	"engagement_worker/core/service/content"
	"engagement_worker/core/service/decision"
	"engagement_worker/core/service/feature"
	"engagement_worker/core/service/normalize"
	"engagement_worker/pkg/apperr"
	"engagement_worker/pkg/logger"
	"engagement_worker/pkg/metrics"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	defaultFeatureTTL  = 6 * time.Hour
	defaultUserTimeout = 2 * time.Minute
)

// Config holds the run settings of the pipeline.
type Config struct {
	DryRun     bool
	UserLimit  int
	FeatureTTL time.Duration
	// UserTimeout bounds one ProcessUser execution, shared or not.
	UserTimeout time.Duration
}

// Service runs the pipeline. Only the raw data source is needed to produce
// results; every other collaborator may be nil.
type Service struct {
	source     out.RawDataSource
	normalizer *normalize.Normalizer
	features   *feature.Engine
	decisions  *decision.Engine
	composer   *content.Composer

	audit    out.AuditStore
	cache    out.FeatureCache
	graph    out.AffinityGraph
	producer out.MessageProducer

	cfg     Config
	now     func() time.Time
	group   singleflight.Group
	running atomic.Bool
}

var _ in.PipelineService = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

func WithNormalizer(n *normalize.Normalizer) Option {
	return func(s *Service) { s.normalizer = n }
}

func WithFeatureEngine(e *feature.Engine) Option {
	return func(s *Service) { s.features = e }
}

func WithComposer(c *content.Composer) Option {
	return func(s *Service) { s.composer = c }
}

func WithAuditStore(a out.AuditStore) Option {
	return func(s *Service) { s.audit = a }
}

func WithFeatureCache(c out.FeatureCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithAffinityGraph(g out.AffinityGraph) Option {
	return func(s *Service) { s.graph = g }
}

func WithProducer(p out.MessageProducer) Option {
	return func(s *Service) { s.producer = p }
}

func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithClock overrides the clock used for feature windows and attempt stages.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a Service. A nil decision engine falls back to the
// built-in rules and default limits.
func NewService(source out.RawDataSource, decisions *decision.Engine, opts ...Option) *Service {
	s := &Service{
		source:    source,
		decisions: decisions,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.decisions == nil {
		s.decisions = decision.NewEngine(decision.DefaultRules(), decision.DefaultLimits(), decision.WithClock(s.now))
	}
	if s.normalizer == nil {
		s.normalizer = normalize.NewNormalizer(normalize.WithClock(s.now))
	}
	if s.features == nil {
		s.features = feature.NewEngine()
	}
	if s.composer == nil {
		s.composer = content.NewComposer(content.WithClock(s.now))
	}
	if s.cfg.FeatureTTL <= 0 {
		s.cfg.FeatureTTL = defaultFeatureTTL
	}
	if s.cfg.UserTimeout <= 0 {
		s.cfg.UserTimeout = defaultUserTimeout
	}
	return s
}

// ProcessUser runs the whole pipeline for one user. Concurrent calls for the
// same email and mode share a single execution. The shared execution does not
// inherit any caller's cancellation; it runs under UserTimeout, and each
// caller stops waiting when its own context ends.
func (s *Service) ProcessUser(ctx context.Context, email string, opts in.ProcessOptions) (*in.UserResult, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, apperr.MissingField("email")
	}
	dryRun := s.cfg.DryRun
	if opts.DryRun != nil {
		dryRun = *opts.DryRun
	}

	ch := s.group.DoChan(email+"|"+strconv.FormatBool(dryRun), func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.UserTimeout)
		defer cancel()
		result, err := s.processUser(runCtx, email, nil, dryRun)
		if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, apperr.Timeout("process user").WithError(err)
		}
		return result, err
	})

	select {
	case <-ctx.Done():
		return nil, contextError("process user", ctx.Err())
	case r := <-ch:
		if r.Shared {
			logger.WithField("user_email", email).Debug("joined in-flight run")
		}
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*in.UserResult), nil
	}
}

// contextError maps a caller's expired deadline to a Timeout AppError.
func contextError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Timeout(op).WithError(err)
	}
	return err
}

func (s *Service) processUser(ctx context.Context, email string, runID *uuid.UUID, dryRun bool) (*in.UserResult, error) {
	start := time.Now()
	defer metrics.ObserveStage("process_user", start)

	ev, err := s.safeEvaluate(ctx, email, runID)
	if err != nil {
		recordOutcome(err)
		return nil, err
	}
	if ev.decision == nil {
		metrics.UsersProcessed.WithLabelValues("skipped").Inc()
		return ev.result, nil
	}
	s.deliver(ctx, ev, runID, dryRun)
	metrics.UsersProcessed.WithLabelValues("decided").Inc()
	return ev.result, nil
}

// RunDaily processes every user the source lists, one at a time, then
// delivers the surviving candidates in priority order. An overlapping call
// fails with a Conflict.
func (s *Service) RunDaily(ctx context.Context) (*in.RunSummary, error) {
	if s.source == nil {
		return nil, apperr.ConfigError("raw data source is not configured")
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil, apperr.Conflict("a daily run is already in progress")
	}
	defer s.running.Store(false)

	start := s.now()
	summary := &in.RunSummary{RunID: uuid.New(), StartedAt: start.UTC(), DryRun: s.cfg.DryRun}

	var runID *uuid.UUID
	if s.audit != nil {
		run, err := s.audit.StartRun(ctx, domain.RunKindDaily)
		if err != nil {
			return nil, apperr.DatabaseError("start run", err)
		}
		summary.RunID = run.ID
		runID = &run.ID
	}
	log := logger.WithField("run_id", summary.RunID.String())

	emails, err := s.source.ListUserEmails(ctx, s.cfg.UserLimit)
	if err != nil {
		s.finishRun(ctx, runID, domain.RunStatusFailed, summary, start)
		return nil, apperr.ExternalError("raw data source", err)
	}
	summary.Users = len(emails)
	log.Info("daily run started for %d users (dry_run=%v)", len(emails), s.cfg.DryRun)

	evaluations := make(map[string]*evaluation, len(emails))
	var candidates []domain.Decision
	for _, email := range emails {
		if err := ctx.Err(); err != nil {
			s.finishRun(ctx, runID, domain.RunStatusFailed, summary, start)
			return summary, err
		}
		ev, err := s.safeEvaluate(ctx, email, runID)
		recordOutcome(err)
		switch {
		case isNotFound(err):
			summary.NotFound++
			continue
		case err != nil:
			summary.Failed++
			log.WithField("user_email", email).WithError(err).Warn("user failed")
			continue
		}
		summary.Processed++
		if ev.decision == nil {
			metrics.UsersProcessed.WithLabelValues("skipped").Inc()
			continue
		}
		metrics.UsersProcessed.WithLabelValues("decided").Inc()
		evaluations[ev.result.UserEmail] = ev
		candidates = append(candidates, *ev.decision)
	}
	summary.Candidates = len(candidates)

	for _, d := range s.decisions.EvaluateBatch(ctx, candidates) {
		ev, ok := evaluations[d.UserEmail]
		if !ok {
			continue
		}
		if s.deliver(ctx, ev, runID, s.cfg.DryRun) {
			summary.Queued++
		}
	}

	s.finishRun(ctx, runID, domain.RunStatusSucceeded, summary, start)
	log.WithDuration(summary.Duration).Info("daily run finished: %d processed, %d candidates, %d queued",
		summary.Processed, summary.Candidates, summary.Queued)
	return summary, nil
}

func (s *Service) finishRun(ctx context.Context, runID *uuid.UUID, status domain.RunStatus, summary *in.RunSummary, start time.Time) {
	summary.Duration = s.now().Sub(start)
	if s.audit == nil || runID == nil {
		return
	}
	// The run record is closed even when the run context was cancelled.
	if err := s.audit.FinishRun(context.WithoutCancel(ctx), *runID, status, summary.Stats()); err != nil {
		logger.WithField("run_id", runID.String()).WithError(err).Warn("failed to finish run")
	}
}

// Features returns the cached snapshot of a user or recomputes it without
// writing to the audit trail.
func (s *Service) Features(ctx context.Context, email string) (*domain.FeatureSnapshot, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, apperr.MissingField("email")
	}
	if s.cache != nil {
		snap, err := s.cache.GetSnapshot(ctx, email)
		if err != nil {
			logger.WithField("user_email", email).WithError(err).Warn("snapshot cache read failed")
		}
		if snap != nil {
			return snap, nil
		}
	}

	data, err := s.load(ctx, email)
	if err != nil {
		return nil, err
	}
	events := s.normalizer.Normalize(data)
	account := profileAccount(email, data.Profile)
	if s.audit != nil {
		if stored, err := s.audit.GetUser(ctx, email); err == nil && stored != nil {
			account = stored
		}
	}
	now := s.now()
	state, _ := s.emailState(ctx, email, account, now)
	snap := s.features.Compute(ctx, email, events, now, state)
	s.cacheSnapshot(ctx, snap)
	return snap, nil
}

func (s *Service) RawSummary(ctx context.Context, email string) (*domain.RawDataSummary, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, apperr.MissingField("email")
	}
	data, err := s.load(ctx, email)
	if err != nil {
		return nil, err
	}
	summary := data.Summary()
	return &summary, nil
}

// PreviewContent composes a template for a user without recording anything.
func (s *Service) PreviewContent(ctx context.Context, email, templateID string) (*domain.EmailContent, error) {
	if templateID == "" {
		return nil, apperr.MissingField("template_id")
	}
	snap, err := s.Features(ctx, email)
	if err != nil {
		return nil, err
	}
	c := s.composer.Compose(ctx, content.Request{
		TemplateID: templateID,
		UserEmail:  snap.UserEmail,
		Snapshot:   snap,
	})
	return &c, nil
}

// Unsubscribe stores the opt-out. It needs the audit store because consent
// lives there.
func (s *Service) Unsubscribe(ctx context.Context, email string) error {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return apperr.MissingField("email")
	}
	if s.audit == nil {
		return apperr.ConfigError("audit store is not configured")
	}
	if err := s.audit.SetUnsubscribed(ctx, email, true); err != nil {
		return apperr.DatabaseError("set unsubscribed", err)
	}
	logger.WithField("user_email", email).Info("user unsubscribed")
	return nil
}

func (s *Service) Rules() []domain.Rule {
	return s.decisions.Rules()
}

// load fetches raw data. An unknown user is reported as NotFound.
func (s *Service) load(ctx context.Context, email string) (*domain.UserRawData, error) {
	if s.source == nil {
		return nil, apperr.ConfigError("raw data source is not configured")
	}
	start := time.Now()
	data, err := s.source.GetUserData(ctx, email)
	metrics.ObserveStage("load", start)
	if err != nil {
		return nil, apperr.ExternalError("raw data source", err)
	}
	if data == nil || data.Profile == nil {
		return nil, apperr.NotFound("user")
	}
	return data, nil
}

func isNotFound(err error) bool {
	return apperr.Is(err, apperr.CodeNotFound)
}

func recordOutcome(err error) {
	switch {
	case err == nil:
	case isNotFound(err):
		metrics.UsersProcessed.WithLabelValues("not_found").Inc()
	default:
		metrics.UsersProcessed.WithLabelValues("error").Inc()
	}
}

// errPanic wraps a recovered panic value.
var errPanic = errors.New("pipeline panic")

func panicError(r any) error {
	return apperr.InternalWithError(fmt.Errorf("%w: %v", errPanic, r))
}
