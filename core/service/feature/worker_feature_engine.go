// Package feature derives a learner's Feature Snapshot from normalized events.
package feature

import (
	"context"
	"errors"
	"time"

	"engagement_worker/core/domain"
	"engagement_worker/core/port/out"
	"engagement_worker/pkg/logger"
	"engagement_worker/pkg/metrics"
)

const defaultAnalyzeTimeout = 20 * time.Second

// EmailState is the send history and account state merged into a snapshot.
type EmailState struct {
	EmailsSent7d    int
	EmailsSentToday int
	Unsubscribed    bool
	ConsentEmail    bool
	FirstName       string
	Timezone        string
}

// Engine computes Feature Snapshots. The analyzer is optional.
type Engine struct {
	analyzer       out.ConversationAnalyzer
	analyzeTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithAnalyzer sets the conversation analyzer.
func WithAnalyzer(a out.ConversationAnalyzer) Option {
	return func(e *Engine) { e.analyzer = a }
}

// WithAnalyzeTimeout bounds a single analyzer call.
func WithAnalyzeTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.analyzeTimeout = d
		}
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{analyzeTimeout: defaultAnalyzeTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compute builds the snapshot for one user. events must belong to email;
// they do not need to be sorted.
func (e *Engine) Compute(ctx context.Context, email string, events []domain.Event, now time.Time, state EmailState) *domain.FeatureSnapshot {
	start := time.Now()
	defer metrics.ObserveStage("features", start)

	email = domain.NormalizeEmail(email)
	snap := domain.ColdSnapshot(email, now)
	applyState(snap, state)
	if len(events) == 0 {
		return snap
	}

	weekAgo := now.AddDate(0, 0, -7)
	window := inWindow(events, weekAgo)

	// Activity
	snap.RecencyDays = recencyDays(events, now)
	snap.Frequency7d = len(window)
	snap.Minutes7d = studyMinutes(window)

	// Tests
	attempts := flattenAttempts(events, now)
	ts := computeTestStats(attemptsSince(attempts, weekAgo))
	snap.Tests7d = ts.count
	snap.TestAccuracy = ts.accuracy
	snap.AvgITPScore = ts.avgScore
	snap.ITPImprovementTrend = ts.trend
	snap.WeakSubjects = ts.weakSubjects
	snap.StrongSubjects = ts.strongSubjects

	// Courses
	courses := latestCourses(events)
	cs := computeCourseStats(courses, now)
	snap.ICPCompletionRate = cs.completionRate
	snap.ActiveCourses = cs.active
	snap.CompletedCourses = cs.completed
	snap.CompletedCourseTitles = cs.completedTitles
	snap.StalledCourses = cs.stalled

	// Conversation
	msgs := userMessages(window)
	snap.Conversations7d = len(msgs)
	if len(msgs) > 0 {
		analysis := e.analyze(ctx, email, msgs)
		snap.TopTopics = rankTopics(analysis.Topics)
		snap.ConvoSentiment7dAvg = clampSentiment(analysis.SentimentAvg)
		snap.AIEmailTriggers = analysis.Triggers
		snap.ConversationInsights = analysis.Insights
	}
	snap.SubjectAffinity = subjectAffinity(events, snap.TopTopics, now)

	snap.ChurnRisk = churnRisk(snap.RecencyDays, snap.Frequency7d, snap.ConvoSentiment7dAvg)
	snap.HasExamLastMinutePrep, snap.HasExamPostCheckin, snap.HasLearningSupport = triggerFlags(snap.AIEmailTriggers)

	// Study gaps
	gaps := computeStudyGaps(attempts, events, courses, now)
	snap.WeakTopicsDetailed = gaps.weakTopics
	snap.ICPRecommendations = gaps.recommendations
	snap.HasWeakTopics = len(gaps.weakTopics) > 0
	snap.StalledICPRecent = gaps.stalledICP != nil
	snap.StalledITPRecent = gaps.stalledITP != nil
	snap.ResumeTarget = gaps.resume

	for _, ev := range events {
		if p, ok := ev.Props.(domain.ProfileProps); ok && snap.FirstName == "" {
			snap.FirstName = p.FirstName
		}
	}
	return snap
}

// analyze calls the analyzer and substitutes keyword heuristics when it is
// missing, fails or finds no triggers.
func (e *Engine) analyze(ctx context.Context, email string, msgs []out.ConversationMessage) *out.ConversationAnalysis {
	text := joinMessages(msgs)
	log := logger.WithField("user_email", email)

	var analysis *out.ConversationAnalysis
	fallback := true
	if e.analyzer != nil {
		actx, cancel := context.WithTimeout(ctx, e.analyzeTimeout)
		res, err := e.analyzer.Analyze(actx, msgs)
		cancel()
		switch {
		case err != nil:
			reason := "error"
			if errors.Is(err, context.DeadlineExceeded) {
				reason = "timeout"
			}
			metrics.LLMFallbacks.WithLabelValues("analyze", reason).Inc()
			log.WithError(err).Warn("conversation analysis failed, using keyword fallback")
		case res == nil:
			metrics.LLMFallbacks.WithLabelValues("analyze", "empty").Inc()
		default:
			analysis, fallback = res, false
		}
	}
	if analysis == nil {
		analysis = FallbackAnalysis(text)
	}

	if fallback || len(analysis.Triggers) == 0 {
		heuristic := HeuristicTriggers(text, analysis.Topics)
		analysis.Triggers = append(heuristic, analysis.Triggers...)
	}
	if analysis.Triggers == nil {
		analysis.Triggers = []domain.Trigger{}
	}
	if analysis.Topics == nil {
		analysis.Topics = []string{}
	}
	return analysis
}

func applyState(snap *domain.FeatureSnapshot, state EmailState) {
	snap.EmailsSent7d = state.EmailsSent7d
	snap.EmailsSentToday = state.EmailsSentToday
	snap.Unsubscribed = state.Unsubscribed
	snap.ConsentEmail = state.ConsentEmail
	snap.FirstName = state.FirstName
	snap.Timezone = state.Timezone
}

func clampSentiment(v float64) float64 {
	switch {
	case v < -1:
		return -1
	case v > 1:
		return 1
	}
	return v
}
