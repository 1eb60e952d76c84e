// Package decision selects at most one lifecycle email per learner from a
// declarative rule set.
package decision

import (
	"context"
	"sort"
	"time"

	"engagement_worker/core/domain"
	"engagement_worker/pkg/logger"
	"engagement_worker/pkg/metrics"
)

// CooldownStore answers when a rule last produced a send for a user.
type CooldownStore interface {
	LastSentForRule(ctx context.Context, email, ruleID string) (*time.Time, error)
}

// Engine evaluates rules. Rules are read-only after construction.
type Engine struct {
	rules  []domain.Rule
	byID   map[string]domain.Rule
	limits Limits
	store  CooldownStore
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithCooldownStore enables cross-run cooldown checks.
func WithCooldownStore(s CooldownStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithClock overrides the clock used for quiet hours and cooldowns.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(rules []domain.Rule, limits Limits, opts ...Option) *Engine {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	e := &Engine{
		rules:  rules,
		byID:   make(map[string]domain.Rule, len(rules)),
		limits: limits,
		now:    time.Now,
	}
	for _, r := range rules {
		e.byID[r.ID] = r
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rules returns the loaded rules.
func (e *Engine) Rules() []domain.Rule {
	out := make([]domain.Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Rule looks up a rule by id.
func (e *Engine) Rule(id string) (domain.Rule, bool) {
	r, ok := e.byID[id]
	return r, ok
}

// Match returns every rule whose condition holds, in rule order.
func (e *Engine) Match(s *domain.FeatureSnapshot) []domain.Rule {
	var matched []domain.Rule
	for _, r := range e.rules {
		if Evaluate(r.When, s) {
			matched = append(matched, r)
		}
	}
	return matched
}

// best picks the highest priority rule; equal priorities go to the
// lexicographically smallest id.
func best(matched []domain.Rule) *domain.Rule {
	if len(matched) == 0 {
		return nil
	}
	winner := matched[0]
	for _, r := range matched[1:] {
		if r.Action.Priority > winner.Action.Priority ||
			(r.Action.Priority == winner.Action.Priority && r.ID < winner.ID) {
			winner = r
		}
	}
	return &winner
}

func (e *Engine) decide(email string, s *domain.FeatureSnapshot) []domain.Decision {
	matched := e.Match(s)
	winner := best(matched)
	if winner == nil {
		logger.WithField("user_email", email).Debug("no rule matched")
		return nil
	}
	logger.WithField("user_email", email).
		WithField("matched", len(matched)).
		Info("selected rule %s (priority %d)", winner.ID, winner.Action.Priority)
	metrics.Decisions.WithLabelValues(winner.ID).Inc()
	return []domain.Decision{{
		UserEmail:  email,
		RuleID:     winner.ID,
		TemplateID: winner.Action.TemplateID,
		Priority:   winner.Action.Priority,
		Features:   s,
		Timestamp:  e.now().UTC(),
	}}
}

// EvaluateUser is the standalone path: basic eligibility, then rule match.
// No cooldown is applied; callers must re-check before sending.
func (e *Engine) EvaluateUser(email string, s *domain.FeatureSnapshot) []domain.Decision {
	if s == nil {
		return nil
	}
	email = domain.NormalizeEmail(email)
	if reason := e.limits.basicEligibility(s); reason != "" {
		logger.WithField("user_email", email).Debug("not eligible: %s", reason)
		return nil
	}
	return e.decide(email, s)
}

// EvaluateStored is the store-backed path: full eligibility against the
// account, rule match, then cooldown of the winning rule.
func (e *Engine) EvaluateStored(ctx context.Context, email string, s *domain.FeatureSnapshot, account *domain.LearnerAccount) []domain.Decision {
	if s == nil {
		return nil
	}
	email = domain.NormalizeEmail(email)
	if reason := e.limits.storedEligibility(s, account, e.now()); reason != "" {
		logger.WithField("user_email", email).Debug("not eligible: %s", reason)
		return nil
	}
	decisions := e.decide(email, s)
	if len(decisions) == 0 {
		return nil
	}
	if e.inCooldown(ctx, email, decisions[0].RuleID) {
		return nil
	}
	return decisions
}

// EvaluateBatch orders candidates by priority (highest first) and drops
// those whose rule is in cooldown for the user.
func (e *Engine) EvaluateBatch(ctx context.Context, candidates []domain.Decision) []domain.Decision {
	sorted := make([]domain.Decision, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].RuleID < sorted[j].RuleID
	})

	out := make([]domain.Decision, 0, len(sorted))
	for _, d := range sorted {
		if e.inCooldown(ctx, d.UserEmail, d.RuleID) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// inCooldown fails closed: a store error suppresses the send.
func (e *Engine) inCooldown(ctx context.Context, email, ruleID string) bool {
	if e.store == nil {
		return false
	}
	rule, ok := e.byID[ruleID]
	if !ok {
		return false
	}
	days := rule.Action.CooldownDays
	if days <= 0 {
		days = defaultCooldownDays
	}

	last, err := e.store.LastSentForRule(ctx, email, ruleID)
	if err != nil {
		logger.WithField("user_email", email).WithError(err).Warn("cooldown lookup failed for rule %s", ruleID)
		return true
	}
	if last == nil {
		return false
	}
	cutoff := e.now().AddDate(0, 0, -days)
	if last.After(cutoff) {
		logger.WithField("user_email", email).Debug("rule %s in cooldown until %s", ruleID, last.AddDate(0, 0, days).Format(time.RFC3339))
		return true
	}
	return false
}
