package decision

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"engagement_worker/core/domain"
)

var fixedNow = time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC) // 11:00 in Los Angeles

func clock() time.Time { return fixedNow }

func snapshot(mod func(s *domain.FeatureSnapshot)) *domain.FeatureSnapshot {
	s := domain.ColdSnapshot("kim@example.com", fixedNow)
	s.RecencyDays = 1
	s.Frequency7d = 10
	s.ChurnRisk = domain.ChurnLow
	if mod != nil {
		mod(s)
	}
	return s
}

type fakeCooldowns struct {
	last map[string]time.Time
	err  error
}

func (f *fakeCooldowns) LastSentForRule(_ context.Context, email, ruleID string) (*time.Time, error) {
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.last[email+"|"+ruleID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func TestEvaluateCombinators(t *testing.T) {
	s := snapshot(func(s *domain.FeatureSnapshot) {
		s.TopTopics = []string{"Biology>Cells", "History>Ancient"}
		s.WeakSubjects = []string{"Chemistry"}
		s.ChurnRisk = domain.ChurnMedium
		s.AIEmailTriggers = []domain.Trigger{{TriggerType: "post_exam"}}
	})
	yes := domain.Compare{Field: domain.FieldFrequency7d, Op: domain.OpGte, Value: domain.NumberValue(10)}
	no := domain.Compare{Field: domain.FieldFrequency7d, Op: domain.OpGt, Value: domain.NumberValue(10)}

	tests := []struct {
		name string
		cond domain.Condition
		want bool
	}{
		{"all true", domain.All{Conditions: []domain.Condition{yes, yes}}, true},
		{"all one false", domain.All{Conditions: []domain.Condition{yes, no}}, false},
		{"any one true", domain.Any{Conditions: []domain.Condition{no, yes}}, true},
		{"any none", domain.Any{Conditions: []domain.Condition{no, no}}, false},
		{"nested", domain.All{Conditions: []domain.Condition{yes, domain.Any{Conditions: []domain.Condition{no, yes}}}}, true},
		{"eq string", domain.Compare{Field: domain.FieldChurnRisk, Op: domain.OpEq, Value: domain.StringValue("medium")}, true},
		{"eq bool", domain.Compare{Field: domain.FieldUnsubscribed, Op: domain.OpEq, Value: domain.BoolValue(false)}, true},
		{"number vs string mismatch", domain.Compare{Field: domain.FieldFrequency7d, Op: domain.OpEq, Value: domain.StringValue("10")}, false},
		{"bool ordering unsupported", domain.Compare{Field: domain.FieldUnsubscribed, Op: domain.OpGt, Value: domain.BoolValue(false)}, false},
		{"unknown field", domain.Compare{Field: "shoe_size", Op: domain.OpEq, Value: domain.NumberValue(1)}, false},
		{"unknown op", domain.Compare{Field: domain.FieldFrequency7d, Op: "approx", Value: domain.NumberValue(10)}, false},
		{"unsupported node", domain.Unsupported{Op: "regex", Field: domain.FieldTopTopics}, false},
		{"contains list", domain.Contains{Field: domain.FieldWeakSubjects, Value: domain.StringValue("Chemistry")}, true},
		{"not_contains list", domain.Contains{Field: domain.FieldWeakSubjects, Value: domain.StringValue("Biology"), Negate: true}, true},
		{"contains substring", domain.Contains{Field: domain.FieldChurnRisk, Value: domain.StringValue("med")}, true},
		{"contains on number", domain.Contains{Field: domain.FieldFrequency7d, Value: domain.StringValue("1")}, false},
		{"not_contains on number", domain.Contains{Field: domain.FieldFrequency7d, Value: domain.StringValue("1"), Negate: true}, false},
		{"pattern prefix", domain.ContainsPattern{Field: domain.FieldTopTopics, Pattern: "Biology>*"}, true},
		{"pattern prefix miss", domain.ContainsPattern{Field: domain.FieldTopTopics, Pattern: "Physics>*"}, false},
		{"pattern exact", domain.ContainsPattern{Field: domain.FieldTopTopics, Pattern: "History>Ancient"}, true},
		{"pattern exact needs full string", domain.ContainsPattern{Field: domain.FieldTopTopics, Pattern: "Biology>"}, false},
		{"pattern on scalar", domain.ContainsPattern{Field: domain.FieldRecencyDays, Pattern: "1*"}, false},
		{"trigger by trigger_type", domain.ContainsTrigger{Field: domain.FieldAIEmailTriggers, TriggerType: "post_exam"}, true},
		{"trigger miss", domain.ContainsTrigger{Field: domain.FieldAIEmailTriggers, TriggerType: "exam_prep"}, false},
		{"empty all", domain.All{}, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.cond, s); got != tt.want {
				t.Errorf("Evaluate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsOutsideQuietHours(t *testing.T) {
	at := func(hour int) time.Time { return time.Date(2025, 3, 10, hour, 30, 0, 0, time.UTC) }

	tests := []struct {
		name       string
		now        time.Time
		tz         string
		start, end int
		want       bool
	}{
		{"wrapping, late evening", at(21), "UTC", 20, 8, false},
		{"wrapping, early morning", at(3), "UTC", 20, 8, false},
		{"wrapping, midday", at(12), "UTC", 20, 8, true},
		{"wrapping, end is exclusive", at(8), "UTC", 20, 8, true},
		{"non-wrapping inside", at(13), "UTC", 12, 14, false},
		{"non-wrapping outside", at(15), "UTC", 12, 14, true},
		{"no quiet hours", at(21), "UTC", 9, 9, true},
		{"user timezone applies", at(5), "America/Los_Angeles", 20, 8, false},
		{"unknown timezone is permissive", at(21), "Mars/Olympus", 20, 8, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsOutsideQuietHours(tt.now, tt.tz, tt.start, tt.end); got != tt.want {
				t.Errorf("IsOutsideQuietHours = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateUserColdUserGetsWinback(t *testing.T) {
	e := NewEngine(DefaultRules(), DefaultLimits(), WithClock(clock))
	cold := domain.ColdSnapshot("new@example.com", fixedNow)

	got := e.EvaluateUser("new@example.com", cold)
	if len(got) != 1 || got[0].RuleID != "winback_idle" {
		t.Fatalf("EvaluateUser(cold) = %+v, want winback_idle", got)
	}
	if got[0].TemplateID != "winback_study_plan_v1" || got[0].Features != cold {
		t.Errorf("decision = %+v", got[0])
	}
}

func TestEvaluateUser(t *testing.T) {
	e := NewEngine(DefaultRules(), DefaultLimits(), WithClock(clock))

	tests := []struct {
		name string
		snap *domain.FeatureSnapshot
		want string
	}{
		{"nothing matches", snapshot(nil), ""},
		{"unsubscribed", snapshot(func(s *domain.FeatureSnapshot) { s.Unsubscribed = true; s.RecencyDays = 30 }), ""},
		{"basic weekly cap", snapshot(func(s *domain.FeatureSnapshot) { s.EmailsSent7d = 5; s.RecencyDays = 30 }), ""},
		{"highest priority wins", snapshot(func(s *domain.FeatureSnapshot) {
			s.TopTopics = []string{"Biology>Cells"}
			s.AIEmailTriggers = []domain.Trigger{{Trigger: "exam_prep", MessageType: "last_minute_prep"}}
		}), "exam_last_minute_prep"},
		{"subject help", snapshot(func(s *domain.FeatureSnapshot) {
			s.TopTopics = []string{"History>Ancient"}
		}), "help_history_general"},
		{"completion celebration", snapshot(func(s *domain.FeatureSnapshot) {
			s.CompletedCourses = 1
		}), "course_completion_celebration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.EvaluateUser("kim@example.com", tt.snap)
			if tt.want == "" {
				if len(got) != 0 {
					t.Errorf("got %+v, want no decision", got)
				}
				return
			}
			if len(got) != 1 || got[0].RuleID != tt.want {
				t.Errorf("got %+v, want %s", got, tt.want)
			}
		})
	}
}

func TestPriorityTieBreakIsLexicographic(t *testing.T) {
	always := domain.Compare{Field: domain.FieldRecencyDays, Op: domain.OpGte, Value: domain.NumberValue(0)}
	rules := []domain.Rule{
		{ID: "zeta", When: always, Action: domain.RuleAction{TemplateID: "z_v1", Priority: 50}},
		{ID: "alpha", When: always, Action: domain.RuleAction{TemplateID: "a_v1", Priority: 50}},
		{ID: "low", When: always, Action: domain.RuleAction{TemplateID: "l_v1", Priority: 10}},
	}
	e := NewEngine(rules, DefaultLimits())
	got := e.EvaluateUser("kim@example.com", snapshot(nil))
	if len(got) != 1 || got[0].RuleID != "alpha" {
		t.Errorf("winner = %+v, want alpha", got)
	}
}

func TestEvaluateStored(t *testing.T) {
	account := &domain.LearnerAccount{Email: "kim@example.com", ConsentEmail: true, Timezone: "America/Los_Angeles"}
	idle := func(s *domain.FeatureSnapshot) { s.RecencyDays = 10 }

	tests := []struct {
		name    string
		snap    *domain.FeatureSnapshot
		account *domain.LearnerAccount
		store   *fakeCooldowns
		now     time.Time
		want    string
	}{
		{"eligible", snapshot(idle), account, &fakeCooldowns{}, fixedNow, "winback_idle"},
		{"no account", snapshot(idle), nil, &fakeCooldowns{}, fixedNow, ""},
		{"no consent", snapshot(idle), &domain.LearnerAccount{ConsentEmail: false}, &fakeCooldowns{}, fixedNow, ""},
		{"account unsubscribed", snapshot(idle), &domain.LearnerAccount{ConsentEmail: true, Unsubscribed: true}, &fakeCooldowns{}, fixedNow, ""},
		{"weekly cap", snapshot(func(s *domain.FeatureSnapshot) { idle(s); s.EmailsSent7d = 2 }), account, &fakeCooldowns{}, fixedNow, ""},
		{"daily cap", snapshot(func(s *domain.FeatureSnapshot) { idle(s); s.EmailsSentToday = 1 }), account, &fakeCooldowns{}, fixedNow, ""},
		{"quiet hours", snapshot(idle), account, &fakeCooldowns{}, time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC), ""},
		{"in cooldown", snapshot(idle), account, &fakeCooldowns{last: map[string]time.Time{
			"kim@example.com|winback_idle": fixedNow.AddDate(0, 0, -3),
		}}, fixedNow, ""},
		{"cooldown elapsed", snapshot(idle), account, &fakeCooldowns{last: map[string]time.Time{
			"kim@example.com|winback_idle": fixedNow.AddDate(0, 0, -8),
		}}, fixedNow, "winback_idle"},
		{"store error fails closed", snapshot(idle), account, &fakeCooldowns{err: errors.New("db down")}, fixedNow, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := tt.now
			e := NewEngine(DefaultRules(), DefaultLimits(), WithCooldownStore(tt.store), WithClock(func() time.Time { return now }))
			got := e.EvaluateStored(context.Background(), "kim@example.com", tt.snap, tt.account)
			if tt.want == "" {
				if len(got) != 0 {
					t.Errorf("got %+v, want no decision", got)
				}
				return
			}
			if len(got) != 1 || got[0].RuleID != tt.want {
				t.Errorf("got %+v, want %s", got, tt.want)
			}
		})
	}
}

func TestEvaluateBatch(t *testing.T) {
	store := &fakeCooldowns{last: map[string]time.Time{
		"b@example.com|exam_followup_trigger": fixedNow.Add(-time.Hour),
	}}
	e := NewEngine(DefaultRules(), DefaultLimits(), WithCooldownStore(store), WithClock(clock))

	got := e.EvaluateBatch(context.Background(), []domain.Decision{
		{UserEmail: "a@example.com", RuleID: "winback_idle", Priority: 60},
		{UserEmail: "b@example.com", RuleID: "exam_followup_trigger", Priority: 95},
		{UserEmail: "c@example.com", RuleID: "high_engagement_reward", Priority: 96},
		{UserEmail: "d@example.com", RuleID: "course_completion_celebration", Priority: 94},
	})

	var order []string
	for _, d := range got {
		order = append(order, d.UserEmail)
	}
	if want := []string{"c@example.com", "d@example.com", "a@example.com"}; !reflect.DeepEqual(order, want) {
		t.Errorf("batch order = %v, want %v", order, want)
	}
}

func TestParseRules(t *testing.T) {
	raw := []byte(`
rules:
  - id: biology
    when:
      all:
        - contains_pattern: { field: top_topics, pattern: "Biology>*" }
        - any:
            - lt: { field: emails_sent_7d, value: 2 }
            - eq: { field: churn_risk, value: high }
        - not_contains: { field: weak_subjects, value: Biology }
        - fuzzy_match: { field: top_topics, value: bio }
    action: { template_id: biology_help_v1, priority: 90 }
`)
	rules, err := ParseRules(raw)
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	if len(rules) != 1 || rules[0].ID != "biology" {
		t.Fatalf("rules = %+v", rules)
	}
	if rules[0].Action.CooldownDays != defaultCooldownDays {
		t.Errorf("CooldownDays = %d, want default %d", rules[0].Action.CooldownDays, defaultCooldownDays)
	}

	all, ok := rules[0].When.(domain.All)
	if !ok || len(all.Conditions) != 4 {
		t.Fatalf("when = %#v", rules[0].When)
	}
	if _, ok := all.Conditions[1].(domain.Any); !ok {
		t.Errorf("nested any not parsed: %#v", all.Conditions[1])
	}
	if c, ok := all.Conditions[2].(domain.Contains); !ok || !c.Negate {
		t.Errorf("not_contains not parsed: %#v", all.Conditions[2])
	}
	if _, ok := all.Conditions[3].(domain.Unsupported); !ok {
		t.Errorf("unknown operator should be kept as Unsupported: %#v", all.Conditions[3])
	}

	// The unsupported leaf makes the whole rule fail closed.
	s := snapshot(func(s *domain.FeatureSnapshot) { s.TopTopics = []string{"Biology>Cells"} })
	if Evaluate(rules[0].When, s) {
		t.Errorf("rule with unknown operator should not match")
	}

	desc := Describe(rules[0].When)
	if _, ok := desc["all"]; !ok {
		t.Errorf("Describe = %v", desc)
	}
}

func TestParseRulesErrors(t *testing.T) {
	tests := map[string]string{
		"not yaml":       "rules: [",
		"no rules":       "rules: []",
		"missing id":     "rules:\n  - when: {eq: {field: tests_7d, value: 1}}\n    action: {template_id: x}\n",
		"missing field":  "rules:\n  - id: a\n    when: {eq: {value: 1}}\n    action: {template_id: x}\n",
		"no template":    "rules:\n  - id: a\n    when: {eq: {field: tests_7d, value: 1}}\n    action: {priority: 1}\n",
		"duplicate ids":  "rules:\n  - id: a\n    when: {eq: {field: tests_7d, value: 1}}\n    action: {template_id: x}\n  - id: a\n    when: {eq: {field: tests_7d, value: 1}}\n    action: {template_id: y}\n",
		"two operators":  "rules:\n  - id: a\n    when: {eq: {field: tests_7d, value: 1}, lt: {field: tests_7d, value: 2}}\n    action: {template_id: x}\n",
		"bad value type": "rules:\n  - id: a\n    when: {eq: {field: tests_7d, value: [1, 2]}}\n    action: {template_id: x}\n",
		"empty all":      "rules:\n  - id: a\n    when: {all: []}\n    action: {template_id: x}\n",
		"empty any":      "rules:\n  - id: a\n    when: {any: []}\n    action: {template_id: x}\n",
		"nested empty":   "rules:\n  - id: a\n    when: {any: [{all: []}]}\n    action: {template_id: x}\n",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseRules([]byte(raw)); err == nil {
				t.Errorf("ParseRules should fail")
			}
		})
	}
}

func TestLoadRulesFallsBackToDefaults(t *testing.T) {
	rules, err := LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Errorf("expected an error for a missing file")
	}
	if len(rules) != len(DefaultRules()) {
		t.Errorf("got %d rules, want defaults", len(rules))
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("rules: {"), 0o600); err != nil {
		t.Fatal(err)
	}
	if rules, _ := LoadRules(bad); len(rules) != len(DefaultRules()) {
		t.Errorf("invalid file should yield defaults, got %d rules", len(rules))
	}
}

func TestShippedRulesFileMatchesDefaults(t *testing.T) {
	rules, err := LoadRules(filepath.Join("..", "..", "..", "config", "email_rules.yaml"))
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	defaults := DefaultRules()
	if len(rules) != len(defaults) {
		t.Fatalf("file has %d rules, defaults have %d", len(rules), len(defaults))
	}
	for i := range rules {
		if rules[i].ID != defaults[i].ID || rules[i].Action != defaults[i].Action {
			t.Errorf("rule %d: file %s %+v, default %s %+v", i, rules[i].ID, rules[i].Action, defaults[i].ID, defaults[i].Action)
		}
		if !reflect.DeepEqual(Describe(rules[i].When), Describe(defaults[i].When)) {
			t.Errorf("rule %s: conditions differ", rules[i].ID)
		}
	}
}
