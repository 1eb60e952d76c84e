package content

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"engagement_worker/core/domain"
	"engagement_worker/core/port/out"
)

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeGenerator struct {
	email *out.GeneratedEmail
	err   error
	block bool
	panic bool
	got   *out.GenerationRequest
}

func (f *fakeGenerator) Generate(ctx context.Context, req *out.GenerationRequest) (*out.GeneratedEmail, error) {
	f.got = req
	if f.panic {
		panic("generator exploded")
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.email, f.err
}

func snapshot(mod func(*domain.FeatureSnapshot)) *domain.FeatureSnapshot {
	s := domain.ColdSnapshot("learner@example.com", fixedNow)
	s.RecencyDays = 1
	s.Frequency7d = 5
	if mod != nil {
		mod(s)
	}
	return s
}

func examTrigger(subject, timeframe string) domain.Trigger {
	return domain.Trigger{Trigger: "exam_prep", MessageType: "last_minute_prep", Subject: subject, Timeframe: timeframe}
}

func newTestComposer(opts ...Option) *Composer {
	return NewComposer(append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)...)
}

func TestRuleIDForTemplate(t *testing.T) {
	tests := []struct {
		template string
		want     string
	}{
		{"biology_help_v1", "help_biology_general"},
		{"winback_study_plan_v1", "winback_idle"},
		{"exam_last_minute_prep_v1", "exam_last_minute_prep"},
		{"spring_promo_v12", "spring_promo"},
		{"spring_promo", "spring_promo"},
		{"vocab_v", "vocab_v"},
		{"study_v2b", "study_v2b"},
	}
	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			if got := RuleIDForTemplate(tt.template); got != tt.want {
				t.Errorf("RuleIDForTemplate(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}

func TestResolvePurpose(t *testing.T) {
	tests := []struct {
		name     string
		mod      func(*domain.FeatureSnapshot)
		triggers []domain.Trigger
		want     domain.Purpose
	}{
		{"exam prep by message type", nil, []domain.Trigger{{MessageType: "last_minute_prep"}}, domain.PurposeExamLastMinutePrep},
		{"exam prep by trigger type", nil, []domain.Trigger{{TriggerType: "pre_exam"}}, domain.PurposeExamLastMinutePrep},
		{"exam followup", nil, []domain.Trigger{{MessageType: "how_did_it_go"}}, domain.PurposeExamFollowup},
		{"appointment reminder", nil, []domain.Trigger{{Trigger: "appointment_reminder"}}, domain.PurposeAppointmentReminder},
		{"appointment followup", nil, []domain.Trigger{{MessageType: "session_feedback"}}, domain.PurposeAppointmentFollowup},
		{"learning support", nil, []domain.Trigger{{Trigger: "learning_support"}}, domain.PurposeLearningSupport},
		{"first matching trigger wins", nil, []domain.Trigger{{Trigger: "check_progress"}, {Trigger: "learning_support"}, {Trigger: "exam_prep"}}, domain.PurposeLearningSupport},
		{"idle learner", func(s *domain.FeatureSnapshot) { s.RecencyDays = 8 }, nil, domain.PurposeWinback},
		{"very high engagement", func(s *domain.FeatureSnapshot) { s.Conversations7d, s.Frequency7d = 51, 101 }, nil, domain.PurposeEngagementReward},
		{"completed course", func(s *domain.FeatureSnapshot) { s.CompletedCourses = 1 }, nil, domain.PurposeCompletionCelebration},
		{"high accuracy", func(s *domain.FeatureSnapshot) { s.TestAccuracy = 0.85 }, nil, domain.PurposePerformancePraise},
		{"default", nil, nil, domain.PurposeEncouragement},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolvePurpose(snapshot(tt.mod), tt.triggers); got != tt.want {
				t.Errorf("ResolvePurpose() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		text      string
		wantHint  string
		wantDays  int
		wantHours int
	}{
		{"tonight", hintTonight, 0, -1},
		{"Today at 3pm", hintToday, 0, -1},
		{"tomorrow morning", hintTomorrow, 1, -1},
		{"in 2 hours", hintToday, 0, 2},
		{"in 30 hours", hintTomorrow, 1, 30},
		{"in 3 days", hintSoon, 3, -1},
		{"in 1 day", hintTomorrow, 1, -1},
		{"upcoming", hintSoon, -1, -1},
		{"", "", -1, -1},
		{"someday", "", -1, -1},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			hint, days, hours := parseTimeframe(tt.text)
			if hint != tt.wantHint || days != tt.wantDays || hours != tt.wantHours {
				t.Errorf("parseTimeframe(%q) = (%q, %d, %d), want (%q, %d, %d)",
					tt.text, hint, days, hours, tt.wantHint, tt.wantDays, tt.wantHours)
			}
		})
	}
}

func TestMostUrgentExam(t *testing.T) {
	two := 2
	tests := []struct {
		name        string
		triggers    []domain.Trigger
		events      []domain.UpcomingEvent
		subjects    []string
		wantSubject string
		wantHint    string
	}{
		{
			name:        "tonight beats tomorrow",
			triggers:    []domain.Trigger{examTrigger("Biology", "tomorrow"), examTrigger("Physics", "tonight")},
			wantSubject: "Physics",
			wantHint:    hintTonight,
		},
		{
			name:        "hours beat a day count",
			triggers:    []domain.Trigger{{Trigger: "exam_prep", Subject: "History", DaysBefore: &two}},
			events:      []domain.UpcomingEvent{{Type: "exam", Subject: "Chemistry", Timeframe: "in 3 hours"}},
			wantSubject: "Chemistry",
			wantHint:    hintToday,
		},
		{
			name:        "tie goes to first top topic subject",
			triggers:    []domain.Trigger{examTrigger("Biology", "tomorrow"), examTrigger("Chemistry", "tomorrow")},
			subjects:    []string{"Chemistry", "Biology"},
			wantSubject: "Chemistry",
			wantHint:    hintTomorrow,
		},
		{
			name:        "tie without topics goes to first mention",
			triggers:    []domain.Trigger{examTrigger("Biology", "tomorrow"), examTrigger("Chemistry", "tomorrow")},
			wantSubject: "Biology",
			wantHint:    hintTomorrow,
		},
		{
			name:        "appointments are ignored",
			events:      []domain.UpcomingEvent{{Type: "appointment", Timeframe: "tonight"}, {Type: "Exam", Subject: "IELTS", Timeframe: "tomorrow"}},
			wantSubject: "IELTS",
			wantHint:    hintTomorrow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			best, ok := mostUrgentExam(examCandidates(tt.triggers, tt.events), tt.subjects)
			if !ok {
				t.Fatal("mostUrgentExam() found no candidate")
			}
			if best.subject != tt.wantSubject || best.dayHint != tt.wantHint {
				t.Errorf("mostUrgentExam() = (%q, %q), want (%q, %q)", best.subject, best.dayHint, tt.wantSubject, tt.wantHint)
			}
		})
	}

	if _, ok := mostUrgentExam(nil, nil); ok {
		t.Error("mostUrgentExam(nil) reported a candidate")
	}
}

func TestComposeExamPrepRoundTrip(t *testing.T) {
	snap := snapshot(func(s *domain.FeatureSnapshot) {
		s.TopTopics = []string{"Biology>Cells", "Physics>Mechanics"}
		s.AIEmailTriggers = []domain.Trigger{examTrigger("Physics", "tonight")}
	})

	got := newTestComposer().Compose(context.Background(), Request{
		TemplateID: "exam_last_minute_prep_v1",
		UserEmail:  "Learner@Example.com",
		Snapshot:   snap,
	})

	if got.Purpose != domain.PurposeExamLastMinutePrep {
		t.Fatalf("Purpose = %q, want %q", got.Purpose, domain.PurposeExamLastMinutePrep)
	}
	for _, field := range []string{got.Subject, got.Content} {
		if !strings.Contains(field, "Physics") {
			t.Errorf("%q does not mention Physics", field)
		}
		if !strings.Contains(strings.ToLower(field), "tonight") {
			t.Errorf("%q does not mention tonight", field)
		}
	}
	if got.SubjectArea != "Physics" || got.DayHint != hintTonight {
		t.Errorf("SubjectArea, DayHint = %q, %q", got.SubjectArea, got.DayHint)
	}
	if got.RuleID != "exam_last_minute_prep" || got.TemplateID != "exam_last_minute_prep_v1" {
		t.Errorf("RuleID, TemplateID = %q, %q", got.RuleID, got.TemplateID)
	}
	if !got.GeneratedAt.Equal(fixedNow) {
		t.Errorf("GeneratedAt = %v, want %v", got.GeneratedAt, fixedNow)
	}
	if !got.UsedFallback {
		t.Error("UsedFallback = false without a generator")
	}
}

func TestComposeDeterministic(t *testing.T) {
	tests := []struct {
		name        string
		mod         func(*domain.FeatureSnapshot)
		wantSubject string
		wantGreet   string
	}{
		{
			name: "completion uses most recent course",
			mod: func(s *domain.FeatureSnapshot) {
				s.TopTopics = []string{"Biology>Cells"}
				s.CompletedCourses = 2
				s.CompletedCourseTitles = []string{"Cell Biology", "Intro Chemistry"}
			},
			wantSubject: "You finished Cell Biology!",
			wantGreet:   "Hello!",
		},
		{
			name:        "winback without topics",
			mod:         func(s *domain.FeatureSnapshot) { s.RecencyDays = 30 },
			wantSubject: "Ready to continue your journey?",
			wantGreet:   "Hi there!",
		},
		{
			name: "appointment tomorrow",
			mod: func(s *domain.FeatureSnapshot) {
				s.AIEmailTriggers = []domain.Trigger{{Trigger: "appointment_reminder"}}
				s.ConversationInsights.UpcomingEvents = []domain.UpcomingEvent{{Type: "appointment", Timeframe: "Tomorrow afternoon"}}
			},
			wantSubject: "Reminder: your appointment tomorrow",
			wantGreet:   "Hi there!",
		},
		{
			name: "exam prep without a day",
			mod: func(s *domain.FeatureSnapshot) {
				s.TopTopics = []string{"Pharmacology>Dosage"}
				s.AIEmailTriggers = []domain.Trigger{{Trigger: "exam_prep"}}
			},
			wantSubject: "Your Pharmacology exam: 45-minute crash plan",
			wantGreet:   "Hello!",
		},
		{
			name: "learning support falls back to trigger subject",
			mod: func(s *domain.FeatureSnapshot) {
				s.AIEmailTriggers = []domain.Trigger{{Trigger: "learning_support", Subject: "Algebra"}}
			},
			wantSubject: "Boost your Algebra understanding",
			wantGreet:   "Hi there!",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newTestComposer().Compose(context.Background(), Request{
				TemplateID: "any_v1",
				UserEmail:  "learner@example.com",
				Snapshot:   snapshot(tt.mod),
			})
			if got.Subject != tt.wantSubject {
				t.Errorf("Subject = %q, want %q", got.Subject, tt.wantSubject)
			}
			if !strings.HasPrefix(got.Content, tt.wantGreet) {
				t.Errorf("Content = %q, want greeting %q", got.Content, tt.wantGreet)
			}
		})
	}
}

func TestComposeWithGenerator(t *testing.T) {
	examSnap := snapshot(func(s *domain.FeatureSnapshot) {
		s.TopTopics = []string{"Physics>Mechanics", "Biology>Cells"}
		s.AIEmailTriggers = []domain.Trigger{examTrigger("Physics", "tonight")}
	})
	supportSnap := snapshot(func(s *domain.FeatureSnapshot) {
		s.TopTopics = []string{"Biology>Cells"}
		s.AIEmailTriggers = []domain.Trigger{{Trigger: "learning_support"}}
	})

	tests := []struct {
		name         string
		snap         *domain.FeatureSnapshot
		gen          *fakeGenerator
		wantFallback bool
		wantSubject  string
		wantContent  string
	}{
		{
			name: "aligned copy is used",
			snap: examSnap,
			gen: &fakeGenerator{email: &out.GeneratedEmail{
				Subject: "Tonight's Physics exam: quick plan",
				Content: "Your Physics exam is tonight. Review the key formulas and try ten practice questions.",
			}},
			wantSubject: "Tonight's Physics exam: quick plan",
			wantContent: "Your Physics exam is tonight. Review the key formulas and try ten practice questions.",
		},
		{
			name: "other subject is rejected",
			snap: supportSnap,
			gen: &fakeGenerator{email: &out.GeneratedEmail{
				Subject: "Boost your IELTS writing",
				Content: "Let's practice IELTS essays about Biology.",
			}},
			wantFallback: true,
			wantSubject:  "Boost your Biology understanding",
		},
		{
			name: "missing subject is rejected",
			snap: supportSnap,
			gen: &fakeGenerator{email: &out.GeneratedEmail{
				Subject: "Keep learning",
				Content: "A short practice set is waiting.",
			}},
			wantFallback: true,
			wantSubject:  "Boost your Biology understanding",
		},
		{
			name: "missing day hint is rejected",
			snap: examSnap,
			gen: &fakeGenerator{email: &out.GeneratedEmail{
				Subject: "Physics exam plan",
				Content: "Your Physics exam is coming. Review formulas.",
			}},
			wantFallback: true,
			wantSubject:  "Tonight's Physics exam: 45-minute crash plan",
		},
		{
			name: "evening counts as tonight",
			snap: examSnap,
			gen: &fakeGenerator{email: &out.GeneratedEmail{
				Subject: "Physics exam this evening",
				Content: "Quick review plan for your Physics exam.",
			}},
			wantSubject: "Physics exam this evening",
			wantContent: "Quick review plan for your Physics exam.",
		},
		{
			name: "missing purpose keywords are rejected",
			snap: examSnap,
			gen: &fakeGenerator{email: &out.GeneratedEmail{
				Subject: "Physics tonight",
				Content: "Enjoy some Physics reading tonight.",
			}},
			wantFallback: true,
			wantSubject:  "Tonight's Physics exam: 45-minute crash plan",
		},
		{
			name:         "generator error",
			snap:         examSnap,
			gen:          &fakeGenerator{err: errors.New("rate limited")},
			wantFallback: true,
			wantSubject:  "Tonight's Physics exam: 45-minute crash plan",
		},
		{
			name:         "generator timeout",
			snap:         examSnap,
			gen:          &fakeGenerator{block: true},
			wantFallback: true,
			wantSubject:  "Tonight's Physics exam: 45-minute crash plan",
		},
		{
			name:         "empty result",
			snap:         examSnap,
			gen:          &fakeGenerator{email: &out.GeneratedEmail{}},
			wantFallback: true,
			wantSubject:  "Tonight's Physics exam: 45-minute crash plan",
		},
		{
			name: "subject metric bleed is rejected",
			snap: supportSnap,
			gen: &fakeGenerator{email: &out.GeneratedEmail{
				Subject: "Biology progress at 85%",
				Content: "Keep going with Biology.",
			}},
			wantFallback: true,
			wantSubject:  "Boost your Biology understanding",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestComposer(WithGenerator(tt.gen), WithTimeout(20*time.Millisecond))
			got := c.Compose(context.Background(), Request{
				TemplateID: "exam_last_minute_prep_v1",
				UserEmail:  "jane.doe@example.com",
				Snapshot:   tt.snap,
			})
			if got.UsedFallback != tt.wantFallback {
				t.Errorf("UsedFallback = %v, want %v", got.UsedFallback, tt.wantFallback)
			}
			if got.Subject != tt.wantSubject {
				t.Errorf("Subject = %q, want %q", got.Subject, tt.wantSubject)
			}
			if tt.wantContent != "" && got.Content != tt.wantContent {
				t.Errorf("Content = %q, want %q", got.Content, tt.wantContent)
			}
		})
	}
}

func TestComposeGenerationRequest(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("unavailable")}
	snap := snapshot(func(s *domain.FeatureSnapshot) {
		s.TopTopics = []string{"Physics>Mechanics"}
		s.AIEmailTriggers = []domain.Trigger{examTrigger("Physics", "tonight")}
	})
	newTestComposer(WithGenerator(gen)).Compose(context.Background(), Request{
		TemplateID: "exam_last_minute_prep_v1",
		UserEmail:  "jane.doe@example.com",
		Snapshot:   snap,
	})

	if gen.got == nil {
		t.Fatal("generator was not called")
	}
	want := out.GenerationRequest{
		RuleID:           "exam_last_minute_prep",
		Purpose:          domain.PurposeExamLastMinutePrep,
		UserEmail:        "jane.doe@example.com",
		FirstName:        "Jane.Doe",
		PreferredSubject: "Physics",
		DayHint:          hintTonight,
		MetricsScope:     out.MetricsScopeOverall,
	}
	got := *gen.got
	got.Snapshot = nil
	if got != want {
		t.Errorf("GenerationRequest = %+v, want %+v", got, want)
	}
}

func TestComposeStripsSubjectMetrics(t *testing.T) {
	gen := &fakeGenerator{email: &out.GeneratedEmail{
		Subject: "Tomorrow's Biology exam: last-minute plan",
		Content: "Your Biology exam is tomorrow. You are at 85.5% progress in Biology! Review cells tonight.",
	}}
	snap := snapshot(func(s *domain.FeatureSnapshot) {
		s.TopTopics = []string{"Biology>Cells"}
		s.AIEmailTriggers = []domain.Trigger{examTrigger("Biology", "tomorrow")}
	})

	got := newTestComposer(WithGenerator(gen)).Compose(context.Background(), Request{
		TemplateID: "exam_last_minute_prep_v1",
		UserEmail:  "learner@example.com",
		Snapshot:   snap,
	})

	want := "Your Biology exam is tomorrow. Review cells tonight."
	if got.Content != want {
		t.Errorf("Content = %q, want %q", got.Content, want)
	}
	if got.UsedFallback {
		t.Error("UsedFallback = true, want generated copy")
	}
}

func TestComposeRecoversFromPanic(t *testing.T) {
	c := newTestComposer(WithGenerator(&fakeGenerator{panic: true}))
	got := c.Compose(context.Background(), Request{
		TemplateID: "biology_help_v1",
		UserEmail:  "learner@example.com",
		Snapshot:   snapshot(nil),
	})

	if got.Subject == "" || got.Content == "" {
		t.Fatalf("Compose() after panic = %+v, want non-empty copy", got)
	}
	if !got.UsedFallback {
		t.Error("UsedFallback = false after panic")
	}
	if got.TemplateID != "biology_help_v1" || got.RuleID != "help_biology_general" {
		t.Errorf("TemplateID, RuleID = %q, %q", got.TemplateID, got.RuleID)
	}
}

func TestComposeNilSnapshot(t *testing.T) {
	got := newTestComposer().Compose(context.Background(), Request{TemplateID: "winback_study_plan_v1", UserEmail: "new@example.com"})
	if got.Purpose != domain.PurposeWinback {
		t.Errorf("Purpose = %q, want %q", got.Purpose, domain.PurposeWinback)
	}
	if got.Subject == "" || got.Content == "" {
		t.Errorf("Compose() = %+v, want non-empty copy", got)
	}
}

func TestLearningLevel(t *testing.T) {
	tests := []struct {
		topics []string
		want   string
	}{
		{[]string{"USMLE>Step 1"}, levelGraduateMedical},
		{[]string{"History>Rome", "Immunology>T cells"}, levelGraduateMedical},
		{[]string{"Algebra>Equations"}, levelHighSchoolCollege},
		{[]string{"Art>Color"}, levelMiddleSchool},
		{nil, levelMiddleSchool},
	}
	for _, tt := range tests {
		if got := learningLevel(tt.topics); got != tt.want {
			t.Errorf("learningLevel(%v) = %q, want %q", tt.topics, got, tt.want)
		}
	}
}

func TestContainsWord(t *testing.T) {
	tests := []struct {
		text, word string
		want       bool
	}{
		{"microbiology and more", "biology", false},
		{"biology, chemistry", "biology", true},
		{"your ielts essay", "ielts", true},
		{"microbiology then biology", "biology", true},
		{"", "biology", false},
	}
	for _, tt := range tests {
		if got := containsWord(tt.text, tt.word); got != tt.want {
			t.Errorf("containsWord(%q, %q) = %v, want %v", tt.text, tt.word, got, tt.want)
		}
	}
}

func TestFirstName(t *testing.T) {
	tests := []struct {
		name, email, want string
	}{
		{"Ada", "ada@example.com", "Ada"},
		{"", "jane.doe@example.com", "Jane.Doe"},
		{"", "MARK@example.com", "Mark"},
		{"", "@example.com", "Student"},
	}
	for _, tt := range tests {
		if got := firstName(tt.name, tt.email); got != tt.want {
			t.Errorf("firstName(%q, %q) = %q, want %q", tt.name, tt.email, got, tt.want)
		}
	}
}
