package feature

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"engagement_worker/core/domain"
	"engagement_worker/core/port/out"
)

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

const testEmail = "kim@example.com"

func ev(at time.Time, props domain.EventProps) domain.Event {
	return domain.Event{UserID: testEmail, Timestamp: at, Name: props.EventName(), Props: props}
}

func ago(d time.Duration) time.Time { return fixedNow.Add(-d) }

func day(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

type fakeAnalyzer struct {
	res   *out.ConversationAnalysis
	err   error
	calls int
	got   []out.ConversationMessage
}

func (f *fakeAnalyzer) Analyze(_ context.Context, msgs []out.ConversationMessage) (*out.ConversationAnalysis, error) {
	f.calls++
	f.got = msgs
	return f.res, f.err
}

func TestComputeColdUser(t *testing.T) {
	snap := NewEngine().Compute(context.Background(), testEmail, nil, fixedNow, EmailState{ConsentEmail: true})

	if snap.RecencyDays != domain.RecencyNoActivity {
		t.Errorf("RecencyDays = %d, want %d", snap.RecencyDays, domain.RecencyNoActivity)
	}
	if snap.ChurnRisk != domain.ChurnHigh {
		t.Errorf("ChurnRisk = %s, want high", snap.ChurnRisk)
	}
	if snap.Frequency7d != 0 || snap.Tests7d != 0 || snap.CompletedCourses != 0 {
		t.Errorf("counts should be zero: %+v", snap)
	}
	if snap.AIEmailTriggers == nil || snap.TopTopics == nil {
		t.Errorf("list fields should be empty, not nil")
	}
}

func TestRecencyDays(t *testing.T) {
	tests := []struct {
		name   string
		events []domain.Event
		want   int
	}{
		{"none", nil, domain.RecencyNoActivity},
		{"just now", []domain.Event{ev(fixedNow, domain.LoginProps{Marker: "start"})}, 0},
		{"three days", []domain.Event{ev(ago(day(3)), domain.LoginProps{Marker: "start"})}, 3},
		{"latest wins", []domain.Event{
			ev(ago(day(20)), domain.LoginProps{Marker: "start"}),
			ev(ago(day(2)+time.Hour), domain.LoginProps{Marker: "start"}),
		}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := recencyDays(tt.events, fixedNow); got != tt.want {
				t.Errorf("recencyDays = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStudyMinutes(t *testing.T) {
	tests := []struct {
		name   string
		events []domain.Event
		want   int
	}{
		{
			name: "presentation pair",
			events: []domain.Event{
				ev(ago(2*time.Hour), domain.PresentationProps{PresentationID: "p1", Trigger: "start"}),
				ev(ago(90*time.Minute), domain.PresentationProps{PresentationID: "p1", Trigger: "end"}),
			},
			want: 30,
		},
		{
			name: "presentation capped",
			events: []domain.Event{
				ev(ago(6*time.Hour), domain.PresentationProps{PresentationID: "p1", Trigger: "start"}),
				ev(ago(time.Hour), domain.PresentationProps{PresentationID: "p1", Trigger: "end"}),
			},
			want: 120,
		},
		{
			name: "login pair plus presentation",
			events: []domain.Event{
				ev(ago(5*time.Hour), domain.LoginProps{Marker: "start", SessionID: "s1"}),
				ev(ago(4*time.Hour), domain.LoginProps{Marker: "end", SessionID: "s1"}),
				ev(ago(2*time.Hour), domain.PresentationProps{PresentationID: "p1", Trigger: "start"}),
				ev(ago(110*time.Minute), domain.PresentationProps{PresentationID: "p1", Trigger: "end"}),
			},
			want: 70,
		},
		{
			name: "conversation approximation",
			events: []domain.Event{
				ev(ago(time.Hour), domain.ConvoProps{Role: domain.RoleUser, Text: "a"}),
				ev(ago(time.Hour), domain.ConvoProps{Role: domain.RoleAI, Text: "b"}),
				ev(ago(time.Hour), domain.ConvoProps{Role: domain.RoleUser, Text: "c"}),
			},
			want: 4,
		},
		{
			name: "unpaired session floor",
			events: []domain.Event{
				ev(ago(time.Hour), domain.LoginProps{Marker: "start", SessionID: "s1"}),
			},
			want: 5,
		},
		{
			name:   "nothing",
			events: []domain.Event{ev(ago(time.Hour), domain.ProfileProps{Email: testEmail})},
			want:   0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := studyMinutes(tt.events); got != tt.want {
				t.Errorf("studyMinutes = %d, want %d", got, tt.want)
			}
		})
	}
}

func attemptEvents(start time.Time, correct []bool, subject string) []domain.Event {
	var events []domain.Event
	for i, c := range correct {
		events = append(events, ev(start.Add(time.Duration(i)*time.Minute), domain.TestAttemptProps{
			SeriesID:  "s1",
			Subject:   subject,
			Topic:     "Mechanics",
			IsCorrect: c,
			Index:     i,
		}))
	}
	return events
}

func pattern(n, correct int) []bool {
	out := make([]bool, n)
	for i := 0; i < correct; i++ {
		out[i] = true
	}
	return out
}

func TestImprovementTrend(t *testing.T) {
	older := pattern(10, 5)
	recent := pattern(10, 9)
	events := attemptEvents(ago(day(2)), append(older, recent...), "Physics")

	snap := NewEngine().Compute(context.Background(), testEmail, events, fixedNow, EmailState{})

	if snap.Tests7d != 20 {
		t.Fatalf("Tests7d = %d, want 20", snap.Tests7d)
	}
	if !approx(snap.ITPImprovementTrend, 0.4) {
		t.Errorf("ITPImprovementTrend = %v, want 0.4", snap.ITPImprovementTrend)
	}
	if !approx(snap.TestAccuracy, 0.7) {
		t.Errorf("TestAccuracy = %v, want 0.7", snap.TestAccuracy)
	}
	if !approx(snap.AvgITPScore, 70) {
		t.Errorf("AvgITPScore = %v, want 70", snap.AvgITPScore)
	}
}

func TestTestStats(t *testing.T) {
	tests := []struct {
		name       string
		attempts   []gradedAttempt
		wantTrend  float64
		wantWeak   []string
		wantStrong []string
	}{
		{
			name: "trend needs ten attempts",
			attempts: func() []gradedAttempt {
				var a []gradedAttempt
				for i := 0; i < 9; i++ {
					a = append(a, gradedAttempt{correct: i > 4})
				}
				return a
			}(),
			wantTrend: 0, wantWeak: []string{}, wantStrong: []string{},
		},
		{
			name: "weak and strong subjects",
			attempts: []gradedAttempt{
				{subject: "Chemistry", correct: false}, {subject: "Chemistry", correct: false}, {subject: "Chemistry", correct: true},
				{subject: "Biology", correct: true}, {subject: "Biology", correct: true}, {subject: "Biology", correct: true},
				{subject: "History", correct: false}, {subject: "History", correct: false},
			},
			wantWeak: []string{"Chemistry"}, wantStrong: []string{"Biology"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeTestStats(tt.attempts)
			if !approx(got.trend, tt.wantTrend) {
				t.Errorf("trend = %v, want %v", got.trend, tt.wantTrend)
			}
			if !reflect.DeepEqual(got.weakSubjects, tt.wantWeak) {
				t.Errorf("weak = %v, want %v", got.weakSubjects, tt.wantWeak)
			}
			if !reflect.DeepEqual(got.strongSubjects, tt.wantStrong) {
				t.Errorf("strong = %v, want %v", got.strongSubjects, tt.wantStrong)
			}
		})
	}
}

func TestFlattenAttemptsDedupesEmbeddedMaps(t *testing.T) {
	yes, no := "A", "B"
	responses := map[string][]domain.TestResponse{
		"2025-03-08,10:00:00": {{Response: &yes, CorrectResponse: &yes}, {Response: &no, CorrectResponse: &yes}},
		"2025-03-09,10:00:00": {{Response: &yes, CorrectResponse: nil}},
	}
	props := domain.TestAttemptProps{SeriesID: "s1", Subject: "Biology", Responses: responses, Table: domain.TableTestSeries}
	events := []domain.Event{ev(ago(day(1)), props), ev(ago(day(1)), props), ev(ago(day(1)), props)}

	got := flattenAttempts(events, fixedNow)
	if len(got) != 3 {
		t.Fatalf("attempts = %d, want 3", len(got))
	}
	if !got[0].at.Before(got[2].at) {
		t.Errorf("attempts should be time ordered")
	}
	if accuracyOf(got) != 1.0/3.0 {
		t.Errorf("accuracy = %v, want 1/3", accuracyOf(got))
	}
}

func TestCourseStats(t *testing.T) {
	course := func(id, title string, done, total int) domain.CourseProgressProps {
		rate := 0.0
		if total > 0 {
			rate = float64(done) / float64(total)
		}
		return domain.CourseProgressProps{
			CourseID: id, Title: title, CompletedSections: done, TotalSections: total,
			CompletionRate: rate, IsCompleted: total > 0 && done == total,
		}
	}
	events := []domain.Event{
		// older snapshot of c1 is superseded
		ev(ago(day(30)), course("c1", "Algebra", 1, 4)),
		ev(ago(day(1)), course("c1", "Algebra", 4, 4)),
		ev(ago(day(3)), course("c2", "Cells", 1, 2)),
		ev(ago(day(20)), course("c3", "Ancient History", 1, 4)),
		ev(ago(day(40)), course("c4", "Genetics", 2, 2)),
	}

	cs := computeCourseStats(latestCourses(events), fixedNow)

	if cs.completed != 2 || cs.active != 1 {
		t.Errorf("completed/active = %d/%d, want 2/1", cs.completed, cs.active)
	}
	if !reflect.DeepEqual(cs.completedTitles, []string{"Algebra", "Genetics"}) {
		t.Errorf("completedTitles = %v", cs.completedTitles)
	}
	if !reflect.DeepEqual(cs.stalled, []string{"Ancient History"}) {
		t.Errorf("stalled = %v", cs.stalled)
	}
	if want := (1.0 + 0.5 + 0.25 + 1.0) / 4; !approx(cs.completionRate, want) {
		t.Errorf("completionRate = %v, want %v", cs.completionRate, want)
	}
}

func TestChurnRisk(t *testing.T) {
	tests := []struct {
		recency   int
		freq      int
		sentiment float64
		want      domain.ChurnRisk
	}{
		{0, 10, 0.5, domain.ChurnLow},
		{4, 10, 0, domain.ChurnLow},
		{4, 4, 0, domain.ChurnMedium},
		{8, 10, 0, domain.ChurnMedium},
		{8, 1, 0, domain.ChurnHigh},
		{0, 1, -0.5, domain.ChurnHigh},
		{domain.RecencyNoActivity, 0, 0, domain.ChurnHigh},
	}
	for _, tt := range tests {
		if got := churnRisk(tt.recency, tt.freq, tt.sentiment); got != tt.want {
			t.Errorf("churnRisk(%d, %d, %v) = %s, want %s", tt.recency, tt.freq, tt.sentiment, got, tt.want)
		}
	}
}

func TestHeuristicTriggers(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []domain.Trigger
	}{
		{
			name: "exam tomorrow",
			text: "I have a Biology exam tomorrow about cells",
			want: []domain.Trigger{{Trigger: "exam_prep", MessageType: "last_minute_prep", Subject: "Biology", Timeframe: "tomorrow", DaysBefore: intPtr(1)}},
		},
		{
			name: "exam tonight",
			text: "exam tonight!",
			want: []domain.Trigger{{Trigger: "exam_prep", MessageType: "last_minute_prep", Timeframe: "tonight", DaysBefore: intPtr(0)}},
		},
		{
			name: "appointment",
			text: "my appointment is tomorrow",
			want: []domain.Trigger{{Trigger: "appointment_reminder", MessageType: "reminder", Timeframe: "tomorrow"}},
		},
		{
			name: "distress",
			text: "this is so confusing, I need help",
			want: []domain.Trigger{{Trigger: "learning_support", MessageType: "learning_support_offer"}},
		},
		{name: "nothing", text: "thanks for the lesson", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topics := FallbackAnalysis(tt.text).Topics
			got := HeuristicTriggers(tt.text, topics)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("HeuristicTriggers(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestFallbackAnalysis(t *testing.T) {
	a := FallbackAnalysis("I'm confused about mitochondria before the quiz tonight")

	if !reflect.DeepEqual(a.Topics, []string{"Biology>Cells", "Exam>Preparation"}) {
		t.Errorf("Topics = %v", a.Topics)
	}
	if a.SentimentAvg != -0.5 {
		t.Errorf("SentimentAvg = %v, want -0.5", a.SentimentAvg)
	}
	if a.Insights.EngagementLevel != "low" {
		t.Errorf("EngagementLevel = %q, want low", a.Insights.EngagementLevel)
	}
	if len(a.Insights.UpcomingEvents) != 1 || a.Insights.UpcomingEvents[0].Subject != "Biology" || a.Insights.UpcomingEvents[0].Timeframe != "tonight" {
		t.Errorf("UpcomingEvents = %+v", a.Insights.UpcomingEvents)
	}
}

func TestComputeConversation(t *testing.T) {
	convo := []domain.Event{
		ev(ago(day(1)), domain.ConvoProps{Role: domain.RoleUser, Text: "Physics exam tonight, help!"}),
		ev(ago(day(1)), domain.ConvoProps{Role: domain.RoleAI, Text: "Let's review kinematics."}),
		ev(ago(day(10)), domain.ConvoProps{Role: domain.RoleUser, Text: "old message"}),
	}

	t.Run("analyzer result is used", func(t *testing.T) {
		fa := &fakeAnalyzer{res: &out.ConversationAnalysis{
			Topics:       []string{"Physics>Kinematics", "Physics>Kinematics", "Math>Algebra"},
			SentimentAvg: 0.2,
			Triggers:     []domain.Trigger{{Trigger: "exam_followup", MessageType: "how_did_it_go"}},
		}}
		snap := NewEngine(WithAnalyzer(fa)).Compute(context.Background(), testEmail, convo, fixedNow, EmailState{})

		if fa.calls != 1 || len(fa.got) != 1 {
			t.Fatalf("analyzer calls = %d with %d messages, want 1 with 1", fa.calls, len(fa.got))
		}
		if !reflect.DeepEqual(snap.TopTopics, []string{"Physics>Kinematics", "Math>Algebra"}) {
			t.Errorf("TopTopics = %v", snap.TopTopics)
		}
		if !snap.HasExamPostCheckin || snap.HasExamLastMinutePrep {
			t.Errorf("flags = prep %v post %v", snap.HasExamLastMinutePrep, snap.HasExamPostCheckin)
		}
		if snap.Conversations7d != 1 {
			t.Errorf("Conversations7d = %d, want 1", snap.Conversations7d)
		}
		var sum float64
		for _, w := range snap.SubjectAffinity {
			sum += w
		}
		if sum > 1+1e-9 {
			t.Errorf("affinity sums to %v", sum)
		}
	})

	t.Run("analyzer failure falls back to heuristics", func(t *testing.T) {
		fa := &fakeAnalyzer{err: errors.New("upstream down")}
		snap := NewEngine(WithAnalyzer(fa)).Compute(context.Background(), testEmail, convo, fixedNow, EmailState{})

		if !snap.HasExamLastMinutePrep {
			t.Errorf("expected exam prep trigger from heuristics, got %+v", snap.AIEmailTriggers)
		}
		if !snap.HasLearningSupport {
			t.Errorf("expected learning support trigger from heuristics")
		}
	})

	t.Run("no analyzer behaves like failure", func(t *testing.T) {
		snap := NewEngine().Compute(context.Background(), testEmail, convo, fixedNow, EmailState{})
		if !snap.HasExamLastMinutePrep {
			t.Errorf("expected exam prep trigger without analyzer")
		}
	})
}

func TestStudyGaps(t *testing.T) {
	var attempts []gradedAttempt
	add := func(topic, subject string, n, correct int) {
		for i := 0; i < n; i++ {
			attempts = append(attempts, gradedAttempt{topic: topic, subject: subject, table: domain.TableTestSeries, correct: i < correct})
		}
	}
	add("Genetics", "Biology", 6, 2)
	add("Cells", "Biology", 10, 4)
	add("Optics", "Physics", 4, 0)
	add("Algebra", "Math", 5, 4)

	icp := domain.CourseProgressProps{CourseID: "c1", Title: "Cells 101", CompletedSections: 1, TotalSections: 3}
	session := domain.TestSessionProps{SeriesID: "t1", Title: "Kinematics", TotalQuestions: 20, CurrentPosition: 7, Table: domain.TableTestSeries}
	events := []domain.Event{
		ev(ago(day(20)), icp),
		ev(ago(day(9)), session),
	}

	g := computeStudyGaps(attempts, events, latestCourses(events), fixedNow)

	if len(g.weakTopics) != 2 || g.weakTopics[0].Topic != "Genetics" || g.weakTopics[1].Topic != "Cells" {
		t.Fatalf("weakTopics = %+v", g.weakTopics)
	}
	if len(g.recommendations) != 2 || g.recommendations[0].Subject != "Biology" {
		t.Errorf("recommendations = %+v", g.recommendations)
	}
	if g.stalledICP == nil || g.stalledITP == nil {
		t.Fatalf("expected both stalled candidates, got icp=%v itp=%v", g.stalledICP, g.stalledITP)
	}
	if g.resume == nil || g.resume.Kind != "itp" || g.resume.DaysSinceLastActivity != 9 {
		t.Errorf("resume = %+v, want itp idle 9 days", g.resume)
	}
}
