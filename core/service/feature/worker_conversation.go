package feature

import (
	"sort"
	"strings"
	"time"

	"engagement_worker/core/domain"
	"engagement_worker/core/port/out"
)

const (
	maxAnalyzedMessages = 50
	maxTopTopics        = 5
	affinityWindowDays  = 30
)

type topicPattern struct {
	topic    string
	keywords []string
}

// Order matters: topics are reported in this order.
var topicPatterns = []topicPattern{
	{"Biology>Cells", []string{"cell", "cellular", "mitochondria", "nucleus", "membrane", "organelle"}},
	{"Biology>Photosynthesis", []string{"photosynthesis", "chloroplast", "sunlight", "glucose", "oxygen"}},
	{"Biology>Genetics", []string{"gene", "dna", "chromosome", "heredity", "mutation"}},
	{"History>Ancient", []string{"stone age", "neolithic", "paleolithic", "ancient", "civilization", "prehistoric"}},
	{"USMLE>Pharmacology", []string{"drug", "medication", "dosage", "side effect", "pharmacokinetics", "antibiotic", "vancomycin", "acyclovir"}},
	{"Medicine>General", []string{"medical", "patient", "treatment", "clinical", "hospital"}},
	{"Exam>Preparation", []string{"exam", "test", "quiz", "preparation", "study", "tomorrow", "today", "tonight", "prepared"}},
	{"IELTS>Listening", []string{"ielts", "listening", "band", "speaking", "reading", "writing"}},
}

var (
	negativeWords = []string{"confused", "difficult", "hard", "stuck", "frustrated", "worried", "struggling"}
	positiveWords = []string{"understand", "clear", "helpful", "good", "great", "confident", "ready"}
	distressWords = []string{"difficult", "confused", "help"}
	examWords     = []string{"exam", "test", "quiz"}
)

// userMessages returns the latest user-authored messages in time order.
func userMessages(window []domain.Event) []out.ConversationMessage {
	var msgs []out.ConversationMessage
	for _, e := range window {
		p, ok := e.Props.(domain.ConvoProps)
		if !ok || p.Role != domain.RoleUser || strings.TrimSpace(p.Text) == "" {
			continue
		}
		msgs = append(msgs, out.ConversationMessage{Content: p.Text, Timestamp: e.Timestamp})
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
	if len(msgs) > maxAnalyzedMessages {
		msgs = msgs[len(msgs)-maxAnalyzedMessages:]
	}
	return msgs
}

func joinMessages(msgs []out.ConversationMessage) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, " ")
}

// FallbackAnalysis is the keyword-based stand-in for conversation analysis.
func FallbackAnalysis(text string) *out.ConversationAnalysis {
	lower := strings.ToLower(text)

	topics := []string{}
	for _, p := range topicPatterns {
		if containsAny(lower, p.keywords...) {
			topics = append(topics, p.topic)
		}
	}

	var upcoming []domain.UpcomingEvent
	if containsAny(lower, examWords...) {
		subject := "General"
		switch {
		case hasTopicPrefix(topics, "Biology>"):
			subject = "Biology"
		case hasTopicPrefix(topics, "IELTS>"):
			subject = "IELTS"
		}
		upcoming = append(upcoming, domain.UpcomingEvent{
			Type:       "exam",
			Subject:    subject,
			Timeframe:  timeframeOf(lower, "upcoming"),
			Confidence: "medium",
		})
	}

	sentiment := 0.0
	if containsAny(lower, negativeWords...) {
		sentiment -= 0.5
	}
	if containsAny(lower, positiveWords...) {
		sentiment += 0.5
	}

	insights := domain.ConversationInsights{
		UpcomingEvents: upcoming,
		Needs:          []string{"advanced practice"},
		LearningGaps:   []string{},
	}
	if sentiment < 0 {
		insights.Needs = []string{"practice questions", "concept review"}
		insights.LearningGaps = []string{"needs more practice"}
	}
	switch {
	case sentiment > 0:
		insights.EngagementLevel = "high"
	case sentiment == 0:
		insights.EngagementLevel = "medium"
	default:
		insights.EngagementLevel = "low"
	}

	triggers := []domain.Trigger{}
	if len(upcoming) > 0 {
		triggers = append(triggers, domain.Trigger{
			Trigger:     "check_progress",
			MessageType: "how_are_you_doing",
			DaysAfter:   intPtr(2),
		})
	}

	return &out.ConversationAnalysis{
		Topics:       topics,
		SentimentAvg: sentiment,
		Triggers:     triggers,
		Insights:     insights,
	}
}

// HeuristicTriggers synthesizes follow-up triggers from plain keywords so
// downstream rules behave the same without an analyzer.
func HeuristicTriggers(text string, topics []string) []domain.Trigger {
	lower := strings.ToLower(text)
	subject := firstSubject(topics)

	var triggers []domain.Trigger
	if strings.Contains(lower, "exam") && containsAny(lower, "tomorrow", "tonight", "today") {
		tf := timeframeOf(lower, "tomorrow")
		days := 1
		if tf != "tomorrow" {
			days = 0
		}
		triggers = append(triggers, domain.Trigger{
			Trigger:     "exam_prep",
			MessageType: "last_minute_prep",
			Subject:     subject,
			Timeframe:   tf,
			DaysBefore:  intPtr(days),
		})
	}
	if strings.Contains(lower, "appointment") && strings.Contains(lower, "tomorrow") {
		triggers = append(triggers, domain.Trigger{
			Trigger:     "appointment_reminder",
			MessageType: "reminder",
			Timeframe:   "tomorrow",
		})
	}
	if containsAny(lower, distressWords...) {
		triggers = append(triggers, domain.Trigger{
			Trigger:     "learning_support",
			MessageType: "learning_support_offer",
			Subject:     subject,
		})
	}
	return triggers
}

// rankTopics orders topics by frequency, keeping first-seen order on ties.
func rankTopics(topics []string) []string {
	counts := map[string]int{}
	var order []string
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := counts[t]; !ok {
			order = append(order, t)
		}
		counts[t]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > maxTopTopics {
		order = order[:maxTopTopics]
	}
	if order == nil {
		return []string{}
	}
	return order
}

// subjectAffinity weights subject-bearing events of the last 30 days by
// recency and normalizes the weights into a distribution.
func subjectAffinity(events []domain.Event, topics []string, now time.Time) map[string]float64 {
	since := now.AddDate(0, 0, -affinityWindowDays)
	weights := map[string]float64{}
	var total float64

	add := func(subject string, at time.Time) {
		subject = strings.TrimSpace(subject)
		if subject == "" {
			return
		}
		daysAgo := now.Sub(at).Hours() / 24
		w := 1.0 - daysAgo/affinityWindowDays
		if w < 0.1 {
			w = 0.1
		}
		weights[subject] += w
		total += w
	}

	for _, e := range events {
		if e.Timestamp.Before(since) {
			continue
		}
		switch p := e.Props.(type) {
		case domain.TestAttemptProps:
			add(p.Subject, e.Timestamp)
		case domain.CourseProgressProps:
			add(p.Subject, e.Timestamp)
		case domain.TestSessionProps:
			add(p.Subject, e.Timestamp)
		}
	}
	for _, s := range topicSubjects(topics) {
		add(s, now)
	}

	out := make(map[string]float64, len(weights))
	if total == 0 {
		return out
	}
	for s, w := range weights {
		out[s] = w / total
	}
	return out
}

// topicSubjects extracts the subject part of "Subject>Topic" strings,
// de-duplicated in original order.
func topicSubjects(topics []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, t := range topics {
		subject, _, _ := strings.Cut(t, ">")
		subject = strings.TrimSpace(subject)
		if subject == "" {
			continue
		}
		if _, ok := seen[subject]; ok {
			continue
		}
		seen[subject] = struct{}{}
		out = append(out, subject)
	}
	return out
}

func firstSubject(topics []string) string {
	for _, s := range topicSubjects(topics) {
		if s != "Exam" {
			return s
		}
	}
	return ""
}

func hasTopicPrefix(topics []string, prefix string) bool {
	for _, t := range topics {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return false
}

func timeframeOf(lower, fallback string) string {
	for _, tf := range []string{"tonight", "today", "tomorrow"} {
		if strings.Contains(lower, tf) {
			return tf
		}
	}
	return fallback
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func intPtr(n int) *int { return &n }
