package domain

import "time"

// RecencyNoActivity is the recency sentinel for users without any event.
const RecencyNoActivity = 999

// ChurnRisk buckets the weighted churn score.
type ChurnRisk string

const (
	ChurnLow    ChurnRisk = "low"
	ChurnMedium ChurnRisk = "medium"
	ChurnHigh   ChurnRisk = "high"
)

// =============================================================================
// Triggers & Conversation Insights
// =============================================================================

// Trigger is a time-sensitive hint mined from conversation text.
type Trigger struct {
	Trigger     string `json:"trigger" yaml:"trigger"`
	TriggerType string `json:"trigger_type,omitempty" yaml:"trigger_type,omitempty"`
	MessageType string `json:"message_type,omitempty" yaml:"message_type,omitempty"`
	Subject     string `json:"subject,omitempty" yaml:"subject,omitempty"`
	DaysBefore  *int   `json:"days_before,omitempty" yaml:"days_before,omitempty"`
	DaysAfter   *int   `json:"days_after,omitempty" yaml:"days_after,omitempty"`
	Timeframe   string `json:"timeframe,omitempty" yaml:"timeframe,omitempty"`
}

// Kind returns trigger, falling back to trigger_type.
func (t Trigger) Kind() string {
	if t.Trigger != "" {
		return t.Trigger
	}
	return t.TriggerType
}

// UpcomingEvent is an exam or appointment mentioned in conversation.
type UpcomingEvent struct {
	Type       string `json:"type"`
	Subject    string `json:"subject,omitempty"`
	Context    string `json:"context,omitempty"`
	Timeframe  string `json:"timeframe,omitempty"`
	Confidence string `json:"confidence,omitempty"`
}

// ConversationInsights is the qualitative part of a conversation analysis.
type ConversationInsights struct {
	EngagementLevel string          `json:"engagement_level,omitempty"`
	LearningGaps    []string        `json:"learning_gaps,omitempty"`
	UpcomingEvents  []UpcomingEvent `json:"upcoming_events,omitempty"`
	Needs           []string        `json:"needs,omitempty"`
}

// =============================================================================
// Study Gaps
// =============================================================================

// WeakTopic is a topic with enough attempts and low accuracy.
type WeakTopic struct {
	Topic    string  `json:"topic"`
	Subject  string  `json:"subject"`
	Attempts int     `json:"attempts"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
	Source   string  `json:"source,omitempty"`
}

// CourseRecommendation is a course-generation request built from a weak topic.
type CourseRecommendation struct {
	Subject     string `json:"subject"`
	Topic       string `json:"topic"`
	Description string `json:"description"`
}

// ResumeTarget names what a stalled learner should resume.
type ResumeTarget struct {
	Kind                  string    `json:"kind"` // icp | itp
	Title                 string    `json:"title"`
	Subject               string    `json:"subject,omitempty"`
	DaysSinceLastActivity int       `json:"days_since_last_activity"`
	DaysOverThreshold     int       `json:"days_over_threshold"`
	LastActivity          time.Time `json:"last_activity"`
}

// =============================================================================
// Feature Snapshot
// =============================================================================

// FeatureSnapshot is recomputed wholesale for a user on every run.
type FeatureSnapshot struct {
	UserEmail string    `json:"user_email"`
	AsOf      time.Time `json:"as_of"`
	FirstName string    `json:"first_name,omitempty"`
	Timezone  string    `json:"timezone,omitempty"`

	// Activity
	RecencyDays     int `json:"recency_days"`
	Frequency7d     int `json:"frequency_7d"`
	Minutes7d       int `json:"minutes_7d"`
	Conversations7d int `json:"conversations_7d"`

	// Tests
	Tests7d             int      `json:"tests_7d"`
	TestAccuracy        float64  `json:"test_accuracy"`
	AvgITPScore         float64  `json:"avg_itp_score"`
	ITPImprovementTrend float64  `json:"itp_improvement_trend"`
	WeakSubjects        []string `json:"weak_subjects"`
	StrongSubjects      []string `json:"strong_subjects"`

	// Courses
	ICPCompletionRate     float64  `json:"icp_completion_rate"`
	ActiveCourses         int      `json:"active_courses"`
	CompletedCourses      int      `json:"completed_courses"`
	CompletedCourseTitles []string `json:"completed_course_titles"`
	StalledCourses        []string `json:"stalled_courses"`

	// Conversation
	TopTopics            []string             `json:"top_topics"`
	SubjectAffinity      map[string]float64   `json:"subject_affinity"`
	ConvoSentiment7dAvg  float64              `json:"convo_sentiment_7d_avg"`
	AIEmailTriggers      []Trigger            `json:"ai_email_triggers"`
	ConversationInsights ConversationInsights `json:"conversation_insights"`

	// Risk & email state
	ChurnRisk       ChurnRisk `json:"churn_risk"`
	Unsubscribed    bool      `json:"unsubscribed"`
	ConsentEmail    bool      `json:"consent_email"`
	EmailsSent7d    int       `json:"emails_sent_7d"`
	EmailsSentToday int       `json:"emails_sent_today"`

	// Derived trigger flags
	HasExamLastMinutePrep bool `json:"has_exam_last_minute_prep"`
	HasExamPostCheckin    bool `json:"has_exam_post_checkin"`
	HasLearningSupport    bool `json:"has_learning_support"`

	// Study gaps
	HasWeakTopics      bool                   `json:"has_weak_topics"`
	WeakTopicsDetailed []WeakTopic            `json:"weak_topics_detailed"`
	ICPRecommendations []CourseRecommendation `json:"icp_recommendations"`
	StalledICPRecent   bool                   `json:"stalled_icp_recent"`
	StalledITPRecent   bool                   `json:"stalled_itp_recent"`
	ResumeTarget       *ResumeTarget          `json:"resume_target,omitempty"`
}

// ColdSnapshot is the snapshot of a user without activity.
func ColdSnapshot(email string, now time.Time) *FeatureSnapshot {
	return &FeatureSnapshot{
		UserEmail:             email,
		AsOf:                  now,
		RecencyDays:           RecencyNoActivity,
		WeakSubjects:          []string{},
		StrongSubjects:        []string{},
		CompletedCourseTitles: []string{},
		StalledCourses:        []string{},
		TopTopics:             []string{},
		SubjectAffinity:       map[string]float64{},
		AIEmailTriggers:       []Trigger{},
		ChurnRisk:             ChurnHigh,
		ConsentEmail:          true,
		WeakTopicsDetailed:    []WeakTopic{},
		ICPRecommendations:    []CourseRecommendation{},
	}
}
