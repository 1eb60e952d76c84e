package domain

import (
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// Event Types
// =============================================================================

// EventName is the closed set of normalized activity event tags.
type EventName string

const (
	EventProfileUpsert        EventName = "user_profile_upsert"
	EventConvoMessage         EventName = "convo_msg"
	EventTestAttempt          EventName = "test_attempt"
	EventPresentationProgress EventName = "presentation_progress"
	EventCourseProgress       EventName = "icp_progress"
	EventLoginSession         EventName = "login_session"

	// Alternate ingestion paths
	EventLogin              EventName = "login"
	EventTestSessionStarted EventName = "test_session_started"
)

// EventSource is the channel an event originated from.
type EventSource string

const (
	SourceWeb       EventSource = "web"
	SourceDashboard EventSource = "dashboard"
	SourceBatch     EventSource = "batch"
)

// Event is an immutable fact about user activity.
type Event struct {
	EventID   string      `json:"event_id"`
	UserID    string      `json:"user_id"`
	Timestamp time.Time   `json:"timestamp"`
	Name      EventName   `json:"name"`
	Source    EventSource `json:"source"`
	SessionID string      `json:"session_id,omitempty"`
	Props     EventProps  `json:"props"`
}

// DedupeKey identifies an event independent of its generated id.
func (e *Event) DedupeKey() string {
	return strings.Join([]string{
		e.UserID,
		string(e.Name),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.SessionID,
		e.Props.dedupeHint(),
	}, "|")
}

// NormalizeEmail trims and lowercases an email so it can be used as the user key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// =============================================================================
// Event Props (tagged union)
// =============================================================================

// EventProps is implemented by exactly one props struct per event name.
type EventProps interface {
	EventName() EventName
	dedupeHint() string
}

// ProfileProps carries the profile snapshot for user_profile_upsert.
type ProfileProps struct {
	Email        string `json:"email"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Plan         string `json:"plan,omitempty"`
	Grade        string `json:"grade,omitempty"`
	Avatar       string `json:"avatar,omitempty"`
	ConsentEmail bool   `json:"consent_email"`
}

func (ProfileProps) EventName() EventName { return EventProfileUpsert }
func (p ProfileProps) dedupeHint() string { return p.Email }

// ConvoRole is the author of a conversation message.
type ConvoRole string

const (
	RoleUser ConvoRole = "user"
	RoleAI   ConvoRole = "ai"
)

// ConvoProps carries one side of a conversation turn.
type ConvoProps struct {
	Role   ConvoRole `json:"role"`
	Text   string    `json:"text"`
	Avatar string    `json:"avatar,omitempty"`
	Turn   int       `json:"turn"`
}

func (ConvoProps) EventName() EventName { return EventConvoMessage }
func (p ConvoProps) dedupeHint() string {
	return string(p.Role) + ":" + strconv.Itoa(p.Turn)
}

// TestResponse is one graded question response embedded in test events.
type TestResponse struct {
	Question        string  `json:"question,omitempty"`
	Response        *string `json:"response,omitempty"`
	CorrectResponse *string `json:"correct_response,omitempty"`
	Topic           string  `json:"topic,omitempty"`
}

// IsCorrect reports exact equality between the learner response and the key.
// A missing answer key is never correct.
func (r TestResponse) IsCorrect() bool {
	if r.CorrectResponse == nil || r.Response == nil {
		return false
	}
	return *r.Response == *r.CorrectResponse
}

// TestAttemptProps carries a single graded attempt plus the full response map
// of the record it came from.
type TestAttemptProps struct {
	SeriesID    string                    `json:"series_id,omitempty"`
	SeriesTitle string                    `json:"series_title,omitempty"`
	Subject     string                    `json:"subject,omitempty"`
	Topic       string                    `json:"topic,omitempty"`
	Question    string                    `json:"question,omitempty"`
	IsCorrect   bool                      `json:"is_correct"`
	Index       int                       `json:"index"`
	Responses   map[string][]TestResponse `json:"responses,omitempty"`
	Table       string                    `json:"table,omitempty"`
}

func (TestAttemptProps) EventName() EventName { return EventTestAttempt }
func (p TestAttemptProps) dedupeHint() string {
	return p.Table + ":" + p.SeriesID + ":" + strconv.Itoa(p.Index)
}

// PresentationProps carries slide progress for a presentation.
type PresentationProps struct {
	PresentationID   string `json:"presentation_id"`
	PresentationName string `json:"presentation_name,omitempty"`
	Trigger          string `json:"trigger,omitempty"`
	SlideNumber      int    `json:"slide_number"`
	Chapter          string `json:"chapter,omitempty"`
	TotalLength      int    `json:"total_length"`
	IsCompleted      bool   `json:"is_completed"`
}

func (PresentationProps) EventName() EventName { return EventPresentationProgress }
func (p PresentationProps) dedupeHint() string {
	return p.PresentationID + ":" + p.Trigger + ":" + strconv.Itoa(p.SlideNumber)
}

// CourseProgressProps carries the derived progress of one course plan.
type CourseProgressProps struct {
	CourseID          string  `json:"course_id"`
	Title             string  `json:"title,omitempty"`
	Subject           string  `json:"subject,omitempty"`
	TotalLessons      int     `json:"total_lessons"`
	CompletedLessons  int     `json:"completed_lessons"`
	TotalSections     int     `json:"total_sections"`
	CompletedSections int     `json:"completed_sections"`
	ProgressPercent   float64 `json:"progress_percent"`
	CompletionRate    float64 `json:"completion_rate"`
	IsCompleted       bool    `json:"is_completed"`
	CurrentLesson     int     `json:"current_lesson,omitempty"`
	CurrentSection    string  `json:"current_section,omitempty"`
}

func (CourseProgressProps) EventName() EventName { return EventCourseProgress }
func (p CourseProgressProps) dedupeHint() string { return p.CourseID }

// LoginProps carries a login session. Marker is "start" or "end".
type LoginProps struct {
	Marker    string `json:"marker"`
	SessionID string `json:"login_session_id,omitempty"`
	Device    string `json:"device,omitempty"`
	IPHash    string `json:"ip_hash,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

func (LoginProps) EventName() EventName { return EventLoginSession }
func (p LoginProps) dedupeHint() string { return p.SessionID + ":" + p.Marker }

// TestSessionProps carries the position of a learner inside a test series.
// The event timestamp is the last activity on the series.
type TestSessionProps struct {
	SeriesID        string `json:"series_id"`
	Title           string `json:"title,omitempty"`
	Subject         string `json:"subject,omitempty"`
	TotalQuestions  int    `json:"total_questions"`
	CurrentPosition int    `json:"current_position"`
	Table           string `json:"table,omitempty"`
}

func (TestSessionProps) EventName() EventName { return EventTestSessionStarted }
func (p TestSessionProps) dedupeHint() string {
	return p.Table + ":" + p.SeriesID + ":" + strconv.Itoa(p.CurrentPosition)
}

// Incomplete reports whether the learner stopped before the last question.
func (p TestSessionProps) Incomplete() bool {
	return p.TotalQuestions > 0 && p.CurrentPosition < p.TotalQuestions
}
