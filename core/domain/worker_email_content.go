package domain

import "time"

// Purpose is the single semantic intent of a generated email.
type Purpose string

const (
	PurposeExamLastMinutePrep    Purpose = "exam_last_minute_prep"
	PurposeExamFollowup          Purpose = "exam_followup"
	PurposeAppointmentReminder   Purpose = "appointment_reminder"
	PurposeAppointmentFollowup   Purpose = "appointment_followup"
	PurposeLearningSupport       Purpose = "learning_support"
	PurposeWinback               Purpose = "winback"
	PurposeEngagementReward      Purpose = "engagement_reward"
	PurposeCompletionCelebration Purpose = "completion_celebration"
	PurposePerformancePraise     Purpose = "performance_praise"
	PurposeEncouragement         Purpose = "learning_encouragement"
)

// EmailContent is the composed email for one decision.
type EmailContent struct {
	Subject      string    `json:"subject"`
	Content      string    `json:"content"`
	TemplateID   string    `json:"template_id"`
	RuleID       string    `json:"rule_id"`
	Purpose      Purpose   `json:"purpose"`
	SubjectArea  string    `json:"subject_area,omitempty"`
	DayHint      string    `json:"day_hint,omitempty"`
	UsedFallback bool      `json:"used_fallback"`
	GeneratedAt  time.Time `json:"generated_at"`
}
