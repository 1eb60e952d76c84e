package content

import (
	"strings"

	"engagement_worker/core/domain"
)

// templateRules maps shipped template ids to the rule that selects them.
var templateRules = map[string]string{
	"biology_help_v1":          "help_biology_general",
	"pharmacology_help_v1":     "help_pharmacology_general",
	"immunology_help_v1":       "help_immunology_general",
	"history_help_v1":          "help_history_general",
	"exam_last_minute_prep_v1": "exam_last_minute_prep",
	"exam_followup_v1":         "exam_followup_trigger",
	"learning_support_v1":      "learning_support_trigger",
	"engagement_reward_v1":     "high_engagement_reward",
	"test_improvement_v1":      "test_performance_help",
	"course_completion_v1":     "course_completion_celebration",
	"winback_study_plan_v1":    "winback_idle",
}

// RuleIDForTemplate resolves the canonical rule id of a template. Unknown
// templates lose a trailing _vN suffix.
func RuleIDForTemplate(templateID string) string {
	if id, ok := templateRules[templateID]; ok {
		return id
	}
	return stripVersion(templateID)
}

func stripVersion(id string) string {
	i := strings.LastIndex(id, "_v")
	if i <= 0 || i+2 == len(id) {
		return id
	}
	for _, r := range id[i+2:] {
		if r < '0' || r > '9' {
			return id
		}
	}
	return id[:i]
}

// Engagement levels, from conversation count and weekly frequency.
const (
	engagementVeryHigh = "very_high"
	engagementHigh     = "high"
	engagementModerate = "moderate"
	engagementLow      = "low"
)

func engagementLevel(s *domain.FeatureSnapshot) string {
	switch {
	case s.Conversations7d > 50 && s.Frequency7d > 100:
		return engagementVeryHigh
	case s.Conversations7d > 20 && s.Frequency7d > 50:
		return engagementHigh
	case s.Conversations7d > 5 && s.Frequency7d > 10:
		return engagementModerate
	}
	return engagementLow
}

// ResolvePurpose picks the email purpose from triggers first, then from
// snapshot state.
func ResolvePurpose(s *domain.FeatureSnapshot, triggers []domain.Trigger) domain.Purpose {
	for _, t := range triggers {
		if p, ok := triggerPurpose(t); ok {
			return p
		}
	}
	switch {
	case s.RecencyDays > 7:
		return domain.PurposeWinback
	case engagementLevel(s) == engagementVeryHigh:
		return domain.PurposeEngagementReward
	case s.CompletedCourses > 0:
		return domain.PurposeCompletionCelebration
	case s.TestAccuracy > 0.8:
		return domain.PurposePerformancePraise
	}
	return domain.PurposeEncouragement
}

func triggerPurpose(t domain.Trigger) (domain.Purpose, bool) {
	kind, stage := t.Kind(), t.MessageType
	switch {
	case isExamPrepTrigger(t):
		return domain.PurposeExamLastMinutePrep, true
	case stage == "how_did_it_go" || stage == "post_exam" || kind == "exam_followup" || kind == "post_exam":
		return domain.PurposeExamFollowup, true
	case kind == "appointment_reminder" || stage == "reminder":
		return domain.PurposeAppointmentReminder, true
	case kind == "appointment_followup" || stage == "session_feedback" || stage == "post_appointment":
		return domain.PurposeAppointmentFollowup, true
	case kind == "learning_support" || stage == "learning_support_offer":
		return domain.PurposeLearningSupport, true
	}
	return "", false
}

func isExamPrepTrigger(t domain.Trigger) bool {
	kind := t.Kind()
	return t.MessageType == "last_minute_prep" || kind == "exam_prep" || kind == "pre_exam"
}

// Learning levels drive the greeting tier.
const (
	levelGraduateMedical   = "graduate_medical"
	levelHighSchoolCollege = "high_school_college"
	levelMiddleSchool      = "middle_school"
)

var (
	advancedIndicators     = []string{"USMLE", "Medicine", "Pharmacology", "Immunology", "Pathology"}
	intermediateIndicators = []string{"Biology", "Chemistry", "Physics", "History", "Algebra"}
)

func learningLevel(topics []string) string {
	joined := strings.Join(topics, " ")
	for _, ind := range advancedIndicators {
		if strings.Contains(joined, ind) {
			return levelGraduateMedical
		}
	}
	for _, ind := range intermediateIndicators {
		if strings.Contains(joined, ind) {
			return levelHighSchoolCollege
		}
	}
	return levelMiddleSchool
}

func greeting(level string) string {
	if level == levelMiddleSchool {
		return "Hi there!"
	}
	return "Hello!"
}

// topicSubjects returns the Subject part of each Subject>Topic string, in
// order, without duplicates.
func topicSubjects(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	var subjects []string
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
		subjects = append(subjects, subject)
	}
	return subjects
}

// isGenericSubject reports subjects that name no discipline.
func isGenericSubject(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "general", "exam", "your studies":
		return true
	}
	return false
}

func defaultSubjectArea(subjects []string) string {
	for _, s := range subjects {
		if !isGenericSubject(s) {
			return s
		}
	}
	return ""
}
