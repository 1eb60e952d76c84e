package domain

import "time"

// =============================================================================
// Email Rule Types
// =============================================================================

// Rule is a declarative email rule. Rules are read-only once loaded.
type Rule struct {
	ID     string     `json:"id"`
	When   Condition  `json:"-"`
	Action RuleAction `json:"action"`
}

// RuleAction is what happens when a rule wins.
type RuleAction struct {
	TemplateID   string `json:"template_id"`
	Priority     int    `json:"priority"`
	CooldownDays int    `json:"cooldown_days"`
}

// Decision is the single email action chosen for a user in one run.
type Decision struct {
	UserEmail  string           `json:"user_email"`
	RuleID     string           `json:"rule_id"`
	TemplateID string           `json:"template_id"`
	Priority   int              `json:"priority"`
	Features   *FeatureSnapshot `json:"features"`
	Timestamp  time.Time        `json:"timestamp"`
}

// =============================================================================
// Feature Fields
// =============================================================================

// Field names a Feature Snapshot field that rules may reference.
type Field string

const (
	FieldRecencyDays         Field = "recency_days"
	FieldFrequency7d         Field = "frequency_7d"
	FieldMinutes7d           Field = "minutes_7d"
	FieldConversations7d     Field = "conversations_7d"
	FieldTests7d             Field = "tests_7d"
	FieldTestAccuracy        Field = "test_accuracy"
	FieldAvgITPScore         Field = "avg_itp_score"
	FieldITPImprovementTrend Field = "itp_improvement_trend"
	FieldWeakSubjects        Field = "weak_subjects"
	FieldStrongSubjects      Field = "strong_subjects"
	FieldICPCompletionRate   Field = "icp_completion_rate"
	FieldActiveCourses       Field = "active_courses"
	FieldCompletedCourses    Field = "completed_courses"
	FieldCompletedTitles     Field = "completed_course_titles"
	FieldStalledCourses      Field = "stalled_courses"
	FieldTopTopics           Field = "top_topics"
	FieldConvoSentiment      Field = "convo_sentiment_7d_avg"
	FieldAIEmailTriggers     Field = "ai_email_triggers"
	FieldChurnRisk           Field = "churn_risk"
	FieldUnsubscribed        Field = "unsubscribed"
	FieldEmailsSent7d        Field = "emails_sent_7d"
	FieldHasExamPrep         Field = "has_exam_last_minute_prep"
	FieldHasExamPostCheckin  Field = "has_exam_post_checkin"
	FieldHasLearningSupport  Field = "has_learning_support"
	FieldHasWeakTopics       Field = "has_weak_topics"
	FieldStalledICPRecent    Field = "stalled_icp_recent"
	FieldStalledITPRecent    Field = "stalled_itp_recent"
)

// =============================================================================
// Values
// =============================================================================

// ValueKind tags a literal in a rule condition.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueNumber
	ValueString
	ValueBool
)

// Value is a rule literal.
type Value struct {
	Kind ValueKind
	Num  float64
	Str  string
	Bool bool
}

func NumberValue(n float64) Value { return Value{Kind: ValueNumber, Num: n} }
func StringValue(s string) Value  { return Value{Kind: ValueString, Str: s} }
func BoolValue(b bool) Value      { return Value{Kind: ValueBool, Bool: b} }

// Any returns the literal as a plain Go value.
func (v Value) Any() any {
	switch v.Kind {
	case ValueNumber:
		return v.Num
	case ValueString:
		return v.Str
	case ValueBool:
		return v.Bool
	default:
		return nil
	}
}

// =============================================================================
// Conditions (closed sum type)
// =============================================================================

// Condition is one node of a rule's when-tree.
type Condition interface {
	isCondition()
}

// CompareOp is a scalar comparison operator.
type CompareOp string

const (
	OpEq  CompareOp = "eq"
	OpNe  CompareOp = "ne"
	OpGt  CompareOp = "gt"
	OpGte CompareOp = "gte"
	OpLt  CompareOp = "lt"
	OpLte CompareOp = "lte"
)

// All matches when every child matches.
type All struct{ Conditions []Condition }

// Any matches when at least one child matches.
type Any struct{ Conditions []Condition }

// Compare is a scalar comparison between a field and a literal.
type Compare struct {
	Field Field
	Op    CompareOp
	Value Value
}

// Contains tests list or substring membership. Negate turns it into not_contains.
type Contains struct {
	Field  Field
	Value  Value
	Negate bool
}

// ContainsPattern matches list elements; a trailing '*' means prefix match.
type ContainsPattern struct {
	Field   Field
	Pattern string
}

// ContainsTrigger matches any trigger whose trigger or trigger_type equals TriggerType.
type ContainsTrigger struct {
	Field       Field
	TriggerType string
}

// Unsupported keeps an unknown operator in the tree. It never matches.
type Unsupported struct {
	Op    string
	Field Field
}

func (All) isCondition()             {}
func (Any) isCondition()             {}
func (Compare) isCondition()         {}
func (Contains) isCondition()        {}
func (ContainsPattern) isCondition() {}
func (ContainsTrigger) isCondition() {}
func (Unsupported) isCondition()     {}
