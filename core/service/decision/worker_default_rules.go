package decision

import "engagement_worker/core/domain"

func cmp(field domain.Field, op domain.CompareOp, v domain.Value) domain.Condition {
	return domain.Compare{Field: field, Op: op, Value: v}
}

var (
	notUnsubscribed  = cmp(domain.FieldUnsubscribed, domain.OpEq, domain.BoolValue(false))
	underTwoThisWeek = cmp(domain.FieldEmailsSent7d, domain.OpLt, domain.NumberValue(2))
)

func subjectHelpRule(id, pattern, templateID string, priority int) domain.Rule {
	return domain.Rule{
		ID: id,
		When: domain.All{Conditions: []domain.Condition{
			domain.ContainsPattern{Field: domain.FieldTopTopics, Pattern: pattern},
			underTwoThisWeek,
			notUnsubscribed,
			cmp(domain.FieldFrequency7d, domain.OpGte, domain.NumberValue(2)),
		}},
		Action: domain.RuleAction{TemplateID: templateID, Priority: priority, CooldownDays: 3},
	}
}

func triggerRule(id, triggerType, templateID string, priority, cooldown int) domain.Rule {
	return domain.Rule{
		ID: id,
		When: domain.All{Conditions: []domain.Condition{
			domain.ContainsTrigger{Field: domain.FieldAIEmailTriggers, TriggerType: triggerType},
			underTwoThisWeek,
			notUnsubscribed,
		}},
		Action: domain.RuleAction{TemplateID: templateID, Priority: priority, CooldownDays: cooldown},
	}
}

// DefaultRules is the rule set used when no rule file can be loaded.
// config/email_rules.yaml mirrors it.
func DefaultRules() []domain.Rule {
	return []domain.Rule{
		subjectHelpRule("help_biology_general", "Biology>*", "biology_help_v1", 90),
		subjectHelpRule("help_pharmacology_general", "Pharmacology>*", "pharmacology_help_v1", 92),
		subjectHelpRule("help_immunology_general", "Immunology>*", "immunology_help_v1", 88),
		subjectHelpRule("help_history_general", "History>*", "history_help_v1", 85),
		triggerRule("exam_last_minute_prep", "exam_prep", "exam_last_minute_prep_v1", 97, 1),
		triggerRule("exam_followup_trigger", "exam_followup", "exam_followup_v1", 95, 2),
		triggerRule("learning_support_trigger", "learning_support", "learning_support_v1", 93, 3),
		{
			ID: "high_engagement_reward",
			When: domain.All{Conditions: []domain.Condition{
				cmp(domain.FieldFrequency7d, domain.OpGte, domain.NumberValue(100)),
				cmp(domain.FieldConversations7d, domain.OpGte, domain.NumberValue(50)),
				cmp(domain.FieldConvoSentiment, domain.OpGt, domain.NumberValue(0.5)),
				notUnsubscribed,
			}},
			Action: domain.RuleAction{TemplateID: "engagement_reward_v1", Priority: 96, CooldownDays: 14},
		},
		{
			ID: "test_performance_help",
			When: domain.All{Conditions: []domain.Condition{
				cmp(domain.FieldTests7d, domain.OpGte, domain.NumberValue(100)),
				cmp(domain.FieldTestAccuracy, domain.OpLt, domain.NumberValue(0.5)),
				notUnsubscribed,
			}},
			Action: domain.RuleAction{TemplateID: "test_improvement_v1", Priority: 87, CooldownDays: 5},
		},
		{
			ID: "course_completion_celebration",
			When: domain.All{Conditions: []domain.Condition{
				cmp(domain.FieldCompletedCourses, domain.OpGte, domain.NumberValue(1)),
				notUnsubscribed,
				cmp(domain.FieldEmailsSent7d, domain.OpLt, domain.NumberValue(1)),
			}},
			Action: domain.RuleAction{TemplateID: "course_completion_v1", Priority: 94, CooldownDays: 7},
		},
		{
			// No upper recency bound: users without any activity (recency 999) are win-back targets.
			ID: "winback_idle",
			When: domain.All{Conditions: []domain.Condition{
				cmp(domain.FieldRecencyDays, domain.OpGte, domain.NumberValue(7)),
				notUnsubscribed,
			}},
			Action: domain.RuleAction{TemplateID: "winback_study_plan_v1", Priority: 60, CooldownDays: 7},
		},
	}
}
