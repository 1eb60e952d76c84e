package decision

import (
	"strings"

	"engagement_worker/core/domain"
)

type fieldKind int

const (
	fieldNumber fieldKind = iota + 1
	fieldString
	fieldBool
	fieldList
	fieldTriggers
)

// fieldValue is a snapshot field lifted into a comparable form.
type fieldValue struct {
	kind     fieldKind
	num      float64
	str      string
	boolean  bool
	list     []string
	triggers []domain.Trigger
}

func num(n float64) fieldValue           { return fieldValue{kind: fieldNumber, num: n} }
func str(s string) fieldValue            { return fieldValue{kind: fieldString, str: s} }
func boolean(b bool) fieldValue          { return fieldValue{kind: fieldBool, boolean: b} }
func list(items []string) fieldValue     { return fieldValue{kind: fieldList, list: items} }
func numInt(n int) fieldValue            { return num(float64(n)) }
func trig(t []domain.Trigger) fieldValue { return fieldValue{kind: fieldTriggers, triggers: t} }

// lookup resolves a rule field against the snapshot.
func lookup(s *domain.FeatureSnapshot, f domain.Field) (fieldValue, bool) {
	switch f {
	case domain.FieldRecencyDays:
		return numInt(s.RecencyDays), true
	case domain.FieldFrequency7d:
		return numInt(s.Frequency7d), true
	case domain.FieldMinutes7d:
		return numInt(s.Minutes7d), true
	case domain.FieldConversations7d:
		return numInt(s.Conversations7d), true
	case domain.FieldTests7d:
		return numInt(s.Tests7d), true
	case domain.FieldTestAccuracy:
		return num(s.TestAccuracy), true
	case domain.FieldAvgITPScore:
		return num(s.AvgITPScore), true
	case domain.FieldITPImprovementTrend:
		return num(s.ITPImprovementTrend), true
	case domain.FieldWeakSubjects:
		return list(s.WeakSubjects), true
	case domain.FieldStrongSubjects:
		return list(s.StrongSubjects), true
	case domain.FieldICPCompletionRate:
		return num(s.ICPCompletionRate), true
	case domain.FieldActiveCourses:
		return numInt(s.ActiveCourses), true
	case domain.FieldCompletedCourses:
		return numInt(s.CompletedCourses), true
	case domain.FieldCompletedTitles:
		return list(s.CompletedCourseTitles), true
	case domain.FieldStalledCourses:
		return list(s.StalledCourses), true
	case domain.FieldTopTopics:
		return list(s.TopTopics), true
	case domain.FieldConvoSentiment:
		return num(s.ConvoSentiment7dAvg), true
	case domain.FieldAIEmailTriggers:
		return trig(s.AIEmailTriggers), true
	case domain.FieldChurnRisk:
		return str(string(s.ChurnRisk)), true
	case domain.FieldUnsubscribed:
		return boolean(s.Unsubscribed), true
	case domain.FieldEmailsSent7d:
		return numInt(s.EmailsSent7d), true
	case domain.FieldHasExamPrep:
		return boolean(s.HasExamLastMinutePrep), true
	case domain.FieldHasExamPostCheckin:
		return boolean(s.HasExamPostCheckin), true
	case domain.FieldHasLearningSupport:
		return boolean(s.HasLearningSupport), true
	case domain.FieldHasWeakTopics:
		return boolean(s.HasWeakTopics), true
	case domain.FieldStalledICPRecent:
		return boolean(s.StalledICPRecent), true
	case domain.FieldStalledITPRecent:
		return boolean(s.StalledITPRecent), true
	}
	return fieldValue{}, false
}

// Evaluate reports whether cond holds for the snapshot. Unknown fields,
// unknown operators, type mismatches and an empty All evaluate to false.
// Rule files cannot produce an empty All or Any; ParseCondition rejects them.
func Evaluate(cond domain.Condition, s *domain.FeatureSnapshot) bool {
	if cond == nil || s == nil {
		return false
	}
	switch c := cond.(type) {
	case domain.All:
		if len(c.Conditions) == 0 {
			return false
		}
		for _, child := range c.Conditions {
			if !Evaluate(child, s) {
				return false
			}
		}
		return true
	case domain.Any:
		for _, child := range c.Conditions {
			if Evaluate(child, s) {
				return true
			}
		}
		return false
	case domain.Compare:
		fv, ok := lookup(s, c.Field)
		return ok && compare(fv, c.Op, c.Value)
	case domain.Contains:
		fv, ok := lookup(s, c.Field)
		if !ok {
			return false
		}
		found, comparable := contains(fv, c.Value)
		if !comparable {
			return false
		}
		return found != c.Negate
	case domain.ContainsPattern:
		fv, ok := lookup(s, c.Field)
		if !ok || fv.kind != fieldList {
			return false
		}
		return matchPattern(fv.list, c.Pattern)
	case domain.ContainsTrigger:
		fv, ok := lookup(s, c.Field)
		if !ok || fv.kind != fieldTriggers {
			return false
		}
		for _, t := range fv.triggers {
			if t.Trigger == c.TriggerType || t.TriggerType == c.TriggerType {
				return true
			}
		}
		return false
	}
	return false
}

func compare(fv fieldValue, op domain.CompareOp, v domain.Value) bool {
	switch {
	case fv.kind == fieldNumber && v.Kind == domain.ValueNumber:
		a, b := fv.num, v.Num
		switch op {
		case domain.OpEq:
			return a == b
		case domain.OpNe:
			return a != b
		case domain.OpGt:
			return a > b
		case domain.OpGte:
			return a >= b
		case domain.OpLt:
			return a < b
		case domain.OpLte:
			return a <= b
		}
	case fv.kind == fieldString && v.Kind == domain.ValueString:
		a, b := fv.str, v.Str
		switch op {
		case domain.OpEq:
			return a == b
		case domain.OpNe:
			return a != b
		case domain.OpGt:
			return a > b
		case domain.OpGte:
			return a >= b
		case domain.OpLt:
			return a < b
		case domain.OpLte:
			return a <= b
		}
	case fv.kind == fieldBool && v.Kind == domain.ValueBool:
		switch op {
		case domain.OpEq:
			return fv.boolean == v.Bool
		case domain.OpNe:
			return fv.boolean != v.Bool
		}
	}
	return false
}

// contains returns membership and whether the operands were comparable.
func contains(fv fieldValue, v domain.Value) (found, comparable bool) {
	if v.Kind != domain.ValueString {
		return false, false
	}
	switch fv.kind {
	case fieldList:
		for _, item := range fv.list {
			if item == v.Str {
				return true, true
			}
		}
		return false, true
	case fieldString:
		return strings.Contains(fv.str, v.Str), true
	}
	return false, false
}

func matchPattern(items []string, pattern string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		for _, item := range items {
			if strings.HasPrefix(item, prefix) {
				return true
			}
		}
		return false
	}
	for _, item := range items {
		if item == pattern {
			return true
		}
	}
	return false
}
