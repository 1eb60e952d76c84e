package content

import (
	"regexp"
	"strconv"
	"strings"

	"engagement_worker/core/domain"
)

// Day hints understood by the templates and the generator.
const (
	hintTonight  = "tonight"
	hintToday    = "today"
	hintTomorrow = "tomorrow"
	hintSoon     = "soon"
)

var (
	inHoursPattern = regexp.MustCompile(`\bin\s+(\d+)\s*(?:hours?|hrs?|h)\b`)
	inDaysPattern  = regexp.MustCompile(`\bin\s+(\d+)\s*days?\b`)
)

// examCandidate is one exam mention normalized to (day_hint, days, hours).
// Unknown days or hours are -1.
type examCandidate struct {
	subject string
	dayHint string
	days    int
	hours   int
	order   int
}

// parseTimeframe reads free text such as "tonight", "in 2 hours" or
// "tomorrow morning".
func parseTimeframe(text string) (hint string, days, hours int) {
	lower := strings.ToLower(strings.TrimSpace(text))
	days, hours = -1, -1
	if lower == "" {
		return "", days, hours
	}

	if m := inHoursPattern.FindStringSubmatch(lower); m != nil {
		hours, _ = strconv.Atoi(m[1])
		days = hours / 24
		switch {
		case strings.Contains(lower, "tonight"):
			hint = hintTonight
		case hours < 24:
			hint = hintToday
		case hours < 48:
			hint = hintTomorrow
		default:
			hint = hintSoon
		}
		return hint, days, hours
	}
	if m := inDaysPattern.FindStringSubmatch(lower); m != nil {
		days, _ = strconv.Atoi(m[1])
		return hintForDays(days), days, hours
	}

	switch {
	case strings.Contains(lower, "tonight"), strings.Contains(lower, "this evening"):
		return hintTonight, 0, hours
	case strings.Contains(lower, "today"), strings.Contains(lower, "this afternoon"), strings.Contains(lower, "this morning"):
		return hintToday, 0, hours
	case strings.Contains(lower, "tomorrow"):
		return hintTomorrow, 1, hours
	case strings.Contains(lower, "next week"):
		return hintSoon, 7, hours
	case strings.Contains(lower, "upcoming"), strings.Contains(lower, "soon"), strings.Contains(lower, "coming up"):
		return hintSoon, days, hours
	}
	return "", days, hours
}

func hintForDays(days int) string {
	switch {
	case days < 0:
		return ""
	case days == 0:
		return hintToday
	case days == 1:
		return hintTomorrow
	}
	return hintSoon
}

func examCandidates(triggers []domain.Trigger, events []domain.UpcomingEvent) []examCandidate {
	var out []examCandidate
	for _, t := range triggers {
		if !isExamPrepTrigger(t) {
			continue
		}
		hint, days, hours := parseTimeframe(t.Timeframe)
		if hint == "" && t.DaysBefore != nil {
			days = *t.DaysBefore
			hint = hintForDays(days)
		}
		out = append(out, examCandidate{subject: t.Subject, dayHint: hint, days: days, hours: hours, order: len(out)})
	}
	for _, ev := range events {
		if !strings.EqualFold(ev.Type, "exam") {
			continue
		}
		hint, days, hours := parseTimeframe(ev.Timeframe)
		out = append(out, examCandidate{subject: ev.Subject, dayHint: hint, days: days, hours: hours, order: len(out)})
	}
	return out
}

func (c examCandidate) score() int {
	score := 0
	if c.days >= 0 {
		score += max(0, 100-10*c.days)
	}
	if c.hours >= 0 {
		score += max(0, 48-c.hours)
	}
	switch c.dayHint {
	case hintTonight:
		score += 30
	case hintToday:
		score += 20
	case hintTomorrow:
		score += 10
	}
	return score
}

// mostUrgentExam picks the highest scoring candidate. Ties go to the subject
// listed first in subjects, then to the earlier mention.
func mostUrgentExam(candidates []examCandidate, subjects []string) (examCandidate, bool) {
	if len(candidates) == 0 {
		return examCandidate{}, false
	}
	rank := func(subject string) int {
		for i, s := range subjects {
			if strings.EqualFold(s, subject) {
				return i
			}
		}
		return len(subjects)
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		cs, bs := c.score(), best.score()
		switch {
		case cs > bs:
			best = c
		case cs == bs && rank(c.subject) < rank(best.subject):
			best = c
		case cs == bs && rank(c.subject) == rank(best.subject) && c.order < best.order:
			best = c
		}
	}
	return best, true
}

// appointmentWhen is "tomorrow" when a reminder or upcoming appointment says
// so, otherwise "soon".
func appointmentWhen(triggers []domain.Trigger, events []domain.UpcomingEvent) string {
	for _, t := range triggers {
		if t.Kind() != "appointment_reminder" && t.MessageType != "reminder" {
			continue
		}
		if hint, _, _ := parseTimeframe(t.Timeframe); hint == hintTomorrow {
			return hintTomorrow
		}
		if t.DaysBefore != nil && *t.DaysBefore == 1 {
			return hintTomorrow
		}
	}
	for _, ev := range events {
		if strings.EqualFold(ev.Type, "appointment") && strings.Contains(strings.ToLower(ev.Timeframe), hintTomorrow) {
			return hintTomorrow
		}
	}
	return hintSoon
}
