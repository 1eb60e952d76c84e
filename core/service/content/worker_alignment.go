package content

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"engagement_worker/core/domain"
)

var dayHintSynonyms = map[string][]string{
	hintTonight:  {"tonight", "this evening", "evening", "later today"},
	hintToday:    {"today", "this afternoon", "this evening", "tonight", "later today"},
	hintTomorrow: {"tomorrow", "next day"},
}

var purposeKeywords = map[domain.Purpose][]string{
	domain.PurposeExamLastMinutePrep:    {"exam", "test", "quiz", "prep", "plan", "crash", "review"},
	domain.PurposeExamFollowup:          {"exam", "how did", "went", "score", "debrief"},
	domain.PurposeAppointmentReminder:   {"appointment", "reminder", "tomorrow"},
	domain.PurposeAppointmentFollowup:   {"appointment", "session", "follow-up", "follow up", "went"},
	domain.PurposeCompletionCelebration: {"congrats", "congratulations", "completed", "finish", "finished"},
}

// knownSubjects are subjects the analyzers emit even when they are not among
// the learner's top topics.
var knownSubjects = []string{
	"Biology", "Chemistry", "Physics", "History", "Algebra", "IELTS",
	"Pharmacology", "Immunology", "Pathology", "USMLE",
}

// Alignment rejection reasons.
const (
	misalignedSubject  = "subject_missing"
	misalignedDayHint  = "day_hint_missing"
	misalignedOther    = "other_subject"
	misalignedPurpose  = "purpose_keywords"
	misalignedMetrics  = "metric_bleed"
	misalignedEmptyOut = "empty"
)

// guard holds what generated copy must agree with.
type guard struct {
	purpose     domain.Purpose
	subjectArea string
	dayHint     string
	others      []string
}

func newGuard(c composeContext, topicSubjects []string) guard {
	g := guard{purpose: c.purpose, dayHint: c.dayHint}
	if !isGenericSubject(c.subjectArea) {
		g.subjectArea = c.subjectArea
	}
	seen := map[string]struct{}{}
	for _, s := range append(append([]string{}, topicSubjects...), knownSubjects...) {
		key := strings.ToLower(s)
		if isGenericSubject(s) || strings.EqualFold(s, g.subjectArea) {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		g.others = append(g.others, s)
	}
	return g
}

// check returns "" when the copy is aligned, otherwise a rejection reason.
func (g guard) check(subject, body string) string {
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(body) == "" {
		return misalignedEmptyOut
	}
	text := strings.ToLower(subject + " " + body)

	if g.subjectArea != "" && !strings.Contains(text, strings.ToLower(g.subjectArea)) {
		return misalignedSubject
	}
	if syn, ok := dayHintSynonyms[g.dayHint]; ok && !containsAny(text, syn) {
		return misalignedDayHint
	}
	for _, other := range g.others {
		if containsWord(text, strings.ToLower(other)) {
			return misalignedOther
		}
	}
	if words, ok := purposeKeywords[g.purpose]; ok && !containsAny(text, words) {
		return misalignedPurpose
	}
	if g.subjectArea != "" && attributesMetric(subject, g.subjectArea) {
		return misalignedMetrics
	}
	return ""
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// containsWord matches word only between non-letter boundaries, so
// "biology" does not match inside "microbiology".
func containsWord(text, word string) bool {
	if word == "" {
		return false
	}
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], word)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(word)
		before, _ := utf8.DecodeLastRuneInString(text[:start])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if (start == 0 || !unicode.IsLetter(before)) && (end == len(text) || !unicode.IsLetter(after)) {
			return true
		}
		from = start + 1
	}
	return false
}

var (
	sentencePattern   = regexp.MustCompile(`(?:[^.!?\n]|\.\d)*(?:[.!?]+|\n|$)`)
	percentagePattern = regexp.MustCompile(`\d+(?:\.\d+)?\s*%|\bpercent\b`)
	performanceWords  = []string{"progress", "accuracy", "score", "completion", "complete", "mastery", "performance"}
)

// attributesMetric reports a sentence that pins a percentage and a
// performance word on subjectArea.
func attributesMetric(sentence, subjectArea string) bool {
	lower := strings.ToLower(sentence)
	return percentagePattern.MatchString(lower) &&
		containsAny(lower, performanceWords) &&
		strings.Contains(lower, strings.ToLower(subjectArea))
}

// sanitizeMetrics drops sentences that attribute overall percentages to a
// single subject. Other sentences keep their original spacing.
func sanitizeMetrics(body, subjectArea string) string {
	if subjectArea == "" {
		return body
	}
	var b strings.Builder
	for _, sentence := range sentencePattern.FindAllString(body, -1) {
		if attributesMetric(sentence, subjectArea) {
			continue
		}
		b.WriteString(sentence)
	}
	return strings.TrimSpace(b.String())
}
