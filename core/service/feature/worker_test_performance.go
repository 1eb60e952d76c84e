package feature

import (
	"sort"
	"time"

	"engagement_worker/core/domain"
	"engagement_worker/core/service/normalize"
)

const (
	minTrendAttempts    = 10
	minSubjectAttempts  = 3
	weakSubjectCeiling  = 0.6
	strongSubjectFloor  = 0.8
	minWeakTopicAttempt = 5
	maxWeakTopics       = 3
)

// gradedAttempt is one question response flattened out of a test record.
type gradedAttempt struct {
	at      time.Time
	subject string
	topic   string
	table   string
	correct bool
}

type testStats struct {
	count          int
	accuracy       float64
	avgScore       float64
	trend          float64
	weakSubjects   []string
	strongSubjects []string
}

// flattenAttempts expands the embedded response maps of test_attempt events.
// Every event of a record carries the same map, so each (table, series) pair
// is expanded once.
func flattenAttempts(events []domain.Event, now time.Time) []gradedAttempt {
	seen := map[string]struct{}{}
	var out []gradedAttempt
	for _, e := range events {
		p, ok := e.Props.(domain.TestAttemptProps)
		if !ok {
			continue
		}
		if len(p.Responses) == 0 {
			out = append(out, gradedAttempt{at: e.Timestamp, subject: p.Subject, topic: p.Topic, table: p.Table, correct: p.IsCorrect})
			continue
		}
		key := p.Table + "|" + p.SeriesID
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		keys := make([]string, 0, len(p.Responses))
		for k := range p.Responses {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, rawTS := range keys {
			responses := p.Responses[rawTS]
			at, ok := normalize.ParseTimestamp(rawTS, now)
			if !ok {
				at = e.Timestamp
			}
			for _, r := range responses {
				topic := firstNonEmpty(r.Topic, p.SeriesTitle, p.Subject, "General")
				out = append(out, gradedAttempt{at: at, subject: p.Subject, topic: topic, table: p.Table, correct: r.IsCorrect()})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	return out
}

func attemptsSince(attempts []gradedAttempt, since time.Time) []gradedAttempt {
	var out []gradedAttempt
	for _, a := range attempts {
		if !a.at.Before(since) {
			out = append(out, a)
		}
	}
	return out
}

// computeTestStats expects attempts ordered by time.
func computeTestStats(attempts []gradedAttempt) testStats {
	s := testStats{count: len(attempts), weakSubjects: []string{}, strongSubjects: []string{}}
	if len(attempts) == 0 {
		return s
	}

	s.accuracy = accuracyOf(attempts)
	s.avgScore = s.accuracy * 100

	if n := len(attempts); n >= minTrendAttempts {
		half := n / 2
		s.trend = accuracyOf(attempts[n-half:]) - accuracyOf(attempts[:half])
	}

	bySubject := map[string][]gradedAttempt{}
	for _, a := range attempts {
		if a.subject == "" {
			continue
		}
		bySubject[a.subject] = append(bySubject[a.subject], a)
	}
	for subject, list := range bySubject {
		if len(list) < minSubjectAttempts {
			continue
		}
		mean := accuracyOf(list)
		switch {
		case mean < weakSubjectCeiling:
			s.weakSubjects = append(s.weakSubjects, subject)
		case mean > strongSubjectFloor:
			s.strongSubjects = append(s.strongSubjects, subject)
		}
	}
	sort.Strings(s.weakSubjects)
	sort.Strings(s.strongSubjects)
	return s
}

func accuracyOf(attempts []gradedAttempt) float64 {
	if len(attempts) == 0 {
		return 0
	}
	correct := 0
	for _, a := range attempts {
		if a.correct {
			correct++
		}
	}
	return float64(correct) / float64(len(attempts))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
