package feature

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"engagement_worker/core/domain"
)

type studyGaps struct {
	weakTopics      []domain.WeakTopic
	recommendations []domain.CourseRecommendation
	stalledICP      *domain.ResumeTarget
	stalledITP      *domain.ResumeTarget
	resume          *domain.ResumeTarget
}

// weakTopics aggregates correctness per topic label across both test tables.
func weakTopics(attempts []gradedAttempt) []domain.WeakTopic {
	type agg struct {
		subject  string
		attempts int
		correct  int
		sources  map[string]struct{}
	}
	byTopic := map[string]*agg{}
	for _, a := range attempts {
		label := firstNonEmpty(a.topic, a.subject, "General")
		g, ok := byTopic[label]
		if !ok {
			g = &agg{subject: firstNonEmpty(a.subject, "General"), sources: map[string]struct{}{}}
			byTopic[label] = g
		}
		g.attempts++
		if a.correct {
			g.correct++
		}
		if a.table != "" {
			g.sources[a.table] = struct{}{}
		}
	}

	weak := []domain.WeakTopic{}
	for topic, g := range byTopic {
		acc := float64(g.correct) / float64(g.attempts)
		if g.attempts < minWeakTopicAttempt || acc >= weakSubjectCeiling {
			continue
		}
		sources := make([]string, 0, len(g.sources))
		for s := range g.sources {
			sources = append(sources, s)
		}
		sort.Strings(sources)
		weak = append(weak, domain.WeakTopic{
			Topic:    topic,
			Subject:  g.subject,
			Attempts: g.attempts,
			Correct:  g.correct,
			Accuracy: math.Round(acc*10000) / 10000,
			Source:   strings.Join(sources, ","),
		})
	}
	sort.Slice(weak, func(i, j int) bool {
		if weak[i].Accuracy != weak[j].Accuracy {
			return weak[i].Accuracy < weak[j].Accuracy
		}
		if weak[i].Attempts != weak[j].Attempts {
			return weak[i].Attempts > weak[j].Attempts
		}
		return weak[i].Topic < weak[j].Topic
	})
	if len(weak) > maxWeakTopics {
		weak = weak[:maxWeakTopics]
	}
	return weak
}

// courseRecommendations turns weak topics into course-generation requests.
func courseRecommendations(weak []domain.WeakTopic) []domain.CourseRecommendation {
	out := make([]domain.CourseRecommendation, 0, len(weak))
	for _, w := range weak {
		subject := firstNonEmpty(strings.TrimSpace(w.Subject), "General")
		topic := firstNonEmpty(strings.TrimSpace(w.Topic), "Focused Practice")
		pct := int(math.Round(w.Accuracy * 100))
		desc := fmt.Sprintf("Goal: Improve mastery in '%s' within %s. ", topic, subject) +
			fmt.Sprintf("Current accuracy: ~%d%% over %d attempts. ", pct, w.Attempts) +
			"Design a course from basics to professional with:\n" +
			fmt.Sprintf("- Brief diagnostic quiz on %s\n", topic) +
			"- Concept explanations (common misconceptions + tips)\n" +
			"- 3-5 micro-lessons with examples\n" +
			"- 20-30 mixed practice questions (progressively harder)\n" +
			"- Spaced review schedule and quick-check quizzes\n" +
			"- Final assessment with detailed feedback\n" +
			"Emphasize correcting typical errors observed in this topic."
		out = append(out, domain.CourseRecommendation{Subject: subject, Topic: topic, Description: desc})
	}
	return out
}

// stalledTest finds the most recently abandoned incomplete test series.
func stalledTest(events []domain.Event, now time.Time) *domain.ResumeTarget {
	latest := map[string]domain.Event{}
	for _, e := range events {
		p, ok := e.Props.(domain.TestSessionProps)
		if !ok {
			continue
		}
		key := p.Table + "|" + p.SeriesID
		if cur, ok := latest[key]; !ok || !e.Timestamp.Before(cur.Timestamp) {
			latest[key] = e
		}
	}

	var candidates []*domain.ResumeTarget
	for _, e := range latest {
		p := e.Props.(domain.TestSessionProps)
		if !p.Incomplete() {
			continue
		}
		days := daysBetween(e.Timestamp, now)
		if days < stalledTestDays {
			continue
		}
		candidates = append(candidates, &domain.ResumeTarget{
			Kind:                  "itp",
			Title:                 firstNonEmpty(p.Title, p.SeriesID),
			Subject:               p.Subject,
			DaysSinceLastActivity: days,
			DaysOverThreshold:     days - stalledTestDays,
			LastActivity:          e.Timestamp,
		})
	}
	return mostRecent(candidates)
}

// stalledCourse finds the most recently abandoned partial course.
func stalledCourse(courses map[string]courseState, now time.Time) *domain.ResumeTarget {
	var candidates []*domain.ResumeTarget
	for _, id := range sortedCourseIDs(courses) {
		c := courses[id]
		if !isPartial(c.props) {
			continue
		}
		days := daysBetween(c.lastEventAt, now)
		if days < stalledCourseDays {
			continue
		}
		candidates = append(candidates, &domain.ResumeTarget{
			Kind:                  "icp",
			Title:                 firstNonEmpty(c.props.Title, id),
			Subject:               c.props.Subject,
			DaysSinceLastActivity: days,
			DaysOverThreshold:     days - stalledCourseDays,
			LastActivity:          c.lastEventAt,
		})
	}
	return mostRecent(candidates)
}

func mostRecent(candidates []*domain.ResumeTarget) *domain.ResumeTarget {
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.DaysSinceLastActivity != b.DaysSinceLastActivity {
			return a.DaysSinceLastActivity < b.DaysSinceLastActivity
		}
		if a.DaysOverThreshold != b.DaysOverThreshold {
			return a.DaysOverThreshold < b.DaysOverThreshold
		}
		return a.Title < b.Title
	})
	return candidates[0]
}

func computeStudyGaps(attempts []gradedAttempt, events []domain.Event, courses map[string]courseState, now time.Time) studyGaps {
	g := studyGaps{
		weakTopics: weakTopics(attempts),
		stalledICP: stalledCourse(courses, now),
		stalledITP: stalledTest(events, now),
	}
	g.recommendations = courseRecommendations(g.weakTopics)

	switch {
	case g.stalledICP != nil && g.stalledITP != nil:
		g.resume = g.stalledICP
		if g.stalledITP.DaysSinceLastActivity < g.stalledICP.DaysSinceLastActivity ||
			(g.stalledITP.DaysSinceLastActivity == g.stalledICP.DaysSinceLastActivity &&
				g.stalledITP.DaysOverThreshold < g.stalledICP.DaysOverThreshold) {
			g.resume = g.stalledITP
		}
	case g.stalledICP != nil:
		g.resume = g.stalledICP
	case g.stalledITP != nil:
		g.resume = g.stalledITP
	}
	return g
}
