package feature

import (
	"math"
	"sort"
	"time"

	"engagement_worker/core/domain"
)

const (
	stalledCourseDays = 14
	stalledTestDays   = 7
)

type courseState struct {
	props       domain.CourseProgressProps
	lastEventAt time.Time
}

type courseStats struct {
	completionRate  float64
	active          int
	completed       int
	completedTitles []string
	stalled         []string
}

// latestCourses keeps the most recent icp_progress per course id.
func latestCourses(events []domain.Event) map[string]courseState {
	out := map[string]courseState{}
	for _, e := range events {
		p, ok := e.Props.(domain.CourseProgressProps)
		if !ok {
			continue
		}
		id := p.CourseID
		if id == "" {
			id = p.Title
		}
		cur, exists := out[id]
		if !exists || !e.Timestamp.Before(cur.lastEventAt) {
			out[id] = courseState{props: p, lastEventAt: e.Timestamp}
		}
	}
	return out
}

func computeCourseStats(courses map[string]courseState, now time.Time) courseStats {
	s := courseStats{completedTitles: []string{}, stalled: []string{}}
	if len(courses) == 0 {
		return s
	}

	weekAgo := now.AddDate(0, 0, -7)
	staleBefore := now.AddDate(0, 0, -stalledCourseDays)

	type done struct {
		title string
		at    time.Time
	}
	var completed []done
	var rateSum float64

	for _, id := range sortedCourseIDs(courses) {
		c := courses[id]
		p := c.props
		rateSum += p.CompletionRate

		title := p.Title
		if title == "" {
			title = id
		}
		switch {
		case p.IsCompleted:
			s.completed++
			completed = append(completed, done{title: title, at: c.lastEventAt})
		case !c.lastEventAt.Before(weekAgo):
			s.active++
		}
		if isPartial(p) && c.lastEventAt.Before(staleBefore) {
			s.stalled = append(s.stalled, title)
		}
	}

	s.completionRate = math.Min(rateSum/float64(len(courses)), 1.0)

	sort.SliceStable(completed, func(i, j int) bool { return completed[i].at.After(completed[j].at) })
	for _, d := range completed {
		s.completedTitles = append(s.completedTitles, d.title)
	}
	return s
}

func isPartial(p domain.CourseProgressProps) bool {
	return p.CompletedSections > 0 && p.CompletedSections < p.TotalSections
}

func sortedCourseIDs(courses map[string]courseState) []string {
	ids := make([]string, 0, len(courses))
	for id := range courses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func daysBetween(from, to time.Time) int {
	d := int(to.Sub(from).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
