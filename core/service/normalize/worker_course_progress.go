package normalize

import (
	"sort"

	"engagement_worker/core/domain"
)

type orderedLesson struct {
	order    int
	sections []orderedSection
}

type orderedSection struct {
	id     string
	order  int
	status bool
}

// DeriveCourseProgress computes course progress from section status flags.
// Stored percentages are never trusted.
func DeriveCourseProgress(plan domain.RawCoursePlan) domain.CourseProgressProps {
	lessons := make([]orderedLesson, 0, len(plan.Lessons))
	for i, l := range plan.Lessons {
		ol := orderedLesson{order: orderOr(l.Order, i+1)}
		for j, s := range l.Sections {
			ol.sections = append(ol.sections, orderedSection{
				id:     s.ID,
				order:  orderOr(s.Order, j+1),
				status: s.Status,
			})
		}
		sort.SliceStable(ol.sections, func(a, b int) bool {
			return ol.sections[a].order < ol.sections[b].order
		})
		lessons = append(lessons, ol)
	}
	sort.SliceStable(lessons, func(a, b int) bool {
		return lessons[a].order < lessons[b].order
	})

	p := domain.CourseProgressProps{
		CourseID:     plan.CourseID,
		Title:        plan.Title,
		Subject:      plan.Subject,
		TotalLessons: len(lessons),
	}

	currentFound := false
	var lastLesson int
	var lastSection string
	for _, l := range lessons {
		done := 0
		for _, s := range l.sections {
			p.TotalSections++
			lastLesson, lastSection = l.order, s.id
			if s.status {
				p.CompletedSections++
				done++
				continue
			}
			if !currentFound {
				currentFound = true
				p.CurrentLesson, p.CurrentSection = l.order, s.id
			}
		}
		// A lesson without sections has nothing to complete.
		if len(l.sections) > 0 && done == len(l.sections) {
			p.CompletedLessons++
		}
	}
	if !currentFound && p.TotalSections > 0 {
		p.CurrentLesson, p.CurrentSection = lastLesson, lastSection
	}

	if p.TotalSections > 0 {
		p.CompletionRate = float64(p.CompletedSections) / float64(p.TotalSections)
		p.ProgressPercent = p.CompletionRate * 100
	}
	p.IsCompleted = p.TotalSections > 0 && p.CompletedSections == p.TotalSections
	return p
}

func orderOr(order *int, fallback int) int {
	if order == nil {
		return fallback
	}
	return *order
}
