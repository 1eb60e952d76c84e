package feature

import (
	"math"
	"time"

	"engagement_worker/core/domain"
)

const (
	presentationSessionCap = 120.0
	loginSessionCap        = 180.0
	minutesPerConvoMessage = 1.5
	convoMinutesCap        = 90.0
	sessionFloorMinutes    = 5
)

// recencyDays returns whole days since the latest event.
func recencyDays(events []domain.Event, now time.Time) int {
	if len(events) == 0 {
		return domain.RecencyNoActivity
	}
	latest := events[0].Timestamp
	for _, e := range events[1:] {
		if e.Timestamp.After(latest) {
			latest = e.Timestamp
		}
	}
	days := int(now.Sub(latest).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func inWindow(events []domain.Event, since time.Time) []domain.Event {
	var out []domain.Event
	for _, e := range events {
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out
}

// studyMinutes pairs start/end markers per presentation and per login session.
// Without explicit durations it approximates from conversation volume, then
// falls back to a floor when any session metadata exists.
func studyMinutes(window []domain.Event) int {
	presentationOpen := map[string]time.Time{}
	loginOpen := map[string]time.Time{}
	var total float64
	var convoMessages int
	hasSessionMeta := false

	for _, e := range window {
		switch p := e.Props.(type) {
		case domain.PresentationProps:
			hasSessionMeta = true
			switch p.Trigger {
			case "start":
				presentationOpen[p.PresentationID] = e.Timestamp
			case "end":
				if start, ok := presentationOpen[p.PresentationID]; ok {
					total += clippedMinutes(start, e.Timestamp, presentationSessionCap)
					delete(presentationOpen, p.PresentationID)
				}
			}
		case domain.LoginProps:
			hasSessionMeta = true
			switch p.Marker {
			case "start":
				loginOpen[p.SessionID] = e.Timestamp
			case "end":
				if start, ok := loginOpen[p.SessionID]; ok {
					total += clippedMinutes(start, e.Timestamp, loginSessionCap)
					delete(loginOpen, p.SessionID)
				}
			}
		case domain.ConvoProps:
			convoMessages++
			if e.SessionID != "" {
				hasSessionMeta = true
			}
		}
	}

	if total > 0 {
		return int(total)
	}
	if convoMessages > 0 {
		return int(math.Min(float64(convoMessages)*minutesPerConvoMessage, convoMinutesCap))
	}
	if hasSessionMeta {
		return sessionFloorMinutes
	}
	return 0
}

func clippedMinutes(start, end time.Time, limit float64) float64 {
	m := end.Sub(start).Minutes()
	if m < 0 {
		return 0
	}
	return math.Min(m, limit)
}
