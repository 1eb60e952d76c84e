package content

import (
	"fmt"
	"strings"

	"engagement_worker/core/domain"
)

const genericSubjectArea = "your studies"

// composeContext is everything the deterministic templates are parameterized by.
type composeContext struct {
	purpose     domain.Purpose
	subjectArea string
	dayHint     string
	when        string
	greet       string
	course      string
}

func (c composeContext) area() string {
	if c.subjectArea == "" {
		return genericSubjectArea
	}
	return c.subjectArea
}

// qualified prefixes noun with the subject area when there is one.
func (c composeContext) qualified(noun string) string {
	if c.subjectArea == "" {
		return noun
	}
	return c.subjectArea + " " + noun
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// deterministic builds the guaranteed subject and body for a purpose.
func deterministic(c composeContext) (subject, body string) {
	area := c.area()
	switch c.purpose {
	case domain.PurposeExamLastMinutePrep:
		if c.dayHint != "" && c.dayHint != hintSoon {
			subject = fmt.Sprintf("%s's %s: 45-minute crash plan", capitalize(c.dayHint), c.qualified("exam"))
			body = fmt.Sprintf("%s\n\nYour %s is %s. Here is a focused, high-yield plan:\n\n", c.greet, c.qualified("exam"), c.dayHint)
		} else {
			subject = fmt.Sprintf("Your %s: 45-minute crash plan", c.qualified("exam"))
			body = fmt.Sprintf("%s\n\nYour %s is coming up soon. Here is a focused, high-yield plan:\n\n", c.greet, c.qualified("exam"))
		}
		body += "45-minute sprint\n" +
			"- 15 min: quick review of the definitions and formulas you missed recently\n" +
			"- 15 min: 10 mixed practice questions, no notes\n" +
			"- 10 min: check answers and fix your 2 weakest patterns\n" +
			"- 5 min: a one-page cheat sheet from memory, then fill the gaps\n\n" +
			"Setup: timer on, notifications off. If a question takes more than 90 seconds, mark it and move on.\n\n" +
			fmt.Sprintf("Reply \"START\" and I'll send a 10-question mini-quiz tailored to %s. Good luck!", area)

	case domain.PurposeExamFollowup:
		subject = fmt.Sprintf("How did the %s go?", c.qualified("exam"))
		body = fmt.Sprintf("%s\n\nHow did your %s go? A 3-minute reflection now helps it stick:\n\n", c.greet, c.qualified("exam")) +
			"- One concept that felt solid\n" +
			"- One that surprised you\n" +
			"- One you want to master next week\n\n" +
			"Want a quick debrief quiz from your tricky areas? Reply \"DEBRIEF\" and I'll tailor it."

	case domain.PurposeAppointmentReminder:
		when := c.when
		if when == "" {
			when = hintSoon
		}
		subject = fmt.Sprintf("Reminder: your appointment %s", when)
		body = fmt.Sprintf("%s\n\nQuick reminder: your appointment is %s. Ten minutes of prep helps it go smoothly:\n\n", c.greet, when) +
			"- Confirm the time, place and any materials\n" +
			"- Write down 2 or 3 questions you want answered\n" +
			"- Plan your travel time with a buffer\n\n" +
			"You've got this!"

	case domain.PurposeAppointmentFollowup:
		subject = "How did your session go?"
		body = c.greet + "\n\nHope your session went well. Capture the value while it is fresh:\n\n" +
			"- The most helpful insight, in a line or two\n" +
			"- Any action items and deadlines\n" +
			"- Anything that still needs clarification\n\n" +
			"Reply with your notes and I'll turn them into a simple plan."

	case domain.PurposeCompletionCelebration:
		course := c.course
		if course == "" {
			course = c.subjectArea
		}
		if course == "" {
			course = "your course"
		}
		subject = fmt.Sprintf("You finished %s!", course)
		body = fmt.Sprintf("%s\n\nCongratulations on completing %s! That is a big milestone.\n\n", c.greet, course) +
			"- 5 review questions now and 5 tomorrow\n" +
			"- Summarize your 3 biggest takeaways\n" +
			"- Teach one idea to a friend\n\n" +
			fmt.Sprintf("Want me to queue your next lesson in %s?", area)

	case domain.PurposeEngagementReward:
		subject = fmt.Sprintf("Amazing progress in %s!", area)
		body = fmt.Sprintf("%s\n\nYour consistency in %s is outstanding. Let's channel it:\n\n", c.greet, area) +
			"- Set one stretch goal for this week\n" +
			"- Book one 20-minute focused block\n" +
			"- Try one timed mini-set to measure improvement\n\n" +
			"Keep going, momentum is on your side!"

	case domain.PurposeLearningSupport:
		subject = fmt.Sprintf("Boost your %s", c.qualified("understanding"))
		body = fmt.Sprintf("%s\n\nI saw you've been digging into %s. Want a targeted explainer and practice set?\n", c.greet, area) +
			"Reply with a topic and I'll tailor it."

	case domain.PurposeWinback:
		subject = fmt.Sprintf("Ready to continue your %s?", c.qualified("journey"))
		body = c.greet + "\n\nLet's ease back in: 10 minutes, one concept, one quick win. I'll line it up, just say \"GO\"."

	case domain.PurposePerformancePraise:
		subject = fmt.Sprintf("Excellent %s!", c.qualified("performance"))
		body = fmt.Sprintf("%s\n\nYou're crushing %s. Want an advanced challenge set to push further?", c.greet, area)

	default:
		subject = fmt.Sprintf("Your %s continues!", c.qualified("learning"))
		body = c.greet + "\n\nSmall, consistent steps compound. I can queue a 10-minute set right now, just say \"START\"."
	}
	return subject, body
}

// catchAll is the last resort when composition itself fails.
func catchAll() (subject, body string) {
	return "Keep going with your studies!",
		"Hello!\n\nA short 10-minute study block today keeps your momentum going. Reply \"GO\" and I'll send a focused set."
}
