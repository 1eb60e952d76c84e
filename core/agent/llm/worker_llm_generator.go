package llm

import (
	"context"
	"fmt"
	"strings"

	"engagement_worker/core/domain"
	"engagement_worker/core/port/out"
)

// Generator writes short lifecycle emails with a chat model.
type Generator struct {
	client *Client
}

func NewGenerator(c *Client) *Generator {
	return &Generator{client: c}
}

var _ out.ContentGenerator = (*Generator)(nil)

func (g *Generator) Generate(ctx context.Context, req *out.GenerationRequest) (*out.GeneratedEmail, error) {
	raw, err := g.client.complete(ctx, generationPrompt(req), completion{
		temperature: 0.5,
		maxTokens:   300,
		jsonOutput:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("generate email: %w", err)
	}

	var email out.GeneratedEmail
	if err := decodeJSONObject(raw, &email); err != nil {
		return nil, fmt.Errorf("generate email: %w", err)
	}
	email.Subject = strings.TrimSpace(email.Subject)
	email.Content = strings.TrimSpace(email.Content)
	if email.Subject == "" || email.Content == "" {
		return nil, fmt.Errorf("generate email: %w", ErrEmptyResponse)
	}
	return &email, nil
}

const (
	overallMetricsRule = "Do NOT state or imply per-subject percentages, accuracy or progress. " +
		"If you mention progress or accuracy, make clear these are overall metrics across studies; " +
		"better yet, avoid numeric percentages entirely."
	subjectMetricsRule = "Only mention per-subject metrics if they are explicitly provided. Never invent numbers."
)

// nudges returns the subject and opening lines suggested for exam prep.
func nudges(req *out.GenerationRequest) (subjectNudge, bodyNudge string) {
	if req.Purpose != domain.PurposeExamLastMinutePrep {
		return "", ""
	}
	subject, day := req.PreferredSubject, req.DayHint
	switch {
	case subject != "" && day != "":
		return fmt.Sprintf("%s's %s exam", capitalize(day), subject), fmt.Sprintf("Your %s exam is %s.", subject, day)
	case subject != "":
		return subject + " exam", fmt.Sprintf("Your %s exam is coming up.", subject)
	case day != "":
		return capitalize(day) + "'s exam", fmt.Sprintf("Your exam is %s.", day)
	}
	return "", ""
}

func generationPrompt(req *out.GenerationRequest) string {
	metricsRule := overallMetricsRule
	if req.MetricsScope == out.MetricsScopeSubject {
		metricsRule = subjectMetricsRule
	}
	var topics []string
	if req.Snapshot != nil {
		topics = req.Snapshot.TopTopics
	}

	subjectNudge, bodyNudge := nudges(req)
	subjectLine := "a concise subject line"
	if subjectNudge != "" {
		subjectLine += " - " + subjectNudge
	}
	bodyLine := "2-3 supportive, actionable sentences with no fabricated metrics"
	if bodyNudge != "" {
		bodyLine = bodyNudge + " " + bodyLine
	}

	return fmt.Sprintf(`Return ONLY valid JSON with keys "subject" and "content", nothing else.

Student: %s
Rule: %s
Purpose: %s
PreferredSubjectHint: %s
DayHint: %s
TopTopics (context only): %s

Requirements:
- 2-3 sentences max in the email body, supportive and actionable.
- If the purpose is exam_last_minute_prep and hints are present, include the subject and day in BOTH subject and body.
- Do not mention any subject other than the preferred subject.
- %s
- Do not make up facts, scores, dates or links.
- Tone: encouraging academic coach, concise.
- If a day hint is given (tonight, today, tomorrow), reflect the immediacy.

Produce JSON:
{"subject": "<%s>", "content": "<%s>"}`,
		req.FirstName, req.RuleID, req.Purpose,
		orNone(req.PreferredSubject), orNone(req.DayHint), strings.Join(topics, ", "),
		metricsRule, subjectLine, bodyLine)
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
