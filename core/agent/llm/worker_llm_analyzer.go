package llm

import (
	"context"
	"fmt"
	"strings"

	"engagement_worker/core/domain"
	"engagement_worker/core/port/out"
)

const maxConversationChars = 12000

// Analyzer mines topics, sentiment and follow-up triggers from learner
// conversations with a chat model.
type Analyzer struct {
	client *Client
}

func NewAnalyzer(c *Client) *Analyzer {
	return &Analyzer{client: c}
}

var _ out.ConversationAnalyzer = (*Analyzer)(nil)

type analysisResponse struct {
	Summary          string                 `json:"summary"`
	Topics           []string               `json:"topics"`
	Sentiment        float64                `json:"sentiment"`
	Needs            []string               `json:"needs"`
	UpcomingEvents   []domain.UpcomingEvent `json:"upcoming_events"`
	FollowUpTriggers []domain.Trigger       `json:"follow_up_triggers"`
	LearningGaps     []string               `json:"learning_gaps"`
	EngagementLevel  string                 `json:"engagement_level"`
}

func (a *Analyzer) Analyze(ctx context.Context, messages []out.ConversationMessage) (*out.ConversationAnalysis, error) {
	texts := make([]string, 0, len(messages))
	for _, m := range messages {
		if s := strings.TrimSpace(m.Content); s != "" {
			texts = append(texts, s)
		}
	}
	if len(texts) == 0 {
		return &out.ConversationAnalysis{Topics: []string{}, Triggers: []domain.Trigger{}}, nil
	}

	raw, err := a.client.complete(ctx, analysisPrompt(strings.Join(texts, " ")), completion{
		temperature: 0.2,
		maxTokens:   800,
		jsonOutput:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("analyze conversation: %w", err)
	}

	var resp analysisResponse
	if err := decodeJSONObject(raw, &resp); err != nil {
		return nil, fmt.Errorf("analyze conversation: %w", err)
	}
	return resp.toAnalysis(), nil
}

func (r analysisResponse) toAnalysis() *out.ConversationAnalysis {
	topics := make([]string, 0, len(r.Topics))
	for _, t := range r.Topics {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	triggers := make([]domain.Trigger, 0, len(r.FollowUpTriggers))
	for _, t := range r.FollowUpTriggers {
		if t.Kind() != "" || t.MessageType != "" {
			triggers = append(triggers, t)
		}
	}
	engagement := r.EngagementLevel
	if engagement == "" {
		engagement = "medium"
	}
	return &out.ConversationAnalysis{
		Topics:       topics,
		SentimentAvg: r.Sentiment,
		Triggers:     triggers,
		Insights: domain.ConversationInsights{
			EngagementLevel: engagement,
			LearningGaps:    r.LearningGaps,
			UpcomingEvents:  r.UpcomingEvents,
			Needs:           r.Needs,
		},
	}
}

func analysisPrompt(conversation string) string {
	return fmt.Sprintf(`Analyze this educational conversation between a student and an AI tutor. Extract:

1. Educational topics discussed, formatted Subject>Topic (e.g. "Biology>Cells", "USMLE>Cardiology")
2. Sentiment from -1 (frustrated, struggling) to +1 (confident, engaged)
3. Learning needs and struggles
4. Upcoming events mentioned (exams, tests, appointments, deadlines)
5. Follow-up opportunities for personalized emails

Conversation:
%s

Respond with JSON only:
{
  "summary": "brief 2-3 sentence summary",
  "topics": ["Biology>Cells"],
  "sentiment": 0.5,
  "needs": ["practice questions"],
  "upcoming_events": [
    {"type": "exam", "subject": "Biology", "timeframe": "tomorrow", "confidence": "high"},
    {"type": "appointment", "context": "study session", "timeframe": "tomorrow"}
  ],
  "follow_up_triggers": [
    {"trigger": "exam_prep", "subject": "Biology", "days_before": 1, "message_type": "last_minute_prep", "timeframe": "tomorrow"},
    {"trigger": "post_exam", "subject": "Biology", "days_after": 1, "message_type": "how_did_it_go"},
    {"trigger": "appointment_followup", "days_after": 1, "message_type": "session_feedback"}
  ],
  "learning_gaps": ["weak in cellular respiration"],
  "engagement_level": "high|medium|low"
}`, truncateBody(conversation, maxConversationChars))
}
