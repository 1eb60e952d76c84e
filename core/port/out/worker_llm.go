package out

import (
	"context"
	"time"

	"engagement_worker/core/domain"
)

// ConversationMessage is a learner message sent to conversation analysis.
type ConversationMessage struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationAnalysis is the structured result of analyzing learner messages.
type ConversationAnalysis struct {
	Topics       []string                    `json:"topics"`
	SentimentAvg float64                     `json:"sentiment_avg"`
	Triggers     []domain.Trigger            `json:"triggers"`
	Insights     domain.ConversationInsights `json:"insights"`
}

// ConversationAnalyzer mines topics, sentiment and follow-up triggers from text.
type ConversationAnalyzer interface {
	Analyze(ctx context.Context, messages []ConversationMessage) (*ConversationAnalysis, error)
}

// MetricsScope tells the generator which metrics it may quote.
type MetricsScope string

const (
	MetricsScopeOverall MetricsScope = "overall"
	MetricsScopeSubject MetricsScope = "subject"
)

// GenerationRequest is the steering context for email generation.
type GenerationRequest struct {
	RuleID           string
	Purpose          domain.Purpose
	UserEmail        string
	FirstName        string
	PreferredSubject string
	DayHint          string
	MetricsScope     MetricsScope
	Snapshot         *domain.FeatureSnapshot
}

// GeneratedEmail is raw generator output before the alignment guard.
type GeneratedEmail struct {
	Subject string `json:"subject"`
	Content string `json:"content"`
}

// ContentGenerator writes an email subject and body.
type ContentGenerator interface {
	Generate(ctx context.Context, req *GenerationRequest) (*GeneratedEmail, error)
}
