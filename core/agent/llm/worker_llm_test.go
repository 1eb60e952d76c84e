package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"engagement_worker/core/domain"
	"engagement_worker/core/port/out"

	openai "github.com/sashabaranov/go-openai"
)

type fakeChat struct {
	reply string
	err   error
	calls int
	last  openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.reply}}},
	}, nil
}

func TestTruncateBody(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		maxLen   int
		expected string
	}{
		{name: "short body", body: "Hello world", maxLen: 100, expected: "Hello world"},
		{name: "exact length", body: "Hello", maxLen: 5, expected: "Hello"},
		{name: "truncated", body: "Hello world, this is a long message", maxLen: 10, expected: "Hello worl..."},
		{name: "empty body", body: "", maxLen: 100, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := truncateBody(tt.body, tt.maxLen)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestDecodeJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "plain", raw: `{"subject":"Hi","content":"Body"}`, want: "Hi"},
		{name: "fenced", raw: "```json\n{\"subject\":\"Hi\",\"content\":\"Body\"}\n```", want: "Hi"},
		{name: "prose around object", raw: "Sure! Here it is: {\"subject\":\"Hi\",\"content\":\"Body\"} Enjoy.", want: "Hi"},
		{name: "no object", raw: "I cannot help with that.", wantErr: true},
		{name: "broken object", raw: `{"subject": }`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got out.GeneratedEmail
			err := decodeJSONObject(tt.raw, &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeJSONObject() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got.Subject != tt.want {
				t.Errorf("expected subject %q, got %q", tt.want, got.Subject)
			}
		})
	}
}

func TestAnalyzerParsesResponse(t *testing.T) {
	chat := &fakeChat{reply: `{
		"topics": ["Biology>Cells", " ", "Exam>Preparation"],
		"sentiment": -0.3,
		"needs": ["practice questions"],
		"upcoming_events": [{"type": "exam", "subject": "Biology", "timeframe": "tomorrow"}],
		"follow_up_triggers": [
			{"trigger": "exam_prep", "subject": "Biology", "days_before": 1, "message_type": "last_minute_prep"},
			{"subject": "ignored"}
		],
		"learning_gaps": ["mitosis"]
	}`}
	a := NewAnalyzer(newClient(chat, ""))

	got, err := a.Analyze(context.Background(), []out.ConversationMessage{
		{Content: "I have a biology exam tomorrow", Timestamp: time.Now()},
		{Content: "  "},
	})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	if len(got.Topics) != 2 || got.Topics[0] != "Biology>Cells" {
		t.Errorf("expected 2 cleaned topics, got %v", got.Topics)
	}
	if got.SentimentAvg != -0.3 {
		t.Errorf("expected sentiment -0.3, got %v", got.SentimentAvg)
	}
	if len(got.Triggers) != 1 || got.Triggers[0].Kind() != "exam_prep" {
		t.Fatalf("expected one exam_prep trigger, got %+v", got.Triggers)
	}
	if got.Triggers[0].DaysBefore == nil || *got.Triggers[0].DaysBefore != 1 {
		t.Errorf("expected days_before 1, got %v", got.Triggers[0].DaysBefore)
	}
	if got.Insights.EngagementLevel != "medium" {
		t.Errorf("expected default engagement medium, got %q", got.Insights.EngagementLevel)
	}
	if len(got.Insights.UpcomingEvents) != 1 || got.Insights.UpcomingEvents[0].Timeframe != "tomorrow" {
		t.Errorf("unexpected upcoming events %+v", got.Insights.UpcomingEvents)
	}

	if chat.last.Temperature != 0.2 || chat.last.ResponseFormat == nil {
		t.Errorf("expected JSON mode at temperature 0.2, got %+v", chat.last)
	}
	if !strings.Contains(chat.last.Messages[0].Content, "I have a biology exam tomorrow") {
		t.Error("prompt does not include the conversation")
	}
}

func TestAnalyzerSkipsEmptyConversation(t *testing.T) {
	chat := &fakeChat{}
	got, err := NewAnalyzer(newClient(chat, "")).Analyze(context.Background(), nil)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if chat.calls != 0 {
		t.Errorf("expected no model call, got %d", chat.calls)
	}
	if got.Topics == nil || got.Triggers == nil {
		t.Error("expected non-nil empty topics and triggers")
	}
}

func TestAnalyzerErrors(t *testing.T) {
	tests := []struct {
		name string
		chat *fakeChat
	}{
		{name: "transport error", chat: &fakeChat{err: errors.New("connection reset")}},
		{name: "not json", chat: &fakeChat{reply: "no idea"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAnalyzer(newClient(tt.chat, "")).Analyze(context.Background(), []out.ConversationMessage{{Content: "hi"}})
			if err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestGenerator(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		wantErr bool
	}{
		{name: "valid", reply: `{"subject": " Tonight's Physics exam ", "content": "Your Physics exam is tonight."}`},
		{name: "empty content", reply: `{"subject": "Hi", "content": ""}`, wantErr: true},
		{name: "garbage", reply: "Dear student,", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGenerator(newClient(&fakeChat{reply: tt.reply}, ""))
			got, err := g.Generate(context.Background(), &out.GenerationRequest{RuleID: "exam_last_minute_prep"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Generate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got.Subject != "Tonight's Physics exam" {
				t.Errorf("expected trimmed subject, got %q", got.Subject)
			}
		})
	}
}

func TestGenerationPrompt(t *testing.T) {
	req := &out.GenerationRequest{
		RuleID:           "exam_last_minute_prep",
		Purpose:          domain.PurposeExamLastMinutePrep,
		FirstName:        "Jane",
		PreferredSubject: "Physics",
		DayHint:          "tonight",
		MetricsScope:     out.MetricsScopeOverall,
		Snapshot:         &domain.FeatureSnapshot{TopTopics: []string{"Physics>Mechanics"}},
	}
	prompt := generationPrompt(req)

	for _, want := range []string{
		`Return ONLY valid JSON with keys "subject" and "content"`,
		"Student: Jane",
		"PreferredSubjectHint: Physics",
		"DayHint: tonight",
		"Tonight's Physics exam",
		"Your Physics exam is tonight.",
		"Do NOT state or imply per-subject percentages",
		"Physics>Mechanics",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	req.Purpose = domain.PurposeWinback
	req.PreferredSubject, req.DayHint = "", ""
	req.MetricsScope = out.MetricsScopeSubject
	prompt = generationPrompt(req)
	if strings.Contains(prompt, "exam is") {
		t.Error("winback prompt carries exam nudges")
	}
	if !strings.Contains(prompt, "PreferredSubjectHint: None") || !strings.Contains(prompt, subjectMetricsRule) {
		t.Error("winback prompt missing defaults")
	}
}

func TestClientBreakerOpensOnServerErrors(t *testing.T) {
	chat := &fakeChat{err: &openai.APIError{HTTPStatusCode: http.StatusServiceUnavailable, Message: "overloaded"}}
	c := newClient(chat, "")

	for i := 0; i < 6; i++ {
		_, _ = c.complete(context.Background(), "ping", completion{})
	}
	_, err := c.complete(context.Background(), "ping", completion{})
	if err == nil || chat.calls != 6 {
		t.Errorf("expected open breaker to short-circuit, calls=%d err=%v", chat.calls, err)
	}
}

func TestClientBreakerIgnoresClientErrors(t *testing.T) {
	chat := &fakeChat{err: &openai.APIError{HTTPStatusCode: http.StatusBadRequest, Message: "bad prompt"}}
	c := newClient(chat, "")

	for i := 0; i < 10; i++ {
		_, _ = c.complete(context.Background(), "ping", completion{})
	}
	if chat.calls != 10 {
		t.Errorf("expected every call to reach the API, got %d", chat.calls)
	}
	if c.breaker.State() != "closed" {
		t.Errorf("expected closed breaker, got %s", c.breaker.State())
	}
}
