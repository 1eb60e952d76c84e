package llm

import (
	"context"
	"errors"
	"net/http"

	"engagement_worker/pkg/httputil"
	"engagement_worker/pkg/resilience"

	openai "github.com/sashabaranov/go-openai"
)

// chatAPI is the part of the OpenAI client used here.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ErrEmptyResponse is returned when the model produced no choices.
var ErrEmptyResponse = errors.New("llm: empty response")

type Client struct {
	api     chatAPI
	model   string
	breaker *resilience.Breaker
}

type ClientConfig struct {
	APIKey string
	Model  string
}

const DefaultModel = "gpt-4o-mini"

func NewClient(apiKey string) *Client {
	return NewClientWithConfig(ClientConfig{APIKey: apiKey})
}

func NewClientWithConfig(cfg ClientConfig) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.HTTPClient = httputil.OpenAIClient()
	return newClient(openai.NewClientWithConfig(oc), cfg.Model)
}

func newClient(api chatAPI, model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		api:     api,
		model:   model,
		breaker: resilience.New(resilience.DefaultConfig("openai")),
	}
}

// completion is one chat call's sampling settings.
type completion struct {
	temperature float32
	maxTokens   int
	jsonOutput  bool
}

// complete sends a single user prompt through the circuit breaker.
func (c *Client) complete(ctx context.Context, prompt string, opts completion) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: opts.temperature,
		MaxTokens:   opts.maxTokens,
	}
	if opts.jsonOutput {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var content string
	err := c.breaker.Execute(func() error {
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			return classify(err)
		}
		if len(resp.Choices) == 0 {
			return ErrEmptyResponse
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	return content, err
}

// classify keeps client-side API errors from tripping the breaker.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return resilience.Permanent(err)
		}
	}
	return err
}
