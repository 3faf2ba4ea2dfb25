package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient is a CompletionClient for OpenAI-compatible chat completion APIs.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a new OpenAIClient. An empty baseURL keeps the
// library default; httpClient may be nil.
func NewOpenAIClient(apiKey, baseURL, model string, httpClient *http.Client) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}
}

// Complete sends the prompt as a single user message.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, NewFatalError(errors.New("completion returned no choices"))
	}

	completion := &Completion{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
	}
	if completion.Model == "" {
		completion.Model = c.model
	}
	if resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
		in, out := resp.Usage.PromptTokens, resp.Usage.CompletionTokens
		completion.InputTokens = &in
		completion.OutputTokens = &out
	}
	return completion, nil
}

// classifyError determines if a provider error is transient or fatal.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, err)
	}
	// Network errors and deadlines are transient
	return NewTransientError(fmt.Errorf("completion request failed: %w", err))
}

func classifyStatus(statusCode int, err error) error {
	wrapped := fmt.Errorf("LLM API error (status %d): %w", statusCode, err)
	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewTransientError(wrapped)
	case statusCode >= 500:
		return NewTransientError(wrapped)
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden,
		statusCode == http.StatusBadRequest:
		return NewFatalError(wrapped)
	case statusCode == 0:
		return NewTransientError(wrapped)
	default:
		return NewFatalError(wrapped)
	}
}
