package services

import "context"

// CompletionRequest is a single prompt sent to the completion gateway.
type CompletionRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completion is the gateway's answer. Token counts are nil when the provider
// did not report usage.
type Completion struct {
	Text         string
	Model        string
	InputTokens  *int
	OutputTokens *int
}

// CompletionClient is an interface for communicating with the LLM provider.
type CompletionClient interface {
	// Complete generates text for the given prompt.
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
