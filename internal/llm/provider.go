// Package llm holds the model-backend clients the execution stage calls and
// the router that picks one by model id.
package llm

import (
	"context"
	"errors"
	"time"
)

// TimeoutLLMCall bounds a backend call when the caller set no deadline.
const TimeoutLLMCall = 60 * time.Second

// Domain errors for the LLM package.
var (
	ErrProviderNotAvailable = errors.New("provider not available")
	ErrUnknownModel         = errors.New("unknown model")
	ErrEmptyResponse        = errors.New("backend returned no content")
)

// Provider is implemented by every model backend.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string
	// Generate sends a completion request and returns the model's answer.
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Request is a single completion request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Message is one chat message.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Response is a backend's answer. InputTokens and OutputTokens are zero when
// the backend reports only a total.
type Response struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	Model        string
}

// Total returns TotalTokens, or the sum of input and output when no total was
// reported.
func (r *Response) Total() int {
	if r.TotalTokens > 0 {
		return r.TotalTokens
	}
	return r.InputTokens + r.OutputTokens
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, TimeoutLLMCall)
}
