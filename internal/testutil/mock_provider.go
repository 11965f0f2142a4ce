// Package testutil provides shared test helpers, mocks, and utilities for
// steward tests.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/dativo-io/steward/internal/llm"
)

// MockProvider implements llm.Provider for tests without live API calls.
// When Content is empty, Generate returns a minimal structured answer.
// Set Err to simulate backend errors and Delay to simulate a slow backend.
type MockProvider struct {
	ProviderName string // provider identifier, e.g. "openai"
	Content      string
	Err          error
	Delay        time.Duration

	// Usage reported by Generate. When all three are zero the provider
	// reports 10 input and 20 output tokens.
	InputTokens  int
	OutputTokens int
	TotalTokens  int

	mu       sync.Mutex
	requests []*llm.Request
}

// Name returns the provider identifier (implements llm.Provider).
func (m *MockProvider) Name() string { return m.ProviderName }

// Generate returns the canned response or the configured error.
func (m *MockProvider) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	msgs := make([]llm.Message, len(req.Messages))
	copy(msgs, req.Messages)
	cp := *req
	cp.Messages = msgs
	m.requests = append(m.requests, &cp)
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}

	content := m.Content
	if content == "" {
		content = `{"result": "mock response from ` + m.ProviderName + `"}`
	}
	in, out, total := m.InputTokens, m.OutputTokens, m.TotalTokens
	if in == 0 && out == 0 && total == 0 {
		in, out = 10, 20
	}
	return &llm.Response{
		Content:      content,
		FinishReason: "stop",
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  total,
		Model:        req.Model,
	}, nil
}

// Calls returns how many times Generate was called.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// LastRequest returns the most recent request, or nil.
func (m *MockProvider) LastRequest() *llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}
