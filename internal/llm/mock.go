package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const MockProviderName = "mock"

// MockProvider is an offline Provider for tests and dry runs. Its exported
// fields must be set before the first request.
type MockProvider struct {
	Latency      time.Duration
	ShouldFail   bool
	FailFirst    int // fail the first N requests, then succeed
	FailAfter    int // fail every request after the first N (0 = never)
	ResponseText string
	// Respond, when set, produces the reply for each request and overrides
	// ResponseText.
	Respond func(req ChatRequest) (string, error)

	requestCount atomic.Int64
	mu           sync.Mutex
	requests     []ChatRequest
}

// ErrMockFailure is returned by a MockProvider configured to fail.
var ErrMockFailure = errors.New("mock provider configured to fail")

func NewMockProvider() *MockProvider {
	return &MockProvider{ResponseText: "mock response"}
}

func (m *MockProvider) Name() string { return MockProviderName }

func (m *MockProvider) Models() []string { return []string{"mock-model"} }

func (m *MockProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	count := m.requestCount.Add(1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.ShouldFail || int(count) <= m.FailFirst {
		return nil, ErrMockFailure
	}
	if m.FailAfter > 0 && int(count) > m.FailAfter {
		return nil, fmt.Errorf("%w after %d requests", ErrMockFailure, m.FailAfter)
	}

	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	text := m.ResponseText
	if m.Respond != nil {
		var err error
		if text, err = m.Respond(req); err != nil {
			return nil, err
		}
	}

	// Rough estimate of four characters per token.
	in := 0
	for _, msg := range req.Messages {
		in += len(msg.Content) / 4
	}
	out := len(text) / 4

	return &ChatResponse{
		ID:           fmt.Sprintf("mock-%d", count),
		Provider:     MockProviderName,
		Model:        req.Model,
		Content:      text,
		FinishReason: "stop",
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  in + out,
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

// ChatCompletionStream replays the ChatCompletion reply word by word.
func (m *MockProvider) ChatCompletionStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	resp, err := m.ChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan StreamChunk, 64)
	go func() {
		defer close(ch)
		for _, word := range strings.SplitAfter(resp.Content, " ") {
			if word == "" {
				continue
			}
			select {
			case ch <- StreamChunk{Content: word}:
			case <-ctx.Done():
				ch <- StreamChunk{Error: ctx.Err(), Done: true}
				return
			}
		}
		ch <- StreamChunk{Done: true, InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens}
	}()
	return ch, nil
}

// RequestCount returns the number of requests made.
func (m *MockProvider) RequestCount() int64 {
	return m.requestCount.Load()
}

// Requests returns a copy of every request received, in order.
func (m *MockProvider) Requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatRequest(nil), m.requests...)
}

// LastRequest returns the most recent request, or the zero value.
func (m *MockProvider) LastRequest() ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return ChatRequest{}
	}
	return m.requests[len(m.requests)-1]
}

var _ Provider = (*MockProvider)(nil)
