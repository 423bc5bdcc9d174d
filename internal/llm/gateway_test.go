package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirohiro424/sparkling/internal/config"
	"github.com/hirohiro424/sparkling/internal/metrics"
	"github.com/hirohiro424/sparkling/internal/models"
)

// renamed lets a MockProvider register under another provider name.
type renamed struct {
	*MockProvider
	name string
}

func (r renamed) Name() string { return r.name }

func testConfig() config.LLMConfig {
	return config.LLMConfig{
		DefaultProvider: MockProviderName,
		DefaultModel:    "mock-model",
		MaxRetries:      2,
		RetryDelay:      time.Millisecond,
	}
}

func userMsg(text string) []Message {
	return []Message{{Role: "user", Content: text}}
}

func TestGateway_RetriesWithFixedDelayThenSucceeds(t *testing.T) {
	mock := NewMockProvider()
	mock.FailFirst = 2
	gw := NewGateway(testConfig(), WithProvider(mock))

	resp, err := gw.Chat(context.Background(), ChatRequest{Messages: userMsg("hi")})
	require.NoError(t, err)
	assert.Equal(t, "mock response", resp.Content)
	assert.Equal(t, MockProviderName, resp.Provider)
	assert.Equal(t, "mock-model", resp.Model)
	assert.EqualValues(t, 3, mock.RequestCount())
}

func TestGateway_ExhaustedRetriesSurfaceUpstream(t *testing.T) {
	mock := NewMockProvider()
	mock.ShouldFail = true
	gw := NewGateway(testConfig(), WithProvider(mock))

	_, err := gw.Chat(context.Background(), ChatRequest{Messages: userMsg("hi")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrUpstream))
	assert.True(t, errors.Is(err, ErrMockFailure))
	assert.Contains(t, err.Error(), "3 attempt(s)")
	assert.EqualValues(t, 3, mock.RequestCount())
}

func TestGateway_ZeroRetriesMakesOneAttempt(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = -1
	mock := NewMockProvider()
	mock.ShouldFail = true
	gw := NewGateway(cfg, WithProvider(mock))

	_, err := gw.Chat(context.Background(), ChatRequest{Messages: userMsg("hi")})
	require.Error(t, err)
	assert.EqualValues(t, 1, mock.RequestCount())
}

func TestGateway_ValidationIsNotRetried(t *testing.T) {
	mock := NewMockProvider()
	gw := NewGateway(testConfig(), WithProvider(mock))

	_, err := gw.Chat(context.Background(), ChatRequest{Messages: userMsg("hi"), ReasoningEffort: "extreme"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrValidation))
	assert.False(t, errors.Is(err, models.ErrUpstream))
	assert.Zero(t, mock.RequestCount())

	mock.Respond = func(ChatRequest) (string, error) {
		return "", fmt.Errorf("%w: rejected by provider", models.ErrValidation)
	}
	_, err = gw.Chat(context.Background(), ChatRequest{Messages: userMsg("hi")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrValidation))
	assert.EqualValues(t, 1, mock.RequestCount())
}

func TestGateway_RequestValidation(t *testing.T) {
	gw := NewGateway(testConfig())

	tests := []struct {
		name string
		req  ChatRequest
	}{
		{"no messages", ChatRequest{}},
		{"bad verbosity", ChatRequest{Messages: userMsg("x"), Verbosity: "loud"}},
		{"negative max tokens", ChatRequest{Messages: userMsg("x"), MaxTokens: -1}},
		{"unknown provider", ChatRequest{Messages: userMsg("x"), Provider: "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gw.Chat(context.Background(), tt.req)
			assert.True(t, errors.Is(err, models.ErrValidation), "got %v", err)
		})
	}
}

func TestGateway_DropsTemperatureForReasoningModels(t *testing.T) {
	mock := NewMockProvider()
	gw := NewGateway(testConfig(), WithProvider(mock))

	for _, model := range []string{"gpt-5", "gpt-5-mini", "o1-preview", "o3-mini"} {
		_, err := gw.Chat(context.Background(), ChatRequest{Model: model, Messages: userMsg("x"), Temperature: Temp(0.7)})
		require.NoError(t, err)
		assert.Nil(t, mock.LastRequest().Temperature, model)
	}

	_, err := gw.Chat(context.Background(), ChatRequest{Model: "gpt-4o", Messages: userMsg("x"), Temperature: Temp(0.2)})
	require.NoError(t, err)
	require.NotNil(t, mock.LastRequest().Temperature)
	assert.InDelta(t, 0.2, *mock.LastRequest().Temperature, 1e-9)
}

func TestGateway_FallbackProvider(t *testing.T) {
	primary := NewMockProvider()
	primary.ShouldFail = true
	backup := NewMockProvider()
	backup.ResponseText = "from backup"

	cfg := testConfig()
	cfg.DefaultProvider = "primary"
	cfg.FallbackProvider = "backup"
	cfg.MaxRetries = 0
	gw := NewGateway(cfg,
		WithProvider(renamed{primary, "primary"}),
		WithProvider(renamed{backup, "backup"}),
	)

	resp, err := gw.Chat(context.Background(), ChatRequest{Messages: userMsg("hi")})
	require.NoError(t, err)
	assert.Equal(t, "from backup", resp.Content)
	assert.Equal(t, "backup", resp.Provider)
	assert.EqualValues(t, 1, primary.RequestCount())

	_, err = gw.Chat(context.Background(), ChatRequest{Messages: userMsg("hi"), ReasoningEffort: "max"})
	require.Error(t, err)
	assert.EqualValues(t, 1, backup.RequestCount(), "validation errors must not fall back")
}

func TestGateway_RecordsEveryAttempt(t *testing.T) {
	var buf bytes.Buffer
	mock := NewMockProvider()
	mock.FailFirst = 1
	reg := metrics.New(nil)
	gw := NewGateway(testConfig(), WithProvider(mock), WithRecorder(NewRecorder(&buf, nil)), WithMetrics(reg))

	_, err := gw.Chat(context.Background(), ChatRequest{
		Messages:        []Message{{Role: "system", Content: "be terse"}, {Role: "user", Content: "hello"}},
		MaxTokens:       100,
		ReasoningEffort: "low",
	})
	require.NoError(t, err)

	var events []map[string]any
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		events = append(events, line)
	}
	require.Len(t, events, 4)

	kinds := make([]string, len(events))
	for i, e := range events {
		kinds[i] = e["event"].(string)
	}
	assert.Equal(t, []string{"llm_request", "llm_error", "llm_request", "llm_response"}, kinds)

	assert.Equal(t, "mock-model", events[0]["model"])
	assert.EqualValues(t, 100, events[0]["max_tokens"])
	assert.EqualValues(t, 13, events[0]["input_chars"])
	assert.Equal(t, "low", events[0]["reasoning_effort"])
	assert.EqualValues(t, 2, events[2]["attempt"])
	assert.Equal(t, "stop", events[3]["finish_reason"])
	assert.NotContains(t, buf.String(), "api_key")
}

func TestGateway_ChatStream(t *testing.T) {
	mock := NewMockProvider()
	mock.ResponseText = "one two three"
	gw := NewGateway(testConfig(), WithProvider(mock))

	ch, err := gw.ChatStream(context.Background(), ChatRequest{Messages: userMsg("count")})
	require.NoError(t, err)

	var sb strings.Builder
	done := false
	for chunk := range ch {
		require.NoError(t, chunk.Error)
		sb.WriteString(chunk.Content)
		done = done || chunk.Done
	}
	assert.True(t, done)
	assert.Equal(t, "one two three", sb.String())
}

func TestGateway_ListModelsSorted(t *testing.T) {
	gw := NewGateway(testConfig(), WithProvider(renamed{NewMockProvider(), "aaa"}))

	got := gw.ListModels()
	require.Len(t, got, 2)
	assert.Equal(t, ModelInfo{Provider: "aaa", Model: "mock-model"}, got[0])
	assert.Equal(t, ModelInfo{Provider: MockProviderName, Model: "mock-model"}, got[1])
	assert.Equal(t, "mock-model", gw.DefaultModel())
}

func TestCalculateCost(t *testing.T) {
	assert.InDelta(t, 0.00125+0.01, CalculateCost("gpt-5", 1000, 1000), 1e-12)
	assert.InDelta(t, CalculateCost("gpt-5-mini", 500, 200), CalculateCost("gpt-5-mini-2025-08-07", 500, 200), 1e-12)
	assert.Zero(t, CalculateCost("unknown-model", 1000, 1000))
}
