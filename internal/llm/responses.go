package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openaiv3 "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
)

const ResponsesProviderName = "openai-responses"

// ResponsesProvider talks to the OpenAI Responses API, which is the only
// endpoint that takes reasoning effort and text verbosity for gpt-5 models.
type ResponsesProvider struct {
	client openaiv3.Client
}

func NewResponsesProvider(apiKey, baseURL string) *ResponsesProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// The gateway owns retries.
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &ResponsesProvider{client: openaiv3.NewClient(opts...)}
}

func (p *ResponsesProvider) Name() string { return ResponsesProviderName }

func (p *ResponsesProvider) Models() []string {
	return []string{"gpt-5", "gpt-5-mini", "gpt-5-nano", "o3", "o4-mini"}
}

func (p *ResponsesProvider) buildParams(req ChatRequest) responses.ResponseNewParams {
	items := make(responses.ResponseInputParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRole(m.Role)))
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(req.Model),
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: items},
	}
	if req.MaxTokens > 0 {
		params.MaxOutputTokens = openaiv3.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openaiv3.Float(*req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = openaiv3.Float(req.TopP)
	}
	if req.ReasoningEffort != "" {
		params.Reasoning = shared.ReasoningParam{Effort: shared.ReasoningEffort(req.ReasoningEffort)}
	}
	if req.Verbosity != "" {
		params.Text = responses.ResponseTextConfigParam{Verbosity: responses.ResponseTextConfigVerbosity(req.Verbosity)}
	}
	return params
}

func (p *ResponsesProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	resp, err := p.client.Responses.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("openai responses: %w", mapResponsesError(err))
	}

	finish := string(resp.Status)
	if resp.IncompleteDetails.Reason != "" {
		finish = string(resp.IncompleteDetails.Reason)
	}

	in := int(resp.Usage.InputTokens)
	out := int(resp.Usage.OutputTokens)
	return &ChatResponse{
		ID:           resp.ID,
		Provider:     ResponsesProviderName,
		Model:        string(resp.Model),
		Content:      resp.OutputText(),
		FinishReason: finish,
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  int(resp.Usage.TotalTokens),
		CostUSD:      CalculateCost(req.Model, in, out),
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

func (p *ResponsesProvider) ChatCompletionStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	stream := p.client.Responses.NewStreaming(ctx, p.buildParams(req))

	ch := make(chan StreamChunk, 64)
	go func() {
		defer close(ch)
		defer stream.Close()
		for stream.Next() {
			evt := stream.Current()
			switch evt.Type {
			case "response.output_text.delta":
				ch <- StreamChunk{Content: evt.Delta}
			case "response.completed":
				ch <- StreamChunk{
					Done:         true,
					InputTokens:  int(evt.Response.Usage.InputTokens),
					OutputTokens: int(evt.Response.Usage.OutputTokens),
				}
				return
			}
		}
		if err := stream.Err(); err != nil {
			ch <- StreamChunk{Error: mapResponsesError(err), Done: true}
			return
		}
		ch <- StreamChunk{Done: true}
	}()
	return ch, nil
}

func mapResponsesError(err error) error {
	var apiErr *openaiv3.Error
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return fmt.Errorf("status %d: %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("status %d", apiErr.StatusCode)
	}
	return err
}
