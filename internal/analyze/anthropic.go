package analyze

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/karaoke-scout/internal/model"
	"github.com/sells-group/karaoke-scout/internal/resilience"
	"github.com/sells-group/karaoke-scout/pkg/anthropic"
)

// Anthropic analyzes content with the Anthropic Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropic creates an Anthropic analyzer.
func NewAnthropic(client anthropic.Client, modelID string, maxTokens int64) *Anthropic {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Anthropic{client: client, model: modelID, maxTokens: maxTokens}
}

func (a *Anthropic) Name() string { return "anthropic" }

// Analyze sends the unit as a single user message. Images are attached as
// base64 blocks ahead of the instructions.
func (a *Anthropic) Analyze(ctx context.Context, in Input) (*Result, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	req := anthropic.Request{
		Model:          a.model,
		MaxTokens:      a.maxTokens,
		Temperature:    new(float64),
		System:         SystemPrompt,
		SystemCacheTTL: anthropic.CacheTTL5m,
		Prompt:         userPrompt(in),
	}
	if in.Kind == model.ContentImage {
		req.Images = []anthropic.Image{{MediaType: in.MediaType, Data: in.Image}}
	}

	resp, err := a.client.CreateMessage(ctx, req)
	if err != nil {
		var apiErr *anthropic.APIError
		if errors.As(err, &apiErr) {
			wait := resilience.ParseRetryAfter(apiErr.Header.Get("Retry-After"), time.Now())
			return nil, providerError("anthropic", apiErr.StatusCode, wait, err)
		}
		return nil, eris.Wrap(err, "anthropic: analyze")
	}
	if resp.Truncated() {
		zap.L().Warn("anthropic: answer hit max tokens", zap.String("url", in.URL), zap.Int64("max_tokens", a.maxTokens))
	}

	return &Result{
		Text:  resp.Text,
		Model: resp.Model,
		Usage: model.TokenUsage{
			InputTokens:         int(resp.Usage.Input),
			OutputTokens:        int(resp.Usage.Output),
			CacheCreationTokens: int(resp.Usage.CacheWrite),
			CacheReadTokens:     int(resp.Usage.CacheRead),
			Cost:                resp.Usage.Cost(a.model),
		},
	}, nil
}
