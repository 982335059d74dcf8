package analyze

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/rotisserie/eris"
	"github.com/sashabaranov/go-openai"

	"github.com/sells-group/karaoke-scout/internal/model"
)

// openAIPricing holds per-million-token pricing {input, output} in USD.
var openAIPricing = map[string][2]float64{
	"gpt-4o-mini": {0.15, 0.60},
	"gpt-4o":      {2.50, 10.00},
	"gpt-4.1":     {2.00, 8.00},
}

// OpenAI analyzes content with the OpenAI chat completions API.
type OpenAI struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAI creates an OpenAI analyzer. An empty baseURL uses the public API.
func NewOpenAI(apiKey, baseURL, modelID string, maxTokens int) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &OpenAI{
		client:      openai.NewClientWithConfig(cfg),
		model:       modelID,
		maxTokens:   maxTokens,
		temperature: 0.1,
	}
}

func (o *OpenAI) Name() string { return "openai" }

// Analyze sends the unit as one user message in JSON mode. Images travel as
// data URLs.
func (o *OpenAI) Analyze(ctx context.Context, in Input) (*Result, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if in.Kind == model.ContentImage {
		user.MultiContent = []openai.ChatMessagePart{
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:" + in.MediaType + ";base64," + base64.StdEncoding.EncodeToString(in.Image),
					Detail: openai.ImageURLDetailHigh,
				},
			},
			{Type: openai.ChatMessagePartTypeText, Text: userPrompt(in)},
		}
	} else {
		user.Content = userPrompt(in)
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			user,
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
			return nil, providerError("openai", apiErr.HTTPStatusCode, 0, err)
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
			return nil, providerError("openai", reqErr.HTTPStatusCode, 0, err)
		}
		return nil, eris.Wrap(err, "openai: analyze")
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("openai: no response choices")
	}

	usage := model.TokenUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if p, ok := openAIPricing[o.model]; ok {
		usage.Cost = float64(usage.InputTokens)/1e6*p[0] + float64(usage.OutputTokens)/1e6*p[1]
	}

	return &Result{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: usage,
	}, nil
}
