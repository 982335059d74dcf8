package anthropic

import (
	"encoding/base64"

	sdk "github.com/anthropics/anthropic-sdk-go"
)

// Prompt cache lifetimes accepted by the API.
const (
	CacheTTL5m = "5m"
	CacheTTL1h = "1h"
)

// Request is a single-turn extraction call.
type Request struct {
	Model       string
	MaxTokens   int64
	Temperature *float64

	System string
	// SystemCacheTTL makes the system prompt a cache breakpoint. Every
	// unit of a run shares the prompt, so later calls read it from cache.
	// Empty leaves it uncached.
	SystemCacheTTL string

	Prompt string
	// Images are sent ahead of Prompt.
	Images []Image
}

// Image is an inline image such as a show flyer.
type Image struct {
	MediaType string // image/jpeg, image/png, image/gif or image/webp
	Data      []byte
}

func (r Request) params() sdk.MessageNewParams {
	content := make([]sdk.ContentBlockParamUnion, 0, len(r.Images)+1)
	for _, img := range r.Images {
		content = append(content, sdk.NewImageBlockBase64(img.MediaType, base64.StdEncoding.EncodeToString(img.Data)))
	}
	content = append(content, sdk.NewTextBlock(r.Prompt))

	p := sdk.MessageNewParams{
		Model:     sdk.Model(r.Model),
		MaxTokens: r.MaxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(content...)},
	}
	if r.System != "" {
		block := sdk.TextBlockParam{Text: r.System}
		if r.SystemCacheTTL != "" {
			cc := sdk.NewCacheControlEphemeralParam()
			cc.TTL = sdk.CacheControlEphemeralTTL(r.SystemCacheTTL)
			block.CacheControl = cc
		}
		p.System = []sdk.TextBlockParam{block}
	}
	if r.Temperature != nil {
		p.Temperature = sdk.Float(*r.Temperature)
	}
	return p
}
