// Package anthropic is a thin single-turn wrapper over the Anthropic
// Messages API for schedule extraction: one system prompt, one user turn
// with optional images, one text answer.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

// Client sends one extraction request.
type Client interface {
	CreateMessage(ctx context.Context, req Request) (*Response, error)
}

// APIError is returned when the API answers with a non-2xx status.
// Header carries the response headers, including any Retry-After.
type APIError struct {
	StatusCode int
	Header     http.Header
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("anthropic: HTTP %d: %v", e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

type sdkClient struct {
	sdk sdk.Client
}

// NewClient returns a Client backed by anthropic-sdk-go. The SDK's own
// retries are off; callers retry through their own policy.
func NewClient(apiKey string, opts ...option.RequestOption) Client {
	base := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	return &sdkClient{sdk: sdk.NewClient(append(base, opts...)...)}
}

func (c *sdkClient) CreateMessage(ctx context.Context, req Request) (*Response, error) {
	msg, err := c.sdk.Messages.New(ctx, req.params())
	if err == nil {
		return responseFrom(msg), nil
	}

	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return nil, eris.Wrap(err, "anthropic: create message")
	}
	out := &APIError{StatusCode: apiErr.StatusCode, Err: err}
	if apiErr.Response != nil {
		out.Header = apiErr.Response.Header
	}
	return nil, out
}
