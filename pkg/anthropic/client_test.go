package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModel = "claude-sonnet-4-5-20250929"

func clientFor(t *testing.T, h http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient("test-key", option.WithBaseURL(srv.URL))
}

func replyText(w http.ResponseWriter, text, stopReason string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":          "msg_001",
		"type":        "message",
		"role":        "assistant",
		"model":       testModel,
		"content":     []map[string]any{{"type": "text", "text": text}},
		"stop_reason": stopReason,
		"usage": map[string]any{
			"input_tokens":                10,
			"output_tokens":               5,
			"cache_creation_input_tokens": 0,
			"cache_read_input_tokens":     7,
		},
	})
}

func TestCreateMessage(t *testing.T) {
	c := clientFor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		var body struct {
			Model  string `json:"model"`
			System []struct {
				Text         string         `json:"text"`
				CacheControl map[string]any `json:"cache_control"`
			} `json:"system"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, testModel, body.Model)
		require.Len(t, body.System, 1)
		assert.Equal(t, "extract shows", body.System[0].Text)
		assert.Equal(t, "ephemeral", body.System[0].CacheControl["type"])

		replyText(w, `{"shows":[]}`, "end_turn")
	})

	resp, err := c.CreateMessage(context.Background(), Request{
		Model:          testModel,
		MaxTokens:      1024,
		System:         "extract shows",
		SystemCacheTTL: CacheTTL5m,
		Prompt:         "Karaoke Thursdays",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_001", resp.ID)
	assert.Equal(t, `{"shows":[]}`, resp.Text)
	assert.Equal(t, int64(10), resp.Usage.Input)
	assert.Equal(t, int64(7), resp.Usage.CacheRead)
}

func TestCreateMessage_Image(t *testing.T) {
	c := clientFor(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Content []map[string]any `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Messages, 1)
		require.Len(t, body.Messages[0].Content, 2)

		img := body.Messages[0].Content[0]
		assert.Equal(t, "image", img["type"])
		src := img["source"].(map[string]any)
		assert.Equal(t, "base64", src["type"])
		assert.Equal(t, "image/png", src["media_type"])
		assert.Equal(t, "iVBO", src["data"])
		assert.Equal(t, "text", body.Messages[0].Content[1]["type"])

		replyText(w, "{}", "max_tokens")
	})

	resp, err := c.CreateMessage(context.Background(), Request{
		Model:     testModel,
		MaxTokens: 256,
		Prompt:    "read this flyer",
		Images:    []Image{{MediaType: "image/png", Data: []byte{0x89, 0x50, 0x4e}}},
	})
	require.NoError(t, err)
	assert.True(t, resp.Truncated())
}

func TestCreateMessage_APIError(t *testing.T) {
	var calls atomic.Int32
	c := clientFor(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "rate_limit_error", "message": "slow down"},
		})
	})

	_, err := c.CreateMessage(context.Background(), Request{Model: testModel, MaxTokens: 16, Prompt: "hi"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "3", apiErr.Header.Get("Retry-After"))
	assert.Contains(t, apiErr.Error(), "anthropic: HTTP 429")
	assert.Equal(t, int32(1), calls.Load(), "sdk retries must be disabled")
}

func TestCreateMessage_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	_, err := NewClient("k", option.WithBaseURL(srv.URL)).CreateMessage(context.Background(), Request{
		Model: testModel, MaxTokens: 16, Prompt: "hi",
	})
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
	assert.Contains(t, err.Error(), "anthropic: create message")
}

func TestAPIError_Unwrap(t *testing.T) {
	inner := errors.New("overloaded")
	err := &APIError{StatusCode: 529, Err: inner}
	assert.Equal(t, "anthropic: HTTP 529: overloaded", err.Error())
	assert.ErrorIs(t, err, inner)
}
