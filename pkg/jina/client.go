// Package jina reads web pages through the Jina AI Reader, which renders
// JavaScript and returns the page as markdown. It is the fallback for
// venue sites that block direct fetching.
package jina

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://r.jina.ai"

// Page is a page as rendered by the Reader.
type Page struct {
	Title   string
	URL     string
	Content string // markdown
	Tokens  int
}

// StatusError is returned when the Reader answers with a non-200 status.
// Body holds the start of the response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jina: HTTP %d: %s", e.StatusCode, e.Body)
}

// Client reads one URL. It makes a single attempt; callers decide on
// retries.
type Client interface {
	Read(ctx context.Context, targetURL string) (*Page, error)
}

// Option configures NewClient.
type Option func(*reader)

// WithBaseURL points the client at another Reader endpoint.
func WithBaseURL(u string) Option {
	return func(r *reader) {
		if u != "" {
			r.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *reader) { r.hc = hc }
}

// WithImageCaptions asks the Reader to caption images without alt text,
// which surfaces the text of flyers embedded in a page.
func WithImageCaptions(on bool) Option {
	return func(r *reader) { r.captions = on }
}

type reader struct {
	apiKey   string
	baseURL  string
	hc       *http.Client
	captions bool
}

// NewClient returns a Reader client. An empty apiKey uses the anonymous,
// lower rate limit.
func NewClient(apiKey string, opts ...Option) Client {
	r := &reader{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		hc:      &http.Client{Timeout: 45 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *reader) Read(ctx context.Context, targetURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/"+targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "jina: build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Return-Format", "markdown")
	req.Header.Set("X-With-Generated-Alt", strconv.FormatBool(r.captions))
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.hc.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "jina: read")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		head, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(head))}
	}

	var envelope struct {
		Code int `json:"code"`
		Data struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
			Usage   struct {
				Tokens int `json:"tokens"`
			} `json:"usage"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, eris.Wrap(err, "jina: decode response")
	}
	// The envelope can carry its own failure code under a 200.
	if envelope.Code != 0 && envelope.Code != http.StatusOK {
		return nil, &StatusError{StatusCode: envelope.Code, Body: envelope.Data.Title}
	}

	d := envelope.Data
	return &Page{Title: d.Title, URL: d.URL, Content: d.Content, Tokens: d.Usage.Tokens}, nil
}
