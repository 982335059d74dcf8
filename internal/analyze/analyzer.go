// Package analyze sends page text or flyer images to a vision/text model
// and returns the model's raw reply, which is expected to contain JSON.
package analyze

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/karaoke-scout/internal/model"
	"github.com/sells-group/karaoke-scout/internal/resilience"
)

// Input is one content unit ready for the model.
type Input struct {
	Kind model.ContentKind
	URL  string
	// Text is set for HTML units.
	Text string
	// Image and MediaType are set for image units.
	Image     []byte
	MediaType string
}

// Result is the model's freeform reply plus accounting.
type Result struct {
	Text  string
	Model string
	Usage model.TokenUsage
}

// Analyzer turns one content unit into freeform text containing JSON.
type Analyzer interface {
	Analyze(ctx context.Context, in Input) (*Result, error)
	Name() string
}

// providerError maps a non-2xx provider status onto the retry taxonomy:
// 408, 429, 5xx and 529 become transient errors, the rest are permanent.
func providerError(provider string, status int, retryAfter time.Duration, err error) error {
	wrapped := eris.Wrapf(err, "%s: status %d", provider, status)
	if resilience.IsTransientHTTPStatus(status) {
		return &resilience.TransientError{Err: wrapped, StatusCode: status, RetryAfter: retryAfter}
	}
	return wrapped
}

func validate(in Input) error {
	switch in.Kind {
	case model.ContentHTML:
		if in.Text == "" {
			return eris.New("analyze: empty text")
		}
	case model.ContentImage:
		if len(in.Image) == 0 {
			return eris.New("analyze: empty image")
		}
		if in.MediaType == "" {
			return eris.New("analyze: missing image media type")
		}
	default:
		return eris.Errorf("analyze: unknown content kind %q", in.Kind)
	}
	return nil
}
