package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/rotisserie/eris"
)

// provider is one backend in the lookup chain. A lookup that reaches the
// backend but finds nothing returns an unmatched Result and no error.
type provider interface {
	name() string
	lookup(ctx context.Context, addr Address) (*Result, error)
}

// getJSON waits on the shared rate limiter, then GETs endpoint with the
// query q and decodes a 200 response into out.
func (g *geocoder) getJSON(ctx context.Context, endpoint string, q url.Values, out any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "rate limit")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return eris.Wrap(err, "build request")
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return eris.Wrap(err, "request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
