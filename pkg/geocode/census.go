package geocode

import (
	"context"
	"net/url"

	"github.com/rotisserie/eris"
)

const censusBenchmark = "Public_AR_Current"

// censusProvider queries the Census Bureau one-line address geocoder. It needs no
// key but only knows US street addresses.
type censusProvider struct {
	g        *geocoder
	endpoint string
}

func (censusProvider) name() string { return "census" }

func (c censusProvider) lookup(ctx context.Context, addr Address) (*Result, error) {
	var body struct {
		Result struct {
			AddressMatches []struct {
				Coordinates struct {
					X float64 `json:"x"`
					Y float64 `json:"y"`
				} `json:"coordinates"`
			} `json:"addressMatches"`
		} `json:"result"`
	}
	q := url.Values{}
	q.Set("address", addr.OneLine())
	q.Set("benchmark", censusBenchmark)
	q.Set("format", "json")
	if err := c.g.getJSON(ctx, c.endpoint, q, &body); err != nil {
		return nil, eris.Wrap(err, "geocode: census")
	}

	matches := body.Result.AddressMatches
	if len(matches) == 0 {
		return &Result{Source: c.name()}, nil
	}
	// Census coordinates are interpolated along the street segment.
	return &Result{
		Latitude:  matches[0].Coordinates.Y,
		Longitude: matches[0].Coordinates.X,
		Source:    c.name(),
		Quality:   "range",
		Matched:   true,
	}, nil
}
