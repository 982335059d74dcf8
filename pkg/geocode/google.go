package geocode

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// googleProvider queries the Google Geocoding API. Listings often omit the zip,
// so the state is passed as a component filter when it is missing.
type googleProvider struct {
	g        *geocoder
	endpoint string
	key      string
}

func (googleProvider) name() string { return "google" }

func (p googleProvider) lookup(ctx context.Context, addr Address) (*Result, error) {
	q := url.Values{}
	q.Set("address", addr.OneLine())
	q.Set("key", p.key)
	if addr.Zip == "" && addr.State != "" {
		q.Set("components", "country:US|administrative_area:"+addr.State)
	}

	var body struct {
		Status  string `json:"status"`
		Results []struct {
			Geometry struct {
				Location struct {
					Lat float64 `json:"lat"`
					Lng float64 `json:"lng"`
				} `json:"location"`
				LocationType string `json:"location_type"`
			} `json:"geometry"`
		} `json:"results"`
	}
	if err := p.g.getJSON(ctx, p.endpoint, q, &body); err != nil {
		return nil, eris.Wrap(err, "geocode: google")
	}

	// OVER_QUERY_LIMIT, REQUEST_DENIED and friends arrive with a 200.
	if body.Status != "OK" && body.Status != "ZERO_RESULTS" {
		return nil, eris.Errorf("geocode: google status %s", body.Status)
	}
	if len(body.Results) == 0 {
		return &Result{Source: p.name()}, nil
	}
	geo := body.Results[0].Geometry
	return &Result{
		Latitude:  geo.Location.Lat,
		Longitude: geo.Location.Lng,
		Source:    p.name(),
		Quality:   googleQuality(geo.LocationType),
		Matched:   true,
	}, nil
}

var googleQualities = map[string]string{
	"ROOFTOP":            "rooftop",
	"RANGE_INTERPOLATED": "range",
	"GEOMETRIC_CENTER":   "centroid",
}

func googleQuality(locationType string) string {
	if q, ok := googleQualities[strings.ToUpper(locationType)]; ok {
		return q
	}
	return "approximate"
}
