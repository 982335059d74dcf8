package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/karaoke-scout/internal/model"
	"github.com/sells-group/karaoke-scout/pkg/geocode"
)

// locate fills coordinates for shows that have a street address but no
// lat/lng. Lookup failures leave the show as extracted. It returns the
// number of shows located.
func (p *Pipeline) locate(ctx context.Context, log *zap.Logger, result *model.AggregatedResult) int {
	located := 0
	for i := range result.Shows {
		if ctx.Err() != nil {
			break
		}
		s := &result.Shows[i]
		if s.Address == "" || (s.Lat != nil && s.Lng != nil) {
			continue
		}

		addr := geocode.Address{Street: s.Address, City: s.City, State: s.State, Zip: s.Zip}
		r, err := p.deps.Geocoder.Geocode(ctx, addr)
		if err != nil {
			log.Warn("pipeline: geocode venue", zap.String("venue", s.Venue), zap.Error(err))
			continue
		}
		if !r.Matched {
			log.Debug("pipeline: venue not geocoded", zap.String("venue", s.Venue), zap.String("address", addr.OneLine()))
			continue
		}

		lat, lng := r.Latitude, r.Longitude
		s.Lat, s.Lng = &lat, &lng
		located++
	}
	return located
}
