package db

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// PointEWKB encodes a WGS84 point as EWKB with SRID 4326 for
// ST_GeomFromEWKB. It returns nil when either coordinate is missing.
func PointEWKB(lat, lng *float64) ([]byte, error) {
	if lat == nil || lng == nil {
		return nil, nil
	}
	p := geom.NewPointFlat(geom.XY, []float64{*lng, *lat}).SetSRID(4326)
	data, err := ewkb.Marshal(p, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "db: encode point")
	}
	return data, nil
}
