package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/karaoke-scout/internal/aggregate"
	"github.com/sells-group/karaoke-scout/internal/db"
	"github.com/sells-group/karaoke-scout/internal/model"
)

func vendorUpsert(d db.Dialect) db.UpsertConfig {
	return db.UpsertConfig{
		Table:        "vendors",
		Columns:      []string{"key", "name", "website", "description"},
		ConflictKeys: []string{"key"},
		Dialect:      d,
	}
}

func djUpsert(d db.Dialect) db.UpsertConfig {
	return db.UpsertConfig{
		Table:        "djs",
		Columns:      []string{"key", "name", "context"},
		ConflictKeys: []string{"key"},
		Dialect:      d,
	}
}

func venueUpsert(d db.Dialect) db.UpsertConfig {
	cfg := db.UpsertConfig{
		Table:        "venues",
		Columns:      []string{"key", "name", "address", "city", "state", "zip"},
		ConflictKeys: []string{"key"},
		Dialect:      d,
	}
	if d == db.Postgres {
		cfg.Columns = append(cfg.Columns, "location")
		cfg.Wrap = map[string]string{"location": "ST_GeomFromEWKB(%s)"}
	} else {
		cfg.Columns = append(cfg.Columns, "lat", "lng")
	}
	return cfg
}

func showUpsert(d db.Dialect) db.UpsertConfig {
	return db.UpsertConfig{
		Table: "shows",
		Columns: []string{
			"key", "schedule_id", "venue_id", "vendor_id", "dj_id", "day",
			"start_time", "end_time", "description", "source_url", "source_archive", "confidence",
		},
		ConflictKeys: []string{"key"},
		Dialect:      d,
	}
}

// venueKey identifies a venue by normalized name and locality.
func venueKey(s model.Show) string {
	return strings.Join([]string{
		strings.ReplaceAll(aggregate.NormalizeName(s.Venue), " ", "-"),
		strings.ToLower(strings.TrimSpace(s.City)),
		strings.ToLower(strings.TrimSpace(s.State)),
	}, "|")
}

// catalogShowKey identifies a committed show by venue, weekday and start
// time. It embeds the venue key so same-named venues in different cities
// never share a row.
func catalogShowKey(venue string, s model.Show) string {
	start := aggregate.NormalizeTime(s.StartTime)
	if start == "" {
		start = strings.TrimSpace(s.StartTime)
	}
	return venue + "/" + aggregate.NormalizeDay(s.Day) + "/" + start
}

// commitEntities upserts every entity of result through q, which must be
// a transaction, and returns the ids in result order.
func commitEntities(ctx context.Context, q db.Querier, d db.Dialect, scheduleID string, result *model.AggregatedResult) (*model.CommitResult, error) {
	out := &model.CommitResult{
		ScheduleID: scheduleID,
		VendorIDs:  []int64{},
		DJIDs:      []int64{},
		VenueIDs:   []int64{},
		ShowIDs:    []int64{},
	}
	if result == nil {
		return out, nil
	}

	vendorIDs := make(map[string]int64, len(result.Vendors))
	for _, v := range result.Vendors {
		id, err := db.UpsertReturningID(ctx, q, vendorUpsert(d), []any{v.Key, v.Name, v.Website, v.Description})
		if err != nil {
			return nil, eris.Wrapf(err, "store: commit vendor %s", v.Key)
		}
		vendorIDs[v.Key] = id
		out.VendorIDs = append(out.VendorIDs, id)
	}

	djIDs := make(map[string]int64, len(result.DJs))
	for _, dj := range result.DJs {
		id, err := db.UpsertReturningID(ctx, q, djUpsert(d), []any{dj.Key, dj.Name, dj.Context})
		if err != nil {
			return nil, eris.Wrapf(err, "store: commit dj %s", dj.Key)
		}
		djIDs[dj.Key] = id
		out.DJIDs = append(out.DJIDs, id)
	}

	venueIDs := map[string]int64{}
	for _, s := range result.Shows {
		vk := venueKey(s)
		venueID, ok := venueIDs[vk]
		if !ok {
			values := []any{vk, s.Venue, s.Address, s.City, s.State, s.Zip}
			if d == db.Postgres {
				point, err := db.PointEWKB(s.Lat, s.Lng)
				if err != nil {
					return nil, err
				}
				values = append(values, point)
			} else {
				values = append(values, s.Lat, s.Lng)
			}

			id, err := db.UpsertReturningID(ctx, q, venueUpsert(d), values)
			if err != nil {
				return nil, eris.Wrapf(err, "store: commit venue %s", vk)
			}
			venueIDs[vk] = id
			venueID = id
			out.VenueIDs = append(out.VenueIDs, id)
		}

		sk := catalogShowKey(vk, s)
		id, err := db.UpsertReturningID(ctx, q, showUpsert(d), []any{
			sk, scheduleID, venueID, ref(vendorIDs, s.VendorKey), ref(djIDs, s.DJKey), s.Day,
			s.StartTime, s.EndTime, s.Description, s.Source, s.SourceArchive, s.Confidence,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "store: commit show %s", sk)
		}
		out.ShowIDs = append(out.ShowIDs, id)
	}
	return out, nil
}

// ref resolves an entity key to its committed id, or nil for SQL NULL.
func ref(ids map[string]int64, key *string) any {
	if key == nil {
		return nil
	}
	if id, ok := ids[*key]; ok {
		return id
	}
	return nil
}
