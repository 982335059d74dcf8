// Package aggregate merges per-unit candidate records into one deduplicated
// set of vendors, DJs and shows with resolved cross-references.
package aggregate

import (
	"cmp"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/karaoke-scout/internal/model"
)

// DefaultNameSimilarity is the fuzzy-match threshold for vendor and DJ names.
const DefaultNameSimilarity = 0.85

// Options tunes entity matching.
type Options struct {
	// NameSimilarity is the minimum NameSimilarity for two differently
	// spelled names to be merged, given a corroborating location or domain.
	NameSimilarity float64
}

type place struct {
	city, state string
}

func samePlace(a, b []place) bool {
	for _, pa := range a {
		for _, pb := range b {
			if pa.city == pb.city && (pa.state == pb.state || pa.state == "" || pb.state == "") {
				return true
			}
		}
	}
	return false
}

// mention is one vendor or DJ as seen in one record.
type mention struct {
	name        string
	norm        string
	source      string
	confidence  float64
	website     string
	description string
	context     string
	domain      string
	places      []place
}

func (m mention) filled() int {
	n := 0
	for _, v := range []string{m.website, m.description, m.context} {
		if v != "" {
			n++
		}
	}
	return n
}

type showMention struct {
	cand    model.ShowCandidate
	seq     int
	source  string
	archive string
}

// Aggregate deduplicates the entities of all records. Failed records carry
// no entities and contribute nothing. The result does not depend on the
// order of records.
func Aggregate(records []model.CandidateRecord, opts Options) *model.AggregatedResult {
	if opts.NameSimilarity <= 0 || opts.NameSimilarity > 1 {
		opts.NameSimilarity = DefaultNameSimilarity
	}

	var vendors, djs []mention
	var shows []showMention
	dropped := 0

	for _, rec := range records {
		if rec.UnitURL == "" {
			if !rec.Empty() {
				dropped++
			}
			continue
		}

		vendorName := ""
		if rec.Vendor != nil {
			if norm := NormalizeName(rec.Vendor.Name); norm != "" {
				vendorName = rec.Vendor.Name
			} else {
				dropped++
			}
		}

		recShows := make([]model.ShowCandidate, 0, len(rec.Shows))
		for _, s := range rec.Shows {
			if NormalizeName(s.Venue) == "" {
				dropped++
				continue
			}
			if s.VendorName == "" {
				s.VendorName = vendorName
			}
			s.Source = rec.UnitURL
			recShows = append(recShows, s)
			shows = append(shows, showMention{cand: s, seq: rec.Seq, source: rec.UnitURL, archive: rec.Archive})
		}

		if vendorName != "" {
			v := rec.Vendor
			m := mention{
				name:        v.Name,
				norm:        NormalizeName(v.Name),
				source:      rec.UnitURL,
				confidence:  v.Confidence,
				website:     v.Website,
				description: v.Description,
				domain:      websiteDomain(v.Website),
			}
			m.places = placesFor(recShows, m.norm, func(s model.ShowCandidate) string { return s.VendorName })
			vendors = append(vendors, m)
		}

		for _, dj := range rec.DJs {
			norm := NormalizeName(dj.Name)
			if norm == "" {
				dropped++
				continue
			}
			m := mention{
				name:       dj.Name,
				norm:       norm,
				source:     rec.UnitURL,
				confidence: dj.Confidence,
				context:    dj.Context,
			}
			m.places = placesFor(recShows, norm, func(s model.ShowCandidate) string { return s.DJName })
			djs = append(djs, m)
		}
	}

	if dropped > 0 {
		zap.L().Warn("aggregate: dropped malformed entries", zap.Int("dropped", dropped))
	}

	result := &model.AggregatedResult{
		Vendors: []model.Vendor{},
		DJs:     []model.DJ{},
		Shows:   []model.Show{},
	}

	vendorIndex := map[string]string{}
	for _, group := range cluster(vendors, opts.NameSimilarity) {
		v, names := buildVendor(group)
		result.Vendors = append(result.Vendors, v)
		for _, n := range names {
			vendorIndex[n] = v.Key
		}
	}

	djIndex := map[string]string{}
	for _, group := range cluster(djs, opts.NameSimilarity) {
		d, names := buildDJ(group)
		result.DJs = append(result.DJs, d)
		for _, n := range names {
			djIndex[n] = d.Key
		}
	}

	result.Shows = buildShows(shows, vendorIndex, djIndex)

	slices.SortFunc(result.Vendors, func(a, b model.Vendor) int { return cmp.Compare(a.Key, b.Key) })
	slices.SortFunc(result.DJs, func(a, b model.DJ) int { return cmp.Compare(a.Key, b.Key) })
	slices.SortFunc(result.Shows, func(a, b model.Show) int { return cmp.Compare(a.Key, b.Key) })
	return result
}

// placesFor collects the locations of shows in the same record that refer
// to the entity named norm.
func placesFor(shows []model.ShowCandidate, norm string, ref func(model.ShowCandidate) string) []place {
	var out []place
	for _, s := range shows {
		city := strings.ToLower(strings.TrimSpace(s.City))
		if city == "" || NormalizeName(ref(s)) != norm {
			continue
		}
		out = append(out, place{city: city, state: strings.ToLower(strings.TrimSpace(s.State))})
	}
	return out
}

// cluster groups mentions that refer to the same entity. Two mentions match
// when their normalized names are equal, or when the names are similar
// enough and share a location or website domain. Groups are the connected
// components of that relation.
func cluster(ms []mention, threshold float64) [][]mention {
	uf := newUnionFind(len(ms))
	for i := range ms {
		for j := i + 1; j < len(ms); j++ {
			if sameEntity(ms[i], ms[j], threshold) {
				uf.union(i, j)
			}
		}
	}

	var out [][]mention
	for _, idx := range uf.groups() {
		group := make([]mention, len(idx))
		for k, i := range idx {
			group[k] = ms[i]
		}
		slices.SortFunc(group, compareMentions)
		out = append(out, group)
	}
	return out
}

func sameEntity(a, b mention, threshold float64) bool {
	if a.norm == b.norm {
		return true
	}
	if NameSimilarity(a.norm, b.norm) < threshold {
		return false
	}
	if a.domain != "" && a.domain == b.domain {
		return true
	}
	return samePlace(a.places, b.places)
}

// compareMentions orders the best representative first: higher confidence,
// then more filled fields, then lexical order.
func compareMentions(a, b mention) int {
	if c := cmp.Compare(b.confidence, a.confidence); c != 0 {
		return c
	}
	if c := cmp.Compare(b.filled(), a.filled()); c != 0 {
		return c
	}
	return cmp.Or(
		cmp.Compare(a.name, b.name),
		cmp.Compare(a.website, b.website),
		cmp.Compare(a.description, b.description),
		cmp.Compare(a.context, b.context),
		cmp.Compare(a.source, b.source),
	)
}

// firstNonEmpty returns the first non-empty field value in group order.
func firstNonEmpty(group []mention, field func(mention) string) string {
	for _, m := range group {
		if v := field(m); v != "" {
			return v
		}
	}
	return ""
}

// variants returns the sorted distinct sources, the aliases other than the
// representative name, and every normalized name in the group.
func variants(group []mention) (sources, aliases, norms []string) {
	rep := group[0].name
	for _, m := range group {
		sources = append(sources, m.source)
		if m.name != rep {
			aliases = append(aliases, m.name)
		}
		norms = append(norms, m.norm)
	}
	return sortedUnique(sources), sortedUnique(aliases), sortedUnique(norms)
}

func sortedUnique(s []string) []string {
	slices.Sort(s)
	return slices.Compact(s)
}

func buildVendor(group []mention) (model.Vendor, []string) {
	rep := group[0]
	sources, aliases, norms := variants(group)
	return model.Vendor{
		Key:         "vendor:" + slug(rep.norm),
		Name:        rep.name,
		Website:     firstNonEmpty(group, func(m mention) string { return m.website }),
		Description: firstNonEmpty(group, func(m mention) string { return m.description }),
		Confidence:  rep.confidence,
		Aliases:     aliases,
		Sources:     sources,
	}, norms
}

func buildDJ(group []mention) (model.DJ, []string) {
	rep := group[0]
	sources, aliases, norms := variants(group)
	return model.DJ{
		Key:        "dj:" + slug(rep.norm),
		Name:       rep.name,
		Context:    firstNonEmpty(group, func(m mention) string { return m.context }),
		Confidence: rep.confidence,
		Aliases:    aliases,
		Sources:    sources,
	}, norms
}
