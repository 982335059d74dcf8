package aggregate

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sells-group/karaoke-scout/internal/model"
)

// showKey identifies a show by venue, weekday and start time.
func showKey(s model.ShowCandidate) (key, day, start string) {
	day = NormalizeDay(s.Day)
	start = NormalizeTime(s.StartTime)
	if start == "" {
		start = NormalizeTime(s.Time)
	}
	return strings.Join([]string{slug(NormalizeName(s.Venue)), day, start}, "/"), day, start
}

// byEarliest orders mentions by discovery order, then source URL, then a
// fingerprint of the content.
func byEarliest(a, b showMention) int {
	return cmp.Or(
		cmp.Compare(a.seq, b.seq),
		cmp.Compare(a.source, b.source),
		cmp.Compare(b.cand.Confidence, a.cand.Confidence),
		cmp.Compare(fingerprint(a.cand), fingerprint(b.cand)),
	)
}

// byConfidence orders mentions by confidence, breaking ties by earliest.
func byConfidence(a, b showMention) int {
	if c := cmp.Compare(b.cand.Confidence, a.cand.Confidence); c != 0 {
		return c
	}
	return byEarliest(a, b)
}

func fingerprint(s model.ShowCandidate) string {
	coord := func(f *float64) string {
		if f == nil {
			return ""
		}
		return strconv.FormatFloat(*f, 'f', -1, 64)
	}
	return strings.Join([]string{
		s.Venue, s.Address, s.City, s.State, s.Zip, coord(s.Lat), coord(s.Lng),
		s.Day, s.Time, s.StartTime, s.EndTime, s.DJName, s.VendorName, s.Description,
	}, "\x00")
}

func buildShows(mentions []showMention, vendorIndex, djIndex map[string]string) []model.Show {
	groups := map[string][]showMention{}
	for _, m := range mentions {
		key, _, _ := showKey(m.cand)
		groups[key] = append(groups[key], m)
	}

	out := make([]model.Show, 0, len(groups))
	for key, group := range groups {
		out = append(out, mergeShow(key, group, vendorIndex, djIndex))
	}
	return out
}

// mergeShow combines duplicate mentions. Field values come from the most
// confident mention that has them; the source always stays with the
// earliest-discovered mention.
func mergeShow(key string, group []showMention, vendorIndex, djIndex map[string]string) model.Show {
	slices.SortFunc(group, byEarliest)
	earliest := group[0]

	ranked := slices.Clone(group)
	slices.SortFunc(ranked, byConfidence)
	pick := func(field func(model.ShowCandidate) string) string {
		for _, m := range ranked {
			if v := strings.TrimSpace(field(m.cand)); v != "" {
				return v
			}
		}
		return ""
	}

	_, day, start := showKey(earliest.cand)

	s := model.Show{
		Key:           key,
		Venue:         pick(func(c model.ShowCandidate) string { return c.Venue }),
		Address:       pick(func(c model.ShowCandidate) string { return c.Address }),
		City:          pick(func(c model.ShowCandidate) string { return c.City }),
		State:         pick(func(c model.ShowCandidate) string { return c.State }),
		Zip:           pick(func(c model.ShowCandidate) string { return c.Zip }),
		Day:           displayDay(day),
		Time:          pick(func(c model.ShowCandidate) string { return c.Time }),
		StartTime:     start,
		EndTime:       NormalizeTime(pick(func(c model.ShowCandidate) string { return c.EndTime })),
		DJName:        pick(func(c model.ShowCandidate) string { return c.DJName }),
		VendorName:    pick(func(c model.ShowCandidate) string { return c.VendorName }),
		Description:   pick(func(c model.ShowCandidate) string { return c.Description }),
		Source:        earliest.source,
		SourceArchive: earliest.archive,
		Confidence:    ranked[0].cand.Confidence,
	}

	for _, m := range ranked {
		if m.cand.Lat != nil && m.cand.Lng != nil {
			lat, lng := *m.cand.Lat, *m.cand.Lng
			s.Lat, s.Lng = &lat, &lng
			break
		}
	}

	if k, ok := vendorIndex[NormalizeName(s.VendorName)]; ok && s.VendorName != "" {
		s.VendorKey = &k
	}
	if k, ok := djIndex[NormalizeName(s.DJName)]; ok && s.DJName != "" {
		s.DJKey = &k
	}
	return s
}

// displayDay capitalizes a normalized weekday.
func displayDay(day string) string {
	if day == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(day)
	return string(unicode.ToUpper(r)) + day[size:]
}
