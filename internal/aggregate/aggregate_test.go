package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/karaoke-scout/internal/model"
)

func ptr(f float64) *float64 { return &f }

func record(url string, seq int, vendor *model.VendorCandidate, djs []model.DJCandidate, shows ...model.ShowCandidate) model.CandidateRecord {
	for i := range shows {
		shows[i].Source = url
	}
	if djs == nil {
		djs = []model.DJCandidate{}
	}
	if shows == nil {
		shows = []model.ShowCandidate{}
	}
	return model.CandidateRecord{UnitURL: url, Seq: seq, Kind: model.ContentHTML, Vendor: vendor, DJs: djs, Shows: shows}
}

func TestAggregate_DuplicateShowAcrossPages(t *testing.T) {
	t.Parallel()

	records := []model.CandidateRecord{
		record("https://a.com/", 0, nil, nil),
		record("https://a.com/events", 1, nil, nil,
			model.ShowCandidate{Venue: "Venue X", Day: "Friday", StartTime: "8pm", Confidence: 0.6}),
		record("https://a.com/schedule", 2, nil, nil,
			model.ShowCandidate{Venue: "Venue X", Day: "Fridays", StartTime: "8:00 PM", City: "Columbus", Confidence: 0.9}),
	}

	got := Aggregate(records, Options{})
	require.Len(t, got.Shows, 1)

	s := got.Shows[0]
	assert.Equal(t, "venue-x/friday/20:00", s.Key)
	assert.Equal(t, "https://a.com/events", s.Source, "earliest-discovered source is kept")
	assert.Equal(t, "Columbus", s.City, "missing fields are filled from duplicates")
	assert.Equal(t, "Friday", s.Day)
	assert.Equal(t, "20:00", s.StartTime)
	assert.InDelta(t, 0.9, s.Confidence, 1e-9)
}

func TestAggregate_SourceNeverFromUnrelatedURL(t *testing.T) {
	t.Parallel()

	a := record("https://b.com/p1", 5, nil, nil, model.ShowCandidate{Venue: "Moe's", Day: "Tue", StartTime: "9pm", Confidence: 0.4})
	b := record("https://b.com/p2", 3, nil, nil, model.ShowCandidate{Venue: "Moes", Day: "Tuesday", StartTime: "21:00", Confidence: 0.95})
	a.Shows[0].Source = "https://unrelated.example/"

	got := Aggregate([]model.CandidateRecord{a, b}, Options{})
	require.Len(t, got.Shows, 1)
	assert.Equal(t, "https://b.com/p2", got.Shows[0].Source)
	assert.Contains(t, []string{"https://b.com/p1", "https://b.com/p2"}, got.Shows[0].Source)
}

func TestAggregate_VendorApostropheVariants(t *testing.T) {
	t.Parallel()

	records := []model.CandidateRecord{
		record("https://a.com/1", 0, &model.VendorCandidate{Name: "Joe's Bar", Confidence: 0.7}, nil,
			model.ShowCandidate{Venue: "Joe's Bar", City: "Columbus", Day: "Sat", StartTime: "9pm"}),
		record("https://a.com/2", 1, &model.VendorCandidate{Name: "Joes Bar", Website: "https://joesbar.com", Confidence: 0.7}, nil,
			model.ShowCandidate{Venue: "Joes Bar", City: "Columbus", Day: "Saturday", StartTime: "9 PM"}),
	}

	got := Aggregate(records, Options{})
	require.Len(t, got.Vendors, 1)
	v := got.Vendors[0]
	assert.Equal(t, "Joes Bar", v.Name, "tie on confidence prefers the more complete record")
	assert.Equal(t, "https://joesbar.com", v.Website)
	assert.Equal(t, []string{"Joe's Bar"}, v.Aliases)
	assert.Equal(t, []string{"https://a.com/1", "https://a.com/2"}, v.Sources)

	require.Len(t, got.Shows, 1)
	require.NotNil(t, got.Shows[0].VendorKey)
	assert.Equal(t, v.Key, *got.Shows[0].VendorKey)
}

func TestAggregate_FuzzyVendorNeedsCorroboration(t *testing.T) {
	t.Parallel()

	kings := func(url string, seq int, name, city, website string) model.CandidateRecord {
		return record(url, seq, &model.VendorCandidate{Name: name, Website: website, Confidence: 0.8}, nil,
			model.ShowCandidate{Venue: "Venue " + url[len(url)-1:], City: city, Day: "Mon", StartTime: "8pm"})
	}

	t.Run("shared city", func(t *testing.T) {
		t.Parallel()
		got := Aggregate([]model.CandidateRecord{
			kings("https://a.com/1", 0, "Karaoke Kings", "Columbus", ""),
			kings("https://a.com/2", 1, "Karaoke King", "columbus", ""),
		}, Options{})
		assert.Len(t, got.Vendors, 1)
	})

	t.Run("shared domain", func(t *testing.T) {
		t.Parallel()
		got := Aggregate([]model.CandidateRecord{
			kings("https://a.com/1", 0, "Karaoke Kings", "Columbus", "https://karaokekings.com"),
			kings("https://a.com/2", 1, "Karaoke King", "Dayton", "www.karaokekings.com/about"),
		}, Options{})
		assert.Len(t, got.Vendors, 1)
	})

	t.Run("no corroboration", func(t *testing.T) {
		t.Parallel()
		got := Aggregate([]model.CandidateRecord{
			kings("https://a.com/1", 0, "Karaoke Kings", "Columbus", ""),
			kings("https://a.com/2", 1, "Karaoke King", "Dayton", ""),
		}, Options{})
		assert.Len(t, got.Vendors, 2)
	})

	t.Run("stricter threshold", func(t *testing.T) {
		t.Parallel()
		got := Aggregate([]model.CandidateRecord{
			kings("https://a.com/1", 0, "Karaoke Kings", "Columbus", ""),
			kings("https://a.com/2", 1, "Karaoke King", "Columbus", ""),
		}, Options{NameSimilarity: 0.99})
		assert.Len(t, got.Vendors, 2)
	})
}

func TestAggregate_CrossReferences(t *testing.T) {
	t.Parallel()

	records := []model.CandidateRecord{
		record("https://a.com/1", 0,
			&model.VendorCandidate{Name: "Starlite Karaoke", Confidence: 0.9},
			[]model.DJCandidate{{Name: "DJ Kay", Confidence: 0.8}},
			model.ShowCandidate{Venue: "Joe's Bar", Day: "Fri", StartTime: "9pm", DJName: "dj kay"},
			model.ShowCandidate{Venue: "Moe's", Day: "Sat", StartTime: "9pm", DJName: "DJ Nobody", VendorName: "Other Co"},
		),
	}

	got := Aggregate(records, Options{})
	require.Len(t, got.Vendors, 1)
	require.Len(t, got.DJs, 1)
	require.Len(t, got.Shows, 2)

	joes, moes := got.Shows[0], got.Shows[1]
	require.Equal(t, "Joe's Bar", joes.Venue)

	require.NotNil(t, joes.VendorKey, "show without a vendor name belongs to the page's vendor")
	assert.Equal(t, got.Vendors[0].Key, *joes.VendorKey)
	require.NotNil(t, joes.DJKey)
	assert.Equal(t, got.DJs[0].Key, *joes.DJKey)

	assert.Nil(t, moes.VendorKey)
	assert.Nil(t, moes.DJKey)
	assert.Len(t, got.Vendors, 1, "unresolved names never create entities")
}

func TestAggregate_OrderIndependent(t *testing.T) {
	t.Parallel()

	records := []model.CandidateRecord{
		record("https://a.com/1", 0, &model.VendorCandidate{Name: "Karaoke Kings", Confidence: 0.8},
			[]model.DJCandidate{{Name: "DJ Kay", Confidence: 0.5}},
			model.ShowCandidate{Venue: "Joe's Bar", City: "Columbus", Day: "Fri", StartTime: "9pm", Confidence: 0.5}),
		record("https://a.com/2", 1, &model.VendorCandidate{Name: "Karaoke King", Confidence: 0.8},
			[]model.DJCandidate{{Name: "DJ Kay", Context: "Fridays", Confidence: 0.5}},
			model.ShowCandidate{Venue: "Joes Bar", City: "Columbus", Day: "Friday", StartTime: "21:00", Lat: ptr(39.9), Lng: ptr(-83), Confidence: 0.5}),
		record("https://a.com/3", 2, &model.VendorCandidate{Name: "Karaoke Kingz", Confidence: 0.8}, nil,
			model.ShowCandidate{Venue: "The Hideout", City: "Columbus", Day: "Wed", StartTime: "8pm", Confidence: 0.7}),
		{UnitURL: "https://a.com/4", Seq: 3, Error: &model.UnitFailure{Kind: "model_timeout"}},
	}

	want := Aggregate(records, Options{})
	for _, perm := range permutations(records) {
		assert.Equal(t, want, Aggregate(perm, Options{}))
	}

	assert.Len(t, want.Vendors, 1, "transitively similar names form one cluster")
	assert.Len(t, want.DJs, 1)
	assert.Len(t, want.Shows, 2)
}

func TestAggregate_PartialFailure(t *testing.T) {
	t.Parallel()

	records := []model.CandidateRecord{
		record("https://a.com/1", 0, nil, nil, model.ShowCandidate{Venue: "Joe's Bar", Day: "Fri"}),
		{UnitURL: "https://a.com/2", Seq: 1, DJs: []model.DJCandidate{}, Shows: []model.ShowCandidate{}, Error: &model.UnitFailure{Kind: "model_timeout"}},
		{UnitURL: "https://a.com/3", Seq: 2, DJs: []model.DJCandidate{}, Shows: []model.ShowCandidate{}, Error: &model.UnitFailure{Kind: "malformed_output"}},
	}

	got := Aggregate(records, Options{})
	require.NotNil(t, got)
	assert.Len(t, got.Shows, 1)
	assert.Empty(t, got.Vendors)
	assert.NotNil(t, got.Vendors)
}

func TestAggregate_EmptyInput(t *testing.T) {
	t.Parallel()

	got := Aggregate(nil, Options{})
	assert.True(t, got.Empty())
	assert.NotNil(t, got.Shows)
}

func TestAggregate_DropsMalformed(t *testing.T) {
	t.Parallel()

	records := []model.CandidateRecord{
		{Shows: []model.ShowCandidate{{Venue: "Orphan"}}},
		record("https://a.com/1", 0, &model.VendorCandidate{Name: "!!!"}, []model.DJCandidate{{Name: " "}},
			model.ShowCandidate{Venue: "  "}, model.ShowCandidate{Venue: "Joe's"}),
	}

	got := Aggregate(records, Options{})
	assert.Empty(t, got.Vendors)
	assert.Empty(t, got.DJs)
	require.Len(t, got.Shows, 1)
	assert.Equal(t, "Joe's", got.Shows[0].Venue)
}

func permutations(in []model.CandidateRecord) [][]model.CandidateRecord {
	if len(in) <= 1 {
		return [][]model.CandidateRecord{append([]model.CandidateRecord(nil), in...)}
	}
	var out [][]model.CandidateRecord
	for i := range in {
		rest := make([]model.CandidateRecord, 0, len(in)-1)
		rest = append(rest, in[:i]...)
		rest = append(rest, in[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]model.CandidateRecord{in[i]}, p...))
		}
	}
	return out
}
