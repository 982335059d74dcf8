package review

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/karaoke-scout/internal/model"
	"github.com/sells-group/karaoke-scout/internal/store"
)

func ptr[T any](v T) *T { return &v }

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "review.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func threeShows() *model.AggregatedResult {
	return &model.AggregatedResult{
		Vendors: []model.Vendor{{Key: "vendor:starlite-karaoke", Name: "Starlite Karaoke", Confidence: 0.9}},
		DJs:     []model.DJ{{Key: "dj:dj-kay", Name: "DJ Kay", Confidence: 0.8}},
		Shows: []model.Show{
			{
				Key: "joes-bar/Friday/21:00", Venue: "Joe's Bar", City: "Columbus", State: "OH",
				Day: "Friday", StartTime: "21:00", Confidence: 0.9,
				VendorKey: ptr("vendor:starlite-karaoke"), DJKey: ptr("dj:dj-kay"),
			},
			{
				Key: "joes-bar/Saturday/21:00", Venue: "Joe's Bar", City: "Columbus", State: "OH",
				Day: "Saturday", StartTime: "21:00", Confidence: 0.8,
				VendorKey: ptr("vendor:starlite-karaoke"),
			},
			{
				Key: "the-anchor/Tuesday/20:00", Venue: "The Anchor", City: "Columbus", State: "OH",
				Lat: ptr(39.96), Lng: ptr(-83.0), Day: "Tuesday", StartTime: "20:00", Confidence: 0.6,
			},
		},
	}
}

func staged(t *testing.T, s store.Store, url string, result *model.AggregatedResult) *model.ParsedSchedule {
	t.Helper()
	ctx := context.Background()
	ps, err := s.CreateSchedule(ctx, url, "")
	require.NoError(t, err)
	require.NoError(t, s.TransitionStatus(ctx, ps.ID, model.StatusPending, model.StatusParsing))
	require.NoError(t, s.SaveAnalysis(ctx, ps.ID, &model.RunReport{Seed: url}, result))
	return ps
}

func TestGateway_ApproveCommitsShows(t *testing.T) {
	s := newTestStore(t)
	g := NewGateway(s)
	ctx := context.Background()
	ps := staged(t, s, "https://starlitekaraoke.com", threeShows())

	res, err := g.Approve(ctx, ps.ID, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, ps.ID, res.ScheduleID)
	assert.Len(t, res.ShowIDs, 3)
	assert.Len(t, res.VenueIDs, 2)
	assert.Len(t, res.VendorIDs, 1)
	assert.Len(t, res.DJIDs, 1)

	got, err := g.Get(ctx, ps.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, got.Status)
	assert.Equal(t, "alice", got.ReviewedBy)
	require.NotNil(t, got.ReviewedAt)
}

func TestGateway_ApproveTwice(t *testing.T) {
	s := newTestStore(t)
	g := NewGateway(s)
	ctx := context.Background()
	ps := staged(t, s, "https://starlitekaraoke.com", threeShows())

	_, err := g.Approve(ctx, ps.ID, "alice", nil)
	require.NoError(t, err)

	_, err = g.Approve(ctx, ps.ID, "bob", nil)
	assert.True(t, errors.Is(err, ErrAlreadyTerminal))

	err = g.Reject(ctx, ps.ID, "bob", "changed my mind")
	assert.True(t, errors.Is(err, ErrAlreadyTerminal))

	got, err := g.Get(ctx, ps.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.ReviewedBy, "terminal records are not rewritten")
}

func TestGateway_ApproveWithEdits(t *testing.T) {
	s := newTestStore(t)
	g := NewGateway(s)
	ctx := context.Background()
	ps := staged(t, s, "https://starlitekaraoke.com", threeShows())

	edits := threeShows()
	edits.Shows = edits.Shows[:1]
	edits.Shows[0].StartTime = "21:30"

	res, err := g.Approve(ctx, ps.ID, "alice", edits)
	require.NoError(t, err)
	assert.Len(t, res.ShowIDs, 1)
}

func TestGateway_ApproveInvalidEditsLeavesRecord(t *testing.T) {
	s := newTestStore(t)
	g := NewGateway(s)
	ctx := context.Background()
	ps := staged(t, s, "https://starlitekaraoke.com", threeShows())

	edits := threeShows()
	edits.Shows[0].VendorKey = ptr("vendor:nobody")

	_, err := g.Approve(ctx, ps.ID, "alice", edits)
	assert.True(t, errors.Is(err, ErrInvalidEdits))

	got, err := g.Get(ctx, ps.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingReview, got.Status)
}

func TestGateway_ApproveNoShows(t *testing.T) {
	s := newTestStore(t)
	g := NewGateway(s)
	ctx := context.Background()
	ps := staged(t, s, "https://quiet.example", &model.AggregatedResult{})

	res, err := g.Approve(ctx, ps.ID, "alice", nil)
	require.NoError(t, err)
	assert.Empty(t, res.ShowIDs)
}

func TestGateway_Reject(t *testing.T) {
	s := newTestStore(t)
	g := NewGateway(s)
	ctx := context.Background()
	ps := staged(t, s, "https://starlitekaraoke.com", threeShows())

	require.NoError(t, g.Reject(ctx, ps.ID, "alice", "wrong city"))

	got, err := g.Get(ctx, ps.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, got.Status)
	assert.Equal(t, "wrong city", got.RejectReason)

	_, err = g.Approve(ctx, ps.ID, "bob", nil)
	assert.True(t, errors.Is(err, ErrAlreadyTerminal))
}

func TestGateway_NotReviewable(t *testing.T) {
	s := newTestStore(t)
	g := NewGateway(s)
	ctx := context.Background()

	ps, err := s.CreateSchedule(ctx, "https://a.com", "")
	require.NoError(t, err)

	_, err = g.Approve(ctx, ps.ID, "alice", nil)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, model.StatusPending, statusErr.Status)

	require.NoError(t, s.TransitionStatus(ctx, ps.ID, model.StatusPending, model.StatusParsing))
	err = g.Reject(ctx, ps.ID, "alice", "")
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, model.StatusParsing, statusErr.Status)
}

func TestGateway_FailedIsTerminal(t *testing.T) {
	s := newTestStore(t)
	g := NewGateway(s)
	ctx := context.Background()

	ps, err := s.CreateSchedule(ctx, "https://a.com", "")
	require.NoError(t, err)
	require.NoError(t, s.FailSchedule(ctx, ps.ID, "discovery: seed https://a.com/: dns lookup failed", nil))

	_, err = g.Approve(ctx, ps.ID, "alice", nil)
	assert.True(t, errors.Is(err, ErrAlreadyTerminal))

	item, err := g.Get(ctx, ps.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, item.Outcome)
	assert.Contains(t, item.Error, "dns lookup failed")
}

func TestGateway_NotFound(t *testing.T) {
	g := NewGateway(newTestStore(t))
	ctx := context.Background()

	_, err := g.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = g.Approve(ctx, "missing", "alice", nil)
	assert.True(t, errors.Is(err, ErrNotFound))

	err = g.Reject(ctx, "missing", "alice", "")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGateway_ListPending(t *testing.T) {
	s := newTestStore(t)
	g := NewGateway(s)
	ctx := context.Background()

	withShows := staged(t, s, "https://starlitekaraoke.com", threeShows())
	empty := staged(t, s, "https://quiet.example", &model.AggregatedResult{})
	_, err := s.CreateSchedule(ctx, "https://still-running.example", "")
	require.NoError(t, err)

	items, err := g.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)

	outcomes := map[string]Outcome{}
	for _, it := range items {
		assert.Equal(t, model.StatusPendingReview, it.Status)
		outcomes[it.ID] = it.Outcome
	}
	assert.Equal(t, OutcomeShowsFound, outcomes[withShows.ID])
	assert.Equal(t, OutcomeNoShowsFound, outcomes[empty.ID])

	all, err := g.List(ctx, store.ScheduleFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		name string
		ps   model.ParsedSchedule
		want Outcome
	}{
		{"failed", model.ParsedSchedule{Status: model.StatusFailed}, OutcomeFailed},
		{"no analysis", model.ParsedSchedule{Status: model.StatusPendingReview}, OutcomeNoShowsFound},
		{"empty analysis", model.ParsedSchedule{Status: model.StatusPendingReview, AIAnalysis: &model.AggregatedResult{}}, OutcomeNoShowsFound},
		{"shows", model.ParsedSchedule{Status: model.StatusPendingReview, AIAnalysis: threeShows()}, OutcomeShowsFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutcomeOf(&tt.ps))
		})
	}
}

func TestValidateEdits(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *model.AggregatedResult)
		want   string
	}{
		{"valid", func(*model.AggregatedResult) {}, ""},
		{"vendor without name", func(r *model.AggregatedResult) { r.Vendors[0].Name = "" }, "vendor 0"},
		{"dj without key", func(r *model.AggregatedResult) { r.DJs[0].Key = "" }, "dj 0"},
		{"show without venue", func(r *model.AggregatedResult) { r.Shows[1].Venue = "" }, "no venue"},
		{"show without key", func(r *model.AggregatedResult) { r.Shows[2].Key = "" }, "no key"},
		{"duplicate key", func(r *model.AggregatedResult) { r.Shows[1].Key = r.Shows[0].Key }, "duplicate show key"},
		{"unknown vendor", func(r *model.AggregatedResult) { r.Shows[0].VendorKey = ptr("vendor:x") }, "unknown vendor"},
		{"unknown dj", func(r *model.AggregatedResult) { r.Shows[0].DJKey = ptr("dj:x") }, "unknown dj"},
		{"partial location", func(r *model.AggregatedResult) { r.Shows[2].Lng = nil }, "partial location"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := threeShows()
			tt.mutate(r)
			err := ValidateEdits(r)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidEdits))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
