package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/karaoke-scout/internal/analyze"
	"github.com/sells-group/karaoke-scout/internal/discovery"
	"github.com/sells-group/karaoke-scout/internal/extract"
	"github.com/sells-group/karaoke-scout/internal/fetcher"
	"github.com/sells-group/karaoke-scout/internal/model"
	"github.com/sells-group/karaoke-scout/internal/resilience"
	"github.com/sells-group/karaoke-scout/internal/runlock"
	"github.com/sells-group/karaoke-scout/internal/scrape"
	"github.com/sells-group/karaoke-scout/internal/store"
)

// --- Discoverer Mock ---

type mockDiscoverer struct {
	mock.Mock
}

func (m *mockDiscoverer) Discover(ctx context.Context, seed string, opts discovery.Options) (*discovery.Crawl, error) {
	args := m.Called(ctx, seed, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*discovery.Crawl), args.Error(1)
}

func crawlOf(seed string, units ...model.ContentUnit) *discovery.Crawl {
	for i := range units {
		units[i].Seq = i
	}
	return &discovery.Crawl{Seed: seed, Mode: discovery.ModeWebsite, Units: slices.Values(units)}
}

func pages(seed string, n int) []model.ContentUnit {
	out := make([]model.ContentUnit, n)
	for i := range out {
		out[i] = model.ContentUnit{URL: fmt.Sprintf("%s/page%d", seed, i+1), Kind: model.ContentHTML}
	}
	return out
}

// --- Analyzer / Loader fakes ---

type scriptedAnalyzer struct {
	calls atomic.Int32
	fn    func(ctx context.Context, in analyze.Input) (*analyze.Result, error)
}

func (a *scriptedAnalyzer) Name() string { return "scripted" }

func (a *scriptedAnalyzer) Analyze(ctx context.Context, in analyze.Input) (*analyze.Result, error) {
	a.calls.Add(1)
	return a.fn(ctx, in)
}

func reply(text string) (*analyze.Result, error) {
	return &analyze.Result{Text: text, Usage: model.TokenUsage{InputTokens: 100, OutputTokens: 20, Cost: 0.001}}, nil
}

type textLoader struct{}

func (textLoader) Load(_ context.Context, unit model.ContentUnit) (*extract.Loaded, error) {
	return &extract.Loaded{Input: analyze.Input{Kind: unit.Kind, URL: unit.URL, Text: "karaoke night"}}, nil
}

func testPool(a analyze.Analyzer, l extract.Loader) *extract.Pool {
	return extract.NewPool(a, l, extract.Config{
		Concurrency: 3,
		UnitTimeout: 200 * time.Millisecond,
		Retry:       resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	})
}

const joesFriday = `{"vendor": {"name": "Starlite Karaoke", "website": "https://starlitekaraoke.com"},
 "djs": [{"name": "DJ Kay"}],
 "shows": [{"venue": "Joe's Bar", "city": "Columbus", "state": "OH", "day": "Friday", "start_time": "9pm", "dj_name": "DJ Kay", "confidence": 0.8}]}`

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "scout.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newTestPipeline(t *testing.T, st store.Store, d Discoverer, x Extractor) *Pipeline {
	t.Helper()
	locker, err := runlock.NewFileLocker(t.TempDir())
	require.NoError(t, err)
	p, err := New(Deps{Store: st, Discoverer: d, Extractor: x, Locker: locker})
	require.NoError(t, err)
	return p
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store")

	_, err = New(Deps{Store: newTestStore(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discoverer")
}

func TestPipeline_EndToEnd(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>Starlite Karaoke</title></head><body>
			<p>Starlite Karaoke hosts the best karaoke nights in Columbus every week.</p>
			<a href="/schedule">Schedule</a></body></html>`)
	})
	mux.HandleFunc("/schedule", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>Schedule</title></head><body>
			<p>Friday 9pm at Joe's Bar in Columbus with DJ Kay. Come sing with us!</p></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: 2 * time.Second})
	a := &scriptedAnalyzer{fn: func(_ context.Context, in analyze.Input) (*analyze.Result, error) {
		if !strings.Contains(in.Text, "Title:") {
			return nil, errors.New("expected page title in prompt text")
		}
		if strings.HasSuffix(in.URL, "/schedule") {
			// Same show phrased differently on the second page.
			return reply(strings.ReplaceAll(joesFriday, `"9pm"`, `"9:00 PM"`))
		}
		return reply(joesFriday)
	}}
	loader := extract.NewContentLoader(scrape.NewLocalScraper(f), f, nil, extract.LoaderOptions{})

	st := newTestStore(t)
	p := newTestPipeline(t, st, discovery.New(f), testPool(a, loader))

	ps, err := p.Run(context.Background(), model.RunRequest{URL: srv.URL})
	require.NoError(t, err)

	assert.Equal(t, model.StatusPendingReview, ps.Status)
	require.NotNil(t, ps.RawData)
	assert.Equal(t, 2, ps.RawData.UnitsFound)
	assert.Zero(t, ps.RawData.UnitsFailed)
	assert.Equal(t, "website", ps.RawData.Mode)
	assert.Equal(t, srv.URL, ps.RawData.Request.URL)
	assert.Len(t, ps.RawData.Records, 2)
	assert.InDelta(t, 0.002, ps.RawData.Usage.Cost, 1e-9)

	require.NotNil(t, ps.AIAnalysis)
	require.Len(t, ps.AIAnalysis.Shows, 1, "the same show on two pages merges")
	show := ps.AIAnalysis.Shows[0]
	assert.Equal(t, "21:00", show.StartTime)
	assert.Equal(t, srv.URL+"/", show.Source, "source is the earliest discovered page")
	require.Len(t, ps.AIAnalysis.Vendors, 1)
	require.NotNil(t, show.VendorKey)
	assert.Equal(t, ps.AIAnalysis.Vendors[0].Key, *show.VendorKey)
	require.NotNil(t, show.DJKey)
}

func TestPipeline_PartialFailureReachesReview(t *testing.T) {
	seed := "https://starlitekaraoke.com"
	d := &mockDiscoverer{}
	d.On("Discover", mock.Anything, seed, mock.Anything).Return(crawlOf(seed, pages(seed, 5)...), nil)

	a := &scriptedAnalyzer{fn: func(ctx context.Context, in analyze.Input) (*analyze.Result, error) {
		if strings.HasSuffix(in.URL, "/page3") {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		venue := strings.TrimPrefix(in.URL, seed+"/")
		return reply(`{"shows": [{"venue": "` + venue + ` Tavern", "day": "Friday", "start_time": "9pm"}]}`)
	}}

	st := newTestStore(t)
	p := newTestPipeline(t, st, d, testPool(a, textLoader{}))

	ps, err := p.Run(context.Background(), model.RunRequest{URL: seed})
	require.NoError(t, err)

	assert.Equal(t, model.StatusPendingReview, ps.Status)
	require.Len(t, ps.RawData.Records, 5)
	rec := ps.RawData.Records[2]
	require.NotNil(t, rec.Error)
	assert.Equal(t, string(extract.KindModelTimeout), rec.Error.Kind)
	assert.True(t, rec.Empty())
	assert.Equal(t, 1, ps.RawData.UnitsFailed)
	assert.Equal(t, 1, ps.RawData.FailureKinds[string(extract.KindModelTimeout)])
	assert.Len(t, ps.AIAnalysis.Shows, 4)
	d.AssertExpectations(t)
}

func TestPipeline_ZeroShowsIsReviewable(t *testing.T) {
	seed := "https://quiet.example"
	d := &mockDiscoverer{}
	d.On("Discover", mock.Anything, seed, mock.Anything).Return(crawlOf(seed, pages(seed, 2)...), nil)

	a := &scriptedAnalyzer{fn: func(context.Context, analyze.Input) (*analyze.Result, error) {
		return reply(`{"vendor": null, "djs": [], "shows": []}`)
	}}

	p := newTestPipeline(t, newTestStore(t), d, testPool(a, textLoader{}))
	ps, err := p.Run(context.Background(), model.RunRequest{URL: seed})
	require.NoError(t, err)

	assert.Equal(t, model.StatusPendingReview, ps.Status)
	require.NotNil(t, ps.AIAnalysis)
	assert.True(t, ps.AIAnalysis.Empty())
	assert.Empty(t, ps.Error)
}

func TestPipeline_DiscoveryFailureFailsRecord(t *testing.T) {
	seed := "https://nonexistent.invalid"
	d := &mockDiscoverer{}
	d.On("Discover", mock.Anything, seed, mock.Anything).
		Return(nil, &discovery.Error{Seed: seed, Reason: "dns lookup failed: no such host"})

	a := &scriptedAnalyzer{fn: func(context.Context, analyze.Input) (*analyze.Result, error) {
		return reply(joesFriday)
	}}

	st := newTestStore(t)
	p := newTestPipeline(t, st, d, testPool(a, textLoader{}))

	_, err := p.Run(context.Background(), model.RunRequest{URL: seed})
	require.Error(t, err)
	var discErr *discovery.Error
	assert.ErrorAs(t, err, &discErr)
	assert.Zero(t, a.calls.Load())

	failed, err := st.ListSchedules(context.Background(), store.ScheduleFilter{Status: model.StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Error, "dns lookup failed")
	assert.Nil(t, failed[0].AIAnalysis)
}

func TestPipeline_RequestOverridesDiscoveryDefaults(t *testing.T) {
	seed := "https://a.com"
	d := &mockDiscoverer{}
	d.On("Discover", mock.Anything, seed, discovery.Options{
		Mode:              discovery.ModeSocialGroup,
		MaxDepth:          2,
		MaxUnits:          10,
		IncludeSubdomains: true,
		UseSitemap:        true,
	}).Return(crawlOf(seed), nil)

	st := newTestStore(t)
	p, err := New(Deps{
		Store:      st,
		Discoverer: d,
		Extractor:  testPool(&scriptedAnalyzer{}, textLoader{}),
		Discovery:  discovery.Options{MaxDepth: 1, MaxUnits: 50, UseSitemap: true},
	})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), model.RunRequest{
		URL: seed, Mode: "social_group", MaxDepth: 2, MaxUnits: 10, IncludeSubdomains: true,
	})
	require.NoError(t, err)
	d.AssertExpectations(t)
}

func TestPipeline_InvalidRequest(t *testing.T) {
	p := newTestPipeline(t, newTestStore(t), &mockDiscoverer{}, testPool(&scriptedAnalyzer{}, textLoader{}))

	_, err := p.Begin(context.Background(), model.RunRequest{URL: "  "})
	assert.True(t, errors.Is(err, ErrInvalidRequest))

	_, err = p.Begin(context.Background(), model.RunRequest{URL: "https://a.com", Mode: "rss"})
	assert.True(t, errors.Is(err, ErrInvalidRequest))
}

func TestPipeline_SeedLocked(t *testing.T) {
	p := newTestPipeline(t, newTestStore(t), &mockDiscoverer{}, testPool(&scriptedAnalyzer{}, textLoader{}))
	ctx := context.Background()

	run, err := p.Begin(ctx, model.RunRequest{URL: "https://a.com"})
	require.NoError(t, err)
	require.NotNil(t, run.Schedule)

	_, err = p.Begin(ctx, model.RunRequest{URL: "https://a.com"})
	assert.True(t, errors.Is(err, runlock.ErrLocked))

	_, err = p.Begin(ctx, model.RunRequest{URL: "https://b.com"})
	require.NoError(t, err)
}

func TestPipeline_CancelledRunStillSaves(t *testing.T) {
	seed := "https://slow.example"
	ctx, cancel := context.WithCancel(context.Background())

	d := &mockDiscoverer{}
	d.On("Discover", mock.Anything, seed, mock.Anything).Return(crawlOf(seed, pages(seed, 3)...), nil)

	a := &scriptedAnalyzer{fn: func(actx context.Context, in analyze.Input) (*analyze.Result, error) {
		if strings.HasSuffix(in.URL, "/page1") {
			return reply(`{"shows": [{"venue": "Page One Pub", "day": "Monday", "start_time": "8pm"}]}`)
		}
		cancel()
		<-actx.Done()
		return nil, actx.Err()
	}}
	x := extract.NewPool(a, textLoader{}, extract.Config{
		Concurrency: 1,
		UnitTimeout: 5 * time.Second,
		Retry:       resilience.RetryConfig{MaxAttempts: 1},
	})

	p := newTestPipeline(t, newTestStore(t), d, x)
	ps, err := p.Run(ctx, model.RunRequest{URL: seed})
	require.NoError(t, err)

	assert.Equal(t, model.StatusPendingReview, ps.Status)
	assert.True(t, ps.RawData.Cancelled)
	require.Len(t, ps.AIAnalysis.Shows, 1)
	assert.Equal(t, "Page One Pub", ps.AIAnalysis.Shows[0].Venue)
}

func TestPipeline_ReparseInPlace(t *testing.T) {
	seed := "https://a.com"
	d := &mockDiscoverer{}
	d.On("Discover", mock.Anything, seed, mock.Anything).Return(crawlOf(seed, pages(seed, 1)...), nil).Once()
	d.On("Discover", mock.Anything, seed, mock.Anything).Return(crawlOf(seed, pages(seed, 2)...), nil).Once()

	a := &scriptedAnalyzer{fn: func(context.Context, analyze.Input) (*analyze.Result, error) {
		return reply(joesFriday)
	}}
	st := newTestStore(t)
	p := newTestPipeline(t, st, d, testPool(a, textLoader{}))
	ctx := context.Background()

	first, err := p.Run(ctx, model.RunRequest{URL: seed, MaxUnits: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, first.RawData.UnitsFound)

	again, err := p.Reparse(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID, "pending_review is re-run in place")
	assert.Equal(t, model.StatusPendingReview, again.Status)
	assert.Equal(t, 2, again.RawData.UnitsFound)
	assert.Equal(t, 5, again.RawData.Request.MaxUnits, "reparse replays the original request")

	all, err := st.ListSchedules(ctx, store.ScheduleFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPipeline_ReparseInPlaceFailureKeepsPreviousAnalysis(t *testing.T) {
	seed := "https://a.com"
	d := &mockDiscoverer{}
	d.On("Discover", mock.Anything, seed, mock.Anything).Return(crawlOf(seed, pages(seed, 1)...), nil).Once()
	d.On("Discover", mock.Anything, seed, mock.Anything).Return(nil, errors.New("seed: dns lookup failed")).Once()

	a := &scriptedAnalyzer{fn: func(context.Context, analyze.Input) (*analyze.Result, error) {
		return reply(joesFriday)
	}}
	st := newTestStore(t)
	p := newTestPipeline(t, st, d, testPool(a, textLoader{}))
	ctx := context.Background()

	first, err := p.Run(ctx, model.RunRequest{URL: seed})
	require.NoError(t, err)
	require.Len(t, first.AIAnalysis.Shows, 1)

	_, err = p.Reparse(ctx, first.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dns lookup failed")

	kept, err := st.GetSchedule(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingReview, kept.Status)
	assert.Empty(t, kept.Error)
	require.NotNil(t, kept.AIAnalysis)
	assert.Equal(t, first.AIAnalysis.Shows, kept.AIAnalysis.Shows)
	assert.Equal(t, first.RawData.UnitsFound, kept.RawData.UnitsFound)

	res, err := st.CommitApproval(ctx, first.ID, "alice", kept.AIAnalysis)
	require.NoError(t, err)
	assert.Len(t, res.ShowIDs, 1)
}

func TestPipeline_ReparseTerminalCreatesNewRecord(t *testing.T) {
	seed := "https://a.com"
	d := &mockDiscoverer{}
	d.On("Discover", mock.Anything, seed, mock.Anything).Return(crawlOf(seed, pages(seed, 1)...), nil).Twice()

	a := &scriptedAnalyzer{fn: func(context.Context, analyze.Input) (*analyze.Result, error) {
		return reply(joesFriday)
	}}
	st := newTestStore(t)
	p := newTestPipeline(t, st, d, testPool(a, textLoader{}))
	ctx := context.Background()

	first, err := p.Run(ctx, model.RunRequest{URL: seed})
	require.NoError(t, err)
	require.NoError(t, st.RejectSchedule(ctx, first.ID, "alice", "stale"))

	next, err := p.Reparse(ctx, first.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, next.ID)
	assert.Equal(t, first.ID, next.PreviousID)
	assert.Equal(t, model.StatusPendingReview, next.Status)

	old, err := st.GetSchedule(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, old.Status, "terminal records are never mutated")
	assert.Equal(t, "stale", old.RejectReason)
}

func TestPipeline_ReparseWhileParsing(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(t, st, &mockDiscoverer{}, testPool(&scriptedAnalyzer{}, textLoader{}))
	ctx := context.Background()

	ps, err := st.CreateSchedule(ctx, "https://a.com", "")
	require.NoError(t, err)
	require.NoError(t, st.TransitionStatus(ctx, ps.ID, model.StatusPending, model.StatusParsing))

	_, err = p.Reparse(ctx, ps.ID)
	var conflict *store.StatusConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, model.StatusParsing, conflict.Actual)
}

func TestPipeline_ReparseNotFound(t *testing.T) {
	p := newTestPipeline(t, newTestStore(t), &mockDiscoverer{}, testPool(&scriptedAnalyzer{}, textLoader{}))
	_, err := p.Reparse(context.Background(), "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestBackground_StartAndWait(t *testing.T) {
	seed := "https://a.com"
	d := &mockDiscoverer{}
	d.On("Discover", mock.Anything, seed, mock.Anything).Return(crawlOf(seed, pages(seed, 2)...), nil)

	a := &scriptedAnalyzer{fn: func(context.Context, analyze.Input) (*analyze.Result, error) {
		return reply(joesFriday)
	}}
	st := newTestStore(t)
	p := newTestPipeline(t, st, d, testPool(a, textLoader{}))

	bg := p.Background(context.Background())
	ps, err := bg.Start(context.Background(), model.RunRequest{URL: seed})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, ps.Status)

	bg.Wait()

	got, err := st.GetSchedule(context.Background(), ps.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingReview, got.Status)
	assert.Len(t, got.AIAnalysis.Shows, 1)
}

func TestBackground_LockReleasedAfterRun(t *testing.T) {
	seed := "https://a.com"
	d := &mockDiscoverer{}
	d.On("Discover", mock.Anything, seed, mock.Anything).Return(crawlOf(seed), nil)

	p := newTestPipeline(t, newTestStore(t), d, testPool(&scriptedAnalyzer{}, textLoader{}))
	bg := p.Background(context.Background())

	_, err := bg.Start(context.Background(), model.RunRequest{URL: seed})
	require.NoError(t, err)
	bg.Wait()

	_, err = bg.Start(context.Background(), model.RunRequest{URL: seed})
	require.NoError(t, err)
	bg.Wait()
}
