package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/karaoke-scout/internal/fetcher"
	"github.com/sells-group/karaoke-scout/internal/model"
	"github.com/sells-group/karaoke-scout/internal/scrape"
)

type stubScraper struct {
	page *scrape.Page
	err  error
}

func (s *stubScraper) Scrape(_ context.Context, _ string) (*scrape.Page, error) {
	return s.page, s.err
}

func (s *stubScraper) Name() string { return "stub" }

type stubFetcher struct {
	resp *fetcher.Response
	err  error
}

func (s *stubFetcher) Fetch(_ context.Context, _ string) (*fetcher.Response, error) {
	return s.resp, s.err
}

type recordingArchiver struct {
	calls int
	err   error
}

func (a *recordingArchiver) Archive(_ context.Context, sourceURL string, _ []byte, _ string) (string, error) {
	a.calls++
	if a.err != nil {
		return "", a.err
	}
	return "flyers/" + sourceURL[len(sourceURL)-5:], nil
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestContentLoader_HTML(t *testing.T) {
	t.Parallel()

	s := &stubScraper{page: &scrape.Page{Title: "Schedule", Text: "Friday 9pm at Joe's Bar with DJ Kay"}}
	l := NewContentLoader(s, &stubFetcher{}, nil, LoaderOptions{MaxTextChars: 23})

	got, err := l.Load(context.Background(), model.ContentUnit{URL: "https://a.com/schedule", Kind: model.ContentHTML})
	require.NoError(t, err)
	assert.Equal(t, model.ContentHTML, got.Input.Kind)
	assert.Equal(t, "Title: Schedule\n\nFriday", got.Input.Text)
}

func TestContentLoader_HTMLScrapeError(t *testing.T) {
	t.Parallel()

	l := NewContentLoader(&stubScraper{err: errors.New("blocked")}, &stubFetcher{}, nil, LoaderOptions{})
	_, err := l.Load(context.Background(), model.ContentUnit{URL: "https://a.com", Kind: model.ContentHTML})
	assert.Error(t, err)
}

func TestContentLoader_Image(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{resp: &fetcher.Response{Body: pngHeader, ContentType: "application/octet-stream"}}
	arch := &recordingArchiver{}
	l := NewContentLoader(&stubScraper{}, f, arch, LoaderOptions{})

	got, err := l.Load(context.Background(), model.ContentUnit{URL: "https://cdn.a.com/1.png", Kind: model.ContentImage})
	require.NoError(t, err)
	assert.Equal(t, "image/png", got.Input.MediaType)
	assert.Equal(t, pngHeader, got.Input.Image)
	assert.Equal(t, "flyers/1.png", got.Archive)
	assert.Equal(t, 1, arch.calls)
}

func TestContentLoader_ImageHeaderWins(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{resp: &fetcher.Response{Body: []byte("RIFF....WEBP"), ContentType: "image/webp; charset=binary"}}
	l := NewContentLoader(&stubScraper{}, f, nil, LoaderOptions{})

	got, err := l.Load(context.Background(), model.ContentUnit{URL: "https://cdn.a.com/1", Kind: model.ContentImage})
	require.NoError(t, err)
	assert.Equal(t, "image/webp", got.Input.MediaType)
}

func TestContentLoader_ArchiveFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{resp: &fetcher.Response{Body: pngHeader}}
	l := NewContentLoader(&stubScraper{}, f, &recordingArchiver{err: errors.New("s3 down")}, LoaderOptions{})

	got, err := l.Load(context.Background(), model.ContentUnit{URL: "https://cdn.a.com/1.png", Kind: model.ContentImage})
	require.NoError(t, err)
	assert.Empty(t, got.Archive)
}

func TestContentLoader_ImageRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		resp *fetcher.Response
		max  int
	}{
		{"empty", &fetcher.Response{}, 0},
		{"too large", &fetcher.Response{Body: pngHeader}, 4},
		{"html login wall", &fetcher.Response{Body: []byte("<html><body>Log in</body></html>"), ContentType: "text/html"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l := NewContentLoader(&stubScraper{}, &stubFetcher{resp: tt.resp}, nil, LoaderOptions{MaxImageBytes: tt.max})
			_, err := l.Load(context.Background(), model.ContentUnit{URL: "https://cdn.a.com/x.jpg", Kind: model.ContentImage})
			assert.Error(t, err)
		})
	}
}

func TestContentLoader_UnknownKind(t *testing.T) {
	t.Parallel()

	l := NewContentLoader(&stubScraper{}, &stubFetcher{}, nil, LoaderOptions{})
	_, err := l.Load(context.Background(), model.ContentUnit{URL: "https://a.com", Kind: "video"})
	assert.Error(t, err)
}
