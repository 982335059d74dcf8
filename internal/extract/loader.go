package extract

import (
	"context"
	"mime"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/karaoke-scout/internal/analyze"
	"github.com/sells-group/karaoke-scout/internal/fetcher"
	"github.com/sells-group/karaoke-scout/internal/model"
	"github.com/sells-group/karaoke-scout/internal/scrape"
)

// Loaded is a unit's content ready for analysis.
type Loaded struct {
	Input analyze.Input
	// Archive is the storage key of the archived source image, if any.
	Archive string
}

// Loader turns a content unit into analyzer input.
type Loader interface {
	Load(ctx context.Context, unit model.ContentUnit) (*Loaded, error)
}

// Archiver keeps a copy of a source image, since signed CDN links expire
// before review.
type Archiver interface {
	Archive(ctx context.Context, sourceURL string, data []byte, contentType string) (string, error)
}

// LoaderOptions bounds the content sent to the model.
type LoaderOptions struct {
	MaxTextChars  int
	MaxImageBytes int
}

// ContentLoader scrapes HTML units to text and downloads image units.
type ContentLoader struct {
	scraper  scrape.Scraper
	fetcher  fetcher.Fetcher
	archiver Archiver
	opts     LoaderOptions
}

// NewContentLoader creates a ContentLoader. archiver may be nil.
func NewContentLoader(s scrape.Scraper, f fetcher.Fetcher, archiver Archiver, opts LoaderOptions) *ContentLoader {
	if opts.MaxTextChars <= 0 {
		opts.MaxTextChars = 20000
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = 5 << 20
	}
	return &ContentLoader{scraper: s, fetcher: f, archiver: archiver, opts: opts}
}

// Load fetches the unit's content.
func (l *ContentLoader) Load(ctx context.Context, unit model.ContentUnit) (*Loaded, error) {
	switch unit.Kind {
	case model.ContentHTML:
		return l.loadHTML(ctx, unit)
	case model.ContentImage:
		return l.loadImage(ctx, unit)
	default:
		return nil, eris.Errorf("extract: unknown content kind %q", unit.Kind)
	}
}

func (l *ContentLoader) loadHTML(ctx context.Context, unit model.ContentUnit) (*Loaded, error) {
	page, err := l.scraper.Scrape(ctx, unit.URL)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: scrape %s", scrape.DescribeFetchError(err))
	}

	text := page.Text
	if page.Title != "" {
		text = "Title: " + page.Title + "\n\n" + text
	}
	return &Loaded{Input: analyze.Input{
		Kind: model.ContentHTML,
		URL:  unit.URL,
		Text: scrape.Truncate(text, l.opts.MaxTextChars),
	}}, nil
}

func (l *ContentLoader) loadImage(ctx context.Context, unit model.ContentUnit) (*Loaded, error) {
	resp, err := l.fetcher.Fetch(ctx, unit.URL)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: fetch image %s", scrape.DescribeFetchError(err))
	}
	if len(resp.Body) == 0 {
		return nil, eris.New("extract: empty image")
	}
	if len(resp.Body) > l.opts.MaxImageBytes {
		return nil, eris.Errorf("extract: image is %d bytes, limit %d", len(resp.Body), l.opts.MaxImageBytes)
	}

	mediaType, err := imageMediaType(resp)
	if err != nil {
		return nil, err
	}

	loaded := &Loaded{Input: analyze.Input{
		Kind:      model.ContentImage,
		URL:       unit.URL,
		Image:     resp.Body,
		MediaType: mediaType,
	}}

	if l.archiver != nil {
		key, err := l.archiver.Archive(ctx, unit.URL, resp.Body, mediaType)
		if err != nil {
			zap.L().Warn("extract: image archive failed",
				zap.String("url", unit.URL),
				zap.Error(err),
			)
		} else {
			loaded.Archive = key
		}
	}
	return loaded, nil
}

var supportedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// imageMediaType trusts the Content-Type header when it names a supported
// image type and sniffs the bytes otherwise.
func imageMediaType(resp *fetcher.Response) (string, error) {
	if mt, _, err := mime.ParseMediaType(resp.ContentType); err == nil && supportedImageTypes[mt] {
		return mt, nil
	}
	sniffed := http.DetectContentType(resp.Body)
	mt, _, _ := mime.ParseMediaType(sniffed)
	if supportedImageTypes[mt] {
		return mt, nil
	}
	if strings.HasPrefix(mt, "text/") {
		return "", eris.Errorf("extract: expected an image, got %s", mt)
	}
	return "", eris.Errorf("extract: unsupported image type %s", mt)
}
