// Package mediaurl classifies social-media CDN image URLs as thumbnails and
// derives the full-size URL by removing the sizing markers.
package mediaurl

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/karaoke-scout/internal/model"
)

// FullSizeMinDimension is the smallest edge, in pixels, at which a sized
// image is treated as full size.
const FullSizeMinDimension = 720

// Classification is the result of inspecting one image URL.
type Classification struct {
	IsThumbnail bool
	// UpgradedURL is the URL to fetch. It equals the input when the URL is
	// not a thumbnail.
	UpgradedURL string
	// Sized reports whether any size marker was present.
	Sized bool
}

// SizeHint maps the classification onto a content unit size hint.
func (c Classification) SizeHint() model.SizeHint {
	switch {
	case c.IsThumbnail:
		return model.SizeThumbnail
	case c.Sized:
		return model.SizeFullSize
	default:
		return model.SizeUnknown
	}
}

var (
	// Size markers such as s130x130 or p320x320, as a path segment or as
	// one token of an stp value.
	sizeRe = regexp.MustCompile(`^[sp](\d+)x(\d+)$`)
	// Crop tokens inside stp, e.g. c0.0.130.130a.
	cropRe = regexp.MustCompile(`^c\d+\.\d+\.(\d+)\.(\d+)a?$`)
)

// Classify inspects rawURL for sizing markers in both the path and the stp
// query parameter. Thumbnails are upgraded by stripping the markers; all
// other query parameters, including signatures, are kept byte-for-byte.
// Classify never fails: unparseable input is returned unchanged.
func Classify(rawURL string) Classification {
	unchanged := Classification{UpgradedURL: rawURL}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return unchanged
	}

	segments := strings.Split(u.EscapedPath(), "/")
	keptSegments := segments[:0:0]
	pathSized, pathThumb := false, false
	for _, seg := range segments {
		if m := sizeRe.FindStringSubmatch(seg); m != nil {
			pathSized = true
			if isSmall(m[1], m[2]) {
				pathThumb = true
				continue
			}
		}
		keptSegments = append(keptSegments, seg)
	}

	params := strings.Split(u.RawQuery, "&")
	keptParams := params[:0:0]
	stpSized, stpThumb := false, false
	for _, p := range params {
		key, value, _ := strings.Cut(p, "=")
		if key == "stp" {
			sized, thumb := inspectStp(value)
			if sized {
				stpSized = true
			}
			if thumb {
				stpThumb = true
				continue
			}
		}
		keptParams = append(keptParams, p)
	}

	c := Classification{
		Sized:       pathSized || stpSized,
		IsThumbnail: pathThumb || stpThumb,
		UpgradedURL: rawURL,
	}
	if !c.IsThumbnail {
		return c
	}

	upgraded := *u
	if pathThumb {
		escaped := strings.Join(keptSegments, "/")
		unescaped, err := url.PathUnescape(escaped)
		if err != nil {
			return unchanged
		}
		upgraded.Path = unescaped
		upgraded.RawPath = escaped
	}
	if stpThumb {
		upgraded.RawQuery = strings.Join(keptParams, "&")
		upgraded.ForceQuery = false
	}
	c.UpgradedURL = upgraded.String()
	return c
}

// inspectStp reports whether an stp value carries a size or crop token and
// whether any such token is below full size. Tokens are separated by "_"
// or "-", e.g. dst-jpg_s1080x1080_p130x130.
func inspectStp(raw string) (sized, thumb bool) {
	value, err := url.QueryUnescape(raw)
	if err != nil {
		value = raw
	}
	tokens := strings.FieldsFunc(value, func(r rune) bool { return r == '_' || r == '-' })
	for _, tok := range tokens {
		m := sizeRe.FindStringSubmatch(tok)
		if m == nil {
			m = cropRe.FindStringSubmatch(tok)
		}
		if m == nil {
			continue
		}
		sized = true
		if isSmall(m[1], m[2]) {
			thumb = true
		}
	}
	return sized, thumb
}

func isSmall(w, h string) bool {
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil {
		return false
	}
	return max(width, height) < FullSizeMinDimension
}

// IsCDNImage reports whether rawURL points at a social-media image CDN or
// has a common image extension.
func IsCDNImage(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if strings.HasPrefix(host, "scontent") || strings.HasSuffix(host, ".fbcdn.net") || strings.HasSuffix(host, ".cdninstagram.com") {
		return true
	}
	p := strings.ToLower(u.Path)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".webp", ".gif"} {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}
