package fetcher

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
)

// decodeBody undoes the Content-Encoding chain. Encodings are listed in the
// order they were applied, so they are removed in reverse.
func decodeBody(raw []byte, contentEncoding string) ([]byte, error) {
	if contentEncoding == "" {
		return raw, nil
	}
	codings := strings.Split(contentEncoding, ",")
	body := raw
	for i := len(codings) - 1; i >= 0; i-- {
		coding := strings.ToLower(strings.TrimSpace(codings[i]))
		var err error
		switch coding {
		case "", "identity":
			continue
		case "gzip", "x-gzip":
			body, err = readAllFrom(gzip.NewReader(bytes.NewReader(body)))
		case "br":
			body, err = io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
		case "deflate":
			body, err = inflate(body)
		default:
			return nil, eris.Errorf("fetcher: unsupported content encoding %q", coding)
		}
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: decode %s", coding)
		}
	}
	return body, nil
}

func readAllFrom(r io.ReadCloser, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	defer r.Close() //nolint:errcheck
	return io.ReadAll(r)
}

// inflate handles both zlib-wrapped and raw deflate streams; servers
// disagree on which one "deflate" means.
func inflate(body []byte) ([]byte, error) {
	if out, err := readAllFrom(zlib.NewReader(bytes.NewReader(body))); err == nil {
		return out, nil
	}
	r := flate.NewReader(bytes.NewReader(body))
	defer r.Close() //nolint:errcheck
	return io.ReadAll(r)
}

// IsHTML reports whether the response looks like an HTML document.
func (r *Response) IsHTML() bool {
	mt, _, _ := mime.ParseMediaType(r.ContentType)
	if mt == "text/html" || mt == "application/xhtml+xml" {
		return true
	}
	if mt == "" {
		head := bytes.ToLower(r.Body[:min(len(r.Body), 512)])
		return bytes.Contains(head, []byte("<html")) || bytes.Contains(head, []byte("<!doctype html"))
	}
	return false
}

// Text returns the body decoded to UTF-8. A charset declared in the
// Content-Type header wins; otherwise the body is sniffed for a BOM or a
// <meta charset> declaration.
func (r *Response) Text() (string, error) {
	if _, params, err := mime.ParseMediaType(r.ContentType); err == nil {
		if label := params["charset"]; label != "" {
			enc, err := htmlindex.Get(label)
			if err == nil {
				out, err := enc.NewDecoder().Bytes(r.Body)
				if err != nil {
					return "", eris.Wrapf(err, "fetcher: decode charset %q", label)
				}
				return string(out), nil
			}
		}
	}

	if utf8.Valid(r.Body) {
		return string(r.Body), nil
	}

	enc, name, _ := charset.DetermineEncoding(r.Body, r.ContentType)
	out, err := enc.NewDecoder().Bytes(r.Body)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: decode charset %q", name)
	}
	return string(out), nil
}
