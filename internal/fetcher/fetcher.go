// Package fetcher loads document text for the extraction pipeline from
// local files or HTTP URLs, and reads CSV manifests of documents to batch.
package fetcher

import (
	"context"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
)

// DefaultMaxBytes caps how much document text a single load may read.
const DefaultMaxBytes = 20 << 20

// ErrNotText is returned when a document body is not valid UTF-8 text.
var ErrNotText = eris.New("fetcher: document is not UTF-8 text")

// Fetcher downloads remote document bodies.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// IsURL reports whether source names an http(s) resource rather than a path.
func IsURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// LoadText returns the plain text named by source, which is either a local
// path or an http(s) URL. f may be nil when source is a path.
func LoadText(ctx context.Context, f Fetcher, source string, maxBytes int64) (string, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	var body io.ReadCloser
	if IsURL(source) {
		if f == nil {
			return "", eris.Errorf("fetcher: no http fetcher for %s", source)
		}
		rc, err := f.Download(ctx, source)
		if err != nil {
			return "", eris.Wrapf(err, "fetcher: download %s", source)
		}
		body = rc
	} else {
		file, err := os.Open(source)
		if err != nil {
			return "", eris.Wrapf(err, "fetcher: open %s", source)
		}
		body = file
	}
	defer body.Close() //nolint:errcheck

	return readText(body, maxBytes)
}

func readText(r io.Reader, maxBytes int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return "", eris.Wrap(err, "fetcher: read body")
	}
	if int64(len(data)) > maxBytes {
		return "", eris.Errorf("fetcher: document exceeds %d bytes", maxBytes)
	}
	if !utf8.Valid(data) {
		return "", ErrNotText
	}
	return string(data), nil
}
