package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter rune            // default ','
	HasHeader bool            // if true, first row is skipped but sent to HeaderCh
	HeaderCh  chan<- []string // optional: receives the header row
	Comment   rune            // comment character (0 = none)
	TrimSpace bool
}

// StreamCSV reads CSV rows and sends them to a channel.
// Caller must consume the returned row channel. Errors are sent on the error channel.
// Both channels are closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.FieldsPerRecord = -1

		first := true
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}

			if first && opts.HasHeader {
				first = false
				if opts.HeaderCh != nil {
					select {
					case opts.HeaderCh <- record:
					case <-ctx.Done():
						errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled sending header")
						return
					}
				}
				continue
			}
			first = false

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// ManifestEntry names one document of a batch.
type ManifestEntry struct {
	DocumentID string
	Title      string
	Source     string // local path or http(s) URL
	Keywords   []string
}

// manifest columns, matched case-insensitively against the header row.
const (
	colDocumentID = "document_id"
	colTitle      = "title"
	colSource     = "source"
	colKeywords   = "keywords"
)

// ReadManifest parses a batch manifest CSV. The header must name
// document_id and source; title and keywords (semicolon separated) are
// optional. Rows without a document_id or source are skipped.
func ReadManifest(ctx context.Context, r io.Reader) ([]ManifestEntry, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	headerCh := make(chan []string, 1)
	rows, errs := StreamCSV(ctx, r, CSVOptions{HasHeader: true, HeaderCh: headerCh, Comment: '#', TrimSpace: true})

	var (
		cols    map[string]int
		entries []ManifestEntry
	)
	for row := range rows {
		if cols == nil {
			var err error
			if cols, err = manifestColumns(<-headerCh); err != nil {
				return nil, err
			}
		}
		e := ManifestEntry{
			DocumentID: field(row, cols, colDocumentID),
			Title:      field(row, cols, colTitle),
			Source:     field(row, cols, colSource),
		}
		if e.DocumentID == "" || e.Source == "" {
			continue
		}
		for _, kw := range strings.Split(field(row, cols, colKeywords), ";") {
			if kw = strings.TrimSpace(kw); kw != "" {
				e.Keywords = append(e.Keywords, kw)
			}
		}
		entries = append(entries, e)
	}
	if err := <-errs; err != nil {
		return nil, eris.Wrap(err, "manifest")
	}
	if cols == nil {
		// Header only, or empty input.
		select {
		case h := <-headerCh:
			if _, err := manifestColumns(h); err != nil {
				return nil, err
			}
		default:
		}
	}
	return entries, nil
}

func manifestColumns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{colDocumentID, colSource} {
		if _, ok := cols[required]; !ok {
			return nil, eris.Errorf("manifest: missing %q column", required)
		}
	}
	return cols, nil
}

func field(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}
