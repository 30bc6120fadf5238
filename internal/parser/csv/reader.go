// Package csv reads delimited trip files into positional rows.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"tripetl/internal/transformer"
)

// Options controls how the input is read.
type Options struct {
	// Comma is the field delimiter. Zero means ';'.
	Comma rune

	// HasHeader maps columns by header name. Without a header, columns are
	// taken positionally.
	HasHeader bool

	// TrimSpace trims leading and trailing space from every value.
	TrimSpace bool

	LazyQuotes bool

	// HeaderMap renames raw header names to canonical column names before
	// normalization (e.g. "Data Chegada" -> "datachegada").
	HeaderMap map[string]string

	// Encoding is an IANA charset name ("utf-8", "windows-1252",
	// "iso-8859-1"). Empty means UTF-8. A UTF-8 or UTF-16 BOM always wins.
	Encoding string
}

// DefaultOptions reads ';' delimited UTF-8 with a header row.
func DefaultOptions() Options {
	return Options{Comma: ';', HasHeader: true, TrimSpace: true}
}

// RecordError is a malformed record. The reader stays usable after it.
type RecordError struct {
	Line int
	Err  error
}

func (e *RecordError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }
func (e *RecordError) Unwrap() error { return e.Err }

// Reader yields rows aligned to a fixed column list.
type Reader struct {
	cr      *csv.Reader
	columns []string
	colIx   []int
	missing []string
	trim    bool
	line    int
}

// NewDecoder wraps src so that it yields UTF-8 text.
func NewDecoder(src io.Reader, charset string) (io.Reader, error) {
	var enc encoding.Encoding = unicode.UTF8
	name := strings.ToLower(strings.TrimSpace(charset))
	switch name {
	case "", "utf-8", "utf8", "utf-8-bom":
	default:
		e, err := ianaindex.IANA.Encoding(name)
		if err != nil {
			return nil, fmt.Errorf("csv: encoding %q: %w", charset, err)
		}
		if e == nil {
			return nil, fmt.Errorf("csv: encoding %q is not supported", charset)
		}
		enc = e
	}
	return transform.NewReader(src, unicode.BOMOverride(enc.NewDecoder())), nil
}

// NewReader decodes src, reads the header if any, and maps it onto columns.
// Columns absent from the header are reported by MissingColumns and read as
// nil values.
func NewReader(src io.Reader, columns []string, opt Options) (*Reader, error) {
	dec, err := NewDecoder(src, opt.Encoding)
	if err != nil {
		return nil, err
	}

	comma := opt.Comma
	if comma == 0 {
		comma = ';'
	}

	cr := csv.NewReader(dec)
	cr.Comma = comma
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	r := &Reader{
		cr:      cr,
		columns: columns,
		colIx:   make([]int, len(columns)),
		trim:    opt.TrimSpace,
	}

	if !opt.HasHeader {
		for i := range r.colIx {
			r.colIx[i] = i
		}
		return r, nil
	}

	r.line++
	hdr, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv: empty input")
		}
		return nil, fmt.Errorf("csv: read header: %w", err)
	}

	srcToIdx := make(map[string]int, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		h = strings.TrimSpace(h)
		if mapped, ok := opt.HeaderMap[h]; ok {
			h = mapped
		} else {
			h = NormalizeHeader(h)
		}
		if _, dup := srcToIdx[h]; !dup {
			srcToIdx[h] = i
		}
	}
	for t, target := range columns {
		if si, ok := srcToIdx[target]; ok {
			r.colIx[t] = si
		} else {
			r.colIx[t] = -1
			r.missing = append(r.missing, target)
		}
	}
	return r, nil
}

// NormalizeHeader lowercases h and replaces spaces with underscores.
func NormalizeHeader(h string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(h)), " ", "_")
}

// MissingColumns lists the requested columns the header did not contain.
func (r *Reader) MissingColumns() []string { return r.missing }

// Line is the number of the last record read, header included.
func (r *Reader) Line() int { return r.line }

// Next fills row with the next record. It returns io.EOF at the end of input
// and *RecordError for a record that could not be parsed.
func (r *Reader) Next(row *transformer.Row) error {
	r.line++
	rec, err := r.cr.Read()
	if err == io.EOF {
		return io.EOF
	}
	if err != nil {
		return &RecordError{Line: r.line, Err: err}
	}

	row.Line = r.line
	for t := range r.columns {
		si := r.colIx[t]
		if si < 0 {
			row.V[t] = nil
			continue
		}
		if si >= len(rec) {
			// Short record: the column exists but this row has no value.
			row.V[t] = ""
			continue
		}
		v := rec[si]
		if r.trim {
			v = strings.TrimSpace(v)
		}
		row.V[t] = v
	}
	return nil
}
