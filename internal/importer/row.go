package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Format identifies the container of a catalog file.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// DefaultEncoding is the character set catalog CSV files are assumed to use.
const DefaultEncoding = "iso-8859-1"

// MalformedInputError reports a source that cannot be read as a table.
type MalformedInputError struct {
	Line   int
	Reason string
}

func (e *MalformedInputError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed input at line %d: %s", e.Line, e.Reason)
	}
	return "malformed input: " + e.Reason
}

// IsMalformed reports whether err is (or wraps) a MalformedInputError.
func IsMalformed(err error) bool {
	var me *MalformedInputError
	return errors.As(err, &me)
}

// NormalizeHeader turns a header cell into a field key: trimmed,
// lower-cased, with spaces replaced by underscores.
func NormalizeHeader(h string) string {
	h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	return strings.ReplaceAll(strings.ToLower(h), " ", "_")
}

// LookupEncoding maps a configured encoding name to its codec.
func LookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "iso-8859-1", "iso8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	case "utf-8", "utf8":
		// Strips a leading BOM and replaces invalid sequences with U+FFFD.
		return unicode.UTF8BOM, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
}

// newWriter returns w encoding into the named character set. Characters
// the set cannot hold are replaced. UTF-8 output carries no BOM.
func newWriter(w io.Writer, name string) (io.Writer, error) {
	enc, err := LookupEncoding(name)
	if err != nil {
		return nil, err
	}
	if enc == unicode.UTF8BOM {
		enc = unicode.UTF8
	}
	return encoding.ReplaceUnsupported(enc.NewEncoder()).Writer(w), nil
}

// SourceRow is one data row of the input. The header is shared by all rows
// of a file; Values are kept exactly as read so reports can echo them.
type SourceRow struct {
	Line   int
	header *header
	values []string
}

type header struct {
	raw   []string
	keys  []string
	index map[string]int
}

func newHeader(raw []string) *header {
	h := &header{
		raw:   append([]string(nil), raw...),
		keys:  make([]string, len(raw)),
		index: make(map[string]int, len(raw)),
	}
	for i, cell := range raw {
		key := NormalizeHeader(cell)
		h.keys[i] = key
		if _, dup := h.index[key]; !dup && key != "" {
			h.index[key] = i
		}
	}
	return h
}

// NewSourceRow builds a row against the given header cells. It is used by
// tests and by callers that already hold parsed records.
func NewSourceRow(headerCells []string, values []string, line int) SourceRow {
	return SourceRow{Line: line, header: newHeader(headerCells), values: append([]string(nil), values...)}
}

// Get returns the trimmed value of the field, or "" when the column is absent.
func (r SourceRow) Get(key string) string {
	if r.header == nil {
		return ""
	}
	i, ok := r.header.index[key]
	if !ok || i >= len(r.values) {
		return ""
	}
	return strings.TrimSpace(r.values[i])
}

// Has reports whether the file carries the column at all.
func (r SourceRow) Has(key string) bool {
	if r.header == nil {
		return false
	}
	_, ok := r.header.index[key]
	return ok
}

// Raw returns the untouched cell values in column order.
func (r SourceRow) Raw() []string {
	return append([]string(nil), r.values...)
}

// Blank reports whether every cell is empty after trimming.
func (r SourceRow) Blank() bool {
	for _, v := range r.values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// SourceOptions configures how a catalog file is read.
type SourceOptions struct {
	Format   Format
	Encoding string
}

// recordSource yields raw records one at a time; io.EOF ends the stream.
type recordSource interface {
	next() ([]string, error)
	line() int
	close() error
}

// RowReader yields the data rows of a catalog file in file order.
type RowReader struct {
	src    recordSource
	header *header
	pad    bool
}

// NewRowReader reads the header of the source and returns a reader
// positioned at the first data row. A missing or empty header is a
// MalformedInputError.
func NewRowReader(r io.Reader, opts SourceOptions) (*RowReader, error) {
	var (
		src recordSource
		pad bool
	)
	switch opts.Format {
	case FormatXLSX:
		x, err := newXLSXSource(r)
		if err != nil {
			return nil, err
		}
		src, pad = x, true
	case FormatCSV, "":
		enc, err := LookupEncoding(opts.Encoding)
		if err != nil {
			return nil, err
		}
		src = newCSVSource(enc.NewDecoder().Reader(r))
	default:
		return nil, fmt.Errorf("unsupported format %q", opts.Format)
	}

	first, err := src.next()
	if err == io.EOF {
		src.close()
		return nil, &MalformedInputError{Line: 1, Reason: "missing header row"}
	}
	if err != nil {
		src.close()
		return nil, err
	}
	h := newHeader(first)
	if len(h.index) == 0 {
		src.close()
		return nil, &MalformedInputError{Line: 1, Reason: "header row has no column names"}
	}

	return &RowReader{src: src, header: h, pad: pad}, nil
}

// Close releases the source. XLSX workbooks keep temp files open until
// closed. Safe to call more than once.
func (r *RowReader) Close() error {
	return r.src.close()
}

// Header returns the normalized field keys in column order.
func (r *RowReader) Header() []string {
	return append([]string(nil), r.header.keys...)
}

// RawHeader returns the header cells as they appeared in the file.
func (r *RowReader) RawHeader() []string {
	return append([]string(nil), r.header.raw...)
}

// Next returns the next data row, or io.EOF when the input is exhausted.
func (r *RowReader) Next() (SourceRow, error) {
	rec, err := r.src.next()
	if err != nil {
		return SourceRow{}, err
	}

	width := len(r.header.raw)
	switch {
	case len(rec) == width:
	case r.pad && len(rec) < width:
		rec = append(rec, make([]string, width-len(rec))...)
	default:
		return SourceRow{}, &MalformedInputError{
			Line:   r.src.line(),
			Reason: fmt.Sprintf("row has %d fields, header has %d", len(rec), width),
		}
	}

	return SourceRow{Line: r.src.line(), header: r.header, values: rec}, nil
}

// ============================================================================
// CSV
// ============================================================================

type csvSource struct {
	r       *csv.Reader
	current int
}

func newCSVSource(r io.Reader) *csvSource {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // row width is checked against the header by RowReader
	cr.LazyQuotes = true
	cr.ReuseRecord = false
	return &csvSource{r: cr}
}

func (s *csvSource) next() ([]string, error) {
	rec, err := s.r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, &MalformedInputError{Line: pe.StartLine, Reason: pe.Err.Error()}
		}
		return nil, fmt.Errorf("read csv: %w", err)
	}
	s.current, _ = s.r.FieldPos(0)
	return rec, nil
}

func (s *csvSource) line() int { return s.current }

func (s *csvSource) close() error { return nil }

// ============================================================================
// XLSX
// ============================================================================

type xlsxSource struct {
	file    *excelize.File
	rows    *excelize.Rows
	current int
	closed  bool
}

func newXLSXSource(r io.Reader) (*xlsxSource, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &MalformedInputError{Reason: fmt.Sprintf("open workbook: %v", err)}
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, &MalformedInputError{Reason: "workbook has no sheets"}
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return &xlsxSource{file: f, rows: rows}, nil
}

func (s *xlsxSource) next() ([]string, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, fmt.Errorf("read sheet: %w", err)
		}
		if err := s.close(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	s.current++
	cols, err := s.rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read sheet row %d: %w", s.current, err)
	}
	return cols, nil
}

func (s *xlsxSource) line() int { return s.current }

func (s *xlsxSource) close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	rerr := s.rows.Close()
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close workbook: %w", err)
	}
	if rerr != nil {
		return fmt.Errorf("close sheet: %w", rerr)
	}
	return nil
}
