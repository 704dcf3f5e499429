package filesink

import (
	"bytes"
	"compress/flate"
	"encoding/csv"
	"fmt"
	"io"
	"unicode"
	"unicode/utf8"

	"github.com/klauspost/pgzip"
)

const csvCompressionlevel = flate.BestSpeed

// utf8BOM is prepended when requested so spreadsheet applications detect the
// encoding instead of assuming a legacy code page.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type csvConfig struct {
	skipHeaders bool
	crlf        bool
	bom         bool
	gzip        bool
	quoteChar   rune
}

// CsvEncoder writes rows of fields as CSV, emitting the header row once
// before the first data row.
type CsvEncoder struct {
	cfg    csvConfig
	fields []string
	csv    *csvWriter
	cwc    *countingWriteCloser
	gz     *pgzip.Writer
}

type CsvOption func(*csvConfig)

func WithCsvSkipHeaders() CsvOption {
	return func(cfg *csvConfig) {
		cfg.skipHeaders = true
	}
}

func WithCsvCRLF() CsvOption {
	return func(cfg *csvConfig) {
		cfg.crlf = true
	}
}

func WithCsvBOM() CsvOption {
	return func(cfg *csvConfig) {
		cfg.bom = true
	}
}

func WithCsvGzip() CsvOption {
	return func(cfg *csvConfig) {
		cfg.gzip = true
	}
}

func WithCsvQuoteChar(char rune) CsvOption {
	return func(cfg *csvConfig) {
		cfg.quoteChar = char
	}
}

func NewCsvEncoder(w io.WriteCloser, fields []string, opts ...CsvOption) *CsvEncoder {
	var cfg csvConfig
	for _, o := range opts {
		o(&cfg)
	}

	cwc := &countingWriteCloser{w: w}

	var sink io.Writer = cwc
	var gz *pgzip.Writer
	if cfg.gzip {
		var err error
		if gz, err = pgzip.NewWriterLevel(cwc, csvCompressionlevel); err != nil {
			// Only possible if compressionLevel is not valid.
			panic("invalid compression level for gzip.NewWriterLevel")
		}
		sink = gz
	}

	quoteChar := '"'
	if cfg.quoteChar != 0 {
		quoteChar = cfg.quoteChar
	}

	return &CsvEncoder{
		cfg:    cfg,
		csv:    newCsvWriter(sink, byte(quoteChar), cfg.crlf),
		cwc:    cwc,
		gz:     gz,
		fields: fields,
	}
}

func (e *CsvEncoder) Encode(row []string) error {
	if e.cfg.bom {
		if _, err := e.csv.w.Write(utf8BOM); err != nil {
			return fmt.Errorf("writing byte order mark: %w", err)
		}
		e.cfg.bom = false
	}

	if !e.cfg.skipHeaders {
		if err := e.csv.writeRow(e.fields); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
		e.cfg.skipHeaders = true
	}

	return e.csv.writeRow(row)
}

func (e *CsvEncoder) Written() int {
	return e.cwc.written
}

func (e *CsvEncoder) Close() error {
	// An output with no data rows still gets its header.
	if !e.cfg.skipHeaders {
		if e.cfg.bom {
			if _, err := e.csv.w.Write(utf8BOM); err != nil {
				return fmt.Errorf("writing byte order mark: %w", err)
			}
			e.cfg.bom = false
		}
		if err := e.csv.writeRow(e.fields); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
		e.cfg.skipHeaders = true
	}

	if e.gz != nil {
		if err := e.gz.Close(); err != nil {
			return fmt.Errorf("closing gzip writer: %w", err)
		}
	}
	if err := e.cwc.Close(); err != nil {
		return fmt.Errorf("closing counting writer: %w", err)
	}

	return nil
}

type countingWriteCloser struct {
	w       io.WriteCloser
	written int
}

func (c *countingWriteCloser) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.written += n
	return n, err
}

func (c *countingWriteCloser) Close() error {
	return c.w.Close()
}

type csvWriter struct {
	w         io.Writer
	buf       []byte
	quoteChar byte
	crlf      bool
}

func newCsvWriter(w io.Writer, quoteChar byte, crlf bool) *csvWriter {
	return &csvWriter{
		w:         w,
		quoteChar: quoteChar,
		crlf:      crlf,
	}
}

func (w *csvWriter) writeRow(row []string) error {
	w.buf = w.buf[:0]

	for n, value := range row {
		if n > 0 {
			w.buf = append(w.buf, ',')
		}
		w.buf = w.appendString(w.buf, value)
	}

	if w.crlf {
		w.buf = append(w.buf, '\r')
	}
	w.buf = append(w.buf, '\n')
	if _, err := w.w.Write(w.buf); err != nil {
		return err
	}

	return nil
}

func (w *csvWriter) appendString(buf []byte, value string) []byte {
	field := []byte(value)
	if !w.stringNeedsQuotes(field) {
		buf = append(buf, field...)
	} else {
		buf = append(buf, w.quoteChar)
		for len(field) > 0 {
			// Escape quote characters present in the string by replacing them
			// with double quotes.
			i := bytes.IndexByte(field, w.quoteChar)
			if i < 0 {
				i = len(field)
			}

			buf = append(buf, field[:i]...)
			field = field[i:]
			if len(field) > 0 {
				buf = append(buf, w.quoteChar, w.quoteChar)
				field = field[1:]
			}
		}
		buf = append(buf, w.quoteChar)
	}

	return buf
}

func (w *csvWriter) stringNeedsQuotes(field []byte) bool {
	if len(field) == 0 {
		return false
	}

	for i := 0; i < len(field); i++ {
		c := field[i]
		if c == w.quoteChar || c == '\n' || c == '\r' || c == ',' {
			return true
		}
	}

	r1, _ := utf8.DecodeRune(field)
	return unicode.IsSpace(r1)
}

// SpreadsheetCopy rewrites a CSV stream into a form that legacy spreadsheet
// applications open cleanly: a leading byte order mark and CRLF row endings.
// Quoted fields with embedded newlines pass through unchanged.
func SpreadsheetCopy(w io.Writer, r io.Reader) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("writing byte order mark: %w", err)
	}

	var rd = csv.NewReader(r)
	rd.FieldsPerRecord = -1
	rd.LazyQuotes = true

	var out = csv.NewWriter(w)
	out.UseCRLF = true

	for {
		row, err := rd.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("reading row: %w", err)
		}
		if err := out.Write(row); err != nil {
			return fmt.Errorf("writing row: %w", err)
		}
	}
	out.Flush()
	return out.Error()
}
