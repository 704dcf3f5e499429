package convert

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/meridiandata/sfconnect/filesink"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// MappingError reports a row too short for the declared column mapping.
type MappingError struct {
	Index   int
	Columns int
	Field   string
	Line    int
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("line %d: row has %d columns but field %q is mapped from column %d",
		e.Line, e.Columns, e.Field, e.Index)
}

// EncodingError reports input bytes that are not valid in the declared
// input encoding.
type EncodingError struct {
	Encoding string
	Line     int
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("line %d: input is not valid %s", e.Line, e.Encoding)
}

// lookupEncoding resolves an encoding name to a decoder. A nil encoding
// means the input is already UTF-8.
func lookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(name) {
	case "cp932", "windows-31j", "ms932", "shift_jis", "shift-jis", "sjis":
		return japanese.ShiftJIS, nil
	case "utf-8", "utf8":
		return nil, nil
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
	return enc, nil
}

// Transformer converts one legacy master export into a load-ready CSV
// following its Spec.
type Transformer struct {
	spec  *Spec
	extra []string
}

func NewTransformer(spec *Spec) *Transformer {
	var t = &Transformer{spec: spec}
	if spec.ExtraFields != nil {
		for pair := spec.ExtraFields.Oldest(); pair != nil; pair = pair.Next() {
			t.extra = append(t.extra, pair.Value)
		}
	}
	return t
}

// TransformRow maps one input row to an output row. The line number is used
// only for error reporting.
func (t *Transformer) TransformRow(row []string, line int) ([]string, error) {
	var out = make([]string, 0, len(t.spec.Mapping)+1+len(t.extra))
	for _, m := range t.spec.Mapping {
		if m.Index >= len(row) {
			return nil, &MappingError{Index: m.Index, Columns: len(row), Field: m.Field, Line: line}
		}
		out = append(out, row[m.Index])
	}
	if t.spec.OwnerIDColumn != "" {
		out = append(out, t.spec.OwnerIDValue)
	}
	out = append(out, t.extra...)
	return out, nil
}

// Convert reads the legacy export from r and writes the converted CSV to w.
// It returns the number of data rows written.
func (t *Transformer) Convert(r io.Reader, w io.WriteCloser) (int, error) {
	enc, err := lookupEncoding(t.spec.InputEncoding)
	if err != nil {
		return 0, err
	}
	if enc != nil {
		r = transform.NewReader(r, enc.NewDecoder())
	}
	outEnc, err := lookupEncoding(t.spec.OutputEncoding)
	if err != nil {
		return 0, err
	}
	if outEnc != nil {
		w = &encodedWriter{Writer: transform.NewWriter(w, outEnc.NewEncoder()), under: w}
	}

	var rd = csv.NewReader(r)
	rd.Comma = delimiterRune(t.spec.Delimiter)
	rd.FieldsPerRecord = -1
	rd.LazyQuotes = true

	var out filesink.StreamEncoder = filesink.NewCsvEncoder(w, t.spec.FieldNames())

	var rows int
	var line = 0
	for {
		line++
		row, err := rd.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return rows, fmt.Errorf("reading input at line %d: %w", line, err)
		}

		if line == 1 && t.spec.HasHeader {
			continue
		}

		// Decoders substitute the replacement character for bytes that are
		// not valid in the declared encoding rather than returning an error.
		// UTF-8 input has no decoder in front of it, so check it directly.
		if enc != nil && rowHasReplacement(row) {
			return rows, &EncodingError{Encoding: t.spec.InputEncoding, Line: line}
		} else if enc == nil && !rowIsValidUTF8(row) {
			return rows, &EncodingError{Encoding: t.spec.InputEncoding, Line: line}
		}

		converted, err := t.TransformRow(row, line)
		if err != nil {
			return rows, err
		}
		if err := out.Encode(converted); err != nil {
			return rows, fmt.Errorf("writing output at line %d: %w", line, err)
		}
		rows++
	}

	if err := out.Close(); err != nil {
		return rows, fmt.Errorf("closing output: %w", err)
	}

	log.WithFields(log.Fields{
		"master": t.spec.MasterKey,
		"object": t.spec.SFObject,
		"rows":   rows,
	}).Info("converted master export")
	return rows, nil
}

// encodedWriter closes the wrapped transform.Writer before the file
// beneath it so buffered bytes are flushed through the encoder.
type encodedWriter struct {
	*transform.Writer
	under io.WriteCloser
}

func (w *encodedWriter) Close() error {
	if err := w.Writer.Close(); err != nil {
		return err
	}
	return w.under.Close()
}

func rowIsValidUTF8(row []string) bool {
	for _, field := range row {
		if !utf8.ValidString(field) {
			return false
		}
	}
	return true
}

func rowHasReplacement(row []string) bool {
	for _, field := range row {
		if strings.ContainsRune(field, utf8.RuneError) {
			return true
		}
	}
	return false
}

func delimiterRune(d string) rune {
	if d == "\\t" || d == "\t" {
		return '\t'
	}
	r, _ := utf8.DecodeRuneInString(d)
	if r == utf8.RuneError {
		return ','
	}
	return r
}
