package frame

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// CSVOptions tunes ReadCSV.
type CSVOptions struct {
	// Encoding names a WHATWG encoding (e.g. "windows-1252"); empty or utf-8
	// reads the file as is.
	Encoding string
}

// ReadCSV reads a headed CSV file. Every cell is text; empty cells are absent.
func ReadCSV(path string, opts CSVOptions) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open csv")
	}
	defer f.Close()

	var reader io.Reader = f
	if enc := opts.Encoding; enc != "" && !isUTF8(enc) {
		e, err := htmlindex.Get(enc)
		if err != nil {
			return nil, errors.Wrapf(err, "unsupported encoding %q", enc)
		}
		reader = transform.NewReader(f, e.NewDecoder())
	}

	r := csv.NewReader(reader)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return New(nil, nil), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows [][]any
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read row %d", len(rows)+1)
		}
		rows = append(rows, textRow(record, len(header)))
	}
	return New(header, rows), nil
}

// ReadXLSX reads the first sheet of a workbook; the first row is the header.
func ReadXLSX(path string) (*Frame, error) {
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "open xlsx")
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return New(nil, nil), nil
	}
	records, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, errors.Wrapf(err, "read sheet %s", sheets[0])
	}
	if len(records) == 0 {
		return New(nil, nil), nil
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}
	rows := make([][]any, 0, len(records)-1)
	for _, rec := range records[1:] {
		rows = append(rows, textRow(rec, len(header)))
	}
	return New(header, rows), nil
}

func textRow(record []string, width int) []any {
	row := make([]any, width)
	for i := 0; i < width && i < len(record); i++ {
		if record[i] != "" {
			row[i] = record[i]
		}
	}
	return row
}

// WriteCSV writes f with a header row.
func (f *Frame) WriteCSV(path string) error {
	out, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create csv")
	}
	w := csv.NewWriter(out)
	if err := w.Write(f.cols); err != nil {
		out.Close()
		return errors.Wrap(err, "write header")
	}
	rec := make([]string, len(f.cols))
	for _, r := range f.rows {
		for j, v := range r {
			rec[j] = Format(v)
		}
		if err := w.Write(rec); err != nil {
			out.Close()
			return errors.Wrap(err, "write row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		out.Close()
		return errors.Wrap(err, "flush csv")
	}
	return out.Close()
}

func isUTF8(enc string) bool {
	e := strings.ToLower(strings.ReplaceAll(enc, "-", ""))
	return e == "utf8" || e == ""
}
