// Package recipients reads the recipient list from a CSV file with a header row.
package recipients

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/shineum/csv-mailer/internal/email"
)

// fallbackRecipientColumn is consulted when the configured recipient column
// is absent or empty.
const fallbackRecipientColumn = "email"

// utf8BOM is stripped from the first header cell (spreadsheet exports).
const utf8BOM = "\ufeff"

// ErrNoHeader is returned when the input has no header row.
var ErrNoHeader = errors.New("csv input has no header row")

// Columns names the CSV columns with special meaning.
type Columns struct {
	To         string
	Cc         string
	Bcc        string
	Attachment string
}

// DefaultColumns returns the default column names.
func DefaultColumns() Columns {
	return Columns{
		To:         "email",
		Cc:         "cc",
		Bcc:        "bcc",
		Attachment: "attachment",
	}
}

// Row is one CSV record keyed by column name.
type Row struct {
	// Number is the 1-based record number, not counting the header.
	Number int
	Fields map[string]string

	cols Columns
}

// Recipient returns the trimmed recipient address.
func (r *Row) Recipient() string {
	if to := strings.TrimSpace(r.Fields[r.cols.To]); to != "" {
		return to
	}
	return strings.TrimSpace(r.Fields[fallbackRecipientColumn])
}

// Cc returns the addresses from the CC column.
func (r *Row) Cc() []string {
	return email.SplitAddressList(r.Fields[r.cols.Cc])
}

// Bcc returns the addresses from the BCC column.
func (r *Row) Bcc() []string {
	return email.SplitAddressList(r.Fields[r.cols.Bcc])
}

// Attachments returns the paths listed in the attachment column.
func (r *Row) Attachments() []string {
	return SplitList(r.Fields[r.cols.Attachment])
}

// Reader yields rows from a CSV source.
type Reader struct {
	csv    *csv.Reader
	header []string
	cols   Columns
	count  int
	closer io.Closer
}

// Open opens the CSV file at path.
func Open(path string, cols Columns) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv file: %w", err)
	}

	r, err := NewReader(f, cols)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader reads the header row from src and returns a Reader for the
// remaining records.
func NewReader(src io.Reader, cols Columns) (*Reader, error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}

	return &Reader{
		csv:    cr,
		header: header,
		cols:   cols,
	}, nil
}

// HasRecipientColumn reports whether the header names the configured
// recipient column or the fallback column.
func (r *Reader) HasRecipientColumn() bool {
	return slices.Contains(r.header, r.cols.To) || slices.Contains(r.header, fallbackRecipientColumn)
}

// Next returns the next row, or io.EOF when the input is exhausted. Records
// shorter than the header leave the trailing columns absent; extra fields
// are ignored.
func (r *Reader) Next() (*Row, error) {
	record, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read csv record %d: %w", r.count+1, err)
	}
	r.count++

	row := &Row{
		Number: r.count,
		Fields: make(map[string]string, len(r.header)),
		cols:   r.cols,
	}
	for i, name := range r.header {
		if i >= len(record) {
			break
		}
		row.Fields[name] = record[i]
	}

	return row, nil
}

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// SplitList splits a comma-separated cell, trimming entries and dropping
// blanks.
func SplitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
