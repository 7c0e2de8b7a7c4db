package ops

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
)

// Table is an in-memory tabular artifact: a header row plus data rows.
type Table struct {
	Header []string
	Rows   [][]string
}

// ParseTable decodes CSV bytes into a Table. The first record is the header.
func ParseTable(data []byte) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty table: no header row")
	}
	return &Table{Header: records[0], Rows: records[1:]}, nil
}

// Encode serializes the table back to CSV bytes.
func (t *Table) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Header); err != nil {
		return nil, fmt.Errorf("failed to encode csv: %w", err)
	}
	for _, row := range t.Rows {
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to encode csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to encode csv: %w", err)
	}
	return buf.Bytes(), nil
}

// ColumnIndex returns the index of a column by case-insensitive name.
func (t *Table) ColumnIndex(name string) (int, error) {
	for i, h := range t.Header {
		if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(name)) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("column %q not found", name)
}

// cell returns row[i] or "" when the row is ragged.
func cell(row []string, i int) string {
	if i >= 0 && i < len(row) {
		return row[i]
	}
	return ""
}
