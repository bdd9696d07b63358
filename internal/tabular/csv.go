package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeCSV parses raw CSV bytes into a Table. The first record is the
// header; it is normalized and deduplicated. Ragged rows are a parse
// error, not silently skipped, so callers can reject bad uploads.
func DecodeCSV(raw []byte) (*Table, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(raw, utf8BOM)))

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv input is empty")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("csv input has no columns")
	}

	columns := NormalizeColumns(header)

	var records [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", len(records)+2, err)
		}
		records = append(records, record)
	}

	return &Table{Columns: columns, Records: records}, nil
}

// EncodeCSV renders a Table back to CSV bytes with the normalized header.
// The registry stages this form into the query engine so the engine only
// ever sees canonical column names.
func EncodeCSV(t *Table) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(t.Columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for i, record := range t.Records {
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row %d: %w", i+1, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
