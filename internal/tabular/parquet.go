package tabular

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/parquet-go/parquet-go"
)

// DecodeParquet parses raw Parquet bytes into a Table. Only flat schemas
// are supported; values are rendered to their string forms so the result
// feeds the same staging path as CSV uploads. Nulls become empty cells.
func DecodeParquet(raw []byte) (*Table, error) {
	file, err := parquet.OpenFile(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	fields := file.Schema().Fields()
	if len(fields) == 0 {
		return nil, fmt.Errorf("parquet input has no columns")
	}
	names := make([]string, len(fields))
	for i, field := range fields {
		if !field.Leaf() {
			return nil, fmt.Errorf("parquet column %q is nested, only flat schemas are supported", field.Name())
		}
		names[i] = field.Name()
	}
	columns := NormalizeColumns(names)

	var records [][]string
	for _, rowGroup := range file.RowGroups() {
		rows := rowGroup.Rows()
		buf := make([]parquet.Row, 64)
		for {
			n, err := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				if len(row) != len(columns) {
					_ = rows.Close()
					return nil, fmt.Errorf("parquet row has %d values, want %d", len(row), len(columns))
				}
				record := make([]string, len(row))
				for i, value := range row {
					record[i] = formatParquetValue(value)
				}
				records = append(records, record)
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				_ = rows.Close()
				return nil, fmt.Errorf("read parquet rows: %w", err)
			}
			if n == 0 {
				break
			}
		}
		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("close parquet rows: %w", err)
		}
	}

	return &Table{Columns: columns, Records: records}, nil
}

func formatParquetValue(value parquet.Value) string {
	if value.IsNull() {
		return ""
	}
	switch value.Kind() {
	case parquet.Boolean:
		return strconv.FormatBool(value.Boolean())
	case parquet.Int32:
		return strconv.FormatInt(int64(value.Int32()), 10)
	case parquet.Int64:
		return strconv.FormatInt(value.Int64(), 10)
	case parquet.Float:
		return strconv.FormatFloat(float64(value.Float()), 'f', -1, 32)
	case parquet.Double:
		return strconv.FormatFloat(value.Double(), 'f', -1, 64)
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(value.ByteArray())
	default:
		return value.String()
	}
}
