package tabular

import (
	"bytes"
	"testing"

	"github.com/parquet-go/parquet-go"
)

type churnRow struct {
	CustomerID     string  `parquet:"Customer ID"`
	Tenure         int64   `parquet:"tenure"`
	MonthlyCharges float64 `parquet:"Monthly Charges"`
	Churn          string  `parquet:"churn"`
}

func buildParquet(t *testing.T, rows []churnRow) []byte {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[churnRow](buf)
	if _, err := writer.Write(rows); err != nil {
		t.Fatalf("write parquet rows error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close parquet writer error = %v", err)
	}
	return buf.Bytes()
}

func TestDecodeParquet(t *testing.T) {
	raw := buildParquet(t, []churnRow{
		{CustomerID: "0001", Tenure: 12, MonthlyCharges: 29.85, Churn: "No"},
		{CustomerID: "0002", Tenure: 3, MonthlyCharges: 56.95, Churn: "Yes"},
	})

	table, err := DecodeParquet(raw)
	if err != nil {
		t.Fatalf("DecodeParquet error = %v", err)
	}
	if len(table.Columns) != 4 {
		t.Fatalf("Columns = %v, want 4 columns", table.Columns)
	}
	if table.Columns[0] != "customer_id" || table.Columns[2] != "monthly_charges" {
		t.Fatalf("Columns = %v, want normalized names", table.Columns)
	}
	if table.RowCount() != 2 {
		t.Fatalf("RowCount = %d, want 2", table.RowCount())
	}
	if table.Records[0][1] != "12" {
		t.Fatalf("Records[0][1] = %q, want 12", table.Records[0][1])
	}
	if table.Records[1][2] != "56.95" {
		t.Fatalf("Records[1][2] = %q, want 56.95", table.Records[1][2])
	}
}

func TestDecodeParquetRejectsGarbage(t *testing.T) {
	if _, err := DecodeParquet([]byte("not a parquet file")); err == nil {
		t.Fatal("expected error for invalid parquet input")
	}
}
