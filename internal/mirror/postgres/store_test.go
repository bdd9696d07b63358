package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/tabletalk/tabletalk/internal/mirror"
)

func TestReplaceTableLoadsBatchedRows(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)

	columns := []mirror.ColumnDef{
		{Name: "customer_id", Type: "TEXT"},
		{Name: "tenure", Type: "BIGINT"},
		{Name: "monthly_charges", Type: "DOUBLE PRECISION"},
	}
	records := [][]string{
		{"C001", "12", "29.85"},
		{"C002", "", "56.1"},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DROP TABLE IF EXISTS "churn"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE "churn" ("customer_id" TEXT, "tenure" BIGINT, "monthly_charges" DOUBLE PRECISION)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "churn" ("customer_id", "tenure", "monthly_charges") VALUES ($1, $2, $3), ($4, $5, $6)`)).
		WithArgs("C001", int64(12), 29.85, "C002", nil, 56.1).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	if err := store.ReplaceTable(context.Background(), "churn", columns, records); err != nil {
		t.Fatalf("ReplaceTable() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestReplaceTableRollsBackOnInsertFailure(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)

	columns := []mirror.ColumnDef{{Name: "customer_id", Type: "TEXT"}}
	records := [][]string{{"C001"}}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DROP TABLE IF EXISTS "churn"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE "churn" ("customer_id" TEXT)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "churn" ("customer_id") VALUES ($1)`)).
		WithArgs("C001").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.ReplaceTable(context.Background(), "churn", columns, records)
	if err == nil {
		t.Fatal("expected insert failure")
	}
	assertSQLMock(t, mock)
}

func TestUpsertCatalogEntry(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)
	loaded := time.Date(2026, time.April, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO mirror_datasets (table_name, filename, row_count, column_count, loaded_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (table_name)
DO UPDATE SET
    filename = EXCLUDED.filename,
    row_count = EXCLUDED.row_count,
    column_count = EXCLUDED.column_count,
    loaded_at = EXCLUDED.loaded_at`)).
		WithArgs("churn", "churn.csv", int64(2), 3, loaded).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertCatalogEntry(context.Background(), mirror.CatalogEntry{
		TableName:   "churn",
		Filename:    "churn.csv",
		RowCount:    2,
		ColumnCount: 3,
		LoadedAt:    loaded,
	})
	if err != nil {
		t.Fatalf("UpsertCatalogEntry() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestListTables(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT table_name,
       pg_size_pretty(pg_total_relation_size(quote_ident(table_name))) AS size
FROM information_schema.tables
WHERE table_schema = 'public' AND table_name <> 'mirror_datasets'
ORDER BY table_name ASC`)).
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "size"}).
			AddRow("churn", "64 kB").
			AddRow("orders", "8192 bytes"))

	tables, err := store.ListTables(context.Background())
	if err != nil {
		t.Fatalf("ListTables() error = %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("len(tables) = %d, want 2", len(tables))
	}
	if tables[0].Name != "churn" || tables[0].Size != "64 kB" {
		t.Fatalf("tables[0] = %+v", tables[0])
	}
	assertSQLMock(t, mock)
}

func TestTableSchema(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = 'public' AND table_name = $1
ORDER BY ordinal_position ASC`)).
		WithArgs("churn").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).
			AddRow("customer_id", "character varying").
			AddRow("tenure", "bigint"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "churn"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "churn" LIMIT 5`)).
		WillReturnRows(sqlmock.NewRows([]string{"customer_id", "tenure"}).
			AddRow([]byte("C001"), int64(12)))

	schema, err := store.TableSchema(context.Background(), "churn")
	if err != nil {
		t.Fatalf("TableSchema() error = %v", err)
	}
	if schema.RowCount != 2 || len(schema.Columns) != 2 {
		t.Fatalf("schema = %+v", schema)
	}
	if schema.Columns[0].Type != "character varying" {
		t.Fatalf("Columns[0].Type = %q", schema.Columns[0].Type)
	}
	if len(schema.Sample) != 1 || schema.Sample[0]["customer_id"] != "C001" {
		t.Fatalf("sample = %+v", schema.Sample)
	}
	assertSQLMock(t, mock)
}

func TestTableSchemaNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = 'public' AND table_name = $1
ORDER BY ordinal_position ASC`)).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}))

	_, err := store.TableSchema(context.Background(), "ghost")
	if !errors.Is(err, mirror.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	assertSQLMock(t, mock)
}

func TestExecuteQueryKeepsDriverError(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)
	queryErr := errors.New(`ERROR: column "tenur" does not exist (SQLSTATE 42703)`)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT tenur FROM churn`)).
		WillReturnError(queryErr)

	_, _, err := store.ExecuteQuery(context.Background(), "SELECT tenur FROM churn")
	if !errors.Is(err, queryErr) {
		t.Fatalf("error = %v, want the driver error unwrapped", err)
	}
	assertSQLMock(t, mock)
}

func TestExecuteQueryRejectsEmptySQL(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)

	if _, _, err := store.ExecuteQuery(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty sql")
	}
	assertSQLMock(t, mock)
}

func TestPing(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1`)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
