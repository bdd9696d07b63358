package migrations

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrationsSortsAndPairsUpDown(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000002_mirror_indexes.up.sql":   {Data: []byte("CREATE INDEX idx ON mirror_datasets (loaded_at);")},
		"sql/000002_mirror_indexes.down.sql": {Data: []byte("DROP INDEX idx;")},
		"sql/000001_mirror_catalog.up.sql":   {Data: []byte("CREATE TABLE mirror_datasets (table_name TEXT);")},
		"sql/000001_mirror_catalog.down.sql": {Data: []byte("DROP TABLE mirror_datasets;")},
	}

	items, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d", len(items))
	}
	if items[0].Version != 1 || items[1].Version != 2 {
		t.Fatalf("unexpected migration order: %+v", items)
	}
	if !strings.Contains(items[0].UpSQL, "CREATE TABLE mirror_datasets") {
		t.Fatalf("unexpected up SQL for first migration: %q", items[0].UpSQL)
	}
	if !strings.Contains(items[0].DownSQL, "DROP TABLE mirror_datasets") {
		t.Fatalf("unexpected down SQL for first migration: %q", items[0].DownSQL)
	}
}

func TestLoadMigrationsErrorsWhenDownMissing(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_mirror_catalog.up.sql": {Data: []byte("CREATE TABLE mirror_datasets (table_name TEXT);")},
	}
	_, err := loadMigrations(fsys)
	if err == nil {
		t.Fatal("expected error for missing down migration")
	}
	if !strings.Contains(err.Error(), "missing down SQL") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadMigrationsIgnoresUnrelatedFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_mirror_catalog.up.sql":   {Data: []byte("CREATE TABLE mirror_datasets (table_name TEXT);")},
		"sql/000001_mirror_catalog.down.sql": {Data: []byte("DROP TABLE mirror_datasets;")},
		"sql/README.md":                      {Data: []byte("not a migration")},
		"sql/notes.sql":                      {Data: []byte("SELECT 1;")},
	}

	items, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("len(items) = %d", len(items))
	}
}
