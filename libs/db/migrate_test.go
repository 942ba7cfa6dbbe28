package db

import (
	"testing"
	"testing/fstest"
)

func TestLoadMigrationsOrdersByVersion(t *testing.T) {
	files := fstest.MapFS{
		"0002_indexes.sql": {Data: []byte("CREATE INDEX x ON t (a);")},
		"0001_init.sql":    {Data: []byte("CREATE TABLE t (a int);")},
		"README.md":        {Data: []byte("docs")},
		"seed_data.sql":    {Data: []byte("INSERT INTO t VALUES (1);")},
	}
	migrations, err := LoadMigrations(files)
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[1].Version != 2 {
		t.Fatalf("unexpected order %+v", migrations)
	}
	if migrations[0].SQL != "CREATE TABLE t (a int);" {
		t.Fatalf("unexpected sql %q", migrations[0].SQL)
	}
}

func TestLoadMigrationsRejectsDuplicateVersions(t *testing.T) {
	files := fstest.MapFS{
		"0001_init.sql": {Data: []byte("SELECT 1;")},
		"001_again.sql": {Data: []byte("SELECT 2;")},
	}
	if _, err := LoadMigrations(files); err == nil {
		t.Fatalf("expected duplicate version error")
	}
}
