package db

import (
	"os"
	"path/filepath"
	"testing"
)

func writeMigrationFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test file %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadMigrations(t *testing.T) {
	dir := writeMigrationFiles(t, map[string]string{
		"001_orders.sql":  "CREATE TABLE orders (id UUID PRIMARY KEY);",
		"002_audit.sql":   "CREATE TABLE audit_events (id UUID PRIMARY KEY);",
		"003_catalog.sql": "CREATE TABLE catalog_tests (code TEXT PRIMARY KEY);",
	})

	migrations, err := NewMigrator(nil, dir, "").LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "001_orders.sql" {
		t.Errorf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[0].SQL != "CREATE TABLE orders (id UUID PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
	if migrations[2].Version != 3 {
		t.Errorf("expected version 3, got %d", migrations[2].Version)
	}
}

func TestLoadMigrations_SortOrder(t *testing.T) {
	dir := writeMigrationFiles(t, map[string]string{
		"010_tables.sql": "SELECT 10;",
		"002_second.sql": "SELECT 2;",
		"001_first.sql":  "SELECT 1;",
		"005_middle.sql": "SELECT 5;",
	})

	migrations, err := NewMigrator(nil, dir, "labflow").LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	want := []int{1, 2, 5, 10}
	if len(migrations) != len(want) {
		t.Fatalf("expected %d migrations, got %d", len(want), len(migrations))
	}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Errorf("position %d: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
}

func TestLoadMigrations_SkipsNonMigrations(t *testing.T) {
	dir := writeMigrationFiles(t, map[string]string{
		"001_orders.sql": "SELECT 1;",
		"README.md":      "docs",
		"seed.sql":       "SELECT 0;",
		"abc_bad.sql":    "SELECT 0;",
	})
	if err := os.Mkdir(filepath.Join(dir, "002_dir.sql"), 0755); err != nil {
		t.Fatal(err)
	}

	migrations, err := NewMigrator(nil, dir, "").LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(migrations))
	}
}

func TestLoadMigrations_MissingDir(t *testing.T) {
	_, err := NewMigrator(nil, filepath.Join(t.TempDir(), "nope"), "").LoadMigrations()
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestNewMigrator_DefaultSchema(t *testing.T) {
	m := NewMigrator(nil, "./migrations", "")
	if m.schema != "public" {
		t.Errorf("expected default schema public, got %s", m.schema)
	}
}

func TestSchemaPattern(t *testing.T) {
	tests := []struct {
		schema string
		want   bool
	}{
		{"public", true},
		{"labflow_site1", true},
		{"_private", true},
		{"Public", false},
		{"lab-flow", false},
		{"x; DROP TABLE orders", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := schemaPattern.MatchString(tt.schema); got != tt.want {
			t.Errorf("schemaPattern(%q) = %v, want %v", tt.schema, got, tt.want)
		}
	}
}
