package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestDiscover_SortsAndChecksums(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"002_indexes.sql": "CREATE INDEX x ON y (z);",
		"001_ledger.sql":  "CREATE TABLE y (z INT);",
		"README.md":       "ignored",
	})
	got, err := discover(dir)
	if err != nil {
		t.Fatalf("discover failed: %v", err)
	}
	if len(got) != 2 || got[0].Version != "001" || got[1].Version != "002" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if len(got[0].Checksum) != 64 || got[0].Checksum == got[1].Checksum {
		t.Errorf("unexpected checksums %q %q", got[0].Checksum, got[1].Checksum)
	}
}

func TestDiscover_RejectsBadNames(t *testing.T) {
	if _, err := discover(writeFiles(t, map[string]string{"ledger.sql": ""})); err == nil {
		t.Errorf("expected error for name without version")
	}
	dup := writeFiles(t, map[string]string{"001_a.sql": "", "001_b.sql": ""})
	if _, err := discover(dup); err == nil {
		t.Errorf("expected error for duplicate version")
	}
}
