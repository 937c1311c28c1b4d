package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, ".env.local")
	if err := os.WriteFile(local, []byte("FUNDRAISER_TEST_DOTENV=from-local\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FUNDRAISER_TEST_DOTENV", "")
	os.Unsetenv("FUNDRAISER_TEST_DOTENV")

	// A missing file is skipped and the next one still loads.
	if err := loadDotenv(filepath.Join(dir, ".env"), local); err != nil {
		t.Fatalf("loadDotenv() error = %v", err)
	}
	if got := os.Getenv("FUNDRAISER_TEST_DOTENV"); got != "from-local" {
		t.Errorf("FUNDRAISER_TEST_DOTENV = %q, want %q", got, "from-local")
	}
}

func TestLoadDotenvReportsParseErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, ".env")
	if err := os.WriteFile(bad, []byte("FUNDRAISER_BROKEN='unterminated\n"), 0600); err != nil {
		t.Fatal(err)
	}

	err := loadDotenv(bad, filepath.Join(dir, ".env.local"))
	if err == nil {
		t.Fatal("expected an error for a malformed file")
	}
	if !strings.Contains(err.Error(), bad) {
		t.Errorf("error %q does not name %s", err, bad)
	}
}
