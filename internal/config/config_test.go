package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.UserID = "u-42"
	cfg.Feed.DSN = "postgres://localhost/crm"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.UserID != "u-42" {
		t.Errorf("UserID = %q, want %q", loaded.UserID, "u-42")
	}
	if loaded.Feed.DSN != "postgres://localhost/crm" {
		t.Errorf("Feed.DSN = %q, want %q", loaded.Feed.DSN, "postgres://localhost/crm")
	}
	if loaded.DebounceMs != 500 {
		t.Errorf("DebounceMs = %d, want default 500", loaded.DebounceMs)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadRejectsUnknownFeedKind(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(path, []byte("[feed]\nkind = \"carrier-pigeon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for unknown feed kind")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
