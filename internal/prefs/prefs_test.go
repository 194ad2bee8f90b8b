package prefs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.toml")
	s := NewStore(path, nil, nil)

	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if !s.SoundEnabled() || !s.NotificationsEnabled() {
		t.Error("defaults should be enabled")
	}
	// Load writes the defaults so other sessions can watch the file.
	if _, err := os.Stat(path); err != nil {
		t.Errorf("prefs file not created: %v", err)
	}
}

func TestSetPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.toml")
	s := NewStore(path, nil, nil)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}

	if err := s.SetSoundEnabled(false); err != nil {
		t.Fatal(err)
	}

	// A second store over the same file sees the persisted value.
	s2 := NewStore(path, nil, nil)
	if err := s2.Load(); err != nil {
		t.Fatal(err)
	}
	if s2.SoundEnabled() {
		t.Error("sound=false not persisted")
	}
	if !s2.NotificationsEnabled() {
		t.Error("notifications preference clobbered")
	}
}

func TestWatchObservesExternalWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prefs.toml")
	s := NewStore(path, nil, nil)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if err := s.Watch(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	// Another session rewrites the file (last-write-wins).
	other := NewStore(path, nil, nil)
	if err := other.Load(); err != nil {
		t.Fatal(err)
	}
	if err := other.SetSoundEnabled(false); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for s.SoundEnabled() {
		if time.Now().After(deadline) {
			t.Fatal("watcher did not observe external write")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
