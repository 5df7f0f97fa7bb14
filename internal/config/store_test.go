package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStore_LoadMissingReturnsDefaults(t *testing.T) {
	t.Parallel()

	s := NewStore(t.TempDir())
	cfg, err := s.Load("Hiyori")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *cfg != *DefaultControllerConfig() {
		t.Error("missing file did not yield defaults")
	}
}

func TestStore_SaveLoadRoundTripIsByteStable(t *testing.T) {
	t.Parallel()

	s := NewStore(t.TempDir())
	if err := s.Save("Hiyori", DefaultControllerConfig()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	first, err := os.ReadFile(s.Path("Hiyori"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	cfg, err := s.Load("Hiyori")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.Save("Hiyori", cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	second, err := os.ReadFile(s.Path("Hiyori"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(first) != string(second) {
		t.Error("load-then-save produced different bytes")
	}
}

func TestStore_PersistsEdits(t *testing.T) {
	t.Parallel()

	s := NewStore(t.TempDir())
	cfg := DefaultControllerConfig()
	cfg.Blink.MaxInterval = 9.5
	cfg.Breathing.Enabled = false
	if err := s.Save("Hiyori", cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load("Hiyori")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Blink.MaxInterval != 9.5 || got.Breathing.Enabled {
		t.Errorf("edits lost: %+v", got)
	}
}

func TestStore_EmptyModelUsesDefaultFile(t *testing.T) {
	t.Parallel()

	s := NewStore(t.TempDir())
	if got := filepath.Base(s.Path("")); got != "default.yaml" {
		t.Errorf("Path(\"\") = %q, want default.yaml", got)
	}
}

func TestStore_ModelNameSanitised(t *testing.T) {
	t.Parallel()

	s := NewStore(t.TempDir())
	path := s.Path("../../etc/passwd")
	if filepath.Dir(path) != filepath.Clean(filepath.Dir(s.Path("x"))) {
		t.Errorf("sanitised path escaped store dir: %q", path)
	}
}
