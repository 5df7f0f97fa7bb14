package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultModelFile names the controller config used when no model is loaded.
const defaultModelFile = "default"

// Store persists per-model [ControllerConfig] files under a directory.
// File names derive from the model name; the zero model maps to default.yaml.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir (typically <data_dir>/configs).
// The directory is created on first save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the file backing the given model's config.
func (s *Store) Path(model string) string {
	return filepath.Join(s.dir, sanitizeModelName(model)+".yaml")
}

// Load reads the controller config for model. A missing file returns
// [DefaultControllerConfig]; the caller is expected to [Store.Save] it back
// so the file materialises with every known key.
func (s *Store) Load(model string) (*ControllerConfig, error) {
	path := s.Path(model)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("no controller config for model, using defaults",
				"model", model, "path", path)
			return DefaultControllerConfig(), nil
		}
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := DecodeController(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// Save writes the controller config for model, creating the directory as
// needed. Marshaling follows struct field order, so load-then-save of an
// untouched file is byte-identical.
func (s *Store) Save(model string, cfg *ControllerConfig) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("config: mkdir %q: %w", s.dir, err)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("config: marshal controller config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("config: marshal controller config: %w", err)
	}
	path := s.Path(model)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("config: write %q: %w", path, err)
	}
	return nil
}

// DecodeController parses a controller config from r with strict field
// checking. An empty document yields the defaults.
func DecodeController(r io.Reader) (*ControllerConfig, error) {
	cfg := &ControllerConfig{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return DefaultControllerConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// sanitizeModelName maps a model name onto a safe file stem. Path separators
// and dots collapse to underscores; an empty name selects the default file.
func sanitizeModelName(model string) string {
	if model == "" {
		return defaultModelFile
	}
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")
	return r.Replace(model)
}
