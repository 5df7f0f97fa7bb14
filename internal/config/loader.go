package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. A missing file yields the defaults so a
// fresh checkout runs without any configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("config file not found, using defaults", "path", path)
			cfg := &Config{}
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg back to path as YAML. Called at shutdown and after
// authentication so the refreshed avatar token and any new keys land in the
// user's file. Field order follows the struct declarations, so re-saving an
// unchanged config is byte-stable.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %q: %w", path, err)
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Avatar.Endpoint == "" {
		errs = append(errs, errors.New("avatar.endpoint is required"))
	}
	if cfg.Audio.Volume < 0 || cfg.Audio.Volume > 1 {
		errs = append(errs, fmt.Errorf("audio.volume %.2f is out of range [0, 1]", cfg.Audio.Volume))
	}
	if cfg.Chat.Enabled && cfg.Chat.RoomID <= 0 {
		errs = append(errs, errors.New("chat.room_id is required when chat.enabled is true"))
	}

	if cfg.TTS.BaseURL == "" {
		slog.Warn("tts.base_url is empty; say actions with tts_text will fail until configured")
	}
	if cfg.Audio.SoundsDir == "" {
		slog.Warn("audio.sounds_dir is empty; sound_play actions will find no files")
	}
	if cfg.Templates.Dir == "" {
		slog.Warn("templates.dir is empty; no pre-formed animations will be available")
	}

	return errors.Join(errs...)
}
