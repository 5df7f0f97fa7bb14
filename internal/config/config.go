// Package config provides the configuration schema, loader, and per-model
// controller tunables store for the Stagehand animation server.
package config

// LogLevel controls log verbosity for the Stagehand server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Stagehand.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Avatar    AvatarConfig    `yaml:"avatar"`
	TTS       TTSConfig       `yaml:"tts"`
	Audio     AudioConfig     `yaml:"audio"`
	Templates TemplatesConfig `yaml:"templates"`
	Chat      ChatConfig      `yaml:"chat"`

	// DataDir is the directory holding persisted state: per-model controller
	// configs under <data_dir>/configs/. Default: "data".
	DataDir string `yaml:"data_dir"`
}

// ServerConfig holds network and logging settings for the Stagehand server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8765").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// StaticDir is the directory served under /static/ for the subtitle
	// front-end. Empty disables the static file server.
	StaticDir string `yaml:"static_dir"`
}

// AvatarConfig holds the connection settings for the avatar host.
type AvatarConfig struct {
	// Endpoint is the avatar host's WebSocket API address
	// (e.g., "ws://127.0.0.1:8001").
	Endpoint string `yaml:"endpoint"`

	// PluginName and PluginDeveloper identify this server in the host's
	// plugin approval dialog.
	PluginName      string `yaml:"plugin_name"`
	PluginDeveloper string `yaml:"plugin_developer"`

	// Token is the cached authentication token. Written back after a
	// successful authentication so restarts skip the approval prompt.
	Token string `yaml:"token"`

	// RequestTimeoutSeconds bounds every avatar API request. Default: 30.
	RequestTimeoutSeconds float64 `yaml:"request_timeout_seconds"`

	// KeepAliveSeconds is the period of the parameter keep-alive refresh.
	// Default: 0.8.
	KeepAliveSeconds float64 `yaml:"keep_alive_seconds"`
}

// TTSConfig holds the speech synthesis backend settings.
type TTSConfig struct {
	// BaseURL is the TTS HTTP backend (e.g., "http://127.0.0.1:23456").
	BaseURL string `yaml:"base_url"`

	// Voice is the backend voice/model identifier used for synthesis.
	Voice string `yaml:"voice"`

	// Language is the synthesis language code (e.g., "zh", "ja", "en").
	Language string `yaml:"language"`
}

// AudioConfig holds playback settings for sound effects and synthesized speech.
type AudioConfig struct {
	// SoundsDir is the directory sound_play actions resolve names against.
	SoundsDir string `yaml:"sounds_dir"`

	// MaxChannels caps concurrent playback channels. Default: 30.
	MaxChannels int `yaml:"max_channels"`

	// Volume is the default playback volume in [0, 1]. Default: 1.
	Volume float64 `yaml:"volume"`
}

// TemplatesConfig holds the pre-formed animation template settings.
type TemplatesConfig struct {
	// Dir is the directory scanned for *.jsonc animation templates.
	Dir string `yaml:"dir"`
}

// ChatConfig holds the live-chat bridge settings.
type ChatConfig struct {
	// Enabled turns the live-chat bridge on.
	Enabled bool `yaml:"enabled"`

	// BaseURL is the chat service API root (e.g., "https://chat.example.com").
	BaseURL string `yaml:"base_url"`

	// RoomID is the live room to attach to.
	RoomID int64 `yaml:"room_id"`

	// CredentialsFile caches the chat login credentials obtained through the
	// QR flow. Default: "<data_dir>/chat_credentials.json".
	CredentialsFile string `yaml:"credentials_file"`

	// TriggerCount flushes the danmaku batch when this many messages are
	// buffered. Default: 5.
	TriggerCount int `yaml:"trigger_count"`

	// TriggerIntervalSeconds flushes a non-empty batch after this long
	// regardless of count. Default: 15.
	TriggerIntervalSeconds float64 `yaml:"trigger_interval_seconds"`
}

// ApplyDefaults fills unset fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8765"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Avatar.Endpoint == "" {
		c.Avatar.Endpoint = "ws://127.0.0.1:8001"
	}
	if c.Avatar.PluginName == "" {
		c.Avatar.PluginName = "Stagehand"
	}
	if c.Avatar.PluginDeveloper == "" {
		c.Avatar.PluginDeveloper = "stagehand-live"
	}
	if c.Avatar.RequestTimeoutSeconds <= 0 {
		c.Avatar.RequestTimeoutSeconds = 30
	}
	if c.Avatar.KeepAliveSeconds <= 0 {
		c.Avatar.KeepAliveSeconds = 0.8
	}
	if c.Audio.MaxChannels <= 0 {
		c.Audio.MaxChannels = 30
	}
	if c.Audio.Volume <= 0 {
		c.Audio.Volume = 1
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Chat.TriggerCount <= 0 {
		c.Chat.TriggerCount = 5
	}
	if c.Chat.TriggerIntervalSeconds <= 0 {
		c.Chat.TriggerIntervalSeconds = 15
	}
	if c.Chat.CredentialsFile == "" {
		c.Chat.CredentialsFile = c.DataDir + "/chat_credentials.json"
	}
}
