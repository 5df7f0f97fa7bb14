package chat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Credentials is the persisted chat service login.
type Credentials struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the credentials exist and are not about to expire.
// A safety margin keeps a session from dying mid-stream.
func (c Credentials) Valid() bool {
	return c.Token != "" && time.Until(c.ExpiresAt) > 10*time.Minute
}

// CredentialStore persists credentials as JSON at a fixed path.
type CredentialStore struct {
	path string
}

// NewCredentialStore creates a store over the given file path.
func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

// Load reads the stored credentials. A missing file returns zero
// credentials without error.
func (s *CredentialStore) Load() (Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, nil
		}
		return Credentials{}, fmt.Errorf("chat: read credentials: %w", err)
	}
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return Credentials{}, fmt.Errorf("chat: parse credentials: %w", err)
	}
	return c, nil
}

// Save writes the credentials, creating parent directories as needed.
func (s *CredentialStore) Save(c Credentials) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("chat: create credentials dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("chat: marshal credentials: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("chat: write credentials: %w", err)
	}
	return nil
}
