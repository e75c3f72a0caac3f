// Package settings persists client connection preferences as a YAML file.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
)

// Settings holds everything the client needs to dial a server.
type Settings struct {
	ServerURL   string `yaml:"server_url"`
	DeviceID    string `yaml:"device_id"`
	DeviceName  string `yaml:"device_name"`
	Token       string `yaml:"token"`
	AutoConnect bool   `yaml:"auto_connect"`
}

// Default returns the settings used before anything is saved.
func Default() Settings {
	return Settings{
		ServerURL: "ws://localhost:8000/ws/voice/chat",
	}
}

// DefaultPath returns the per-user settings file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "voicechat", "config.yaml"), nil
}

// Load reads settings from path. A missing file is not an error; defaults
// are returned.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Default(), fmt.Errorf("failed to read settings: %w", err)
	}
	s := Default()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Default(), fmt.Errorf("failed to parse settings: %w", err)
	}
	return s, nil
}

// Save writes settings to path, creating parent directories as needed.
func Save(path string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}
