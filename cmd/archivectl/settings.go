package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const defaultServer = "http://localhost:8787"

// settings is the persisted CLI state. Login writes it; every other command
// reads it.
type settings struct {
	Server     string `toml:"server"`
	Token      string `toml:"token,omitempty"`
	UserName   string `toml:"user_name,omitempty"`
	Kind       string `toml:"kind,omitempty"`
	ProfileID  string `toml:"profile_id,omitempty"`
	PolicyFile string `toml:"policy_file,omitempty"`
}

func defaultSettingsPath() string {
	if path := strings.TrimSpace(os.Getenv("ARCHIVECTL_CONFIG")); path != "" {
		return path
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "archivectl", "config.toml")
	}
	return filepath.Join(dir, "archivectl", "config.toml")
}

// loadSettings reads path. A missing file yields defaults.
func loadSettings(path string) (settings, error) {
	s := settings{Server: defaultServer}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return settings{}, fmt.Errorf("read settings: %w", err)
	}
	if err := toml.Unmarshal(data, &s); err != nil {
		return settings{}, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if strings.TrimSpace(s.Server) == "" {
		s.Server = defaultServer
	}
	return s, nil
}

func saveSettings(path string, s settings) error {
	data, err := toml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
