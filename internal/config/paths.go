package config

import (
	"os"
	"path/filepath"
)

// UserConfigDir returns ~/.config/shmif (or $XDG_CONFIG_HOME/shmif). It
// is not the default presets location: callers without an explicit path
// use DefaultPath, which lives under arcan-sub007 instead.
func UserConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "shmif"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "shmif"), nil
}

// DefaultPresetsPath returns the presets.yaml path under UserConfigDir.
// It differs from DefaultPath, the path cmd/shmif-client falls back to.
func DefaultPresetsPath() (string, error) {
	dir, err := UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "presets.yaml"), nil
}

// EnsureUserConfigDir creates the user config directory if it does not
// already exist.
func EnsureUserConfigDir() error {
	dir, err := UserConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}
