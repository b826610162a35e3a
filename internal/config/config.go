// Package config loads optional YAML connection-flag presets, for
// callers that would rather keep a connection profile in a file than
// set ARCAN_CONNPATH/ARCAN_CONNFL/ARCAN_ALTCONN by hand — the same
// "YAML file as an alternative to environment/flags" shape the teacher's
// internal/egg session config uses, adapted from a session-ID store to
// a set of named connection presets.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/letoram/arcan-sub007/internal/connect"
)

// ErrNoSuchPreset is returned by File.Resolve for an unknown preset name.
var ErrNoSuchPreset = errors.New("no such preset")

// Preset is one named connection profile: everything connect.Resolve
// would otherwise read from the environment.
type Preset struct {
	ConnPath  string `yaml:"conn_path"`
	ConnFlags string `yaml:"conn_flags,omitempty"`
	AltConn   string `yaml:"alt_conn,omitempty"`
	Arg       string `yaml:"arg,omitempty"`
}

// ToEnv converts a Preset into the same Env shape connect.Resolve reads
// from the process environment, so a caller can resolve a file-backed
// preset through the identical code path as the env-var form.
func (p Preset) ToEnv() connect.Env {
	return connect.Env{
		ConnPath:  p.ConnPath,
		ConnFlags: p.ConnFlags,
		AltConn:   p.AltConn,
		Arg:       p.Arg,
	}
}

// File is the on-disk shape of a presets file: a set of named profiles,
// with an optional default.
type File struct {
	Default  string            `yaml:"default,omitempty"`
	Presets  map[string]Preset `yaml:"presets"`
}

// Load reads a presets YAML file. A missing file is not an error; it
// yields an empty File so callers fall through to environment-variable
// resolution.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{Presets: map[string]Preset{}}, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	f := &File{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if f.Presets == nil {
		f.Presets = map[string]Preset{}
	}
	return f, nil
}

// Save writes the presets file, creating its parent directory if needed.
func Save(path string, f *File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultPath is the conventional presets file location, $XDG_CONFIG_HOME
// (or ~/.config) /arcan-sub007/presets.yaml, used by callers that don't
// pass an explicit --preset-file.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "presets.yaml"
	}
	return filepath.Join(dir, "arcan-sub007", "presets.yaml")
}

// Resolve looks up name (or File.Default if name is empty) and returns
// its connect.Env form. ErrNoSuchPreset is returned if neither is found.
func (f *File) Resolve(name string) (connect.Env, error) {
	if name == "" {
		name = f.Default
	}
	if name == "" {
		return connect.Env{}, fmt.Errorf("config: %w (no name given and no default set)", ErrNoSuchPreset)
	}
	p, ok := f.Presets[name]
	if !ok {
		return connect.Env{}, fmt.Errorf("config: preset %q: %w", name, ErrNoSuchPreset)
	}
	return p.ToEnv(), nil
}
