// Package config handles capgate.toml project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/jward/capgate/internal/ref"
)

// FileName is the name of the configuration file.
const FileName = "capgate.toml"

// Config represents a capgate.toml file.
type Config struct {
	Units    Units    `toml:"units"`
	Analysis Analysis `toml:"analysis"`
	Hooks    Hooks    `toml:"hooks"`
	Store    Store    `toml:"store"`
	Log      Log      `toml:"log"`

	// Dir is the directory containing the capgate.toml file (set at load time).
	Dir string `toml:"-"`
}

// Units configures where compiled units and unit sources are found.
type Units struct {
	Dirs []string `toml:"dirs"`
}

// Analysis configures which units are walked.
type Analysis struct {
	// Exclude lists owner prefixes that are never analyzed or rewritten.
	Exclude []string `toml:"exclude"`
	// Capability names the marker unit capabilities inherit from.
	Capability string `toml:"capability"`
}

// Hooks configures scripted hooks.
type Hooks struct {
	Scripts []string `toml:"scripts"`
}

// Store configures the optional results database.
type Store struct {
	Path string `toml:"path"`
}

// Log configures logging.
type Log struct {
	Verbosity int `toml:"verbosity"`
}

// Default returns the configuration used when no capgate.toml exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if len(c.Units.Dirs) == 0 {
		c.Units.Dirs = []string{"units"}
	}
	if c.Analysis.Capability == "" {
		c.Analysis.Capability = ref.CapabilityOwner
	}
}

// Load parses a capgate.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %s: %w", path, err)
	}
	return Parse(data, dir)
}

// Parse decodes configuration data. Relative paths resolve against dir.
func Parse(data []byte, dir string) (*Config, error) {
	var c Config
	if _, err := toml.Decode(string(data), &c); err != nil {
		return nil, fmt.Errorf("config: parse error in %s: %w", FileName, err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("config: cannot resolve path %s: %w", dir, err)
	}
	c.Dir = abs
	c.applyDefaults()
	return &c, nil
}

// FindAndLoad walks up from startDir to find a capgate.toml file, then loads
// it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// UnitDirs returns absolute paths for the configured unit directories.
func (c *Config) UnitDirs() []string {
	return c.resolve(c.Units.Dirs)
}

// ScriptPaths returns absolute paths for the configured hook scripts.
func (c *Config) ScriptPaths() []string {
	return c.resolve(c.Hooks.Scripts)
}

// StorePath returns the absolute database path, or "" when no store is
// configured.
func (c *Config) StorePath() string {
	if c.Store.Path == "" {
		return ""
	}
	return c.resolve([]string{c.Store.Path})[0]
}

func (c *Config) resolve(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if filepath.IsAbs(p) || c.Dir == "" {
			out = append(out, p)
			continue
		}
		out = append(out, filepath.Join(c.Dir, p))
	}
	return out
}
