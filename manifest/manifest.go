// Package manifest handles membrane.toml runtime configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/chazu/membrane/compartment"
)

// FileName is the name of the manifest file.
const FileName = "membrane.toml"

// Manifest represents a membrane.toml configuration.
type Manifest struct {
	Runtime      RuntimeConfig       `toml:"runtime"`
	Server       ServerConfig        `toml:"server"`
	Compartments []CompartmentConfig `toml:"compartment"`

	// Dir is the directory containing the membrane.toml file (set at load time).
	Dir string `toml:"-"`
}

// RuntimeConfig configures the shared heap and the membrane.
type RuntimeConfig struct {
	Strings         string `toml:"strings"`
	BigInts         string `toml:"bigints"`
	MaxThings       int    `toml:"max-things"`
	MaxCacheEntries int    `toml:"max-cache-entries"`
	SweepInterval   string `toml:"sweep-interval"`
}

// ServerConfig configures the inspection server.
type ServerConfig struct {
	Port int `toml:"port"`

	// AuditDB is the SQLite file recording nukes and sweeps. Relative paths
	// resolve against the manifest directory; empty disables the audit log.
	AuditDB string `toml:"audit-db"`
}

// AuditPath returns the resolved audit database path, or "" when disabled.
func (m *Manifest) AuditPath() string {
	if m.Server.AuditDB == "" || filepath.IsAbs(m.Server.AuditDB) || m.Dir == "" {
		return m.Server.AuditDB
	}
	return filepath.Join(m.Dir, m.Server.AuditDB)
}

// CompartmentConfig declares one compartment.
type CompartmentConfig struct {
	Name   string   `toml:"name"`
	Key    string   `toml:"key"`
	System bool     `toml:"system"`
	Policy string   `toml:"policy"`
	Allow  []string `toml:"allow"`
	Deny   []string `toml:"deny"`
}

// DefaultPort is the inspection server port used when none is configured.
const DefaultPort = 4810

// Load parses a membrane.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes and validates manifest contents.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.Runtime.Strings == "" {
		m.Runtime.Strings = "copy"
	}
	if m.Runtime.BigInts == "" {
		m.Runtime.BigInts = "copy"
	}
	if m.Server.Port == 0 {
		m.Server.Port = DefaultPort
	}
	for i := range m.Compartments {
		if m.Compartments[i].Policy == "" {
			m.Compartments[i].Policy = "permissive"
		}
	}
}

// Validate checks the manifest for unknown policies, bad keys and
// duplicate compartments.
func (m *Manifest) Validate() error {
	if _, err := compartment.ParseSharingPolicy(m.Runtime.Strings); err != nil {
		return fmt.Errorf("runtime.strings: %w", err)
	}
	if _, err := compartment.ParseSharingPolicy(m.Runtime.BigInts); err != nil {
		return fmt.Errorf("runtime.bigints: %w", err)
	}
	if m.Runtime.MaxThings < 0 || m.Runtime.MaxCacheEntries < 0 {
		return fmt.Errorf("runtime limits must not be negative")
	}
	if _, err := m.SweepInterval(); err != nil {
		return err
	}

	names := make(map[string]bool)
	keys := make(map[string]bool)
	for i, c := range m.Compartments {
		if c.Name == "" {
			return fmt.Errorf("compartment %d: missing name", i)
		}
		if names[c.Name] {
			return fmt.Errorf("compartment %q declared twice", c.Name)
		}
		names[c.Name] = true
		if _, ok := compartment.PolicyByName(c.Policy, c.Allow, c.Deny); !ok {
			return fmt.Errorf("compartment %q: unknown policy %q", c.Name, c.Policy)
		}
		if c.Key != "" {
			if _, err := uuid.Parse(c.Key); err != nil {
				return fmt.Errorf("compartment %q: bad key: %w", c.Name, err)
			}
			if keys[c.Key] {
				return fmt.Errorf("compartment %q: key %s already used", c.Name, c.Key)
			}
			keys[c.Key] = true
		}
	}
	return nil
}

// SweepInterval returns the configured sweep interval, or the default.
func (m *Manifest) SweepInterval() (time.Duration, error) {
	if m.Runtime.SweepInterval == "" {
		return compartment.DefaultSweepInterval, nil
	}
	d, err := time.ParseDuration(m.Runtime.SweepInterval)
	if err != nil {
		return 0, fmt.Errorf("runtime.sweep-interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("runtime.sweep-interval must be positive")
	}
	return d, nil
}

// FindAndLoad walks up from startDir to find a membrane.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}
