// Package config loads the YAML-backed configuration for the DTL
// server and client bridges, modeled on the load-then-validate idiom
// of nishisan-dev-n-backup's internal/config package: a plain struct
// tagged for gopkg.in/yaml.v3, populated with defaults by validate(),
// with CLI flags layered on top as overrides.
package config

import (
	"fmt"
	"os"
)

// ServerConfig is the on-disk configuration for cmd/dtlserver.
type ServerConfig struct {
	Listen  ListenConfig  `yaml:"listen"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

// ListenConfig controls the accept loop's bind address.
type ListenConfig struct {
	Address string `yaml:"address"` // empty binds all interfaces
	Port    uint16 `yaml:"port"`    // default 23096
}

// StorageConfig selects the backend variant and its segment sizing.
type StorageConfig struct {
	Path                string `yaml:"path"`                  // empty selects the memory backend
	InitialIndexEntries uint64 `yaml:"initial_index_entries"` // gommap index preallocation per segment
}

// LoggingConfig holds a log destination setting. It is parsed from the
// YAML file; no code in this module applies it to dtllog.
type LoggingConfig struct {
	File string `yaml:"file"` // empty logs to stderr
}

const (
	defaultPort                = 23096
	defaultInitialIndexEntries = 4096
)

// LoadServerConfig reads and validates path, applying defaults for any
// field the YAML left unset.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading server config: %w", err)
	}

	cfg, err := parseServerConfig(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validating server config: %w", err)
	}
	return cfg, nil
}

func (c *ServerConfig) validate() error {
	if c.Listen.Port == 0 {
		c.Listen.Port = defaultPort
	}
	if c.Storage.InitialIndexEntries == 0 {
		c.Storage.InitialIndexEntries = defaultInitialIndexEntries
	}
	return nil
}
