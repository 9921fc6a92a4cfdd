package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BridgeConfig is the on-disk configuration for a volume's client
// bridge (spec.md §4.7/§4.9).
type BridgeConfig struct {
	ServerAddress     string `yaml:"server_address"`
	ServerPort        uint16 `yaml:"server_port"`
	NamespaceID       string `yaml:"namespace_id"`
	LBASize           uint32 `yaml:"lba_size"`
	ClusterMultiplier uint32 `yaml:"cluster_multiplier"`
	RequestTimeout    uint32 `yaml:"request_timeout"` // seconds
	MaxEntries        int    `yaml:"max_entries"`
	WriteTrigger      int    `yaml:"write_trigger"`
	Mode              string `yaml:"mode"` // "async" (default) or "sync"
}

const (
	defaultLBASize           = 512
	defaultClusterMultiplier = 8
	defaultRequestTimeout    = 10
	defaultMaxEntries        = 4096
	defaultWriteTrigger      = 32
)

// LoadBridgeConfig reads and validates path.
func LoadBridgeConfig(path string) (*BridgeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading bridge config: %w", err)
	}
	var cfg BridgeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing bridge config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validating bridge config: %w", err)
	}
	return &cfg, nil
}

func (c *BridgeConfig) validate() error {
	if c.ServerAddress == "" {
		return fmt.Errorf("server_address is required")
	}
	if c.ServerPort == 0 {
		c.ServerPort = defaultPort
	}
	if c.NamespaceID == "" {
		return fmt.Errorf("namespace_id is required")
	}
	if c.LBASize == 0 {
		c.LBASize = defaultLBASize
	}
	if c.ClusterMultiplier == 0 {
		c.ClusterMultiplier = defaultClusterMultiplier
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = defaultMaxEntries
	}
	if c.WriteTrigger <= 0 {
		c.WriteTrigger = defaultWriteTrigger
	}
	if c.Mode != "" && c.Mode != "async" && c.Mode != "sync" {
		return fmt.Errorf("mode must be async or sync, got %q", c.Mode)
	}
	return nil
}
