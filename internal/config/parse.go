package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

func parseServerConfig(data []byte) (*ServerConfig, error) {
	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing server config: %w", err)
	}
	return &cfg, nil
}

// ApplyFlagOverrides layers CLI-flag values over a loaded ServerConfig,
// skipping any field left at its zero value, so an operator can run
// with a YAML file, flags only, or a mix of both.
func (c *ServerConfig) ApplyFlagOverrides(address string, port uint16, path string) {
	if address != "" {
		c.Listen.Address = address
	}
	if port != 0 {
		c.Listen.Port = port
	}
	if path != "" {
		c.Storage.Path = path
	}
}
