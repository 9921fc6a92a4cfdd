package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadServerConfigAppliesDefaults(t *testing.T) {
	path := writeTemp(t, "listen:\n  address: 0.0.0.0\n")

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0", cfg.Listen.Address)
	require.Equal(t, uint16(23096), cfg.Listen.Port)
	require.Equal(t, uint64(4096), cfg.Storage.InitialIndexEntries)
}

func TestLoadServerConfigHonorsExplicitValues(t *testing.T) {
	path := writeTemp(t, "listen:\n  port: 9999\nstorage:\n  path: /var/dtl\n  initial_index_entries: 8192\n")

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	require.Equal(t, uint16(9999), cfg.Listen.Port)
	require.Equal(t, "/var/dtl", cfg.Storage.Path)
	require.Equal(t, uint64(8192), cfg.Storage.InitialIndexEntries)
}

func TestLoadServerConfigMissingFile(t *testing.T) {
	_, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestApplyFlagOverridesSkipsZeroValues(t *testing.T) {
	cfg := &ServerConfig{}
	cfg.Listen.Address = "127.0.0.1"
	cfg.Listen.Port = 1234

	cfg.ApplyFlagOverrides("", 0, "/data")
	require.Equal(t, "127.0.0.1", cfg.Listen.Address)
	require.Equal(t, uint16(1234), cfg.Listen.Port)
	require.Equal(t, "/data", cfg.Storage.Path)

	cfg.ApplyFlagOverrides("0.0.0.0", 9000, "")
	require.Equal(t, "0.0.0.0", cfg.Listen.Address)
	require.Equal(t, uint16(9000), cfg.Listen.Port)
	require.Equal(t, "/data", cfg.Storage.Path)
}

func TestLoadBridgeConfigAppliesDefaults(t *testing.T) {
	path := writeTemp(t, "server_address: 127.0.0.1\nnamespace_id: vol1\n")

	cfg, err := LoadBridgeConfig(path)
	require.NoError(t, err)
	require.Equal(t, uint16(23096), cfg.ServerPort)
	require.Equal(t, uint32(512), cfg.LBASize)
	require.Equal(t, uint32(8), cfg.ClusterMultiplier)
	require.Equal(t, uint32(10), cfg.RequestTimeout)
	require.Equal(t, 4096, cfg.MaxEntries)
	require.Equal(t, 32, cfg.WriteTrigger)
}

func TestLoadBridgeConfigRequiresServerAddressAndNamespace(t *testing.T) {
	path := writeTemp(t, "namespace_id: vol1\n")
	_, err := LoadBridgeConfig(path)
	require.Error(t, err)

	path = writeTemp(t, "server_address: 127.0.0.1\n")
	_, err = LoadBridgeConfig(path)
	require.Error(t, err)
}

func TestLoadBridgeConfigRejectsUnknownMode(t *testing.T) {
	path := writeTemp(t, "server_address: 127.0.0.1\nnamespace_id: vol1\nmode: bogus\n")
	_, err := LoadBridgeConfig(path)
	require.Error(t, err)
}
