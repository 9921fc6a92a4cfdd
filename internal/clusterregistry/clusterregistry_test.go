package clusterregistry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func node(id string) NodeConfig {
	return NodeConfig{
		NodeID:            id,
		Host:              "10.0.0.1",
		MessagePort:       26203,
		XMLRPCPort:        26204,
		FailoverCachePort: 23096,
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(node("node1")))

	cfg, state, err := r.Lookup("node1")
	require.NoError(t, err)
	require.Equal(t, Offline, state)
	require.Equal(t, uint16(23096), cfg.FailoverCachePort)

	host, port, err := r.FailoverCachePort("node1")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1", host)
	require.Equal(t, uint16(23096), port)
}

func TestRegisterRejectsDuplicateAndEmptyID(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(node("node1")))

	err := r.Register(node("node1"))
	require.ErrorIs(t, err, ErrDuplicate)

	err = r.Register(node(""))
	require.ErrorIs(t, err, ErrEmptyNodeID)
}

func TestLookupUnknownNode(t *testing.T) {
	r := New()
	_, _, err := r.Lookup("ghost")
	require.ErrorIs(t, err, ErrUnknownNode)
}

func TestSetStateTransitionsAndRejectsWrongFrom(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(node("node1")))

	require.NoError(t, r.SetState("node1", Offline, Online))
	_, state, err := r.Lookup("node1")
	require.NoError(t, err)
	require.Equal(t, Online, state)

	err = r.SetState("node1", Offline, Online)
	require.ErrorIs(t, err, ErrCASConflict)
}

func TestSetStateUnknownNode(t *testing.T) {
	r := New()
	err := r.SetState("ghost", Offline, Online)
	require.ErrorIs(t, err, ErrUnknownNode)
}

func TestSnapshotRoundTripRestoresOffline(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(node("node1")))
	require.NoError(t, r.Register(node("node2")))
	require.NoError(t, r.SetState("node1", Offline, Online))

	path := filepath.Join(t.TempDir(), "registry.snapshot")
	require.NoError(t, r.Snapshot(path))

	loaded, err := LoadSnapshot(path)
	require.NoError(t, err)
	require.Len(t, loaded.Nodes(), 2)

	for _, id := range []string{"node1", "node2"} {
		_, state, err := loaded.Lookup(id)
		require.NoError(t, err)
		require.Equal(t, Offline, state)
	}

	cfg, _, err := loaded.Lookup("node1")
	require.NoError(t, err)
	require.Equal(t, node("node1"), cfg)
}
