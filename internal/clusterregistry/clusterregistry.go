// Package clusterregistry holds the node configuration and liveness
// data the volume driver consults to find a volume's DTL (spec.md §6
// "Cluster registry entry"): the DTL itself never reads this state, it
// only serves the port a client proxy dials. We carry a minimal local
// implementation (in-memory map plus disk snapshot) as a stand-in for
// the external consistent key-value store spec.md §6/§9 defers to.
package clusterregistry

import (
	"errors"
	"fmt"
	"sync"
)

// NodeState is a cluster node's liveness, persisted with
// compare-and-swap semantics (spec.md §6).
type NodeState int

const (
	Offline NodeState = iota
	Online
)

func (s NodeState) String() string {
	if s == Online {
		return "Online"
	}
	return "Offline"
}

// NodeConfig is one cluster node's registry entry (spec.md §6), mirrors
// the original's ClusterNodeConfig: vrouter_id/host/message_port/
// xmlrpc_port/failovercache_port. Only FailoverCachePort is consumed by
// the DTL client proxy; the others are carried for fidelity with the
// volume driver's registry contract.
type NodeConfig struct {
	NodeID            string
	Host              string
	MessagePort       uint16
	XMLRPCPort        uint16
	FailoverCachePort uint16
}

// nodeEntry pairs a NodeConfig with its status and a version counter
// that each state transition increments; compare-and-swap compares the
// state, not the version.
type nodeEntry struct {
	config  NodeConfig
	state   NodeState
	version uint64
}

// Errors returned by Registry operations (spec.md §7 "Configuration"
// and "Concurrent-update conflict").
var (
	ErrUnknownNode = errors.New("clusterregistry: unknown node_id")
	ErrDuplicate   = errors.New("clusterregistry: node_id already registered")
	ErrCASConflict = errors.New("clusterregistry: compare-and-swap conflict")
	ErrEmptyNodeID = errors.New("clusterregistry: node_id must not be empty")
)

const maxCASRetries = 8

// Registry is a local, in-process stand-in for the external
// consistent store the volume driver actually uses. It offers the same
// shape of operations (register, lookup, CAS state transition,
// snapshot persistence) so the DTL client stack can be exercised
// end-to-end without a real distributed coordination service.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*nodeEntry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{nodes: make(map[string]*nodeEntry)}
}

// Register adds a new node in the Offline state. It is an error to
// register a node_id twice.
func (r *Registry) Register(cfg NodeConfig) error {
	if cfg.NodeID == "" {
		return ErrEmptyNodeID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[cfg.NodeID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, cfg.NodeID)
	}
	r.nodes[cfg.NodeID] = &nodeEntry{config: cfg, state: Offline, version: 1}
	return nil
}

// Lookup returns nodeID's config and current state.
func (r *Registry) Lookup(nodeID string) (NodeConfig, NodeState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		return NodeConfig{}, Offline, fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}
	return e.config, e.state, nil
}

// FailoverCachePort is the convenience accessor the DTL client stack
// actually needs: the address a proxy should dial for nodeID.
func (r *Registry) FailoverCachePort(nodeID string) (host string, port uint16, err error) {
	cfg, _, err := r.Lookup(nodeID)
	if err != nil {
		return "", 0, err
	}
	return cfg.Host, cfg.FailoverCachePort, nil
}

// SetState performs a compare-and-swap transition: it only applies if
// the node's current state equals from. On conflict it retries up to
// maxCASRetries times (each attempt re-reads the node's state under the
// lock), then surfaces ErrCASConflict (spec.md §7
// "Concurrent-update conflict").
func (r *Registry) SetState(nodeID string, from, to NodeState) error {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		r.mu.Lock()
		e, ok := r.nodes[nodeID]
		if !ok {
			r.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
		}
		if e.state != from {
			r.mu.Unlock()
			continue
		}
		e.state = to
		e.version++
		r.mu.Unlock()
		return nil
	}
	return fmt.Errorf("%w: node %s not in expected state %s", ErrCASConflict, nodeID, from)
}

// Nodes returns a snapshot of every registered node, for persistence
// and diagnostics.
func (r *Registry) Nodes() []NodeConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeConfig, 0, len(r.nodes))
	for _, e := range r.nodes {
		out = append(out, e.config)
	}
	return out
}
