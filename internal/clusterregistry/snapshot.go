package clusterregistry

import (
	"fmt"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire field numbers for the on-disk snapshot. There is no .proto
// schema behind these: the snapshot is hand-encoded with protowire's
// primitives directly, repurposing the library's low-level varint/
// length-delimited encoding rather than generated message types, since
// this snapshot has no need for the rest of the protobuf machinery
// (reflection, text format, any.Any).
const (
	fieldEntry = 1 // top-level, repeated: one marshaled node entry

	fieldNodeID            = 1
	fieldHost              = 2
	fieldMessagePort       = 3
	fieldXMLRPCPort        = 4
	fieldFailoverCachePort = 5
	fieldState             = 6
)

func marshalEntry(cfg NodeConfig, state NodeState) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldNodeID, protowire.BytesType)
	b = protowire.AppendString(b, cfg.NodeID)
	b = protowire.AppendTag(b, fieldHost, protowire.BytesType)
	b = protowire.AppendString(b, cfg.Host)
	b = protowire.AppendTag(b, fieldMessagePort, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(cfg.MessagePort))
	b = protowire.AppendTag(b, fieldXMLRPCPort, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(cfg.XMLRPCPort))
	b = protowire.AppendTag(b, fieldFailoverCachePort, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(cfg.FailoverCachePort))
	b = protowire.AppendTag(b, fieldState, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(state))
	return b
}

func unmarshalEntry(b []byte) (NodeConfig, NodeState, error) {
	var cfg NodeConfig
	var state NodeState

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return cfg, state, fmt.Errorf("clusterregistry: bad snapshot tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldNodeID:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return cfg, state, fmt.Errorf("clusterregistry: bad node_id field: %w", protowire.ParseError(n))
			}
			cfg.NodeID = v
			b = b[n:]
		case fieldHost:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return cfg, state, fmt.Errorf("clusterregistry: bad host field: %w", protowire.ParseError(n))
			}
			cfg.Host = v
			b = b[n:]
		case fieldMessagePort:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return cfg, state, fmt.Errorf("clusterregistry: bad message_port field: %w", protowire.ParseError(n))
			}
			cfg.MessagePort = uint16(v)
			b = b[n:]
		case fieldXMLRPCPort:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return cfg, state, fmt.Errorf("clusterregistry: bad xmlrpc_port field: %w", protowire.ParseError(n))
			}
			cfg.XMLRPCPort = uint16(v)
			b = b[n:]
		case fieldFailoverCachePort:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return cfg, state, fmt.Errorf("clusterregistry: bad failovercache_port field: %w", protowire.ParseError(n))
			}
			cfg.FailoverCachePort = uint16(v)
			b = b[n:]
		case fieldState:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return cfg, state, fmt.Errorf("clusterregistry: bad state field: %w", protowire.ParseError(n))
			}
			state = NodeState(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return cfg, state, fmt.Errorf("clusterregistry: bad unknown field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return cfg, state, nil
}

// Snapshot writes every node's config and state to path as a sequence
// of length-delimited protowire messages.
func (r *Registry) Snapshot(path string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []byte
	for _, e := range r.nodes {
		sub := marshalEntry(e.config, e.state)
		out = protowire.AppendTag(out, fieldEntry, protowire.BytesType)
		out = protowire.AppendBytes(out, sub)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("clusterregistry: write snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a registry previously written by Snapshot. Every
// node is restored as Offline regardless of its persisted state: the
// volume driver re-establishes liveness explicitly after any restart
// (spec.md §6 "transitions are observable to the volume driver").
func LoadSnapshot(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("clusterregistry: read snapshot: %w", err)
	}

	r := New()
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("clusterregistry: bad snapshot: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num != fieldEntry || typ != protowire.BytesType {
			return nil, fmt.Errorf("clusterregistry: unexpected top-level field %d", num)
		}
		sub, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("clusterregistry: bad entry bytes: %w", protowire.ParseError(n))
		}
		b = b[n:]

		cfg, _, err := unmarshalEntry(sub)
		if err != nil {
			return nil, err
		}
		if err := r.Register(cfg); err != nil {
			return nil, err
		}
	}
	return r, nil
}
