// Package bridge implements the client-side write path between a
// volume's write path and the DTL proxy (spec.md §4.7-4.9): an async,
// double-buffered, backpressure-aware bridge and a synchronous
// pass-through bridge, unified behind one capability interface so
// callers never branch on mode.
package bridge

import (
	"errors"

	"github.com/openvstorage/dtl/internal/proxy"
	"github.com/openvstorage/dtl/internal/wire"
)

// Mode selects which bridge variant New constructs (spec.md §4.9).
type Mode int

const (
	Asynchronous Mode = iota
	Synchronous
)

func (m Mode) String() string {
	if m == Synchronous {
		return "Synchronous"
	}
	return "Asynchronous"
}

// Errors surfaced by bridge operations.
var (
	// ErrNotAdmitted is returned by AsyncBridge.AddEntries when the
	// front buffer cannot accept the batch without overflowing
	// max_entries; the caller must retry after a short delay
	// (spec.md §4.7 "Throttling rationale").
	ErrNotAdmitted = errors.New("bridge: batch not admitted, retry after backoff")

	// ErrProxyNotConfigured is returned by get_sco_from_failover when
	// no proxy is installed (spec.md §4.7/§4.8).
	ErrProxyNotConfigured = errors.New("bridge: no proxy configured")
)

// Config parametrizes both bridge variants (spec.md §4.7/§4.9).
type Config struct {
	LBASize           uint32
	ClusterMultiplier uint32
	MaxEntries        int
	WriteTrigger      int
}

// ClusterSize is the byte length of every entry's data slice.
func (c Config) ClusterSize() int {
	return int(c.LBASize) * int(c.ClusterMultiplier)
}

// Bridge is the capability set spec.md §7 (REDESIGN FLAGS) replaces
// the original's bridge/proxy inheritance hierarchy with: both
// AsyncBridge and SyncBridge satisfy it, chosen once at construction.
type Bridge interface {
	// Initialize stores the degraded notifier, invoked at most once.
	Initialize(notifier func())

	// AddEntries batch-adds locs, each location's data carved out of
	// data at i*cluster_size, with lba = start_lba + i*cluster_multiplier.
	AddEntries(locs []wire.Location, startLBA uint64, data []byte) error

	Flush() error
	Clear() error
	RemoveUpTo(sco wire.Location) error
	GetSCOFromFailover(sco wire.Location, fn proxy.TripleFunc) (int, error)

	Mode() Mode

	// NewCache adopts p as the bridge's proxy, replacing any existing
	// one (spec.md "new_cache").
	NewCache(p *proxy.Proxy)

	// Destroy stops any background worker synchronously and drops the
	// proxy. If syncToBackend, buffered entries are drained via the
	// proxy first, best-effort.
	Destroy(syncToBackend bool)
}

// New is the bridge factory (spec.md §4.9).
func New(mode Mode, cfg Config) Bridge {
	switch mode {
	case Synchronous:
		return NewSyncBridge(cfg)
	default:
		return NewAsyncBridge(cfg)
	}
}
