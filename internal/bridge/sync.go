package bridge

import (
	"sync"

	"github.com/openvstorage/dtl/internal/proxy"
	"github.com/openvstorage/dtl/internal/wire"
)

// SyncBridge forwards every add_entries straight through the proxy
// under one mutex, with no worker and no buffering (spec.md §4.8).
type SyncBridge struct {
	cfg Config

	mu       sync.Mutex
	proxy    *proxy.Proxy
	degraded bool

	notifier   func()
	notifyOnce sync.Once
}

// NewSyncBridge constructs an unconfigured sync bridge.
func NewSyncBridge(cfg Config) *SyncBridge {
	return &SyncBridge{cfg: cfg}
}

// Initialize stores the degraded notifier.
func (b *SyncBridge) Initialize(notifier func()) {
	b.notifier = notifier
}

// Mode reports Synchronous.
func (b *SyncBridge) Mode() Mode { return Synchronous }

// NewCache installs p as the active proxy, clearing any degraded
// state.
func (b *SyncBridge) NewCache(p *proxy.Proxy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.proxy = p
	b.degraded = false
}

// Destroy drops the proxy. sync_to_backend has no effect: there is no
// buffer to drain, every write already reached the proxy synchronously.
func (b *SyncBridge) Destroy(bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.proxy = nil
}

// AddEntries forwards the batch directly. On any error it invokes the
// degraded notifier and drops the proxy; subsequent writes then become
// no-ops that report success, since the volume is already degraded
// (spec.md §4.8).
func (b *SyncBridge) AddEntries(locs []wire.Location, startLBA uint64, data []byte) error {
	if len(locs) == 0 {
		return nil
	}
	clusterSize := b.cfg.ClusterSize()

	entries := make([]wire.Entry, len(locs))
	for i, loc := range locs {
		off := i * clusterSize
		entries[i] = wire.Entry{
			Location: loc,
			LBA:      startLBA + uint64(i)*uint64(b.cfg.ClusterMultiplier),
			Data:     data[off : off+clusterSize],
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.proxy == nil {
		return nil
	}
	if err := b.proxy.AddEntries(entries); err != nil {
		b.goDegradedLocked()
		return nil
	}
	return nil
}

// Flush forwards directly; errors degrade the bridge and are swallowed
// the same way AddEntries swallows them.
func (b *SyncBridge) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.proxy == nil {
		return nil
	}
	if err := b.proxy.Flush(); err != nil {
		b.goDegradedLocked()
	}
	return nil
}

// Clear forwards directly, same error policy as Flush.
func (b *SyncBridge) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.proxy == nil {
		return nil
	}
	if err := b.proxy.Clear(); err != nil {
		b.goDegradedLocked()
	}
	return nil
}

// RemoveUpTo forwards directly; failures are logged by the caller and
// otherwise ignored (it is an optimization, spec.md §7).
func (b *SyncBridge) RemoveUpTo(sco wire.Location) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.proxy == nil {
		return nil
	}
	return b.proxy.RemoveUpTo(sco)
}

// GetSCOFromFailover fails with ErrProxyNotConfigured if no proxy is
// installed; it is never a no-op (spec.md §4.8).
func (b *SyncBridge) GetSCOFromFailover(sco wire.Location, fn proxy.TripleFunc) (int, error) {
	b.mu.Lock()
	p := b.proxy
	b.mu.Unlock()
	if p == nil {
		return 0, ErrProxyNotConfigured
	}
	n, err := p.GetSCOFromFailover(sco, fn)
	if err != nil {
		b.mu.Lock()
		b.goDegradedLocked()
		b.mu.Unlock()
	}
	return n, err
}

func (b *SyncBridge) goDegradedLocked() {
	b.degraded = true
	b.proxy = nil
	b.notifyOnce.Do(func() {
		if b.notifier != nil {
			b.notifier()
		}
	})
}
