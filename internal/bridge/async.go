package bridge

import (
	"sync"
	"time"

	"github.com/openvstorage/dtl/internal/proxy"
	"github.com/openvstorage/dtl/internal/wire"
)

// workerTimeout is the async worker's condvar-wait timeout (spec.md
// §4.7 worker loop step 3: "Wait on condvar for timeout_ (1 second)").
const workerTimeout = 1 * time.Second

// AsyncBridge double-buffers writes and drains them on a background
// worker, applying backpressure instead of ever silently losing a
// write (spec.md §4.7).
//
// Lock ordering is fixed: worker mutex before front-buffer mutex. The
// worker never takes frontMu while holding nothing; AddEntries never
// takes workerMu except via TryLock, so it can never block behind the
// worker's socket I/O.
type AsyncBridge struct {
	cfg Config

	workerMu sync.Mutex
	proxy    *proxy.Proxy
	back     []wire.Entry

	frontMu    sync.Mutex
	front      []wire.Entry
	stopped    bool
	throttling bool

	notifier   func()
	notifyOnce sync.Once

	stop chan struct{}
	wake chan struct{}
	wg   sync.WaitGroup
}

// NewAsyncBridge constructs an unconfigured async bridge; a proxy must
// be installed via NewCache before writes are admitted.
func NewAsyncBridge(cfg Config) *AsyncBridge {
	return &AsyncBridge{cfg: cfg}
}

// Initialize stores the degraded notifier (spec.md "initialize").
func (b *AsyncBridge) Initialize(notifier func()) {
	b.notifier = notifier
}

// Mode reports Asynchronous.
func (b *AsyncBridge) Mode() Mode { return Asynchronous }

// NewCache adopts p, stopping and restarting the worker around the
// buffer swap (spec.md "new_cache").
func (b *AsyncBridge) NewCache(p *proxy.Proxy) {
	b.stopWorker()

	b.frontMu.Lock()
	b.front = nil
	b.stopped = false
	b.throttling = false
	b.frontMu.Unlock()

	b.workerMu.Lock()
	b.proxy = p
	b.back = nil
	b.workerMu.Unlock()

	b.startWorker()
}

func (b *AsyncBridge) startWorker() {
	b.stop = make(chan struct{})
	b.wake = make(chan struct{}, 1)
	b.wg.Add(1)
	go b.runWorker()
}

func (b *AsyncBridge) stopWorker() {
	if b.stop == nil {
		return
	}
	select {
	case <-b.stop:
	default:
		close(b.stop)
	}
	b.wg.Wait()
}

// Destroy stops the worker, optionally drains buffered entries
// best-effort, then drops the proxy (spec.md "destroy").
func (b *AsyncBridge) Destroy(syncToBackend bool) {
	b.stopWorker()

	b.frontMu.Lock()
	b.stopped = true
	pending := b.front
	b.front = nil
	b.frontMu.Unlock()

	b.workerMu.Lock()
	defer b.workerMu.Unlock()

	if syncToBackend && b.proxy != nil {
		all := append(b.back, pending...)
		if len(all) > 0 {
			_ = b.proxy.AddEntries(all) // best-effort; spec.md: errors logged and ignored
		}
	}
	b.back = nil
	b.proxy = nil
}

// AddEntries admits a batch into the front buffer or refuses it with
// ErrNotAdmitted under backpressure (spec.md "add_entries").
func (b *AsyncBridge) AddEntries(locs []wire.Location, startLBA uint64, data []byte) error {
	if len(locs) == 0 {
		return nil
	}
	clusterSize := b.cfg.ClusterSize()

	b.frontMu.Lock()
	if b.stopped {
		b.frontMu.Unlock()
		return nil
	}
	if b.cfg.MaxEntries-len(b.front) < len(locs) {
		b.throttling = true
		b.frontMu.Unlock()
		return ErrNotAdmitted
	}
	b.throttling = false

	for i, loc := range locs {
		off := i * clusterSize
		b.front = append(b.front, wire.Entry{
			Location: loc,
			LBA:      startLBA + uint64(i)*uint64(b.cfg.ClusterMultiplier),
			Data:     data[off : off+clusterSize],
		})
	}

	trigger := len(b.front) >= b.cfg.WriteTrigger
	b.frontMu.Unlock()

	if trigger {
		b.trySwap()
	}
	return nil
}

// trySwap attempts to hand the front buffer to the worker without
// ever blocking the producer (spec.md: "try_lock the worker mutex...
// on failure, leave the batch in front and continue").
func (b *AsyncBridge) trySwap() {
	if !b.workerMu.TryLock() {
		return
	}
	defer b.workerMu.Unlock()

	if len(b.back) != 0 {
		return
	}
	b.frontMu.Lock()
	b.back, b.front = b.front, b.back[:0]
	b.frontMu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Throttling reports whether the most recent AddEntries was refused
// for backpressure, for tests and diagnostics.
func (b *AsyncBridge) Throttling() bool {
	b.frontMu.Lock()
	defer b.frontMu.Unlock()
	return b.throttling
}

// Flush moves all of front into back and drains it synchronously
// (spec.md "flush").
func (b *AsyncBridge) Flush() error {
	b.workerMu.Lock()
	defer b.workerMu.Unlock()
	return b.flushLocked()
}

func (b *AsyncBridge) flushLocked() error {
	b.frontMu.Lock()
	b.back = append(b.back, b.front...)
	b.front = b.front[:0]
	b.frontMu.Unlock()

	if b.proxy == nil {
		return nil
	}
	if err := b.proxy.AddEntries(b.back); err != nil {
		return err
	}
	b.back = b.back[:0]
	return b.proxy.Flush()
}

// RemoveUpTo is serialized through the worker mutex (spec.md).
func (b *AsyncBridge) RemoveUpTo(sco wire.Location) error {
	b.workerMu.Lock()
	defer b.workerMu.Unlock()
	if b.proxy == nil {
		return nil
	}
	return b.proxy.RemoveUpTo(sco)
}

// Clear is serialized through the worker mutex.
func (b *AsyncBridge) Clear() error {
	b.workerMu.Lock()
	defer b.workerMu.Unlock()
	if b.proxy == nil {
		return nil
	}
	return b.proxy.Clear()
}

// GetSCOFromFailover flushes first so the server sees every queued
// write before the replay query, then streams the requested segment
// (spec.md "get_sco_from_failover").
func (b *AsyncBridge) GetSCOFromFailover(sco wire.Location, fn proxy.TripleFunc) (int, error) {
	b.workerMu.Lock()
	defer b.workerMu.Unlock()

	if b.proxy == nil {
		return 0, ErrProxyNotConfigured
	}
	if err := b.flushLocked(); err != nil {
		return 0, err
	}
	return b.proxy.GetSCOFromFailover(sco, fn)
}

func (b *AsyncBridge) runWorker() {
	defer b.wg.Done()
	ticker := time.NewTicker(workerTimeout)
	defer ticker.Stop()

	for {
		b.workerMu.Lock()
		if b.proxy != nil {
			if err := b.drainLocked(); err != nil {
				b.workerMu.Unlock()
				b.goDegraded()
				return
			}
		}
		b.workerMu.Unlock()

		select {
		case <-b.stop:
			return
		case <-b.wake:
		case <-ticker.C:
		}

		select {
		case <-b.stop:
			return
		default:
		}

		b.workerMu.Lock()
		if len(b.back) == 0 {
			b.frontMu.Lock()
			b.back, b.front = b.front, b.back[:0]
			b.frontMu.Unlock()
		}
		b.workerMu.Unlock()
	}
}

// drainLocked runs worker loop steps 1-2, assuming workerMu is held.
func (b *AsyncBridge) drainLocked() error {
	if len(b.back) > 0 {
		if err := b.proxy.AddEntries(b.back); err != nil {
			return err
		}
		b.back = b.back[:0]
		return nil
	}
	return b.proxy.Flush()
}

// goDegraded fires the degraded notifier at most once, then discards
// buffers and drops the proxy (spec.md worker loop step 5).
func (b *AsyncBridge) goDegraded() {
	b.notifyOnce.Do(func() {
		if b.notifier != nil {
			b.notifier()
		}
	})

	b.workerMu.Lock()
	b.frontMu.Lock()
	b.stopped = true
	b.front = nil
	b.frontMu.Unlock()
	b.back = nil
	b.proxy = nil
	b.workerMu.Unlock()
}
