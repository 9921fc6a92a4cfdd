package backend

import (
	"sync"

	"github.com/openvstorage/dtl/internal/wire"
)

// memSegment is one segment's worth of appended batches. Each batch
// owns its own entry slice; the entries' Data slices are stored as the
// caller passed them and are not copied, so the batch shares those data
// buffers with the caller.
type memSegment struct {
	number  uint32
	batches [][]wire.Entry
	count   int // total entries across batches; zero means lastOffset has none
}

func (s *memSegment) lastOffset() (uint16, bool) {
	if s.count == 0 {
		return 0, false
	}
	last := s.batches[len(s.batches)-1]
	return last[len(last)-1].Location.SegmentOffset, true
}

func (s *memSegment) forEach(fromOffset uint16, fn func(wire.Entry) error) error {
	for _, b := range s.batches {
		for _, e := range b {
			if e.Location.SegmentOffset < fromOffset {
				continue
			}
			if err := fn(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// MemoryBackend is the memory-only per-namespace log variant (spec.md
// §4.2 "Memory backend specifics").
type MemoryBackend struct {
	mu          sync.Mutex
	namespace   string
	clusterSize uint32

	ownership ownership

	segments     []*memSegment
	lastLocation wire.Location
}

// NewMemoryBackend creates an empty memory-backed log for namespace
// with the given immutable cluster size.
func NewMemoryBackend(namespace string, clusterSize uint32) *MemoryBackend {
	return &MemoryBackend{namespace: namespace, clusterSize: clusterSize}
}

func (b *MemoryBackend) Namespace() string    { return b.namespace }
func (b *MemoryBackend) ClusterSize() uint32  { return b.clusterSize }
func (b *MemoryBackend) LastLocation() wire.Location {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastLocation
}

func (b *MemoryBackend) Register(owner OwnerTag) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ownership.register(owner, len(b.segments) > 0)
	return nil
}

func (b *MemoryBackend) openSegment() (*memSegment, bool) {
	if len(b.segments) == 0 {
		return nil, false
	}
	last := b.segments[len(b.segments)-1]
	return last, true
}

func (b *MemoryBackend) AddEntries(entries []wire.Entry, owner OwnerTag) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ownership.checkOwner(owner); err != nil {
		return err
	}
	if b.ownership.noteAddEntries() {
		b.resetLocked()
	}

	open, hasOpen := b.openSegment()
	var openNum uint32
	if hasOpen {
		openNum = open.number
	}
	if err := validateBatch(entries, b.lastLocation, hasOpen, openNum); err != nil {
		return err
	}

	segNum := entries[0].Location.SegmentNumber
	var seg *memSegment
	if hasOpen && segNum == openNum {
		seg = open
	} else {
		seg = &memSegment{number: segNum}
		b.segments = append(b.segments, seg)
	}

	batch := make([]wire.Entry, len(entries))
	copy(batch, entries)
	seg.batches = append(seg.batches, batch)
	seg.count += len(batch)
	b.lastLocation = entries[len(entries)-1].Location
	return nil
}

func (b *MemoryBackend) Flush(owner OwnerTag) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ownership.checkOwner(owner)
}

func (b *MemoryBackend) RemoveUpTo(sco wire.Location, owner OwnerTag) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ownership.checkOwner(owner); err != nil {
		return err
	}
	b.removeUpToLocked(sco.SegmentNumber)
	return nil
}

func (b *MemoryBackend) removeUpToLocked(sco uint32) {
	kept := b.segments[:0:0]
	for _, s := range b.segments {
		if s.number <= sco {
			continue
		}
		kept = append(kept, s)
	}
	b.segments = kept
	if len(b.segments) == 0 {
		b.lastLocation = wire.None
	} else {
		last := b.segments[len(b.segments)-1]
		if off, ok := last.lastOffset(); ok {
			b.lastLocation = wire.Location{SegmentNumber: last.number, SegmentOffset: off}
		}
	}
}

func (b *MemoryBackend) Clear(owner OwnerTag) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ownership.checkOwner(owner); err != nil {
		return err
	}
	b.resetLocked()
	return nil
}

func (b *MemoryBackend) resetLocked() {
	b.segments = nil
	b.lastLocation = wire.None
}

func (b *MemoryBackend) GetEntries(start wire.Location, max int, fn EntryFunc) (int, error) {
	b.mu.Lock()
	b.ownership.noteGetEntries()
	segments := make([]*memSegment, len(b.segments))
	copy(segments, b.segments)
	b.mu.Unlock()

	count := 0
	for _, seg := range segments {
		if count >= max {
			break
		}
		if !start.IsNone() && seg.number < start.SegmentNumber {
			continue
		}
		from := uint16(0)
		if !start.IsNone() && seg.number == start.SegmentNumber {
			from = start.SegmentOffset
		}
		err := seg.forEach(from, func(e wire.Entry) error {
			if count >= max {
				return errStop
			}
			if err := fn(e.Location, e.LBA, e.Data); err != nil {
				return err
			}
			count++
			return nil
		})
		if err != nil && err != errStop {
			return count, err
		}
		if count >= max {
			break
		}
	}
	return count, nil
}

func (b *MemoryBackend) GetSCO(sco wire.Location, fn EntryFunc) error {
	b.mu.Lock()
	var seg *memSegment
	for _, s := range b.segments {
		if s.number == sco.SegmentNumber {
			seg = s
			break
		}
	}
	b.mu.Unlock()
	if seg == nil {
		return nil
	}
	return seg.forEach(0, func(e wire.Entry) error {
		return fn(e.Location, e.LBA, e.Data)
	})
}

func (b *MemoryBackend) Range() (oldest, youngest wire.Location, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.segments) == 0 {
		return wire.None, wire.None, false
	}
	first := b.segments[0]
	return wire.Location{SegmentNumber: first.number, SegmentOffset: 0}, b.lastLocation, true
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
	return nil
}

// errStop is a private sentinel used to short-circuit forEach once max
// entries have been delivered; shared by both variants' GetEntries and
// never returned outside this package.
var errStop = stopError{}

type stopError struct{}

func (stopError) Error() string { return "store: stop iteration" }
