package store

import (
	"fmt"
	"io"
	"os"

	"github.com/tysonmote/gommap"
)

// posWidth is the width of one index entry: the byte position in the
// store file of the entry at that array slot. Unlike the teacher's
// index (which stores an explicit offset alongside the position
// because its log-wide offsets don't reset per segment), a DTL
// segment's offsets are always 0,1,2,... with no gaps (spec.md §3), so
// the array slot IS the segment offset and only the position need be
// stored.
const posWidth uint64 = 8

// Index is a memory-mapped, fixed-capacity array of store byte
// positions, one per segment offset. It generalizes the teacher's
// internal/log/index.go from "one index for the whole log" to "one
// index per DTL segment".
type Index struct {
	file     *os.File
	mmap     gommap.MMap
	size     uint64 // bytes currently used
	capacity uint64 // mapped capacity in bytes (maxEntries * posWidth)
}

// NewIndex opens (or creates) f as an Index capable of holding
// maxEntries positions.
func NewIndex(f *os.File, maxEntries uint64) (*Index, error) {
	idx := &Index{file: f}

	fi, err := os.Stat(f.Name())
	if err != nil {
		return nil, fmt.Errorf("store: stat index: %w", err)
	}
	idx.size = uint64(fi.Size())
	idx.capacity = maxEntries * posWidth

	if err := os.Truncate(f.Name(), int64(idx.capacity)); err != nil {
		return nil, fmt.Errorf("store: truncate index: %w", err)
	}
	if idx.mmap, err = gommap.Map(idx.file.Fd(), gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED); err != nil {
		return nil, fmt.Errorf("store: mmap index: %w", err)
	}
	return idx, nil
}

// NumEntries returns how many offsets are currently indexed.
func (idx *Index) NumEntries() uint32 {
	return uint32(idx.size / posWidth)
}

// Read returns the store byte position for segment offset off. off
// must be less than NumEntries(); io.EOF is returned otherwise,
// matching the teacher's index.Read contract.
func (idx *Index) Read(off uint32) (pos uint64, err error) {
	if idx.size == 0 {
		return 0, io.EOF
	}
	slot := uint64(off) * posWidth
	if idx.size < slot+posWidth {
		return 0, io.EOF
	}
	return enc.Uint64(idx.mmap[slot : slot+posWidth]), nil
}

// ReadLast returns the offset and position of the most recently
// appended entry.
func (idx *Index) ReadLast() (off uint32, pos uint64, err error) {
	if idx.size == 0 {
		return 0, 0, io.EOF
	}
	last := uint32(idx.size/posWidth) - 1
	pos, err = idx.Read(last)
	return last, pos, err
}

// Write appends pos as the next segment offset's position.
func (idx *Index) Write(pos uint64) error {
	if idx.size+posWidth > idx.capacity {
		return io.EOF
	}
	enc.PutUint64(idx.mmap[idx.size:idx.size+posWidth], pos)
	idx.size += posWidth
	return nil
}

// IsMaxed reports whether the index has no room for another entry.
func (idx *Index) IsMaxed() bool {
	return idx.size+posWidth > idx.capacity
}

// Name returns the index file's path.
func (idx *Index) Name() string { return idx.file.Name() }

// Grow extends the index's mapped capacity in place so further writes
// can continue past the previously allocated maxEntries, preserving
// already-written positions. Grow is expected to be rare (segments
// are sized generously up front); it does not unmap the superseded
// mapping, which stays mapped until the process exits.

func (idx *Index) Grow(maxEntries uint64) error {
	newCapacity := maxEntries * posWidth
	if newCapacity <= idx.capacity {
		return nil
	}
	if err := idx.mmap.Sync(gommap.MS_SYNC); err != nil {
		return fmt.Errorf("store: sync index before grow: %w", err)
	}
	if err := os.Truncate(idx.file.Name(), int64(newCapacity)); err != nil {
		return fmt.Errorf("store: truncate index for grow: %w", err)
	}
	mmap, err := gommap.Map(idx.file.Fd(), gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("store: remap grown index: %w", err)
	}
	idx.mmap = mmap
	idx.capacity = newCapacity
	return nil
}

// Close syncs the memory map and the backing file, truncates the file
// to its logical size, and closes it.
func (idx *Index) Close() error {
	if err := idx.mmap.Sync(gommap.MS_SYNC); err != nil {
		return fmt.Errorf("store: sync index mmap: %w", err)
	}
	if err := idx.file.Sync(); err != nil {
		return fmt.Errorf("store: sync index file: %w", err)
	}
	if err := idx.file.Truncate(int64(idx.size)); err != nil {
		return fmt.Errorf("store: truncate index on close: %w", err)
	}
	return idx.file.Close()
}
