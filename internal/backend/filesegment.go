package backend

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/openvstorage/dtl/internal/store"
	"github.com/openvstorage/dtl/internal/wire"
)

// segmentFileName renders segNum as the canonical textual segment file
// name (spec.md §6): a fixed-width zero-padded decimal so a directory
// listing sorts in segment order.
func segmentFileName(segNum uint32) string {
	return fmt.Sprintf("%010d", segNum)
}

// fileSegment is one DTL segment backed by an append-only store file
// (the wire-compatible byte stream, spec.md §6 "File layout") plus a
// sidecar gommap offset index (internal/store.Index) used only for
// O(1) seeking; it carries no wire-format meaning of its own.
type fileSegment struct {
	number     uint32
	store      *store.Store
	index      *store.Index
	nextOffset uint16
}

func openFileSegment(dir string, segNum uint32, indexCap uint64) (*fileSegment, error) {
	name := segmentFileName(segNum)

	storeFile, err := os.OpenFile(filepath.Join(dir, name), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("backend: open segment store: %w", err)
	}
	st, err := store.NewStore(storeFile)
	if err != nil {
		return nil, err
	}

	indexFile, err := os.OpenFile(filepath.Join(dir, name+".idx"), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("backend: open segment index: %w", err)
	}
	idx, err := store.NewIndex(indexFile, indexCap)
	if err != nil {
		return nil, err
	}

	seg := &fileSegment{number: segNum, store: st, index: idx}
	seg.nextOffset = uint16(idx.NumEntries())
	return seg, nil
}

func (s *fileSegment) append(loc [8]byte, lba uint64, data []byte, indexCap uint64) error {
	if s.index.IsMaxed() {
		if err := s.index.Grow(uint64(s.index.NumEntries()) * 2); err != nil {
			return err
		}
	}
	pos, err := s.store.Append(store.Record{LocationBytes: loc, LBA: lba, Data: data})
	if err != nil {
		return err
	}
	if err := s.index.Write(pos); err != nil {
		return err
	}
	s.nextOffset++
	return nil
}

func (s *fileSegment) forEach(fromOffset uint16, fn func(wire.Entry) error) error {
	n := s.index.NumEntries()
	for off := uint32(fromOffset); off < uint32(n); off++ {
		pos, err := s.index.Read(uint32(off))
		if err != nil {
			return fmt.Errorf("backend: segment index read: %w", err)
		}
		rec, err := s.store.ReadAt(pos)
		if err != nil {
			return fmt.Errorf("backend: segment store read: %w", err)
		}
		loc, err := wire.UnmarshalLocation(rec.LocationBytes[:])
		if err != nil {
			return err
		}
		if err := fn(wire.Entry{Location: loc, LBA: rec.LBA, Data: rec.Data}); err != nil {
			return err
		}
	}
	return nil
}

func (s *fileSegment) lastOffset() (uint16, bool) {
	n := s.index.NumEntries()
	if n == 0 {
		return 0, false
	}
	return uint16(n - 1), true
}

func (s *fileSegment) close() error {
	if err := s.store.Close(); err != nil {
		return err
	}
	return s.index.Close()
}

func (s *fileSegment) remove() error {
	storeName := s.store.Name()
	idxName := s.index.Name()
	if err := s.close(); err != nil {
		return err
	}
	if err := os.Remove(storeName); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(idxName); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
