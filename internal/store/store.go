// Package store provides the low-level append-only record file and its
// memory-mapped offset index used by the DTL's file-backed segments.
// It generalizes the teacher's internal/log/store.go + index.go pair
// (a single growing log of protobuf records) to a per-segment record
// file whose records are cluster entries framed exactly as they are on
// the wire (spec.md §4.1/§4.2): 8 raw ClusterLocation bytes, a u64
// lba, then an i64 length prefix and the cluster's data.
package store

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

var enc = binary.LittleEndian

// lengthPrefixWidth is the width of the length prefix store records
// borrow from the wire codec's byte-array field encoding (i64).
const lengthPrefixWidth = 8

// locationWidth and lbaWidth mirror the wire layout: 8 raw bytes for a
// ClusterLocation, 8 bytes for the LBA.
const (
	locationWidth = 8
	lbaWidth      = 8
)

// Record is one on-disk cluster entry frame, kept in the packages's own
// vocabulary (location bytes + lba + data) to avoid an import cycle
// with the wire package's higher-level Entry/Location types; callers
// convert at the boundary.
type Record struct {
	LocationBytes [8]byte
	LBA           uint64
	Data          []byte
}

// Store is a single append-only record file. Writes are buffered and
// flushed on Flush, on Close and before every ReadAt; reads seek directly
// using the supplied byte position (normally obtained from an Index).
type Store struct {
	mu   sync.Mutex
	File *os.File
	buf  *bufio.Writer
	size uint64
}

// NewStore opens (or creates) f as a Store, positioned for further
// appends at its current size.
func NewStore(f *os.File) (*Store, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("store: stat: %w", err)
	}
	return &Store{
		File: f,
		size: uint64(fi.Size()),
		buf:  bufio.NewWriter(f),
	}, nil
}

// Append writes rec at the current end of the store and returns the
// byte position it was written at (the value an Index entry stores).
func (s *Store) Append(rec Record) (pos uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos = s.size

	var header [locationWidth + lbaWidth + lengthPrefixWidth]byte
	copy(header[0:locationWidth], rec.LocationBytes[:])
	enc.PutUint64(header[locationWidth:locationWidth+lbaWidth], rec.LBA)
	enc.PutUint64(header[locationWidth+lbaWidth:], uint64(len(rec.Data)))

	if _, err := s.buf.Write(header[:]); err != nil {
		return 0, fmt.Errorf("store: write header: %w", err)
	}
	if len(rec.Data) > 0 {
		if _, err := s.buf.Write(rec.Data); err != nil {
			return 0, fmt.Errorf("store: write data: %w", err)
		}
	}
	written := uint64(len(header)) + uint64(len(rec.Data))
	s.size += written
	return pos, nil
}

// Flush pushes buffered writes out to the OS and fsyncs the file,
// satisfying the backend's Flush contract (spec.md §4.2).
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("store: flush: %w", err)
	}
	return s.File.Sync()
}

// ReadAt reads exactly one record starting at byte position pos. The
// caller must have flushed (or this must be a record written before
// the read, already in buf) for the bytes to be visible via the raw
// file descriptor; ReadAt always flushes first to keep reads correct
// regardless of buffering.
func (s *Store) ReadAt(pos uint64) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buf.Flush(); err != nil {
		return Record{}, fmt.Errorf("store: flush before read: %w", err)
	}

	var header [locationWidth + lbaWidth + lengthPrefixWidth]byte
	if _, err := s.File.ReadAt(header[:], int64(pos)); err != nil {
		return Record{}, fmt.Errorf("store: read header: %w", err)
	}

	var rec Record
	copy(rec.LocationBytes[:], header[0:locationWidth])
	rec.LBA = enc.Uint64(header[locationWidth : locationWidth+lbaWidth])
	n := enc.Uint64(header[locationWidth+lbaWidth:])

	if n > 0 {
		rec.Data = make([]byte, n)
		if _, err := s.File.ReadAt(rec.Data, int64(pos)+int64(len(header))); err != nil {
			return Record{}, fmt.Errorf("store: read data: %w", err)
		}
	}
	return rec, nil
}

// Size returns the current logical size of the store, including
// buffered-but-unflushed bytes.
func (s *Store) Size() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Name returns the store file's path.
func (s *Store) Name() string { return s.File.Name() }

// Close flushes and closes the underlying file.
func (s *Store) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	return s.File.Close()
}

// RecordFrameSize returns the fixed on-disk size of a record whose
// data is dataLen bytes: since cluster size is constant per log, this
// is constant too and can be cached by the caller (spec.md §4.2
// "entry_size may be cached on first append").
func RecordFrameSize(dataLen int) int64 {
	return int64(locationWidth+lbaWidth+lengthPrefixWidth) + int64(dataLen)
}
