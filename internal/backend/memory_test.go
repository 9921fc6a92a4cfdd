package backend

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openvstorage/dtl/internal/wire"
)

const clusterSize = 4096

func fill(b byte) []byte {
	d := make([]byte, clusterSize)
	for i := range d {
		d[i] = b
	}
	return d
}

func segmentBatch(segNum uint32, count int, b byte) []wire.Entry {
	entries := make([]wire.Entry, count)
	for i := 0; i < count; i++ {
		entries[i] = wire.Entry{
			Location: wire.Location{SegmentNumber: segNum, SegmentOffset: uint16(i)},
			LBA:      uint64(i),
			Data:     fill(b),
		}
	}
	return entries
}

func TestMemoryBackendHappyPath(t *testing.T) {
	b := NewMemoryBackend("vol1", clusterSize)
	require.NoError(t, b.Register(OwnerTag(1)))

	for _, seg := range []uint32{1, 2, 3} {
		require.NoError(t, b.AddEntries(segmentBatch(seg, 32, 0x62), OwnerTag(1)))
	}
	require.NoError(t, b.Flush(OwnerTag(1)))

	var got []wire.Entry
	n, err := b.GetEntries(wire.None, 1000, func(loc wire.Location, lba uint64, data []byte) error {
		got = append(got, wire.Entry{Location: loc, LBA: lba, Data: data})
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 96, n)
	require.Len(t, got, 96)

	for i, e := range got {
		wantSeg := uint32(i/32) + 1
		wantOff := uint16(i % 32)
		require.Equal(t, wantSeg, e.Location.SegmentNumber)
		require.Equal(t, wantOff, e.Location.SegmentOffset)
		require.Len(t, e.Data, clusterSize)
		require.True(t, bytes.Equal(e.Data, fill(0x62)))
	}

	require.NoError(t, b.Clear(OwnerTag(1)))
	n, err = b.GetEntries(wire.None, 1000, func(wire.Location, uint64, []byte) error { return nil })
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestMemoryBackendTrim(t *testing.T) {
	b := NewMemoryBackend("vol1", clusterSize)
	require.NoError(t, b.Register(OwnerTag(1)))

	for seg := uint32(1); seg <= 13; seg++ {
		require.NoError(t, b.AddEntries(segmentBatch(seg, 4, 0x41), OwnerTag(1)))
	}

	oldest, youngest, ok := b.Range()
	require.True(t, ok)
	require.Equal(t, uint32(1), oldest.SegmentNumber)
	require.Equal(t, uint32(13), youngest.SegmentNumber)

	require.NoError(t, b.RemoveUpTo(wire.NewSegment(7), OwnerTag(1)))
	oldest, youngest, ok = b.Range()
	require.True(t, ok)
	require.Equal(t, uint32(8), oldest.SegmentNumber)
	require.Equal(t, uint32(13), youngest.SegmentNumber)

	require.NoError(t, b.Clear(OwnerTag(1)))
	_, _, ok = b.Range()
	require.False(t, ok)
}

func TestMemoryBackendSelectiveReplay(t *testing.T) {
	b := NewMemoryBackend("vol1", clusterSize)
	require.NoError(t, b.Register(OwnerTag(1)))

	for seg := uint32(1); seg <= 13; seg++ {
		fillByte := byte('b')
		if seg == 4 {
			fillByte = 'a'
		}
		require.NoError(t, b.AddEntries(segmentBatch(seg, 32, fillByte), OwnerTag(1)))
	}

	var count int
	err := b.GetSCO(wire.NewSegment(4), func(loc wire.Location, lba uint64, data []byte) error {
		count++
		require.Equal(t, uint32(4), loc.SegmentNumber)
		require.Equal(t, byte('a'), data[0])
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 32, count)
}

func TestMemoryBackendClusterSizeMismatchIsRegistryLevel(t *testing.T) {
	b := NewMemoryBackend("vol1", clusterSize)
	require.Equal(t, uint32(clusterSize), b.ClusterSize())
}

func TestMemoryBackendReattachmentWithoutReadWipes(t *testing.T) {
	b := NewMemoryBackend("vol1", clusterSize)
	require.NoError(t, b.Register(OwnerTag(1)))
	require.NoError(t, b.AddEntries(segmentBatch(1, 4, 0x01), OwnerTag(1)))

	// A new owner reattaches without reading first; its first write
	// must wipe the prior owner's data (spec.md §4.2).
	require.NoError(t, b.Register(OwnerTag(2)))
	require.NoError(t, b.AddEntries(segmentBatch(1, 2, 0x02), OwnerTag(2)))

	n, err := b.GetEntries(wire.None, 1000, func(wire.Location, uint64, []byte) error { return nil })
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestMemoryBackendReattachmentWithReadDoesNotWipe(t *testing.T) {
	b := NewMemoryBackend("vol1", clusterSize)
	require.NoError(t, b.Register(OwnerTag(1)))
	require.NoError(t, b.AddEntries(segmentBatch(1, 4, 0x01), OwnerTag(1)))

	require.NoError(t, b.Register(OwnerTag(2)))
	_, err := b.GetEntries(wire.None, 1000, func(wire.Location, uint64, []byte) error { return nil })
	require.NoError(t, err)

	require.NoError(t, b.AddEntries(segmentBatch(2, 2, 0x02), OwnerTag(2)))

	n, err := b.GetEntries(wire.None, 1000, func(wire.Location, uint64, []byte) error { return nil })
	require.NoError(t, err)
	require.Equal(t, 6, n)
}

func TestMemoryBackendWrongOwnerRejected(t *testing.T) {
	b := NewMemoryBackend("vol1", clusterSize)
	require.NoError(t, b.Register(OwnerTag(1)))
	err := b.AddEntries(segmentBatch(1, 1, 0x01), OwnerTag(99))
	require.ErrorIs(t, err, ErrWrongOwner)
}

func TestMemoryBackendBadBatchRejected(t *testing.T) {
	b := NewMemoryBackend("vol1", clusterSize)
	require.NoError(t, b.Register(OwnerTag(1)))

	entries := segmentBatch(1, 2, 0x01)
	entries[1].Location.SegmentOffset = 5 // gap
	err := b.AddEntries(entries, OwnerTag(1))
	require.ErrorIs(t, err, ErrBadBatch)
}
