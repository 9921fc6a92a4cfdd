package store

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreAppendAndReadAt(t *testing.T) {
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "0000000000"))
	require.NoError(t, err)

	s, err := NewStore(f)
	require.NoError(t, err)

	var loc [8]byte
	loc[0] = 7
	rec := Record{LocationBytes: loc, LBA: 42, Data: []byte("hello world")}

	pos, err := s.Append(rec)
	require.NoError(t, err)
	require.Equal(t, uint64(0), pos)
	require.NoError(t, s.Flush())

	got, err := s.ReadAt(pos)
	require.NoError(t, err)
	require.Equal(t, rec.LocationBytes, got.LocationBytes)
	require.Equal(t, rec.LBA, got.LBA)
	require.Equal(t, rec.Data, got.Data)

	require.NoError(t, s.Close())
}

func TestStoreSizeAccumulates(t *testing.T) {
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "0000000001"))
	require.NoError(t, err)
	s, err := NewStore(f)
	require.NoError(t, err)
	defer s.Close()

	data := make([]byte, 4096)
	for i := 0; i < 3; i++ {
		_, err := s.Append(Record{LBA: uint64(i), Data: data})
		require.NoError(t, err)
	}
	require.Equal(t, uint64(3)*uint64(RecordFrameSize(4096)), s.Size())
}

func TestIndexWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "0000000000.idx"))
	require.NoError(t, err)

	idx, err := NewIndex(f, 4)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Write(0))
	require.NoError(t, idx.Write(4128))
	require.Equal(t, uint32(2), idx.NumEntries())

	pos, err := idx.Read(0)
	require.NoError(t, err)
	require.Equal(t, uint64(0), pos)

	pos, err = idx.Read(1)
	require.NoError(t, err)
	require.Equal(t, uint64(4128), pos)

	_, err = idx.Read(2)
	require.ErrorIs(t, err, io.EOF)
}

func TestIndexIsMaxedAndGrows(t *testing.T) {
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "0000000000.idx"))
	require.NoError(t, err)

	idx, err := NewIndex(f, 2)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Write(0))
	require.NoError(t, idx.Write(10))
	require.True(t, idx.IsMaxed())
	require.ErrorIs(t, idx.Write(20), io.EOF)

	require.NoError(t, idx.Grow(4))
	require.False(t, idx.IsMaxed())
	require.NoError(t, idx.Write(20))
	require.Equal(t, uint32(3), idx.NumEntries())
}
