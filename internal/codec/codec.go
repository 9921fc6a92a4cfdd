// Package codec implements the DTL's framed stream codec: the only
// layer that touches the socket. See spec.md §4.1 and §6.
//
// Messages are a sequence of primitive fields. Within a "cork" framing
// boundary, fields written by the sender accumulate in memory and are
// flushed as one length-prefixed network write; the receiver reads the
// length prefix once (GetCork) and then satisfies field reads from
// that buffered frame, avoiding a syscall per field.
package codec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/openvstorage/dtl/internal/wire"
)

// Errors returned by the codec. A transport or protocol-shape error
// always aborts the current request; the caller tears down the
// connection.
var (
	ErrProtocolViolation = errors.New("codec: protocol violation")
	ErrFieldTooLarge     = errors.New("codec: field exceeds maximum size")
	ErrNotCorked         = errors.New("codec: read attempted outside a cork frame")
)

// maxFieldBytes bounds any single string/byte-array field, guarding
// against a corrupt or hostile length prefix turning into an
// out-of-memory allocation.
const maxFieldBytes = 64 << 20 // 64MiB, comfortably above the largest cluster size in practice

// Codec wraps a single stream connection (TCP in practice; the
// interface is satisfied by anything providing net.Conn's Read/Write/
// SetDeadline) with the cork framing and primitive field codec.
type Codec struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration // peer's advertised max idle time between messages

	writeBuf []byte // accumulates fields between Cork/Uncork
	corking  bool

	readBuf    []byte // the current received cork frame
	readOffset int
	corked     bool
}

// New wraps conn with the DTL framed codec.
func New(conn net.Conn) *Codec {
	return &Codec{
		conn: conn,
		r:    bufio.NewReader(conn),
	}
}

// SetRequestTimeout sets this codec's idle timeout: every subsequent
// frame read (GetCork) or write (Uncork) first refreshes the underlying
// connection deadline by this duration. Takes effect immediately. The
// value is local to this codec; nothing is sent to the peer, so the
// peer's own deadlines are not affected.
func (c *Codec) SetRequestTimeout(seconds uint32) {
	c.timeout = time.Duration(seconds) * time.Second
}

func (c *Codec) refreshDeadline() {
	if c.timeout <= 0 {
		return
	}
	_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
}

// Close shuts down the underlying transport.
func (c *Codec) Close() error {
	return c.conn.Close()
}

// Cork starts a framing boundary: subsequent field writes accumulate
// in memory instead of going straight to the socket.
func (c *Codec) Cork() {
	c.corking = true
	c.writeBuf = c.writeBuf[:0]
}

// Uncork flushes the accumulated fields as one length-prefixed network
// write: a u32 byte count followed by the fields themselves.
func (c *Codec) Uncork() error {
	if !c.corking {
		return nil
	}
	c.corking = false
	c.refreshDeadline()

	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(c.writeBuf)))
	if _, err := c.conn.Write(prefix[:]); err != nil {
		return fmt.Errorf("codec: write cork prefix: %w", err)
	}
	if len(c.writeBuf) > 0 {
		if _, err := c.conn.Write(c.writeBuf); err != nil {
			return fmt.Errorf("codec: write cork body: %w", err)
		}
	}
	c.writeBuf = c.writeBuf[:0]
	return nil
}

func (c *Codec) appendOut(b []byte) {
	c.writeBuf = append(c.writeBuf, b...)
}

// GetCork reads the next frame's length prefix and buffers that many
// bytes; subsequent field reads are satisfied from this buffer until
// it is exhausted.
func (c *Codec) GetCork() error {
	c.refreshDeadline()
	var prefix [4]byte
	if _, err := io.ReadFull(c.r, prefix[:]); err != nil {
		return fmt.Errorf("codec: read cork prefix: %w", err)
	}
	n := binary.LittleEndian.Uint32(prefix[:])
	if n > maxFieldBytes {
		return fmt.Errorf("%w: cork frame size %d", ErrFieldTooLarge, n)
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(c.r, buf); err != nil {
			return fmt.Errorf("codec: read cork body: %w", err)
		}
	}
	c.readBuf = buf
	c.readOffset = 0
	c.corked = true
	return nil
}

func (c *Codec) nextIn(n int) ([]byte, error) {
	if !c.corked {
		return nil, ErrNotCorked
	}
	if c.readOffset+n > len(c.readBuf) {
		return nil, fmt.Errorf("%w: short read, wanted %d have %d", ErrProtocolViolation, n, len(c.readBuf)-c.readOffset)
	}
	b := c.readBuf[c.readOffset : c.readOffset+n]
	c.readOffset += n
	return b, nil
}

// WriteUint8 writes a u8 field.
func (c *Codec) WriteUint8(v uint8) { c.appendOut([]byte{v}) }

// ReadUint8 reads a u8 field.
func (c *Codec) ReadUint8() (uint8, error) {
	b, err := c.nextIn(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// WriteBool writes a bool field, encoded as a u8 (0/1).
func (c *Codec) WriteBool(v bool) {
	if v {
		c.WriteUint8(1)
	} else {
		c.WriteUint8(0)
	}
}

// ReadBool reads a bool field.
func (c *Codec) ReadBool() (bool, error) {
	v, err := c.ReadUint8()
	return v != 0, err
}

// WriteUint16 writes a u16 field, little-endian.
func (c *Codec) WriteUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	c.appendOut(b[:])
}

// ReadUint16 reads a u16 field, little-endian.
func (c *Codec) ReadUint16() (uint16, error) {
	b, err := c.nextIn(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// WriteUint32 writes a u32 field, little-endian.
func (c *Codec) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	c.appendOut(b[:])
}

// ReadUint32 reads a u32 field, little-endian.
func (c *Codec) ReadUint32() (uint32, error) {
	b, err := c.nextIn(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// WriteUint64 writes a u64 field, little-endian.
func (c *Codec) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	c.appendOut(b[:])
}

// ReadUint64 reads a u64 field, little-endian.
func (c *Codec) ReadUint64() (uint64, error) {
	b, err := c.nextIn(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// WriteFloat64 writes an f64 field via decimal textual round trip (the
// field is transmitted as a string field holding its shortest exact
// decimal representation).
func (c *Codec) WriteFloat64(v float64) {
	c.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
}

// ReadFloat64 reads an f64 field written by WriteFloat64.
func (c *Codec) ReadFloat64() (float64, error) {
	s, err := c.ReadString()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed float64 field: %v", ErrProtocolViolation, err)
	}
	return v, nil
}

// WriteFloat32 writes an f32 field via decimal textual round trip.
func (c *Codec) WriteFloat32(v float32) {
	c.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
}

// ReadFloat32 reads an f32 field written by WriteFloat32.
func (c *Codec) ReadFloat32() (float32, error) {
	s, err := c.ReadString()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed float32 field: %v", ErrProtocolViolation, err)
	}
	return float32(v), nil
}

// WriteString writes a string field: an i64 length prefix followed by
// raw bytes. 0 encodes empty. Use WriteNilString for the -1/nil
// sentinel.
func (c *Codec) WriteString(s string) {
	c.writeLenPrefixed(int64(len(s)), []byte(s))
}

// WriteNilString writes the -1/nil sentinel for an absent string
// field.
func (c *Codec) WriteNilString() {
	c.writeLenPrefixed(-1, nil)
}

// ReadString reads a string field; the wire -1 sentinel reads as the
// empty string, the same as a zero-length string.
func (c *Codec) ReadString() (string, error) {
	b, err := c.readLenPrefixed()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteBytes writes a byte-array field: an i64 length prefix followed
// by raw bytes. -1 encodes nil.
func (c *Codec) WriteBytes(b []byte) {
	if b == nil {
		c.writeLenPrefixed(-1, nil)
		return
	}
	c.writeLenPrefixed(int64(len(b)), b)
}

// ReadBytes reads a byte-array field.
func (c *Codec) ReadBytes() ([]byte, error) {
	return c.readLenPrefixed()
}

func (c *Codec) writeLenPrefixed(n int64, b []byte) {
	var lb [8]byte
	binary.LittleEndian.PutUint64(lb[:], uint64(n))
	c.appendOut(lb[:])
	if n > 0 {
		c.appendOut(b)
	}
}

func (c *Codec) readLenPrefixed() ([]byte, error) {
	lb, err := c.nextIn(8)
	if err != nil {
		return nil, err
	}
	n := int64(binary.LittleEndian.Uint64(lb))
	if n == -1 {
		return nil, nil
	}
	if n < -1 {
		return nil, fmt.Errorf("%w: negative field length %d", ErrProtocolViolation, n)
	}
	if n > maxFieldBytes {
		return nil, fmt.Errorf("%w: field length %d", ErrFieldTooLarge, n)
	}
	if n == 0 {
		return []byte{}, nil
	}
	b, err := c.nextIn(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// WriteLocation writes a ClusterLocation as its 8 raw bytes.
func (c *Codec) WriteLocation(l wire.Location) {
	c.appendOut(l.MarshalBinary())
}

// ReadLocation reads a ClusterLocation from its 8 raw bytes.
func (c *Codec) ReadLocation() (wire.Location, error) {
	b, err := c.nextIn(8)
	if err != nil {
		return wire.Location{}, err
	}
	return wire.UnmarshalLocation(b)
}

// WriteOpcode writes a u32 opcode field.
func (c *Codec) WriteOpcode(op uint32) { c.WriteUint32(op) }

// ReadOpcode reads a u32 opcode field.
func (c *Codec) ReadOpcode() (uint32, error) { return c.ReadUint32() }
