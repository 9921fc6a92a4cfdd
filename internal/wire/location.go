// Package wire defines the on-the-wire and on-disk value types shared
// by the DTL server, backend and client packages: ClusterLocation,
// cluster entries and the opcode set.
package wire

import "encoding/binary"

// Location is a packed 8-byte identifier of one cluster within one
// segment of one volume's log: segment_number (u32), segment_offset
// (u16), version (u8, reserved, always 0) and clone_id (u8, reserved,
// always 0). The zero value is the "none / end-of-stream" sentinel.
type Location struct {
	SegmentNumber uint32
	SegmentOffset uint16
	Version       uint8
	CloneID       uint8
}

// None is the sentinel ClusterLocation(0): "none / end-of-stream".
var None = Location{}

// SCO returns the segment identifier (segment_number, 0, 0, 0) for the
// segment this location belongs to.
func (l Location) SCO() Location {
	return Location{SegmentNumber: l.SegmentNumber}
}

// IsNone reports whether l is the zero/sentinel location.
func (l Location) IsNone() bool {
	return l == None
}

// Less orders locations first by segment number, then by offset.
func (l Location) Less(other Location) bool {
	if l.SegmentNumber != other.SegmentNumber {
		return l.SegmentNumber < other.SegmentNumber
	}
	return l.SegmentOffset < other.SegmentOffset
}

// LessOrEqual reports l <= other under Less's ordering.
func (l Location) LessOrEqual(other Location) bool {
	return l == other || l.Less(other)
}

// Next returns the location immediately following l within the same
// segment (offset+1).
func (l Location) Next() Location {
	return Location{SegmentNumber: l.SegmentNumber, SegmentOffset: l.SegmentOffset + 1}
}

// NewSegment returns the first location (offset 0) of segment n.
func NewSegment(n uint32) Location {
	return Location{SegmentNumber: n}
}

// MarshalBinary encodes l as its canonical 8 raw bytes: u32 segment
// number little-endian, u16 segment offset little-endian, u8 version,
// u8 clone id.
func (l Location) MarshalBinary() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], l.SegmentNumber)
	binary.LittleEndian.PutUint16(buf[4:6], l.SegmentOffset)
	buf[6] = l.Version
	buf[7] = l.CloneID
	return buf
}

// UnmarshalLocation decodes a Location from its canonical 8 raw bytes.
func UnmarshalLocation(buf []byte) (Location, error) {
	if len(buf) != 8 {
		return Location{}, ErrShortLocation
	}
	return Location{
		SegmentNumber: binary.LittleEndian.Uint32(buf[0:4]),
		SegmentOffset: binary.LittleEndian.Uint16(buf[4:6]),
		Version:       buf[6],
		CloneID:       buf[7],
	}, nil
}
