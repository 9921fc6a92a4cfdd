package wire

import "errors"

// ErrShortLocation is returned when a ClusterLocation cannot be decoded
// from fewer than 8 bytes.
var ErrShortLocation = errors.New("wire: short cluster location")

// Entry is the unit the log stores and replays: a cluster location, the
// logical block address it was written at, and its payload. len(Data)
// equals the volume's cluster size for every entry in a given log.
type Entry struct {
	Location Location
	LBA      uint64
	Data     []byte
}

// SegmentOf is a convenience accessor returning the entry's segment
// number, used when validating that a batch shares one segment.
func (e Entry) SegmentOf() uint32 {
	return e.Location.SegmentNumber
}
