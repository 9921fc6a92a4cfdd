package backend

// Config configures a backend at creation time. Segment.InitialIndexEntries
// sizes the gommap index preallocated per segment (internal/store.Index);
// it is an implementation detail for the file variant, not a DTL wire
// or correctness concern — Grow extends it transparently if a segment
// outgrows it.
type Config struct {
	ClusterSize uint32
	Segment     SegmentConfig
}

// SegmentConfig holds file-backend-only tuning knobs, named after the
// teacher's Config.Segment (lipandr-go-microsrv-distib-log/internal/log),
// generalized from byte-capacity thresholds (the teacher auto-rolls
// segments by size) to entry-capacity preallocation (DTL segments roll
// over on the caller's own segment_number boundaries, not by size).
type SegmentConfig struct {
	InitialIndexEntries uint64
}

// DefaultSegmentConfig returns sane defaults for production use.
func DefaultSegmentConfig() SegmentConfig {
	return SegmentConfig{InitialIndexEntries: 4096}
}
