package wal

import "github.com/ringwal/ringwal/pkg/record"

// alignedBuffer returns a zeroed byte slice of exactly size bytes whose
// backing address is a multiple of record.Alignment. Go's allocator gives
// no alignment guarantee beyond what the size class happens to produce, so
// direct I/O buffers are carved out of an over-allocated backing array at
// the first aligned offset, the same trick used by user-space O_DIRECT
// buffer pools in C.
func alignedBuffer(size int) []byte {
	if size == 0 {
		return nil
	}
	raw := make([]byte, size+record.Alignment)
	offset := alignmentOffset(raw)
	aligned := raw[offset : offset+size]
	return aligned[:size:size]
}
