package wal

import (
	"unsafe"

	"github.com/ringwal/ringwal/pkg/record"
)

// alignmentOffset returns how far into raw the first record.Alignment-byte
// boundary falls.
func alignmentOffset(raw []byte) int {
	addr := uintptr(unsafe.Pointer(&raw[0]))
	rem := addr % uintptr(record.Alignment)
	if rem == 0 {
		return 0
	}
	return int(uintptr(record.Alignment) - rem)
}
