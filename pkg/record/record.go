// Package record implements the on-disk framing for ringwal: encoding a
// (sequence, payload) pair into a 512-byte-aligned buffer, decoding the
// header back out of an arbitrary buffer, and computing the CRC-32C that
// binds sequence, length, and payload together.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"unsafe"
)

const (
	// Magic identifies a ringwal record header. "WALR" read little-endian.
	Magic uint32 = 0x57414C52

	// HeaderSize is the fixed size of the on-disk header, in bytes.
	HeaderSize = 20

	// Alignment is the padded-size boundary records are rounded up to; it
	// doubles as the minimum direct-I/O block size ringwal assumes.
	Alignment = 512

	// MaxPayloadSize is the largest payload encode accepts: 2^32 - 1 minus
	// the header size, so length always fits the 32-bit length field.
	MaxPayloadSize = (1<<32 - 1) - HeaderSize
)

var (
	// ErrInvalidSequence is returned by encode/decode when sequence is zero.
	ErrInvalidSequence = errors.New("record: sequence must be non-zero")
	// ErrPayloadTooLarge is returned by encode when payload exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("record: payload exceeds maximum size")
	// ErrBufferTooSmall is returned by decode when buffer is shorter than HeaderSize.
	ErrBufferTooSmall = errors.New("record: buffer smaller than header")
	// ErrInvalidMagic is returned by decode when the magic field doesn't match.
	ErrInvalidMagic = errors.New("record: invalid magic")
	// ErrInvalidLength is returned by decode when header.length overruns the buffer.
	ErrInvalidLength = errors.New("record: length field overruns buffer")
)

// Record is a decoded view over an on-disk buffer: the header fields plus a
// borrow of the payload bytes within the input buffer. It does not own its
// memory and must not outlive the buffer it was decoded from.
type Record struct {
	Sequence uint64
	Length   uint32
	Checksum uint32
	Payload  []byte
}

// PaddedSize returns the on-disk size of a record holding a payload of the
// given length: the header plus payload, rounded up to Alignment.
func PaddedSize(payloadLen int) int {
	total := HeaderSize + payloadLen
	if total%Alignment == 0 {
		return total
	}
	return ((total / Alignment) + 1) * Alignment
}

// Checksum computes the CRC-32C (Castagnoli) of sequence-LE(8) || length-LE(4) || payload.
func Checksum(sequence uint64, length uint32, payload []byte) uint32 {
	h := crc32.New(castagnoliTable)
	var hdr [12]byte
	binary.LittleEndian.PutUint64(hdr[0:8], sequence)
	binary.LittleEndian.PutUint32(hdr[8:12], length)
	h.Write(hdr[:])
	h.Write(payload)
	return h.Sum32()
}

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// Encode frames sequence and payload into a freshly allocated buffer of
// PaddedSize(len(payload)) bytes whose address is a multiple of Alignment:
// header filled in little-endian, payload copied, tail zero-padded.
// The caller may pass the returned buffer directly to direct I/O.
func Encode(sequence uint64, payload []byte) ([]byte, error) {
	if sequence == 0 {
		return nil, ErrInvalidSequence
	}
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	size := PaddedSize(len(payload))
	raw := make([]byte, size+Alignment)
	off := 0
	if rem := int(uintptr(unsafe.Pointer(&raw[0])) % Alignment); rem != 0 {
		off = Alignment - rem
	}
	buf := raw[off : off+size : off+size]
	if err := EncodeInto(buf, sequence, payload); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeInto is Encode's buffer-reuse counterpart: it frames sequence and
// payload into buf, which must be exactly PaddedSize(len(payload)) bytes.
// Callers that need aligned memory for direct I/O allocate buf themselves
// and encode into it directly, skipping the extra allocation and copy
// Encode's fresh-buffer shape would otherwise require.
func EncodeInto(buf []byte, sequence uint64, payload []byte) error {
	if sequence == 0 {
		return ErrInvalidSequence
	}
	if len(payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	want := PaddedSize(len(payload))
	if len(buf) != want {
		return fmt.Errorf("record: buffer is %d bytes, want %d", len(buf), want)
	}

	length := uint32(len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint64(buf[4:12], sequence)
	binary.LittleEndian.PutUint32(buf[12:16], length)
	checksum := Checksum(sequence, length, payload)
	binary.LittleEndian.PutUint32(buf[16:20], checksum)
	copy(buf[HeaderSize:HeaderSize+len(payload)], payload)
	for i := HeaderSize + len(payload); i < len(buf); i++ {
		buf[i] = 0
	}

	return nil
}

// Decode parses a header out of buf and returns a view borrowing buf's
// payload bytes. It validates magic, sequence, and length in that order and
// never reads past len(buf); it does not verify the checksum — call
// VerifyChecksum or use pkg/verify for that.
func Decode(buf []byte) (Record, error) {
	if len(buf) < HeaderSize {
		return Record{}, ErrBufferTooSmall
	}

	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != Magic {
		return Record{}, ErrInvalidMagic
	}

	sequence := binary.LittleEndian.Uint64(buf[4:12])
	if sequence == 0 {
		return Record{}, ErrInvalidSequence
	}

	length := binary.LittleEndian.Uint32(buf[12:16])
	checksum := binary.LittleEndian.Uint32(buf[16:20])

	end := HeaderSize + uint64(length)
	if end > uint64(len(buf)) {
		return Record{}, ErrInvalidLength
	}

	return Record{
		Sequence: sequence,
		Length:   length,
		Checksum: checksum,
		Payload:  buf[HeaderSize:end],
	}, nil
}

// VerifyChecksum recomputes the CRC-32C over r's fields and compares it
// against r.Checksum.
func (r Record) VerifyChecksum() bool {
	return Checksum(r.Sequence, r.Length, r.Payload) == r.Checksum
}

// String renders a record for diagnostics; payload is summarized by length
// to avoid dumping arbitrary binary data into logs.
func (r Record) String() string {
	return fmt.Sprintf("record{seq=%d len=%d checksum=%08x}", r.Sequence, r.Length, r.Checksum)
}
