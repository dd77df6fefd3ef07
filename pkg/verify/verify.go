// Package verify implements the post-fsync and post-recovery verification
// protocol (C3): given a buffer read back from disk and the sequence that
// was expected at that offset, classify the outcome.
package verify

import "github.com/ringwal/ringwal/pkg/record"

// Outcome is the tri-state result of verifying a buffer against an expected
// sequence: the bytes are durable and correct, the payload checksum doesn't
// match (the structure was sound, the content wasn't), or the buffer is
// structurally unreadable (torn header, wrong sector, short read).
type Outcome int

const (
	// Success means the buffer decodes, matches expected_sequence, and its
	// checksum verifies.
	Success Outcome = iota
	// ChecksumMismatch means the buffer decodes and matches expected_sequence
	// but the payload checksum does not verify. Remediation is to fetch the
	// other copy (primary vs. secondary).
	ChecksumMismatch
	// IOError collapses every structural failure: buffer too small, bad
	// magic, sequence mismatch, or a length field that overruns the buffer.
	// The caller cannot distinguish a torn header from a wrong sector, so
	// these are not reported separately.
	IOError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case ChecksumMismatch:
		return "checksum_mismatch"
	case IOError:
		return "io_error"
	default:
		return "unknown"
	}
}

// Result is the outcome of Verify plus supporting detail for
// ChecksumMismatch, where the caller wants to know what was expected versus
// what a corrupted read actually produced.
type Result struct {
	Outcome          Outcome
	Record           record.Record // valid only when Outcome == Success
	ExpectedSequence uint64
	ActualSequence   uint64 // set for ChecksumMismatch, and for an IOError caused by a sequence mismatch
}

// Verify checks buf against expectedSequence in the order spec.md §4.3
// mandates: buffer large enough for the header, magic and framing valid via
// record.Decode, header sequence equal to expectedSequence, then the
// checksum. Any structural failure in the first three checks collapses to
// IOError; only a sound-but-wrong-content record reports ChecksumMismatch.
func Verify(buf []byte, expectedSequence uint64) Result {
	rec, err := record.Decode(buf)
	if err != nil {
		return Result{Outcome: IOError, ExpectedSequence: expectedSequence}
	}

	if rec.Sequence != expectedSequence {
		return Result{
			Outcome:          IOError,
			ExpectedSequence: expectedSequence,
			ActualSequence:   rec.Sequence,
		}
	}

	if !rec.VerifyChecksum() {
		return Result{
			Outcome:          ChecksumMismatch,
			Record:           rec,
			ExpectedSequence: expectedSequence,
			ActualSequence:   rec.Sequence,
		}
	}

	return Result{Outcome: Success, Record: rec, ExpectedSequence: expectedSequence}
}
