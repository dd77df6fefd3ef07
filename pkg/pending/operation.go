// Package pending tracks in-flight append operations between submission and
// harvest. It adapts the concurrency shape of KevoDB's transaction manager
// (atomic counters over a mutex-guarded active set) to the WAL orchestrator's
// pending-operation list from spec.md §3 and §9: a linear, ordered
// collection whose buffers must not move while the kernel holds pointers
// into them.
package pending

import (
	"fmt"

	"github.com/ringwal/ringwal/pkg/ioring"
)

// Stage is where an operation sits in the write -> fsync -> (verify) ->
// completed pipeline.
type Stage int

const (
	StageWriting Stage = iota
	StageSyncing
	StageVerifying
	StageCompleted
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageWriting:
		return "writing"
	case StageSyncing:
		return "syncing"
	case StageVerifying:
		return "verifying"
	case StageCompleted:
		return "completed"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Operation is one pending append: the sequence it was assigned, its three
// owned buffers (primary, secondary, and the verify buffer — unused unless
// verification is enabled), and the fsync/verify bookkeeping needed to
// decide when it is durable. Buffers are exclusively owned by the Operation
// for its entire lifetime and must stay at a stable address until Stage()
// reports StageCompleted or StageFailed and the Registry has released it.
type Operation struct {
	Sequence uint64
	Offset   int64

	PrimaryBuf   []byte
	SecondaryBuf []byte
	VerifyBuf    []byte // nil unless verification is enabled for this op

	verifyRequired  bool
	verifySubmitted bool
	verified        bool

	primaryFsyncDone   bool
	secondaryFsyncDone bool

	stage Stage
	err   error
	badOn ioring.Tag
}

// NewOperation wraps caller-allocated buffers for sequence (written at
// offset) into an Operation in StageWriting. Buffers are allocated by the
// caller, not here, because the orchestrator knows whether direct I/O
// alignment is required; verifyBuf may be nil when verification is
// disabled.
func NewOperation(sequence uint64, offset int64, primaryBuf, secondaryBuf, verifyBuf []byte) *Operation {
	return &Operation{
		Sequence:       sequence,
		Offset:         offset,
		PrimaryBuf:     primaryBuf,
		SecondaryBuf:   secondaryBuf,
		VerifyBuf:      verifyBuf,
		verifyRequired: verifyBuf != nil,
		stage:          StageWriting,
	}
}

// Stage returns the operation's current stage.
func (op *Operation) Stage() Stage { return op.stage }

// Err returns the failure reason once Stage() is StageFailed, and the tag
// whose completion carried it.
func (op *Operation) Err() (error, ioring.Tag) { return op.err, op.badOn }

// VerifyRequired reports whether this operation carries a verify buffer at
// all (Config.VerifyAfterSync was set when it was submitted).
func (op *Operation) VerifyRequired() bool { return op.verifyRequired }

// NeedsVerify reports whether this operation has reached StageVerifying
// (both fsyncs done) but no verify read has been submitted for it yet.
func (op *Operation) NeedsVerify() bool {
	return op.verifyRequired && op.stage == StageVerifying && !op.verifySubmitted
}

// MarkVerifySubmitted records that the verify read has been submitted to
// the ring, so the flush loop does not resubmit it on the next pass.
func (op *Operation) MarkVerifySubmitted() { op.verifySubmitted = true }

// Verified reports whether the verify buffer's checksum has already been
// checked against the payload written. MarkVerified records that it has.
func (op *Operation) Verified() bool  { return op.verified }
func (op *Operation) MarkVerified()   { op.verified = true }

// BothFsyncsDone reports whether both the primary and secondary fsyncs have
// completed successfully.
func (op *Operation) BothFsyncsDone() bool {
	return op.primaryFsyncDone && op.secondaryFsyncDone
}

// MarkWriteDone handles a successful write completion. Per spec.md §4.2,
// writes never change stage — the linked fsync is still in flight.
func (op *Operation) MarkWriteDone(tag ioring.Tag) {
	// Intentionally a no-op; kept as a named transition for symmetry with
	// MarkFsyncDone/MarkVerifyDone and to make the state machine legible at
	// the call site in ioring.ProcessCompletions.
}

// MarkFsyncDone records a successful fsync completion for the file tag
// identifies, and advances stage to StageSyncing while any fsync is
// outstanding, or to StageVerifying/StageCompleted once both are done,
// depending on whether verification is required.
func (op *Operation) MarkFsyncDone(tag ioring.Tag) {
	if op.stage == StageFailed {
		return
	}

	switch tag {
	case ioring.PrimaryFsync:
		op.primaryFsyncDone = true
	case ioring.SecondaryFsync:
		op.secondaryFsyncDone = true
	default:
		return
	}

	if !op.BothFsyncsDone() {
		op.stage = StageSyncing
		return
	}

	if op.verifyRequired {
		op.stage = StageVerifying
	} else {
		op.stage = StageCompleted
	}
}

// MarkVerifyDone records a successful verify-read completion. Any verify
// tag completes the operation outright: ringwal submits a single verify
// read per operation (reusing the one shared verify buffer spec.md §3
// allocates), so there is exactly one verify completion to wait for.
func (op *Operation) MarkVerifyDone(tag ioring.Tag) {
	if op.stage == StageFailed {
		return
	}
	op.stage = StageCompleted
}

// Fail marks the operation failed because the completion for tag carried a
// negative result. Per spec.md §5, a failed operation poisons the WAL; the
// caller's remedy is close-and-reopen.
func (op *Operation) Fail(tag ioring.Tag, errno error) {
	if op.stage == StageFailed {
		return
	}
	op.stage = StageFailed
	op.err = errno
	op.badOn = tag
}

// String renders the operation's sequence and stage for diagnostics.
func (op *Operation) String() string {
	return fmt.Sprintf("pending.Operation{seq=%d stage=%s}", op.Sequence, op.stage)
}
