package wal

import (
	"errors"
	"fmt"

	"github.com/ringwal/ringwal/pkg/ioring"
)

// Framing errors surface straight from pkg/record: ErrInvalidSequence,
// ErrPayloadTooLarge, ErrBufferTooSmall, ErrInvalidMagic, ErrInvalidLength.
// wal does not re-declare them; callers that need to match on a specific
// framing failure import pkg/record directly.

var (
	// ErrClosed is returned by Append and Flush on a WAL after Close.
	ErrClosed = errors.New("wal: closed")

	// ErrPoisoned is returned by Append and Flush once a prior operation has
	// failed. The only remedy is Close followed by a fresh Open, which
	// re-runs recovery and resumes from the last durable sequence.
	ErrPoisoned = errors.New("wal: poisoned by a prior operation failure; close and reopen")

	// ErrOperationFailed wraps the underlying I/O error when a pending
	// operation's completion carried a negative result, or when its
	// post-fsync verification read came back short, mismatched, or
	// checksum-invalid. It also poisons the WAL. The wrapped error is one of
	// WriteFailed, FsyncFailed, ReadFailed, or ChecksumMismatch below;
	// errors.As extracts whichever one actually occurred.
	ErrOperationFailed = errors.New("wal: operation failed")

	// ErrUnknownSequence means a completion arrived for a sequence nothing
	// pending is tracking. This is a fatal protocol violation, never a
	// recoverable I/O condition, and is not expected to occur outside a bug
	// in the submission bookkeeping.
	ErrUnknownSequence = errors.New("wal: completion for untracked sequence")
)

// WriteFailed reports that a pwrite completion for Tag carried a negative
// result. Errno is the unix.Errno (or other OS error) the completion
// carried. It follows KevoDB's Err* sentinel-with-cause idiom: a typed
// wrapper a caller can pull out with errors.As instead of string-matching
// ErrOperationFailed's message.
type WriteFailed struct {
	Tag   ioring.Tag
	Errno error
}

func (e *WriteFailed) Error() string {
	return fmt.Sprintf("write failed on %s: %v", e.Tag, e.Errno)
}

func (e *WriteFailed) Unwrap() error { return e.Errno }

// FsyncFailed reports that an fsync completion for Tag carried a negative
// result.
type FsyncFailed struct {
	Tag   ioring.Tag
	Errno error
}

func (e *FsyncFailed) Error() string {
	return fmt.Sprintf("fsync failed on %s: %v", e.Tag, e.Errno)
}

func (e *FsyncFailed) Unwrap() error { return e.Errno }

// ReadFailed reports that a post-fsync verification read for Tag carried a
// negative result.
type ReadFailed struct {
	Tag   ioring.Tag
	Errno error
}

func (e *ReadFailed) Error() string {
	return fmt.Sprintf("verify read failed on %s: %v", e.Tag, e.Errno)
}

func (e *ReadFailed) Unwrap() error { return e.Errno }

// ChecksumMismatch reports that a post-fsync verification read completed
// successfully but the bytes it read back do not check out against what
// Append wrote. Unlike WriteFailed/FsyncFailed/ReadFailed there is no errno
// to unwrap: the I/O succeeded, the data didn't.
type ChecksumMismatch struct {
	Sequence uint64
}

func (e *ChecksumMismatch) Error() string {
	return fmt.Sprintf("checksum mismatch verifying sequence %d", e.Sequence)
}

// classifyFailure turns a failed pending.Operation's (tag, err) pair into
// the typed error for whichever phase of the write->fsync->verify chain
// produced it, so a caller downstream of Flush/Close can distinguish them
// with errors.As instead of inspecting ErrOperationFailed's message. A
// ChecksumMismatch passed straight through op.Fail (see advanceVerification)
// is returned as-is rather than double-wrapped as a ReadFailed.
func classifyFailure(tag ioring.Tag, err error) error {
	var mismatch *ChecksumMismatch
	if errors.As(err, &mismatch) {
		return mismatch
	}

	switch {
	case tag.IsWrite():
		return &WriteFailed{Tag: tag, Errno: err}
	case tag.IsFsync():
		return &FsyncFailed{Tag: tag, Errno: err}
	case tag.IsVerify():
		return &ReadFailed{Tag: tag, Errno: err}
	default:
		return err
	}
}
