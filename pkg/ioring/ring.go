//go:build linux

// Package ioring is the asynchronous I/O engine (C2): it submits
// write->fsync chains and optional verify reads on a Linux io_uring
// submission/completion ring, via github.com/pawelgaczynski/giouring, and
// demultiplexes completions back to callers by the sequence encoded in
// user_data.
package ioring

import (
	"errors"
	"fmt"

	"github.com/pawelgaczynski/giouring"
)

// ErrRingFull is returned when a submission needs more free submission
// queue entries than the ring currently has.
var ErrRingFull = errors.New("ioring: insufficient free submission slots")

// ErrUnknownSequence marks a protocol violation: a completion arrived for a
// sequence no pending operation is tracking. The caller treats this as
// fatal, per spec.md §7.
type ErrUnknownSequence struct {
	Sequence uint64
	Tag      Tag
}

func (e *ErrUnknownSequence) Error() string {
	return fmt.Sprintf("ioring: completion for untracked sequence %d (tag %s)", e.Sequence, e.Tag)
}

// Ring wraps a giouring.Ring with the write->fsync chain and verify-read
// submission shapes ringwal needs. It is not safe for concurrent use; a WAL
// instance owns exactly one Ring, matching the single-writer model in
// spec.md §5.
type Ring struct {
	ring *giouring.Ring
}

// NewRing creates a ring with the given submission queue depth (typically
// 64-256, per spec.md §4.4).
func NewRing(entries uint32) (*Ring, error) {
	r, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, fmt.Errorf("ioring: create ring: %w", err)
	}
	return &Ring{ring: r}, nil
}

// Close tears down the ring. Callers must have drained all in-flight
// completions first; Close does not cancel outstanding operations.
func (r *Ring) Close() error {
	r.ring.QueueExit()
	return nil
}

// SubmitWriteChain reserves two adjacent submission entries: a pwrite of
// buf at offset carrying writeTag's user_data with IO_LINK set, followed by
// an fsync of fd carrying fsyncTag's user_data with no link. The kernel
// will not start the fsync until the write completes successfully; a
// failed write cancels the fsync, which surfaces its own failure
// completion. Fails with ErrRingFull if fewer than two submission slots
// are free; it never partially reserves one of the two entries.
func (r *Ring) SubmitWriteChain(fd int, buf []byte, offset int64, sequence uint64, writeTag, fsyncTag Tag) error {
	if sequence > MaxSequence {
		return fmt.Errorf("ioring: sequence %d exceeds 56-bit limit", sequence)
	}
	if r.ring.SQSpaceLeft() < 2 {
		return ErrRingFull
	}

	writeSQE := r.ring.GetSQE()
	if writeSQE == nil {
		return ErrRingFull
	}
	writeSQE.PrepWrite(int32(fd), buf, uint64(offset))
	writeSQE.UserData = UserData(sequence, writeTag)
	writeSQE.Flags |= giouring.SqeIOLinkFlag

	fsyncSQE := r.ring.GetSQE()
	if fsyncSQE == nil {
		// The space check above makes this unreachable in practice, but
		// leaving a half-submitted link in the ring would be worse than a
		// defensive error here.
		return ErrRingFull
	}
	fsyncSQE.PrepFsync(int32(fd), 0)
	fsyncSQE.UserData = UserData(sequence, fsyncTag)

	return nil
}

// SubmitVerifyRead reserves a single pread entry reading length bytes from
// fd at offset into buf.
func (r *Ring) SubmitVerifyRead(fd int, buf []byte, offset int64, sequence uint64, tag Tag) error {
	if sequence > MaxSequence {
		return fmt.Errorf("ioring: sequence %d exceeds 56-bit limit", sequence)
	}
	if r.ring.SQSpaceLeft() < 1 {
		return ErrRingFull
	}

	sqe := r.ring.GetSQE()
	if sqe == nil {
		return ErrRingFull
	}
	sqe.PrepRead(int32(fd), buf, uint64(offset))
	sqe.UserData = UserData(sequence, tag)

	return nil
}

// Submit hands queued submissions to the kernel without waiting for any
// completions.
func (r *Ring) Submit() (uint, error) {
	n, err := r.ring.Submit()
	if err != nil {
		return 0, fmt.Errorf("ioring: submit: %w", err)
	}
	return uint(n), nil
}

// SubmitAndWait hands queued submissions to the kernel and blocks until at
// least waitNr completions are ready. On EINTR it retries, matching
// spec.md §4.4's flush loop contract.
func (r *Ring) SubmitAndWait(waitNr uint32) (uint, error) {
	for {
		n, err := r.ring.SubmitAndWait(waitNr)
		if err != nil {
			if errors.Is(err, giouring.ErrInterruptedSyscall) {
				continue
			}
			return 0, fmt.Errorf("ioring: submit and wait: %w", err)
		}
		return uint(n), nil
	}
}

// Completion is a decoded completion queue entry: the sequence and tag
// recovered from user_data, and the raw result (negative on failure, an
// errno negated per io_uring convention).
type Completion struct {
	Sequence uint64
	Tag      Tag
	Res      int32
}

// Failed reports whether the completion carries a negative result.
func (c Completion) Failed() bool { return c.Res < 0 }

// DrainCompletions pulls every completion currently ready on the ring's
// completion queue without blocking, decoding each one's user_data.
func (r *Ring) DrainCompletions() ([]Completion, error) {
	var out []Completion
	for {
		cqe, err := r.ring.PeekCQE()
		if err != nil {
			if errors.Is(err, giouring.ErrCQEsNone) {
				break
			}
			return out, fmt.Errorf("ioring: peek completion: %w", err)
		}
		if cqe == nil {
			break
		}

		sequence, tag := DecodeUserData(cqe.UserData)
		out = append(out, Completion{Sequence: sequence, Tag: tag, Res: cqe.Res})
		r.ring.CQESeen(cqe)
	}
	return out, nil
}

// PendingLocator resolves a sequence to the operation tracking it. It is
// implemented by pkg/pending's Registry; keeping the interface here, on the
// consuming side, avoids ioring depending on pending's concrete types.
type PendingLocator interface {
	Find(sequence uint64) (Operation, bool)
}

// Operation is the subset of pkg/pending's Operation that ProcessCompletions
// needs to drive the stage machine described in spec.md §4.2.
type Operation interface {
	MarkWriteDone(tag Tag)
	MarkFsyncDone(tag Tag)
	MarkVerifyDone(tag Tag)
	Fail(tag Tag, errno error)
}

// ProcessCompletions drains every ready completion and updates the
// corresponding pending operation. A completion for a sequence with no
// tracked operation is a protocol violation and returns *ErrUnknownSequence
// immediately, per spec.md §7 ("UnknownSequence ... aborts").
func (r *Ring) ProcessCompletions(ops PendingLocator) error {
	completions, err := r.DrainCompletions()
	if err != nil {
		return err
	}

	for _, c := range completions {
		op, ok := ops.Find(c.Sequence)
		if !ok {
			return &ErrUnknownSequence{Sequence: c.Sequence, Tag: c.Tag}
		}

		if c.Failed() {
			op.Fail(c.Tag, errnoFromResult(c.Res))
			continue
		}

		switch {
		case c.Tag.IsWrite():
			op.MarkWriteDone(c.Tag)
		case c.Tag.IsFsync():
			op.MarkFsyncDone(c.Tag)
		case c.Tag.IsVerify():
			op.MarkVerifyDone(c.Tag)
		}
	}

	return nil
}
