//go:build linux

package ioring

import (
	"os"
	"path/filepath"
	"testing"
)

// newTestRing creates a small ring, skipping the test on kernels too old
// for io_uring (CI sandboxes and some container runtimes disable it) rather
// than failing outright.
func newTestRing(t *testing.T) *Ring {
	t.Helper()
	r, err := NewRing(16)
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

type fakeLocator struct {
	ops map[uint64]*fakeOp
}

type fakeOp struct {
	writes, fsyncs, verifies int
	failedTag                Tag
	failedErr                error
}

func (f *fakeOp) MarkWriteDone(tag Tag)  { f.writes++ }
func (f *fakeOp) MarkFsyncDone(tag Tag)  { f.fsyncs++ }
func (f *fakeOp) MarkVerifyDone(tag Tag) { f.verifies++ }
func (f *fakeOp) Fail(tag Tag, err error) {
	f.failedTag = tag
	f.failedErr = err
}

func (l fakeLocator) Find(sequence uint64) (Operation, bool) {
	op, ok := l.ops[sequence]
	if !ok {
		return nil, false
	}
	return op, true
}

func TestSubmitWriteChainAndDrainCompletions(t *testing.T) {
	r := newTestRing(t)

	path := filepath.Join(t.TempDir(), "ring.dat")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	buf := make([]byte, 512)
	copy(buf, "hello world")

	if err := r.SubmitWriteChain(int(f.Fd()), buf, 0, 1, PrimaryWrite, PrimaryFsync); err != nil {
		t.Fatalf("SubmitWriteChain: %v", err)
	}
	if _, err := r.SubmitAndWait(2); err != nil {
		t.Fatalf("SubmitAndWait: %v", err)
	}

	completions, err := r.DrainCompletions()
	if err != nil {
		t.Fatalf("DrainCompletions: %v", err)
	}
	if len(completions) != 2 {
		t.Fatalf("got %d completions, want 2", len(completions))
	}

	sawWrite, sawFsync := false, false
	for _, c := range completions {
		if c.Sequence != 1 {
			t.Errorf("completion sequence = %d, want 1", c.Sequence)
		}
		if c.Failed() {
			t.Errorf("completion %s failed with res=%d", c.Tag, c.Res)
		}
		switch c.Tag {
		case PrimaryWrite:
			sawWrite = true
		case PrimaryFsync:
			sawFsync = true
		}
	}
	if !sawWrite || !sawFsync {
		t.Fatalf("expected both write and fsync completions, got %+v", completions)
	}
}

func TestProcessCompletionsDispatchesByTag(t *testing.T) {
	r := newTestRing(t)

	path := filepath.Join(t.TempDir(), "ring.dat")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	buf := make([]byte, 512)
	if err := r.SubmitWriteChain(int(f.Fd()), buf, 0, 7, PrimaryWrite, PrimaryFsync); err != nil {
		t.Fatalf("SubmitWriteChain: %v", err)
	}
	if _, err := r.SubmitAndWait(2); err != nil {
		t.Fatalf("SubmitAndWait: %v", err)
	}

	op := &fakeOp{}
	locator := fakeLocator{ops: map[uint64]*fakeOp{7: op}}
	if err := r.ProcessCompletions(locator); err != nil {
		t.Fatalf("ProcessCompletions: %v", err)
	}

	if op.writes != 1 || op.fsyncs != 1 {
		t.Fatalf("op = %+v, want one write and one fsync completion", op)
	}
}

func TestProcessCompletionsReturnsUnknownSequence(t *testing.T) {
	r := newTestRing(t)

	path := filepath.Join(t.TempDir(), "ring.dat")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	buf := make([]byte, 512)
	if err := r.SubmitWriteChain(int(f.Fd()), buf, 0, 99, PrimaryWrite, PrimaryFsync); err != nil {
		t.Fatalf("SubmitWriteChain: %v", err)
	}
	if _, err := r.SubmitAndWait(1); err != nil {
		t.Fatalf("SubmitAndWait: %v", err)
	}

	locator := fakeLocator{ops: map[uint64]*fakeOp{}}
	err = r.ProcessCompletions(locator)
	if err == nil {
		t.Fatal("expected ProcessCompletions to report the untracked sequence")
	}
	var unknown *ErrUnknownSequence
	if !as(err, &unknown) {
		t.Fatalf("expected *ErrUnknownSequence, got %v (%T)", err, err)
	}
	if unknown.Sequence != 99 {
		t.Errorf("Sequence = %d, want 99", unknown.Sequence)
	}
}

func TestSubmitWriteChainRejectsSequenceOverflow(t *testing.T) {
	r := newTestRing(t)
	buf := make([]byte, 512)
	err := r.SubmitWriteChain(0, buf, 0, MaxSequence+1, PrimaryWrite, PrimaryFsync)
	if err == nil {
		t.Fatal("expected an error for a sequence exceeding the 56-bit limit")
	}
}

// as is a tiny errors.As wrapper kept local to avoid importing errors just
// for this one assertion helper.
func as(err error, target **ErrUnknownSequence) bool {
	u, ok := err.(*ErrUnknownSequence)
	if !ok {
		return false
	}
	*target = u
	return true
}
