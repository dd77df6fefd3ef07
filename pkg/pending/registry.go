package pending

import (
	"sync"
	"sync/atomic"
)

// Registry is the WAL orchestrator's pending-operation list: a small,
// ordered collection of in-flight appends, mutated only by Push (append)
// and DrainCompleted (flush), matching spec.md §5's shared-resource policy.
//
// Its counters mirror KevoDB's transaction.Manager (atomic.Uint64 fields
// read outside the lock for cheap progress reporting, the active set itself
// guarded by a mutex) adapted from transaction lifecycle accounting to
// append-operation accounting: Stats() lets a caller watch flush progress or
// detect poisoning without taking the registry's lock.
type Registry struct {
	mu  sync.Mutex
	ops []*Operation // ordered by submission; may be removed out of order

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Push adds op to the end of the pending list. Called only by append while
// the WAL's single-writer section is held.
func (r *Registry) Push(op *Operation) {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
	r.submitted.Add(1)
}

// Find locates the operation tracking sequence. Linear search is
// appropriate: the pending list holds at most the ring's queue depth worth
// of entries, per spec.md §9.
func (r *Registry) Find(sequence uint64) (*Operation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, op := range r.ops {
		if op.Sequence == sequence {
			return op, true
		}
	}
	return nil, false
}

// Len reports how many operations are still pending.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops)
}

// Snapshot returns a copy of the pending operations in submission order;
// later Push or DrainCompleted calls do not change the returned slice.
func (r *Registry) Snapshot() []*Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Operation, len(r.ops))
	copy(out, r.ops)
	return out
}

// DrainCompleted removes every operation whose stage is StageCompleted from
// the pending list (releasing it for GC) and returns how many were removed.
// It stops at the first StageFailed operation it finds and returns that
// operation, without removing anything from that point on — flush surfaces
// OperationFailed and the caller decides how to unwind.
func (r *Registry) DrainCompleted() (removed int, failedOp *Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	remaining := r.ops[:0]
	for i, op := range r.ops {
		switch op.Stage() {
		case StageCompleted:
			removed++
			r.completed.Add(1)
		case StageFailed:
			r.failed.Add(1)
			r.ops = append(remaining, r.ops[i:]...)
			return removed, op
		default:
			remaining = append(remaining, op)
		}
	}
	r.ops = remaining
	return removed, nil
}

// Stats reports cumulative submitted/completed/failed counts for the
// Registry's lifetime, independent of how many operations are currently
// pending.
type Stats struct {
	Submitted uint64
	Completed uint64
	Failed    uint64
}

// Stats returns a snapshot of the cumulative counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Submitted: r.submitted.Load(),
		Completed: r.completed.Load(),
		Failed:    r.failed.Load(),
	}
}
