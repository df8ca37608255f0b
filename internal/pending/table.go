// Package pending implements the per-connection pending-request
// table: a slab of waiters addressed by callback_idx, with free ids
// recycled via a stack so the hot path never allocates.
package pending

import (
	"sync"

	"github.com/nodekv/ckv/internal/proto"
)

// Waiter is handed back to the caller that acquired a callback_idx. It
// receives exactly one Result, whether or not the caller is still
// listening: the slot is freed on arrival or teardown, independent of
// whether the original caller already timed out and stopped
// waiting.
type Waiter struct {
	ch chan Result
}

// Result is what arrives on a Waiter's channel: either the decoded
// response or a terminal error (connection torn down before a
// response arrived).
type Result struct {
	Response *proto.Response
	Err      error
}

// Recv blocks for this waiter's single result.
func (w *Waiter) Recv() <-chan Result { return w.ch }

// Table is the slab of in-flight callback ids for one connection.
// Invariant: a callback_idx is present in exactly one Table at any
// instant — enforced here simply
// by each Connection owning exactly one Table and ids never crossing
// tables.
type Table struct {
	mu    sync.Mutex
	slots []*Waiter
	free  []uint64
}

// New returns an empty pending table.
func New() *Table {
	return &Table{}
}

// Acquire allocates a callback_idx, preferring a recycled id from the
// free-list stack over growing the slab.
func (t *Table) Acquire() (uint64, *Waiter) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := &Waiter{ch: make(chan Result, 1)}

	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[idx] = w
		return idx, w
	}

	idx := uint64(len(t.slots))
	t.slots = append(t.slots, w)
	return idx, w
}

// Resolve delivers resp to the waiter at idx (if any) and frees the
// slot. Returns false if idx had no live waiter — an unknown
// callback_idx is a protocol error, and the caller (internal/conn's
// read loop) is expected to treat a false return as fatal.
func (t *Table) Resolve(idx uint64, resp *proto.Response) bool {
	t.mu.Lock()
	if idx >= uint64(len(t.slots)) || t.slots[idx] == nil {
		t.mu.Unlock()
		return false
	}
	w := t.slots[idx]
	t.slots[idx] = nil
	t.free = append(t.free, idx)
	t.mu.Unlock()

	w.ch <- Result{Response: resp}
	return true
}

// DrainWithError delivers err to every still-pending waiter and frees
// every slot, for connection teardown.
func (t *Table) DrainWithError(err error) {
	t.mu.Lock()
	waiters := make([]*Waiter, 0, len(t.slots))
	for i, w := range t.slots {
		if w != nil {
			waiters = append(waiters, w)
			t.slots[i] = nil
			t.free = append(t.free, uint64(i))
		}
	}
	t.mu.Unlock()

	for _, w := range waiters {
		w.ch <- Result{Err: err}
	}
}

// Len reports the number of still-outstanding callback ids; the
// connection exposes it as PendingCount for the idle reaper.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, w := range t.slots {
		if w != nil {
			n++
		}
	}
	return n
}
