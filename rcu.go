// Package rcu implements a read-copy-update cell: a concurrent container
// holding a single heap-allocated value of arbitrary type T, optimized for
// many concurrent readers and occasional writers.
//
// Readers call Read to obtain a Guard that observes the value latest at the
// moment of acquisition; the guard must be released, exactly once, for a
// writer that has since displaced that value to make progress. Writers call
// Write to install a new value unconditionally, or Update to install a new
// value computed from the current one. Both block until the value they
// displace has been released by every guard that observed it, but neither
// ever blocks a concurrent Read.
package rcu

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// Cell is an RCU cell holding a single value of type T.
type Cell[T any] struct {
	// latest names the value every new Read observes.
	latest *taggedWord[T]
	// toClear is the single hand-off slot a displaced value occupies
	// while its readers drain.
	toClear *taggedWord[T]
	// emptySlot is the canonical "no retiring value" sentinel shared by
	// every toClear transition, so CAS by pointer identity works.
	emptySlot *slot[T]

	// writerExclusion serializes Update against other Updates (exclusive
	// side) and against Write's read of the value it swaps out from
	// under a concurrent Update's read-modify-write (shared side).
	writerExclusion sync.RWMutex

	closed atomic.Bool
}

// New creates a cell holding value.
func New[T any](value T) *Cell[T] {
	v := value
	c := &Cell[T]{emptySlot: newEmptySlot[T]()}
	c.latest = newTaggedWord[T](&slot[T]{value: &v})
	c.toClear = newTaggedWord[T](c.emptySlot)
	return c
}

// Read returns a guard observing the value that is latest at the moment of
// this call. Read takes no lock and never fails, but it is not wait-free:
// it retries its compare-and-swap on latest until no concurrent Read,
// Release or swap changes the word in between, and each attempt allocates
// a new slot; a successful Read also allocates the Guard.
func (c *Cell[T]) Read() *Guard[T] {
	for {
		observed, ok := c.latest.tryIncrement()
		if ok {
			return &Guard[T]{capturedPtr: observed.value, cell: c}
		}
		runtime.Gosched()
	}
}

// Write installs value unconditionally, without consulting the value it
// displaces. It blocks until every guard that observed the displaced value
// has released it, but it never blocks a concurrent Read.
func (c *Cell[T]) Write(value T) {
	c.checkNotClosed()

	v := value
	newSlot := &slot[T]{value: &v}

	c.writerExclusion.RLock()
	old := c.latest.swap(newSlot)
	c.writerExclusion.RUnlock()

	c.reclaim(old)
}

// Update replaces the cell's value with f(current). It is serialized
// against other Updates and against the displacement performed by a
// concurrent Write, so f always observes a value that has not already been
// (or concurrently being) displaced out from under it.
func (c *Cell[T]) Update(f func(old T) T) {
	c.checkNotClosed()

	c.writerExclusion.Lock()
	cur := c.latest.load()
	v := f(*cur.value)
	old := c.latest.swap(&slot[T]{value: &v})
	c.writerExclusion.Unlock()

	c.reclaim(old)
}

// TryUpdate is Update for an f that can itself fail. If f returns an error,
// the cell is left unchanged and the error is returned wrapped; no swap or
// reclamation occurs.
func (c *Cell[T]) TryUpdate(f func(old T) (T, error)) error {
	c.checkNotClosed()

	c.writerExclusion.Lock()
	cur := c.latest.load()
	v, err := f(*cur.value)
	if err != nil {
		c.writerExclusion.Unlock()
		return fmt.Errorf("rcu: update function failed: %w", err)
	}
	old := c.latest.swap(&slot[T]{value: &v})
	c.writerExclusion.Unlock()

	c.reclaim(old)
	return nil
}

// Close marks the cell closed and makes its current value eligible for
// collection. It returns ErrCellClosed without effect if a reader still
// holds the current value, or if the cell is already closed. Close does not
// defend against a guard being acquired concurrently with a racing Close
// call; like the guard-outliving-cell case, that is a programmer error the
// lifetime discipline around Guard is responsible for preventing.
func (c *Cell[T]) Close() error {
	if c.latest.load().count != 0 {
		return ErrCellClosed
	}
	if !c.closed.CompareAndSwap(false, true) {
		return ErrCellClosed
	}
	return nil
}

// reclaim retires the slot a swap has just displaced from latest. If no
// guard still holds it, it is simply dropped. Otherwise it is handed off
// to toClear, where it waits for the remaining guards to release it before
// being dropped in turn.
func (c *Cell[T]) reclaim(old *slot[T]) {
	if old.count == 0 {
		return
	}

	for !c.toClear.cas(c.emptySlot, old) {
		for !c.toClear.load().empty() {
			runtime.Gosched()
		}
	}

	for c.toClear.load().count != 0 {
		runtime.Gosched()
	}

	c.toClear.store(c.emptySlot)
}

func (c *Cell[T]) checkNotClosed() {
	if c.closed.Load() {
		panic("rcu: use of cell after Close")
	}
}
