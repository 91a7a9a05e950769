package rcu

import (
	"runtime"
	"sync/atomic"
)

// Guard is a borrow-scoped handle returned by Cell.Read. It dereferences to
// the value observed at acquisition time and must be released, exactly
// once, to let a writer that has since displaced that value make progress.
//
// Go has no destructors, so unlike the Rust RcuGuard this cannot release
// itself on scope exit: callers must `defer guard.Release()` themselves.
// Releasing twice is a programmer error and panics, mirroring
// readerwriter.Reader's panic-on-reuse of an already-Done reader.
type Guard[T any] struct {
	capturedPtr *T
	cell        *Cell[T]
	released    atomic.Bool
}

// Value returns the value observed at acquisition time. It remains valid
// for as long as the guard has not been released.
func (g *Guard[T]) Value() T {
	return *g.capturedPtr
}

// Release decrements the reader count this guard is holding, in whichever
// of the cell's two slots currently tracks the guard's captured pointer.
// It panics if called more than once on the same guard.
func (g *Guard[T]) Release() {
	if !g.released.CompareAndSwap(false, true) {
		panic("rcu: guard released more than once")
	}
	g.release()
}

// TryRelease is the non-panicking variant of Release, for call sites that
// cannot structurally guarantee a guard is released exactly once (for
// example, releasing from both a normal path and a deferred cleanup path).
func (g *Guard[T]) TryRelease() error {
	if !g.released.CompareAndSwap(false, true) {
		return ErrGuardAlreadyReleased
	}
	g.release()
	return nil
}

// release runs phase A, trying to decrement the guard's pointer out of
// latest; if latest no longer names that pointer, a writer has displaced
// it, and phase B spins until the displaced slot shows up in toClear
// (installed by the retiring writer's reclaim) and decrements it there
// instead.
func (g *Guard[T]) release() {
	p := g.capturedPtr

	for {
		matched, ok := g.cell.latest.tryDecrement(p)
		if !matched {
			break
		}
		if ok {
			return
		}
		runtime.Gosched()
	}

	for {
		matched, ok := g.cell.toClear.tryDecrement(p)
		if matched && ok {
			return
		}
		runtime.Gosched()
	}
}
