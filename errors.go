package rcu

import "errors"

var (
	// ErrGuardAlreadyReleased is returned by Guard.TryRelease when the
	// guard's single release has already happened. Release itself panics
	// on reuse instead; TryRelease is the non-panicking variant for
	// callers that cannot structurally guarantee single release.
	ErrGuardAlreadyReleased = errors.New("rcu: guard already released")

	// ErrCellClosed is returned by Close when readers are still
	// outstanding on the cell's current value, or when the cell has
	// already been closed. Write, Update and TryUpdate on a closed cell
	// panic rather than return it.
	ErrCellClosed = errors.New("rcu: cell closed or still draining")
)
