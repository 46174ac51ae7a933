// Package errors defines the error kinds the core surfaces to callers
// (§7 of the spec) and the internal control-flow signals that must never
// leave the tree/carry/flush subsystems. Surfaced errors are wrapped with
// github.com/pkg/errors so that diagnostics carry a stack trace and a
// chain of operation context; internal signals are compared with ==/Is
// on the hot path and never wrapped, since wrapping them would defeat the
// point of a cheap control-flow signal.
package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Surfaced error kinds. Callers of the public API may test for these with
// errors.Is; the core never lets any other sentinel below escape to a
// caller (§7 propagation policy).
var (
	// NotFound is returned when a lookup misses.
	NotFound = stderrors.New("dancingtree: not found")

	// IOError wraps a block read/write failure or a node-format check
	// failure (bad magic, bad level, offsets out of bounds, keys out of
	// order). A node that fails its format check is marked bad; callers
	// must not retry the same node.
	IOError = stderrors.New("dancingtree: io error")

	// NoSpace is returned when the block allocator is exhausted or
	// balancing cannot place an item even after allocating new nodes.
	NoSpace = stderrors.New("dancingtree: no space")

	// NoNeighbor is returned when a sibling is not reachable: either
	// absent, or not in cache and reads are disallowed.
	NoNeighbor = stderrors.New("dancingtree: no neighbor")

	// NotInCache is returned when a caller asks for an unloaded znode
	// with reads disallowed.
	NotInCache = stderrors.New("dancingtree: not in cache")
)

// Internal control-flow signals. These are consumed inside the
// tree/carry/flush subsystems (§7 propagation policy) and must never be
// returned from any exported function.
var (
	// ErrNodeFull signals that a shift/insert primitive could not fit;
	// it triggers make-space escalation in the carry balancer.
	ErrNodeFull = stderrors.New("dancingtree: internal: node full")

	// ErrRestart signals that a restartable carry level must release its
	// locks and re-enter the operation from the top of that level.
	ErrRestart = stderrors.New("dancingtree: internal: restart")

	// ErrDeadlock signals that the lock manager detected a priority
	// inversion; the caller unwinds to the nearest level holding no
	// low-priority locks and retries.
	ErrDeadlock = stderrors.New("dancingtree: internal: deadlock")

	// ErrBlock signals that a non-blocking request would have blocked.
	// It surfaces to a caller only when that caller explicitly asked for
	// a non-blocking attempt.
	ErrBlock = stderrors.New("dancingtree: internal: would block")
)

// Wrap attaches operation context to an error while preserving its
// identity for errors.Is. It is a thin convenience over pkg/errors so
// call sites don't need to decide between fmt.Errorf("%w") and
// errors.WithMessage.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, fmt.Sprintf(format, args...))
}

// Is is re-exported so callers of this package don't need a second
// import of the standard errors package alongside it.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// WithStack attaches a stack trace to err at the point it was first
// detected, for errors that are about to be surfaced to a caller.
func WithStack(err error) error { return errors.WithStack(err) }
