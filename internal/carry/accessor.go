package carry

import (
	"github.com/cowtree/dancingtree/internal/node40"
	"github.com/cowtree/dancingtree/internal/znode"
)

// Accessor is carry's view of the tree: everything make_space and the
// other op handlers need from live tree state, without carry importing
// internal/tree directly (internal/tree imports carry to drive
// balancing, so the dependency must run this way to avoid a cycle).
//
// internal/tree provides the concrete implementation; tests in this
// package use a small in-memory fake.
type Accessor interface {
	// Node40 returns the node40 view backing a znode's page.
	Node40(z *znode.Znode) *node40.Node

	// FindLeftNeighbor attempts to acquire z's left neighbor at the
	// given priority. A LOPRI attempt that cannot be granted without
	// blocking returns derrors.ErrBlock; callers treat that as "skip the
	// left side" when the level is no longer restartable, or propagate
	// derrors.ErrRestart when it still is (§4.3.1 step 2).
	FindLeftNeighbor(z *znode.Znode, lopri bool) (*znode.Znode, error)

	// FindRightNeighbor is the right-side analogue, always HIPRI.
	FindRightNeighbor(z *znode.Znode) (*znode.Znode, error)

	// AllocateSibling creates a new, empty znode at the given tree
	// level, to be linked in next to an existing node by the caller.
	AllocateSibling(level int) (*znode.Znode, error)

	// LinkRight inserts newRight into the tree immediately to the right
	// of existing, updating sibling pointers and posting a carry INSERT
	// of kind Child at the parent level so the new node gets a parent
	// pointer (§4.3.1 step 4).
	LinkRight(q *Queue, existing, newRight *znode.Znode) error

	// Parent returns the cached parent of z and the item position of
	// z's child pointer within it, per §3 Znode's parent hint.
	Parent(z *znode.Znode) (*znode.Znode, int)
}
