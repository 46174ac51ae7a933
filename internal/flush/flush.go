// Package flush implements squeeze-and-allocate (§4.4): given a dirty
// jnode, locate the highest dirty same-atom ancestor reachable by
// scanning leftward (the "leftpoint"), then recurse parent-first,
// deciding relocate-vs-overwrite per child, allocating block numbers,
// and squeezing each node's dirty right neighbor into it before moving
// on.
package flush

import (
	"context"

	"golang.org/x/sync/errgroup"

	derrors "github.com/cowtree/dancingtree/errors"
	"github.com/cowtree/dancingtree/internal/alloc"
	"github.com/cowtree/dancingtree/internal/atom"
	"github.com/cowtree/dancingtree/internal/carry"
	"github.com/cowtree/dancingtree/internal/node40"
	"github.com/cowtree/dancingtree/internal/tree"
	"github.com/cowtree/dancingtree/internal/znode"
	"github.com/cowtree/dancingtree/logging"
)

// maxConcurrentChildren bounds how many of a node's children are
// allocated concurrently during parent-first allocation (§4.4.2 step 4).
const maxConcurrentChildren = 8

// Accessor is the tree-side contract flush needs: sibling/parent
// resolution, node bytes, and carry access for delimiting-key fixups
// after a squeeze. internal/tree.Tree satisfies this (it already
// satisfies carry.Accessor, which this embeds).
type Accessor interface {
	carry.Accessor
	GetParent(z *znode.Znode) (*znode.Znode, int)
	// ChildAt returns the in-memory znode for the child pointer at
	// itemPos in parent, or nil if that child has never been loaded
	// into memory (and therefore cannot be dirty).
	ChildAt(parent *znode.Znode, itemPos int) *znode.Znode
}

// Flusher drives jnode_flush (§6.3) against one tree, using shared
// allocator state. It reads (but does not own) atom lifecycle stage via
// each node's own Atom() pointer, so a single Flusher serves whichever
// atom a caller is currently committing.
type Flusher struct {
	acc   Accessor
	alloc *alloc.Bitmap
	log   *logging.Logger

	scanMaxNodes  int
	relocThresh   int
	preceder      uint64
	precederIsSet bool
	leafDirtyRun  int
}

// New constructs a Flusher over the given tree accessor and block
// allocator, using cfg's ScanMaxNodes/RelocThreshold tunables.
func New(acc Accessor, bitmap *alloc.Bitmap, cfg tree.Config, log *logging.Logger) *Flusher {
	if log == nil {
		log = logging.Nop()
	}
	scanMaxNodes := cfg.ScanMaxNodes
	if scanMaxNodes <= 0 {
		scanMaxNodes = tree.DefaultConfig().ScanMaxNodes
	}
	relocThresh := cfg.RelocThreshold
	if relocThresh <= 0 {
		relocThresh = tree.DefaultConfig().RelocThreshold
	}
	return &Flusher{
		acc:          acc,
		alloc:        bitmap,
		log:          log.Named("flush"),
		scanMaxNodes: scanMaxNodes,
		relocThresh:  relocThresh,
	}
}

// Flush implements jnode_flush(node) (§6.3, §4.4): locate the leftpoint
// ancestor, then allocate the whole subtree parent-first.
func (f *Flusher) Flush(ctx context.Context, start *znode.Znode) error {
	if !start.HasFlag(znode.FlagDirty) {
		return nil
	}
	if at, ok := start.Atom().(*atom.Atom); ok && at.Stage() >= atom.CommitPrepared {
		return derrors.Wrap(derrors.IOError, "flush: node %d's atom already entered commit", uint64(start.Addr()))
	}

	leftpoint, err := f.findLeftpoint(start)
	if err != nil {
		return err
	}
	return f.allocateSubtree(ctx, leftpoint, true)
}

// findLeftpoint implements §4.4.1: scan leftward across the leaf level
// while the left neighbor is dirty, same-atom and unallocated, capped at
// scanMaxNodes; then ascend one level and repeat.
func (f *Flusher) findLeftpoint(start *znode.Znode) (*znode.Znode, error) {
	cur := start
	for {
		scanned := 0
		for scanned < f.scanMaxNodes {
			left, err := f.acc.FindLeftNeighbor(cur, true)
			if err != nil || left == nil {
				break
			}
			if !sameAtomDirtyUnallocated(left, cur) {
				break
			}
			cur = left
			scanned++
		}
		if cur.Level() == 0 {
			// §4.4.3's RELOC_THRESHOLD heuristic counts contiguous
			// dirty leaf-level runs; this scan already walks exactly
			// that run, so record its length rather than recounting.
			f.leafDirtyRun = scanned
		}

		parent, _ := f.acc.GetParent(cur)
		if parent == nil {
			return cur, nil
		}
		if !parent.HasFlag(znode.FlagDirty) || parent.HasFlag(znode.FlagAlloc) {
			return cur, nil
		}
		cur = parent
	}
}

func sameAtomDirtyUnallocated(a, b *znode.Znode) bool {
	if !a.HasFlag(znode.FlagDirty) || a.HasFlag(znode.FlagAlloc) {
		return false
	}
	return a.Atom() != nil && a.Atom() == b.Atom()
}

// allocateSubtree implements §4.4.2's parent-first recursion: allocate
// this node, then its children, then squeeze each node's dirty right
// neighbor into it before returning.
func (f *Flusher) allocateSubtree(ctx context.Context, z *znode.Znode, isRoot bool) error {
	if !z.HasFlag(znode.FlagDirty) || z.HasFlag(znode.FlagUnformatted) {
		return nil
	}
	if z.HasFlag(znode.FlagAlloc) {
		return nil
	}

	if err := f.allocateOne(z, isRoot); err != nil {
		return err
	}

	if z.Level() > 0 {
		if err := f.allocateChildren(ctx, z); err != nil {
			return err
		}
	}

	return f.squeezeRight(ctx, z)
}

// allocateOne performs step 3 of §4.4.2: hint, allocate, mark clean,
// schedule writeback is left to the atom/page-cache writeback path (this
// only finalizes the block number and flag state).
func (f *Flusher) allocateOne(z *znode.Znode, isRoot bool) error {
	hint := f.hintFor(z, isRoot)
	start, _, err := f.alloc.Alloc(hint, 1)
	if err != nil {
		return derrors.Wrap(derrors.NoSpace, "flush: allocate block for node %d", uint64(z.Addr()))
	}

	newAddr := znode.Addr(start)
	z.SetAddr(newAddr)
	z.SetFlag(znode.FlagAlloc)
	z.ClearFlag(znode.FlagDirty)
	f.preceder = start
	f.precederIsSet = true
	return nil
}

// hintFor implements §4.4.4's preceder search: the left sibling's block
// if one is known, else the parent's block (already allocated by
// allocation order), else the flusher's running preceder.
func (f *Flusher) hintFor(z *znode.Znode, isRoot bool) uint64 {
	if isRoot {
		return 0
	}
	if left := z.Left(); left != nil && left.HasFlag(znode.FlagAlloc) && !left.Addr().IsFake() {
		return uint64(left.Addr())
	}
	if parent, _ := f.acc.Parent(z); parent != nil && parent.HasFlag(znode.FlagAlloc) && !parent.Addr().IsFake() {
		return uint64(parent.Addr())
	}
	if f.precederIsSet {
		return f.preceder
	}
	return 0
}

// allocateChildren implements §4.4.2 step 4: recurse into every child of
// an internal node, bounded by maxConcurrentChildren concurrent workers
// (errgroup + a buffered channel acting as the semaphore, the pack's
// usual shape for bounded fan-out over independent subtrees).
func (f *Flusher) allocateChildren(ctx context.Context, z *znode.Znode) error {
	n := f.acc.Node40(z)
	count := n.NumItems()
	if count == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, maxConcurrentChildren)

	for i := 0; i < count; i++ {
		itemPos := i
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			return f.allocateChildAt(gctx, z, itemPos)
		})
	}
	return g.Wait()
}

// allocateChildAt loads one child, decides relocate-or-overwrite and
// recurses. A child the tree has never loaded into memory has nothing
// dirty under it and is skipped.
func (f *Flusher) allocateChildAt(ctx context.Context, parent *znode.Znode, itemPos int) error {
	child := f.acc.ChildAt(parent, itemPos)
	if child == nil {
		return nil
	}
	leftmost := itemPos == 0
	parentLeftmostDirty := false
	if pl := f.acc.ChildAt(parent, 0); pl != nil {
		parentLeftmostDirty = pl.HasFlag(znode.FlagDirty) && !pl.HasFlag(znode.FlagAlloc)
	}
	f.decideRelocate(child, leftmost, child.Level() == 0, parentLeftmostDirty)

	return f.allocateSubtree(ctx, child, false)
}

// decideRelocate implements §4.4.3 for a non-root child (the root
// itself is never passed here — allocateOne handles it with hint 0 and
// no relocate/wander flag): relocate the leftmost child of its parent
// when the level is leaf or the parent's leftmost child is itself
// dirty/being-relocated; additionally prefer relocate once the
// leftpoint scan (§4.4.1) found a contiguous dirty leaf-level run
// longer than relocThresh (RELOC_THRESHOLD), the non-normative
// heuristic from §4.4.3.
func (f *Flusher) decideRelocate(child *znode.Znode, leftmost, isLeaf, parentLeftmostDirty bool) {
	relocate := leftmost && (isLeaf || parentLeftmostDirty)
	if !relocate && f.leafDirtyRun > f.relocThresh {
		relocate = true
	}
	if relocate {
		child.SetFlag(znode.FlagRelocate)
	} else {
		child.SetFlag(znode.FlagWander)
	}
}

// squeezeRight implements §4.4.2 step 5/6: repeatedly pull the dirty,
// same-atom right sibling into z until no further progress is possible.
// Every level uses the same whole-item bulk shift: this core has no
// real extent item plugin, so a twig node's items are child pointers
// exactly like any other internal level's (§4.4.2 step 5's "Twig
// level"/"Higher internal levels" distinction only matters once extents
// exist — see DESIGN.md), and node40.Shift already moves whole items
// regardless of level.
func (f *Flusher) squeezeRight(ctx context.Context, z *znode.Znode) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		right, err := f.acc.FindRightNeighbor(z)
		if err != nil || right == nil {
			return nil
		}
		if right.Atom() == nil || right.Atom() != z.Atom() || !right.HasFlag(znode.FlagDirty) {
			return nil
		}

		leftNode := f.acc.Node40(z)
		rightNode := f.acc.Node40(right)
		if rightNode.NumItems() == 0 {
			return nil
		}

		_, err = rightNode.Shift(leftNode, node40.ShiftLeft, rightNode.NumItems())
		if err != nil {
			return err
		}

		if rightNode.NumItems() == 0 {
			right.SetFlag(znode.FlagHeardBanshee)
			right.ClearFlag(znode.FlagDirty)
			z.SetRight(right.Right())
			if rr := right.Right(); rr != nil {
				rr.SetLeft(z)
			}
			continue
		}
		return nil
	}
}
