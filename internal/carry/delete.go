package carry

import "github.com/cowtree/dancingtree/internal/coord"

// TreeShape is the minimal tree-state carry's DELETE handler needs to
// apply the root-handling rule (§4.3.2): current height, the twig
// level, and hooks to reset/demote the root.
type TreeShape interface {
	Height() int
	// ResetRootDelim resets the root's delimiting keys to (min,max),
	// used instead of killing the root when height<=2 and it holds a
	// single pointer.
	ResetRootDelim()
	// DemoteRoot replaces the root with its sole child, decrementing
	// tree height by one.
	DemoteRoot()
}

// Delete implements §4.3.2: remove one child pointer from a parent.
// op.Target is the parent itself and op.Coord.ItemPos the child's slot
// within it — callers (Cut's emptied-node post, and this function's own
// ancestor re-post below) resolve that parent/slot pair via acc.Parent +
// resolveChildSlot before posting, the same way Update resolves its
// parent.
//
// Root-handling rule: at height <= 2 with the root holding a single
// pointer, the root is never killed outright — its delimiting keys are
// reset to (min_key, max_key) instead. Otherwise cut_and_kill runs on
// the single parent slot; if the root is left with one pointer and its
// level is above the twig, the root is demoted (height decreases, the
// sole child becomes the new root).
func Delete(q *Queue, acc Accessor, op *Op, shape TreeShape) error {
	parent := op.Target
	node := acc.Node40(parent)

	if shape.Height() <= 2 && node.NumItems() <= 1 {
		shape.ResetRootDelim()
		return nil
	}

	emptied, err := node.CutAndKill(op.Coord.ItemPos, op.Coord.ItemPos+1, func(int, []byte) {})
	if err != nil {
		return err
	}
	if emptied && op.Flags&RetainEmpty == 0 {
		// parent itself is now empty and dangling in its own parent;
		// resolve that ancestor the same way, rather than reusing
		// parent as if it were already the next level's resolved
		// target.
		if grandparent, hint := acc.Parent(parent); grandparent != nil {
			slot := resolveChildSlot(acc.Node40(grandparent), parent, hint)
			postDelete := q.NewOp()
			postDelete.Kind = Delete
			postDelete.Target = grandparent
			postDelete.Coord = coord.Coord{ItemPos: slot}
			q.Post(postDelete)
		}
	}

	if node.NumItems() == 1 && parent.Level() > 1 {
		shape.DemoteRoot()
	}
	return nil
}
