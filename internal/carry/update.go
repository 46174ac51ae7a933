package carry

import (
	"github.com/cowtree/dancingtree/internal/node40"
	"github.com/cowtree/dancingtree/internal/znode"
)

// Update implements §4.3.4: update a delimiting key in a parent. op.Target
// is the child whose leftmost key changed and op.Key is its new leftmost
// key; Update writes op.Key into the item of op.Target's parent that
// points at op.Target. It does not look at any other child and does not
// check that two children are adjacent.
//
// If the parent has since split (the child's parent pointer changed
// under the tree lock), the caller retries against the new parent —
// Update itself always operates on whatever parent acc.Parent currently
// reports, so a caller that re-resolves op.Target before calling again
// gets that retry for free.
func Update(acc Accessor, op *Op) error {
	child := op.Target
	parent, hint := acc.Parent(child)
	if parent == nil {
		return nil // root has no parent; nothing to update
	}

	parentNode := acc.Node40(parent)
	itemPos := resolveChildSlot(parentNode, child, hint)
	parentNode.UpdateItemKey(itemPos, op.Key)
	return nil
}

// resolveChildSlot returns the parent item position of child's pointer.
// A hint inside the parent's item range is returned as is, without
// checking that it still points at child; only an out-of-range hint
// falls back to a lookup of child's left delimiting key.
func resolveChildSlot(parentNode *node40.Node, child *znode.Znode, hint int) int {
	if hint >= 0 && hint < parentNode.NumItems() {
		return hint
	}
	c, _ := parentNode.Lookup(child.Delim().Left)
	return c.ItemPos
}
