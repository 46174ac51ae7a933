package carry

import (
	derrors "github.com/cowtree/dancingtree/errors"
	"github.com/cowtree/dancingtree/internal/node40"
)

// MakeSpace implements the §4.3.1 make_space protocol for an
// INSERT/PASTE/EXTENT op: local fit, shift left, shift right, allocate
// new sibling(s), and finally ENOSPC if DontAllocate forbids the last
// resort.
//
// On success the op's Target/Coord are updated in place if the
// insertion point migrated into a neighbor or a new sibling, and
// op.Track is kept pointing at the same logical position (§4.3.1:
// "update op.target and track.tracked to point there").
func MakeSpace(q *Queue, acc Accessor, level *Level, op *Op) error {
	node := acc.Node40(op.Target)
	if node.FreeSpace() >= op.Needed {
		return nil
	}

	if op.Flags&NoShiftLeft == 0 {
		done, err := shiftLeft(q, acc, level, op)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}

	if op.Flags&NoShiftRight == 0 {
		done, err := shiftRight(q, acc, level, op)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}

	if op.Flags&DontAllocate != 0 {
		return derrors.NoSpace
	}
	return allocateSiblings(q, acc, level, op)
}

// shiftLeft implements make_space step 2: acquire the left neighbor
// (LOPRI) and shift everything up to and including the insertion coord
// into it. Returns true once the op's node now has enough free space.
func shiftLeft(q *Queue, acc Accessor, level *Level, op *Op) (bool, error) {
	left, err := acc.FindLeftNeighbor(op.Target, true)
	if derrors.Is(err, derrors.ErrBlock) {
		if level.Restartable() {
			return false, derrors.ErrRestart
		}
		return false, nil // skip the left side, proceed without it
	}
	if err != nil {
		return false, nil // NoNeighbor: nothing to shift into
	}

	leftNode := acc.Node40(left)
	srcNode := acc.Node40(op.Target)

	// Shift items up to and including the insertion coord's item. We
	// approximate "up to and including" with item-count granularity:
	// shift ItemPos+1 items (node40.Shift only moves whole items).
	upTo := op.Coord.ItemPos + 1
	before := srcNode.NumItems()
	shifted, err := srcNode.Shift(leftNode, node40.ShiftLeft, upTo)
	if err != nil {
		return false, err
	}
	if shifted == 0 {
		return srcNode.FreeSpace() >= op.Needed, nil
	}

	level.MarkMutated()

	// If the insertion coord's item moved into the left neighbor, the
	// coord's item is now the last item of left; re-target there.
	movedCount := before - srcNode.NumItems()
	if movedCount > 0 && op.Coord.ItemPos < movedCount {
		op.Target = left
		op.Coord.ItemPos = leftNode.NumItems() - (movedCount - op.Coord.ItemPos)
		if op.Track != nil {
			op.Track.Node = left
			op.Track.ItemPos = op.Coord.ItemPos
		}
	} else {
		op.Coord.ItemPos -= movedCount
	}

	return acc.Node40(op.Target).FreeSpace() >= op.Needed, nil
}

// shiftRight implements make_space step 3: the right-side analogue of
// shiftLeft, excluding the insertion coord itself.
func shiftRight(q *Queue, acc Accessor, level *Level, op *Op) (bool, error) {
	right, err := acc.FindRightNeighbor(op.Target)
	if derrors.Is(err, derrors.ErrBlock) {
		if level.Restartable() {
			return false, derrors.ErrRestart
		}
		return false, nil
	}
	if err != nil {
		return false, nil
	}

	rightNode := acc.Node40(right)
	srcNode := acc.Node40(op.Target)

	total := srcNode.NumItems()
	// Exclude the insertion coord's item: only shift items strictly
	// after it.
	upTo := total - (op.Coord.ItemPos + 1)
	if upTo <= 0 {
		return srcNode.FreeSpace() >= op.Needed, nil
	}

	shifted, err := srcNode.Shift(rightNode, node40.ShiftRight, upTo)
	if err != nil {
		return false, err
	}
	if shifted > 0 {
		level.MarkMutated()
	}

	return acc.Node40(op.Target).FreeSpace() >= op.Needed, nil
}

// allocateSiblings implements make_space step 4: allocate up to two new
// nodes, shifting rightward into each, stepping back so later
// allocations land between the original node and the first new one.
func allocateSiblings(q *Queue, acc Accessor, level *Level, op *Op) error {
	maxNewSiblings := q.MaxNewSiblings
	if maxNewSiblings <= 0 {
		maxNewSiblings = DefaultFlowNewNodesLimit
	}

	for i := 0; i < maxNewSiblings; i++ {
		srcNode := acc.Node40(op.Target)
		if srcNode.FreeSpace() >= op.Needed {
			return nil
		}

		newSibling, err := acc.AllocateSibling(op.Target.Level())
		if err != nil {
			return err
		}
		if err := acc.LinkRight(q, op.Target, newSibling); err != nil {
			return err
		}
		level.MarkMutated()

		newNode := acc.Node40(newSibling)
		total := srcNode.NumItems()
		upTo := total - (op.Coord.ItemPos + 1)
		if upTo > 0 {
			if _, err := srcNode.Shift(newNode, node40.ShiftRight, upTo); err != nil {
				return err
			}
		}

		if srcNode.FreeSpace() >= op.Needed {
			return nil
		}
	}

	if op.Flags&DontAllocate != 0 {
		return derrors.NoSpace
	}
	if acc.Node40(op.Target).FreeSpace() < op.Needed {
		return derrors.NoSpace
	}
	return nil
}
