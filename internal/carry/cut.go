package carry

import "github.com/cowtree/dancingtree/internal/coord"

// Cut implements §4.3.3: execute cut or cut_and_kill on the target
// range. kill_hook fires on each removed unit only for cut_and_kill. The
// operation never recurses upward except to post an UPDATE when it
// changes the node's first key.
// The half-open item range is carried as op.Coord.ItemPos (from) and
// op.Coord.UnitPos (to, exclusive) — Cut addresses whole items, so the
// coord's unit field is repurposed as the range end rather than a real
// unit index.
func Cut(q *Queue, acc Accessor, op *Op, kill bool, killHook func(itemPos int, data []byte)) error {
	node := acc.Node40(op.Target)
	from, to := op.Coord.ItemPos, op.Coord.UnitPos

	changedFirstKey := from == 0 && to > from

	var emptied bool
	var err error
	if kill {
		if killHook == nil {
			killHook = func(int, []byte) {}
		}
		emptied, err = node.CutAndKill(from, to, killHook)
	} else {
		emptied, err = node.Cut(from, to)
	}
	if err != nil {
		return err
	}

	if emptied && op.Flags&RetainEmpty == 0 {
		// Post DELETE against the emptied node's actual parent, not the
		// emptied node itself (the same acc.Parent + resolveChildSlot
		// resolution Update uses), so carry removes the real dangling
		// pointer instead of re-cutting an already-empty node.
		if parent, hint := acc.Parent(op.Target); parent != nil {
			slot := resolveChildSlot(acc.Node40(parent), op.Target, hint)
			del := q.NewOp()
			del.Kind = Delete
			del.Target = parent
			del.Coord = coord.Coord{ItemPos: slot}
			q.Post(del)
		}
		return nil
	}

	if changedFirstKey && node.NumItems() > 0 {
		upd := q.NewOp()
		upd.Kind = Update
		upd.Target = op.Target
		upd.Key = node.KeyAt(0)
		q.Post(upd)
	}
	return nil
}
