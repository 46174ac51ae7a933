package carry

import derrors "github.com/cowtree/dancingtree/errors"

// ModifyHook is a node-plugin-specific modify callback; most plugins
// have none, in which case Modify is a no-op (§4.3.5).
type ModifyHook func(op *Op) error

// Modify implements §4.3.5's MODIFY op: a no-op unless the node plugin
// defines a modify hook.
func Modify(op *Op, hook ModifyHook) error {
	if hook == nil {
		return nil
	}
	return hook(op)
}

// FlowNewNodesLimit bounds how many new nodes InsertFlow may allocate
// while packing a byte flow into successive tail items (§4.3.5, §4.3.7).
const FlowNewNodesLimit = 16

// InsertFlow implements §4.3.5: iteratively pack data into successive
// tail items using the four-step make-space order (try whole flow,
// shift-left-incl, shift-right-excl, add new nodes up to
// FlowNewNodesLimit), each step delegated to MakeSpace against
// successively smaller chunks of data when the whole flow cannot fit.
func InsertFlow(q *Queue, acc Accessor, level *Level, op *Op, appendItem func(remaining []byte) (consumed int, err error)) error {
	remaining := op.Data
	newNodes := 0

	for len(remaining) > 0 {
		op.Needed = len(remaining) + 0 // caller's appendItem reports actual consumption
		if err := MakeSpace(q, acc, level, op); err != nil {
			if derrors.Is(err, derrors.NoSpace) && newNodes >= FlowNewNodesLimit {
				return derrors.NoSpace
			}
			return err
		}

		consumed, err := appendItem(remaining)
		if err != nil {
			return err
		}
		if consumed == 0 {
			newNodes++
			if newNodes > FlowNewNodesLimit {
				return derrors.NoSpace
			}
			continue
		}
		remaining = remaining[consumed:]
	}
	return nil
}
