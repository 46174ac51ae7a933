package carry

// Handler dispatches one op to its kind-specific implementation. Tree
// wiring supplies a Handler bound to its own Accessor/TreeShape/hooks;
// this package only drives the level-advancing loop.
type Handler func(q *Queue, level *Level, op *Op) error

// Run drives the §4.3 execution contract: run every operation in doing,
// in order; each may post new ops into todo via q.Post. When doing is
// exhausted, doing<-todo, todo<-empty, loop until both are empty.
//
// A RESTART returned by an op handler is propagated immediately, like
// every other error: it aborts the whole carry run and is returned to
// the mutation's original caller. Run does not retry, and the callers in
// this module (dancingtree's InsertByCoord and CutNode) return it as is
// without re-entering the carry loop.
func Run(q *Queue, handle Handler) error {
	for !q.Done() {
		level := q.Doing
		for len(level.Ops) > 0 {
			op := level.Ops[0]
			level.Ops = level.Ops[1:]

			if err := handle(q, level, op); err != nil {
				// RESTART and every other error both unwind the whole
				// carry run here.
				return err
			}
			q.ReleaseOp(op)
		}
		q.Advance()
	}
	return nil
}
