package locks

import derrors "github.com/cowtree/dancingtree/errors"

// Manager aggregates the wait-for edges of every Lock a tree hands out,
// so a thread about to block can ask "would this create a cycle?"
// instead of only discovering a deadlock after it hangs.
//
// This mirrors the contract described in reiser4's kcond.c /
// ulevel/kutlock.h: a lock-order violation is detected before the thread
// actually sleeps, and the caller unwinds back to the nearest level
// holding no low-priority locks and retries (§4.3.6, §5 Cancellation).
type Manager struct {
	locks []*Lock
}

// NewManager constructs an empty deadlock Manager.
func NewManager() *Manager { return &Manager{} }

// Track registers l so its wait-for edges are included in future cycle
// checks. Trees call this once per znode lock at creation time.
func (m *Manager) Track(l *Lock) { m.locks = append(m.locks, l) }

// WouldDeadlock reports whether owner waiting for holder would close a
// cycle in the aggregate wait-for graph across every tracked lock, i.e.
// whether holder (transitively) already waits for owner.
func (m *Manager) WouldDeadlock(owner, holder holder) bool {
	graph := make(map[any][]any)
	for _, l := range m.locks {
		for k, v := range l.WaitsFor() {
			graph[k] = append(graph[k], v...)
		}
	}

	visited := make(map[any]bool)
	var dfs func(node any) bool
	dfs = func(node any) bool {
		if node == owner {
			return true
		}
		if visited[node] {
			return false
		}
		visited[node] = true
		for _, next := range graph[node] {
			if dfs(next) {
				return true
			}
		}
		return false
	}
	return dfs(holder)
}

// CheckOrError is a convenience wrapper returning derrors.ErrDeadlock when
// WouldDeadlock is true, for call sites that want a single error check.
func (m *Manager) CheckOrError(owner, holder holder) error {
	if m.WouldDeadlock(owner, holder) {
		return derrors.ErrDeadlock
	}
	return nil
}
