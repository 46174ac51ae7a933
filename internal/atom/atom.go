// Package atom implements the transaction (atom) lifecycle (§3 Atom):
// an in-progress set of committing dirty jnodes moving through
// open -> capturing -> commit-prepared -> committed -> writeback -> done,
// plus a ktxnmgrd-style background goroutine that triggers commits on a
// timer instead of requiring every caller to commit explicitly.
package atom

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	derrors "github.com/cowtree/dancingtree/errors"
	"github.com/cowtree/dancingtree/logging"
)

// Stage is an atom's position in its commit lifecycle.
type Stage int

const (
	Open Stage = iota
	Capturing
	CommitPrepared
	Committed
	Writeback
	Done
)

func (s Stage) String() string {
	switch s {
	case Open:
		return "open"
	case Capturing:
		return "capturing"
	case CommitPrepared:
		return "commit-prepared"
	case Committed:
		return "committed"
	case Writeback:
		return "writeback"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Capturable is the jnode-side contract an atom captures: identity for
// set membership plus the owning-atom pointer every jnode carries (§3
// Jnode). internal/znode.Jnode and internal/znode.Znode both satisfy
// this.
type Capturable interface {
	Atom() any
	SetAtom(a any)
}

// Atom is an in-progress transaction: the set of dirty jnodes it has
// captured, and its current lifecycle stage.
type Atom struct {
	mu       sync.Mutex
	id       uint64
	stage    Stage
	captured map[Capturable]bool
	openedAt time.Time
}

// Capture adds j to the atom's captured set, enforcing the invariant
// that a dirty jnode belongs to exactly one atom at a time (§3 Jnode).
// Capturing the first jnode transitions an Open atom to Capturing.
func (a *Atom) Capture(j Capturable) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if existing := j.Atom(); existing != nil && existing != any(a) {
		return derrors.Wrap(derrors.IOError, "atom: jnode already captured by another atom")
	}
	if a.stage >= CommitPrepared {
		return derrors.Wrap(derrors.IOError, "atom: cannot capture into atom in stage %s", a.stage)
	}
	if a.stage == Open {
		a.stage = Capturing
	}
	a.captured[j] = true
	j.SetAtom(a)
	return nil
}

// Release removes j from the captured set and clears j's atom pointer —
// used once a jnode has been written back.
func (a *Atom) Release(j Capturable) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.captured, j)
	j.SetAtom(nil)
}

// Captured returns a snapshot of the atom's currently captured jnodes.
func (a *Atom) Captured() []Capturable {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Capturable, 0, len(a.captured))
	for j := range a.captured {
		out = append(out, j)
	}
	return out
}

// Stage returns the atom's current lifecycle stage.
func (a *Atom) Stage() Stage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stage
}

// ID returns the atom's identifier, unique within the process.
func (a *Atom) ID() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.id
}

// BeginCommit transitions the atom from Open or Capturing to CommitPrepared. Once
// in this stage no further jnodes may be captured (§3 Atom lifecycle);
// flush must have already run on every captured jnode.
func (a *Atom) BeginCommit() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stage != Capturing && a.stage != Open {
		return derrors.Wrap(derrors.IOError, "atom: cannot begin commit from stage %s", a.stage)
	}
	a.stage = CommitPrepared
	return nil
}

// FinishCommit transitions CommitPrepared -> Committed, recording that
// the allocator's bitmaps now reflect every block this atom touched.
func (a *Atom) FinishCommit() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stage != CommitPrepared {
		return derrors.Wrap(derrors.IOError, "atom: cannot finish commit from stage %s", a.stage)
	}
	a.stage = Committed
	return nil
}

// BeginWriteback transitions Committed -> Writeback.
func (a *Atom) BeginWriteback() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stage != Committed {
		return derrors.Wrap(derrors.IOError, "atom: cannot begin writeback from stage %s", a.stage)
	}
	a.stage = Writeback
	return nil
}

// FinishWriteback transitions Writeback -> Done, the atom's terminal
// stage; its captured set should be empty by this point.
func (a *Atom) FinishWriteback() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stage != Writeback {
		return derrors.Wrap(derrors.IOError, "atom: cannot finish writeback from stage %s", a.stage)
	}
	a.stage = Done
	return nil
}

// Age returns how long the atom has been open, used by the background
// manager to decide when an idle atom should be force-committed.
func (a *Atom) Age() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return time.Since(a.openedAt)
}

// Manager tracks every live atom and runs the ktxnmgrd-style background
// goroutine that commits atoms once they age past a configured
// threshold, so a quiet tree still flushes its writes instead of holding
// them open indefinitely.
type Manager struct {
	mu     sync.Mutex
	atoms  map[uint64]*Atom
	nextID atomic.Uint64
	log    *logging.Logger
}

// NewManager constructs an empty atom manager.
func NewManager(log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Nop()
	}
	return &Manager{atoms: make(map[uint64]*Atom), log: log.Named("atom")}
}

// OpenAtom creates and registers a fresh Open atom.
func (m *Manager) OpenAtom() *Atom {
	id := m.nextID.Add(1)
	a := &Atom{id: id, stage: Open, captured: make(map[Capturable]bool), openedAt: time.Now()}
	m.mu.Lock()
	m.atoms[id] = a
	m.mu.Unlock()
	return a
}

// Forget removes a Done atom from the manager's live set.
func (m *Manager) Forget(a *Atom) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.atoms, a.id)
}

// Live returns a snapshot of every atom the manager currently tracks.
func (m *Manager) Live() []*Atom {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Atom, 0, len(m.atoms))
	for _, a := range m.atoms {
		out = append(out, a)
	}
	return out
}

// CommitFunc drives one atom through commit-prepared -> committed ->
// writeback -> done; supplied by the tree/flush layer, which knows how
// to flush an atom's captured jnodes and write its blocks back.
type CommitFunc func(a *Atom) error

// Run is the ktxnmgrd-style background loop: every tick, any atom older
// than maxAge in the Capturing stage is committed via commit. It returns
// when ctx is done.
func (m *Manager) Run(ctx context.Context, tick time.Duration, maxAge time.Duration, commit CommitFunc) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.commitAged(maxAge, commit)
		}
	}
}

func (m *Manager) commitAged(maxAge time.Duration, commit CommitFunc) {
	for _, a := range m.Live() {
		if a.Stage() != Capturing {
			continue
		}
		if a.Age() < maxAge {
			continue
		}
		if err := commit(a); err != nil {
			m.log.Errorw("background commit failed", "atom", a.ID(), "error", err)
			continue
		}
		m.Forget(a)
	}
}
