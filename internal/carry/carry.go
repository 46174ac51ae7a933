// Package carry implements the carry balancer (§4.3): a level-structured
// queue of pending operations (INSERT, PASTE, DELETE, CUT, UPDATE,
// MODIFY, EXTENT, INSERT_FLOW) that rebalances the tree as a side effect
// of making space for a mutation, instead of rebalancing on every
// insert/delete the way a classic B-tree does.
package carry

import (
	"sync"
	"sync/atomic"

	"github.com/cowtree/dancingtree/internal/coord"
	"github.com/cowtree/dancingtree/internal/locks"
	"github.com/cowtree/dancingtree/internal/znode"
	"github.com/cowtree/dancingtree/key"
)

// Kind identifies the operation an Op performs.
type Kind int

const (
	Insert Kind = iota
	Paste
	Delete
	Cut
	Update
	Modify
	Extent
	InsertFlow
)

// AddrKind selects how an INSERT op's target is addressed (§4.3.1).
type AddrKind int

const (
	// ItemData addresses the target directly via key+data.
	ItemData AddrKind = iota
	// Key resolves the target via lookup(EXACT) in the current target
	// node.
	Key
	// Child resolves the target by finding the child-pointer coord
	// within the parent.
	Child
)

// Flags modify an op's make-space behavior.
type Flags int

const (
	// NoShiftLeft forbids the left-shift step of make_space.
	NoShiftLeft Flags = 1 << iota
	// NoShiftRight forbids the right-shift step.
	NoShiftRight
	// DontAllocate forbids allocating new sibling nodes; shortage after
	// shifting fails with NoSpace instead.
	DontAllocate
	// RetainEmpty suppresses the implicit DELETE post when a cut empties
	// a node.
	RetainEmpty
)

// Op is one pending carry operation (§4.3).
type Op struct {
	Kind   Kind
	Addr   AddrKind
	Target *znode.Znode
	Coord  coord.Coord
	Key    key.Key
	Data   []byte
	Needed int // required free space, for INSERT/PASTE/EXTENT
	Flags  Flags
	Track  *Track
}

// reset clears an Op for reuse from the pool.
func (o *Op) reset() {
	*o = Op{}
}

// Track is the caller's lock handle, updated in place if the insertion
// point migrates during make_space (§4.3.1: "update op.target and
// track.tracked to point there").
type Track struct {
	Node    *znode.Znode
	ItemPos int
	UnitPos int
}

// Node is a carry_node: one znode touched at a carry level, tracking how
// much of its free space remains uncommitted to earlier ops at this
// level, and the lock handle to update if the op migrates it.
type Node struct {
	Znode *znode.Znode
	Free  bool // "free": space still available for later ops at this level
	Track *Track
}

func (n *Node) reset() { *n = Node{} }

// opPool is a type-safe sync.Pool wrapper for *Op, grounded on the
// teacher's pool.go: a New func that tracks allocation counts, Get/Put
// pair that resets state on return.
type opPool struct {
	sync.Pool
	totalAllocated atomic.Int64
	currentLive    atomic.Int64
}

func newOpPool() *opPool {
	p := &opPool{}
	p.New = func() any {
		p.totalAllocated.Add(1)
		return new(Op)
	}
	return p
}

func (p *opPool) Get() *Op {
	p.currentLive.Add(1)
	return p.Pool.Get().(*Op)
}

func (p *opPool) Put(o *Op) {
	p.currentLive.Add(-1)
	o.reset()
	p.Pool.Put(o)
}

func (p *opPool) Stats() (live, total int64) {
	return p.currentLive.Load(), p.totalAllocated.Load()
}

// nodePool is the carry_node analogue of opPool.
type nodePool struct {
	sync.Pool
	totalAllocated atomic.Int64
	currentLive    atomic.Int64
}

func newNodePool() *nodePool {
	p := &nodePool{}
	p.New = func() any {
		p.totalAllocated.Add(1)
		return new(Node)
	}
	return p
}

func (p *nodePool) Get() *Node {
	p.currentLive.Add(1)
	return p.Pool.Get().(*Node)
}

func (p *nodePool) Put(n *Node) {
	p.currentLive.Add(-1)
	n.reset()
	p.Pool.Put(n)
}

// Level is one carry level: the ordered list of nodes touched at a tree
// level, the ordered list of operations to execute at that level, and
// the restartable flag (§4.3: "A level is marked restartable until the
// first mutation occurs on it").
type Level struct {
	Nodes       []*Node
	Ops         []*Op
	restartable bool
	mutated     bool
}

// NewLevel constructs an empty, restartable carry level.
func NewLevel() *Level {
	return &Level{restartable: true}
}

// Restartable reports whether this level may still return ErrRestart
// instead of proceeding without a contended neighbor.
func (l *Level) Restartable() bool { return l.restartable && !l.mutated }

// MarkMutated flips the level to non-restartable; called on the first
// mutation applied at this level.
func (l *Level) MarkMutated() {
	l.mutated = true
	l.restartable = false
}

// Queue holds the two adjacent levels carry alternates between: doing
// (executing now) and todo (being built for the next level up), per
// §4.3's execution contract.
type Queue struct {
	opPool   *opPool
	nodePool *nodePool

	Doing *Level
	Todo  *Level

	// MaxNewSiblings caps how many new sibling nodes make_space's
	// allocate-new-sibling step may create for one op (§4.3.7
	// FLOW_NEW_NODES_LIMIT). NewQueue sets it to DefaultFlowNewNodesLimit;
	// callers threading through a tree.Config override it directly.
	MaxNewSiblings int
}

// DefaultFlowNewNodesLimit is the FLOW_NEW_NODES_LIMIT a queue gets when
// the caller does not override it.
const DefaultFlowNewNodesLimit = 2

// NewQueue constructs an empty carry queue with its own op/node pools.
func NewQueue() *Queue {
	return &Queue{
		opPool:         newOpPool(),
		nodePool:       newNodePool(),
		Doing:          NewLevel(),
		Todo:           NewLevel(),
		MaxNewSiblings: DefaultFlowNewNodesLimit,
	}
}

// NewOp allocates a pooled Op.
func (q *Queue) NewOp() *Op { return q.opPool.Get() }

// ReleaseOp returns an Op to the pool once it has been fully executed
// and will not be touched again.
func (q *Queue) ReleaseOp(o *Op) { q.opPool.Put(o) }

// NewNode allocates a pooled carry Node.
func (q *Queue) NewNode() *Node { return q.nodePool.Get() }

// ReleaseNode returns a carry Node to the pool.
func (q *Queue) ReleaseNode(n *Node) { q.nodePool.Put(n) }

// Post appends op to the todo level, to be executed once doing is
// exhausted (§4.3: "Each operation MAY post new operations into todo").
func (q *Queue) Post(op *Op) {
	q.Todo.Ops = append(q.Todo.Ops, op)
}

// Advance swaps doing<->todo and resets todo to a fresh, empty,
// restartable level, implementing "when doing is exhausted,
// doing<-todo, todo<-empty."
func (q *Queue) Advance() {
	q.Doing = q.Todo
	q.Todo = NewLevel()
}

// Done reports whether both levels are empty, the carry loop's
// termination condition.
func (q *Queue) Done() bool {
	return len(q.Doing.Ops) == 0 && len(q.Todo.Ops) == 0
}

// Estimate returns the §4.3.7 upper bound of block pressure an op of
// kind k needs to complete, given the tree's current height.
func Estimate(k Kind, treeHeight, flowNewNodesLimit, maxTreeHeight int) int {
	switch k {
	case Insert, Paste, Extent:
		return 2 * (treeHeight + 1)
	case Cut, Delete, Update:
		return 0
	case InsertFlow:
		return (flowNewNodesLimit + 1) * maxTreeHeight
	default:
		return 0
	}
}

// leftPriority and rightPriority return the lock priority make_space uses for each
// side of a shift: left neighbors are acquired LOPRI (may be skipped
// under contention), right/down/parent are HIPRI (§4.3.6).
func leftPriority() locks.Priority  { return locks.LoPri }
func rightPriority() locks.Priority { return locks.HiPri }
