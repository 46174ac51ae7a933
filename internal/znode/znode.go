package znode

import (
	"sync"

	"github.com/cowtree/dancingtree/internal/locks"
)

// NodePlugin is the minimal capability set a formatted node needs from
// its node-format implementation, referenced here only so a Znode can
// carry a plugin pointer without importing internal/node40 (which in
// turn would need to import znode for the Jnode/PageData contract,
// creating a cycle). Concrete plugins satisfy this via internal/node40.
type NodePlugin any

// Znode is the formatted-node specialization of Jnode: it adds tree
// level, long-term lock state, sibling links, delimiting keys, a parent
// hint and a node-plugin pointer (§3 Znode).
//
// A Znode must not be copied by value once its Lock has been used, so it
// embeds noCopy purely for the benefit of `go vet -copylocks`, the same
// guard the teacher's Table[V] uses for the same reason.
type Znode struct {
	_ noCopy

	Jnode

	mu sync.RWMutex

	level  int
	Lock   locks.Lock
	plugin NodePlugin

	left, right *Znode
	leftConn    bool
	rightConn   bool

	delim DelimKeys

	parent     *Znode
	parentHint int // last known item_pos of the child pointer in parent
}

// noCopy, when embedded, makes `go vet -copylocks` flag accidental
// pass-by-value of a type that holds live lock state.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// NewZnode constructs a formatted node handle at the given address and
// tree level.
func NewZnode(addr Addr, level int, plugin NodePlugin) *Znode {
	z := &Znode{
		Jnode:  *NewJnode(addr),
		level:  level,
		plugin: plugin,
	}
	return z
}

// Level returns the znode's tree level (0 = leaf).
func (z *Znode) Level() int {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.level
}

// SetLevel updates the znode's tree level. Used only when a node is
// reused for a different level (rare: e.g. root promotion/demotion).
func (z *Znode) SetLevel(l int) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.level = l
}

// Plugin returns the node-format plugin for this znode.
func (z *Znode) Plugin() NodePlugin {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.plugin
}

// SetPlugin sets the node-format plugin. Called once at node
// construction/load time.
func (z *Znode) SetPlugin(p NodePlugin) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.plugin = p
}

// Left returns the left sibling pointer (may be nil even when
// LeftConnected, meaning "confirmed no left sibling").
func (z *Znode) Left() *Znode {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.left
}

// Right is the right-side analogue of Left.
func (z *Znode) Right() *Znode {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.right
}

// LeftConnected reports whether the left side is connected: either a
// sibling pointer is set, or its absence has been confirmed against the
// tree (§3 Znode invariants).
func (z *Znode) LeftConnected() bool {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.leftConn
}

// RightConnected is the right-side analogue of LeftConnected.
func (z *Znode) RightConnected() bool {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.rightConn
}

// SetLeft sets the left sibling pointer (nil allowed: "confirmed no left
// sibling") and marks the left side connected. The tree lock must be
// held by the caller (see internal/tree) before mutating sibling fields
// across two znodes, per §5 Lock ordering.
func (z *Znode) SetLeft(n *Znode) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.left = n
	z.leftConn = true
}

// SetRight is the right-side analogue of SetLeft.
func (z *Znode) SetRight(n *Znode) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.right = n
	z.rightConn = true
}

// UnsetLeftConnected clears the connected flag without touching the
// pointer, used when a neighbor relationship becomes stale and must be
// re-resolved (e.g. after the neighbor is evicted).
func (z *Znode) UnsetLeftConnected() {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.leftConn = false
}

// UnsetRightConnected is the right-side analogue.
func (z *Znode) UnsetRightConnected() {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.rightConn = false
}

// Delim returns the node's delimiting keys.
func (z *Znode) Delim() DelimKeys {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.delim
}

// SetDelim sets the node's delimiting keys.
func (z *Znode) SetDelim(d DelimKeys) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.delim = d
}

// Parent returns the cached parent pointer and the last known item
// position of this node's child pointer within it. Both are hints: a
// concurrent split may have moved the real parent slot. Carry's UPDATE
// falls back to a key lookup only when the position is outside the
// parent's item range (§4.3.1, §4.3.4).
func (z *Znode) Parent() (*Znode, int) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.parent, z.parentHint
}

// SetParent sets the parent hint.
func (z *Znode) SetParent(p *Znode, hint int) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.parent = p
	z.parentHint = hint
}
