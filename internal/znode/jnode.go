// Package znode implements the in-memory node handle hierarchy: Jnode (the
// generic handle shared by formatted and unformatted nodes) and Znode (the
// formatted-node specialization carrying tree level, sibling links and
// delimiting keys). It also implements the tree-wide node cache used to
// look nodes up by disk address.
package znode

import (
	"sync"
	"sync/atomic"

	"github.com/cowtree/dancingtree/key"
)

// Addr is a disk block address. Fake addresses (unallocated nodes) are
// tagged in the high bit so that fake and real addresses are always
// disjoint in the cache's hash table; see NewFakeAddr.
type Addr uint64

const fakeTag Addr = 1 << 63

// unformattedTag distinguishes a fake address standing in for an
// unformatted (extent/data) node from one standing in for a formatted
// node, so two nodes created in the same transaction never collide
// before either is allocated.
const unformattedTag Addr = 1 << 62

// IsFake reports whether addr is a placeholder for a node that has not
// yet been assigned a real disk block.
func (a Addr) IsFake() bool { return a&fakeTag != 0 }

// IsUnformatted reports whether a fake address stands in for an
// unformatted node. Meaningless on a real address.
func (a Addr) IsUnformatted() bool { return a&unformattedTag != 0 }

// fakeCounter hands out distinct fake addresses across the process; it is
// a single package-level counter shared by every tree.
var fakeCounter atomic.Uint64

// NewFakeAddr returns a fresh fake address, unique for the lifetime of
// the process, tagged as formatted or unformatted per the caller.
func NewFakeAddr(unformatted bool) Addr {
	n := fakeCounter.Add(1)
	a := Addr(n) | fakeTag
	if unformatted {
		a |= unformattedTag
	}
	return a
}

// Flag bits carried by every jnode (§3 Jnode).
type Flag uint32

const (
	// FlagDirty marks the node as part of some atom's dirty set.
	FlagDirty Flag = 1 << iota
	// FlagRelocate marks a node whose atom has decided to write it to a
	// new disk location at flush time (mutually exclusive with
	// FlagWander, only meaningful once FlagAlloc is also set).
	FlagRelocate
	// FlagWander marks a node whose atom has decided to overwrite its
	// current disk location at flush time via the wandering log.
	FlagWander
	// FlagAlloc marks a node whose on-disk location is finalized for
	// this atom: the node's Addr is no longer fake. Flush sets
	// FlagRelocate or FlagWander on every child it allocates; the node a
	// flush starts allocating from carries neither.
	FlagAlloc
	// FlagUnformatted marks a jnode holding raw (extent) data rather
	// than a formatted, item-structured node.
	FlagUnformatted
	// FlagHeardBanshee marks a node pending removal: it has been
	// unlinked from the tree but a reference (lock, page pin) outlives
	// the unlink.
	FlagHeardBanshee
	// FlagLeftConnected means the left sibling pointer (or its absence)
	// has been confirmed against the tree.
	FlagLeftConnected
	// FlagRightConnected is the right-side analogue of FlagLeftConnected.
	FlagRightConnected
)

// PageData is the collaborator contract for an in-memory node's backing
// bytes, satisfied by internal/devio's page-cache Page.
type PageData interface {
	Bytes() []byte
}

// Jnode is the generic node handle shared by formatted (Znode) and
// unformatted (extent/data) nodes. It tracks identity (disk address),
// lifecycle flags, the owning atom, a reference count and an optional
// page-cache backing.
//
// Jnode itself holds only a spinlock-sized mutex guarding its flag word,
// address and refcount; long-term locking (read/write, blocking) is a
// Znode-level concern (see Znode.Lock in znode.go) because only formatted nodes
// participate in tree navigation locks.
type Jnode struct {
	mu sync.Mutex

	addr  Addr
	flags Flag
	refs  int32

	// atom is an opaque pointer to the owning transaction; it is typed
	// as any here to avoid an import cycle with the atom package, which
	// itself must reference Jnode/Znode to track captured nodes.
	atom any

	page PageData
}

// NewJnode constructs a jnode with the given address and an initial
// refcount of zero; callers must Get() before using it to register
// interest.
func NewJnode(addr Addr) *Jnode {
	return &Jnode{addr: addr}
}

// Addr returns the node's current disk address (fake or real).
func (j *Jnode) Addr() Addr {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.addr
}

// SetAddr updates the node's disk address, used by the allocator when it
// finalizes a block number for this node (§4.4.2 step 3).
func (j *Jnode) SetAddr(a Addr) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.addr = a
}

// HasFlag reports whether all bits in want are set.
func (j *Jnode) HasFlag(want Flag) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.flags&want == want
}

// SetFlag sets the given bits.
func (j *Jnode) SetFlag(f Flag) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.flags |= f
}

// ClearFlag clears the given bits.
func (j *Jnode) ClearFlag(f Flag) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.flags &^= f
}

// Flags returns a snapshot of the current flag word.
func (j *Jnode) Flags() Flag {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.flags
}

// Atom returns the owning atom, or nil if the node is currently clean /
// uncaptured.
func (j *Jnode) Atom() any {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.atom
}

// SetAtom records the owning atom. A dirty jnode is a member of exactly
// one atom (§3 invariant); callers are responsible for enforcing that at
// the atom-capture layer.
func (j *Jnode) SetAtom(a any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.atom = a
}

// Get increments the reference count and returns the new value.
func (j *Jnode) Get() int32 { return atomic.AddInt32(&j.refs, 1) }

// Put decrements the reference count, releases the page-cache backing on
// last unload, and returns the new value.
func (j *Jnode) Put() int32 {
	n := atomic.AddInt32(&j.refs, -1)
	if n == 0 {
		j.mu.Lock()
		j.page = nil
		j.mu.Unlock()
	}
	return n
}

// Refs returns the current reference count without modifying it.
func (j *Jnode) Refs() int32 { return atomic.LoadInt32(&j.refs) }

// Page returns the node's page-cache backing, or nil if unloaded.
func (j *Jnode) Page() PageData {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.page
}

// SetPage attaches a page-cache backing, loading the node's bytes into
// memory.
func (j *Jnode) SetPage(p PageData) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.page = p
}

// DelimKeys holds a node's left and right delimiting keys (§3 Znode
// invariants).
type DelimKeys struct {
	Left  key.Key
	Right key.Key
}
