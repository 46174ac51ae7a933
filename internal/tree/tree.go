// Package tree implements tree traversal and sibling maintenance (§4.5):
// root-to-leaf coord lookup, parent/neighbor resolution backed by the
// carry balancer for rebalancing, and the znode cache/height/root state
// a Tree owns (§3 Tree).
package tree

import (
	"encoding/binary"
	"sync"

	derrors "github.com/cowtree/dancingtree/errors"
	"github.com/cowtree/dancingtree/internal/atom"
	"github.com/cowtree/dancingtree/internal/carry"
	"github.com/cowtree/dancingtree/internal/coord"
	"github.com/cowtree/dancingtree/internal/devio"
	"github.com/cowtree/dancingtree/internal/locks"
	"github.com/cowtree/dancingtree/internal/node40"
	"github.com/cowtree/dancingtree/internal/znode"
	"github.com/cowtree/dancingtree/key"
	"github.com/cowtree/dancingtree/logging"
)

// childPointerPlugin is the item-plugin id used for internal-node items
// whose payload is nothing but a child's disk address (§6.1 node-plugin
// table: "plugin selection is fixed at mount time"; this core only ever
// needs one internal-item format).
const childPointerPlugin uint16 = 0

// Tree is the in-memory tree: root pointer, height, node plugin scheme,
// the znode cache, and the collaborators (page cache, deadlock manager,
// atom manager) traversal and balancing need (§3 Tree).
type Tree struct {
	mu sync.Mutex

	root      *znode.Znode
	height    int
	scheme    key.Scheme
	blockSize int

	cache    *znode.Cache
	pages    *devio.PageCache
	deadlock *locks.Manager
	atoms    *atom.Manager
	log      *logging.Logger

	fakeCounter uint64
}

// New builds an in-memory tree with a single empty leaf as its root
// (tree_init with no existing on-disk root, §6.3).
func New(scheme key.Scheme, blockSize int, pages *devio.PageCache, log *logging.Logger) *Tree {
	if log == nil {
		log = logging.Nop()
	}
	t := &Tree{
		scheme:    scheme,
		blockSize: blockSize,
		cache:     znode.NewCache(),
		pages:     pages,
		deadlock:  locks.NewManager(),
		atoms:     atom.NewManager(log),
		log:       log.Named("tree"),
		height:    1,
	}
	root := t.newNode(0)
	t.root = root
	t.cache.Insert(root)
	return t
}

// Height returns the tree's current height (implements carry.TreeShape).
func (t *Tree) Height() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.height
}

// Root returns the current root znode.
func (t *Tree) Root() *znode.Znode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root
}

// newNode allocates a fresh, empty formatted node at the given level
// under a fake address, tracked by the tree's own deadlock manager.
func (t *Tree) newNode(level int) *znode.Znode {
	addr := znode.NewFakeAddr(false)
	page := t.pages.NewPage(uint64(addr), t.blockSize)
	node40.New(page.Bytes(), level, t.scheme)

	z := znode.NewZnode(addr, level, nil)
	z.SetPage(page)
	z.SetFlag(znode.FlagDirty)
	t.deadlock.Track(&z.Lock)
	return z
}

// node40View returns the node40 view over z's backing page. z must
// already be loaded (have a non-nil page).
func (t *Tree) node40View(z *znode.Znode) *node40.Node {
	n, err := node40.Load(z.Page().Bytes(), t.scheme)
	if err != nil {
		// A page that was just formatted by newNode or CreateItem
		// always round-trips; only real on-disk corruption hits this,
		// which the caller surfaces as IOError via the zero-value node.
		t.log.Errorw("node40 load failed", "addr", z.Addr(), "error", err)
		return node40.New(z.Page().Bytes(), z.Level(), t.scheme)
	}
	return n
}

// Node40 implements carry.Accessor.
func (t *Tree) Node40(z *znode.Znode) *node40.Node { return t.node40View(z) }

func encodeChildAddr(a znode.Addr) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(a))
	return b
}

func decodeChildAddr(data []byte) znode.Addr {
	return znode.Addr(binary.LittleEndian.Uint64(data))
}

// loadChild returns the in-memory znode for a child address, pulling it
// from the cache or, for a real address, reading it from the page cache.
func (t *Tree) loadChild(addr znode.Addr, level int) (*znode.Znode, error) {
	if z := t.cache.Lookup(addr); z != nil {
		return z, nil
	}
	if addr.IsFake() {
		return nil, derrors.Wrap(derrors.IOError, "tree: fake child address %d not in cache", uint64(addr))
	}

	page, err := t.pages.GrabCachePage(uint64(addr))
	if err != nil {
		return nil, err
	}
	n, err := node40.Load(page.Bytes(), t.scheme)
	if err != nil {
		return nil, err
	}
	if n.Level() != level {
		return nil, derrors.Wrap(derrors.IOError, "tree: block %d has level %d, expected %d", uint64(addr), n.Level(), level)
	}
	z := znode.NewZnode(addr, level, nil)
	z.SetPage(page)
	t.deadlock.Track(&z.Lock)
	t.cache.Insert(z)
	return z, nil
}

// ChildAt returns the in-memory znode for the child pointer at itemPos
// in parent, or nil if that child has never been loaded into memory —
// used by internal/flush, which must not load a node just to discover
// it cannot be dirty.
func (t *Tree) ChildAt(parent *znode.Znode, itemPos int) *znode.Znode {
	n := t.node40View(parent)
	if itemPos < 0 || itemPos >= n.NumItems() {
		return nil
	}
	addr := decodeChildAddr(n.ItemByCoord(coord.Coord{ItemPos: itemPos}))
	return t.cache.Lookup(addr)
}

// CoordByKey implements §6.3's coord_by_key: walks root-to-leaf,
// returning the leaf-level coord and result of node40.Lookup. bias is
// not consulted: a miss returns NotFound with the max-not-greater coord
// (or BeforeItem 0 / EmptyNode) under either bias.
func (t *Tree) CoordByKey(k key.Key, bias node40.Bias) (coord.Coord, node40.LookupResult, error) {
	t.mu.Lock()
	cur := t.root
	t.mu.Unlock()

	for {
		n := t.node40View(cur)
		c, res := n.Lookup(k)

		if cur.Level() == 0 {
			c.Node = cur
			return c, res, nil
		}

		// Internal level: descend via the child pointer at the
		// max-not-greater position (or item 0 if k is below every key).
		itemPos := c.ItemPos
		if c.Between == coord.BeforeItem {
			itemPos = 0
		}
		if n.NumItems() == 0 {
			return coord.Coord{}, node40.NotFound, derrors.NotFound
		}
		childAddr := decodeChildAddr(n.ItemByCoord(coord.Coord{ItemPos: itemPos}))
		child, err := t.loadChild(childAddr, cur.Level()-1)
		if err != nil {
			return coord.Coord{}, node40.NotFound, err
		}
		child.SetParent(cur, itemPos)
		cur = child
	}
}

// Parent implements carry.Accessor: returns the cached parent hint.
func (t *Tree) Parent(z *znode.Znode) (*znode.Znode, int) { return z.Parent() }

// GetParent implements §4.5's get_parent: for the root, there is no
// parent (the "above-root sentinel" is modeled here as (nil, -1);
// callers must check).
func (t *Tree) GetParent(z *znode.Znode) (*znode.Znode, int) {
	t.mu.Lock()
	isRoot := z == t.root
	t.mu.Unlock()
	if isRoot {
		return nil, -1
	}
	return z.Parent()
}

// FindLeftNeighbor implements carry.Accessor / §4.5's get_neighbor for
// the left side. If the sibling pointer is not yet connected,
// connectZnode establishes it first from the parent's adjacent item.
// No long-term lock is taken on the neighbor and lopri is not
// consulted, so this never returns derrors.ErrBlock; a node that is
// its parent's first child gets derrors.NoNeighbor.
func (t *Tree) FindLeftNeighbor(z *znode.Znode, lopri bool) (*znode.Znode, error) {
	if !z.LeftConnected() {
		if err := t.connectZnode(z, locks.LoPri); err != nil {
			return nil, err
		}
	}
	left := z.Left()
	if left == nil {
		return nil, derrors.NoNeighbor
	}
	return left, nil
}

// FindRightNeighbor is the right-side analogue, always HIPRI (§4.3.6).
func (t *Tree) FindRightNeighbor(z *znode.Znode) (*znode.Znode, error) {
	if !z.RightConnected() {
		if err := t.connectZnode(z, locks.HiPri); err != nil {
			return nil, err
		}
	}
	right := z.Right()
	if right == nil {
		return nil, derrors.NoNeighbor
	}
	return right, nil
}

// connectZnode implements §4.5's connect_znode: reads the item in the
// parent immediately left/right of z's slot, extracts the disk address,
// and populates z's missing sibling pointer.
func (t *Tree) connectZnode(z *znode.Znode, pri locks.Priority) error {
	parent, pos := z.Parent()
	if parent == nil {
		z.SetLeft(nil)
		z.SetRight(nil)
		return nil
	}
	pn := t.node40View(parent)

	if pri == locks.LoPri {
		if pos == 0 {
			z.SetLeft(nil)
			return nil
		}
		addr := decodeChildAddr(pn.ItemByCoord(coord.Coord{ItemPos: pos - 1}))
		left, err := t.loadChild(addr, z.Level())
		if err != nil {
			return err
		}
		left.SetParent(parent, pos-1)
		z.SetLeft(left)
		left.SetRight(z)
		return nil
	}

	if pos+1 >= pn.NumItems() {
		z.SetRight(nil)
		return nil
	}
	addr := decodeChildAddr(pn.ItemByCoord(coord.Coord{ItemPos: pos + 1}))
	right, err := t.loadChild(addr, z.Level())
	if err != nil {
		return err
	}
	right.SetParent(parent, pos+1)
	z.SetRight(right)
	right.SetLeft(z)
	return nil
}

// AllocateSibling implements carry.Accessor: creates a fresh empty node
// at the given level.
func (t *Tree) AllocateSibling(level int) (*znode.Znode, error) {
	return t.newNode(level), nil
}

// LinkRight implements carry.Accessor: links newRight in beside existing
// and posts the parent-level carry op that gives newRight its own
// parent pointer (§4.3.1 step 4's "INSERT of kind CHILD").
//
// If existing is currently the root, the tree grows a new root one
// level higher holding pointers to both (root split).
func (t *Tree) LinkRight(q *carry.Queue, existing, newRight *znode.Znode) error {
	oldRight := existing.Right()
	existing.SetRight(newRight)
	newRight.SetLeft(existing)
	if oldRight != nil {
		newRight.SetRight(oldRight)
		oldRight.SetLeft(newRight)
	} else {
		newRight.SetRight(nil)
	}

	parent, pos := existing.Parent()
	if parent == nil {
		return t.splitRoot(existing, newRight)
	}

	newRight.SetParent(parent, pos+1)
	leftmost := t.node40View(newRight).KeyAt(0)

	op := q.NewOp()
	op.Kind = carry.Insert
	op.Addr = carry.Child
	op.Target = parent
	op.Coord = coord.Coord{ItemPos: pos + 1, Between: coord.BeforeItem}
	op.Key = leftmost
	op.Data = encodeChildAddr(newRight.Addr())
	op.Needed = len(op.Data) + 40
	q.Post(op)
	return nil
}

// splitRoot grows the tree by one level: a fresh root node is created
// holding child pointers to oldRoot and newRight.
func (t *Tree) splitRoot(oldRoot, newRight *znode.Znode) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	newRootLevel := t.height
	newRoot := t.newNode(newRootLevel)
	rootNode := t.node40View(newRoot)

	oldLeftmost := t.node40View(oldRoot).KeyAt(0)
	newRightLeftmost := t.node40View(newRight).KeyAt(0)

	if err := rootNode.CreateItem(0, oldLeftmost, encodeChildAddr(oldRoot.Addr()), childPointerPlugin); err != nil {
		return err
	}
	if err := rootNode.CreateItem(1, newRightLeftmost, encodeChildAddr(newRight.Addr()), childPointerPlugin); err != nil {
		return err
	}

	oldRoot.SetParent(newRoot, 0)
	newRight.SetParent(newRoot, 1)
	t.root = newRoot
	t.height++
	t.cache.Insert(newRoot)
	return nil
}

// ResetRootDelim implements carry.TreeShape's root-handling rule (§4.3.2):
// instead of killing a single-pointer root at height<=2, reset its
// delimiting keys to (min,max).
func (t *Tree) ResetRootDelim() {
	t.mu.Lock()
	root := t.root
	t.mu.Unlock()
	root.SetDelim(znode.DelimKeys{Left: key.Min(), Right: key.Max()})
}

// DemoteRoot implements carry.TreeShape: replaces the root with its sole
// child, decrementing tree height.
func (t *Tree) DemoteRoot() {
	t.mu.Lock()
	defer t.mu.Unlock()

	rootNode := t.node40View(t.root)
	if rootNode.NumItems() != 1 {
		return
	}
	addr := decodeChildAddr(rootNode.ItemByCoord(coord.Coord{ItemPos: 0}))
	child, err := t.loadChild(addr, t.root.Level()-1)
	if err != nil {
		t.log.Errorw("demote root: load sole child failed", "error", err)
		return
	}
	child.SetParent(nil, -1)
	t.cache.Remove(t.root.Addr())
	t.root = child
	t.height--
}
