// Package dancingtree is the public, core-facing facade (§6.3): it wires
// together the znode/coord/node40 layout, the carry balancer, the atom
// transaction manager, the block allocator and the flush engine into one
// mountable tree, and exposes tree_init, coord_by_key, insert_by_coord,
// cut_node, get_{left,right}_neighbor, get_parent and jnode_flush.
package dancingtree

import (
	"context"
	"time"

	derrors "github.com/cowtree/dancingtree/errors"
	"github.com/cowtree/dancingtree/internal/alloc"
	"github.com/cowtree/dancingtree/internal/atom"
	"github.com/cowtree/dancingtree/internal/carry"
	"github.com/cowtree/dancingtree/internal/coord"
	"github.com/cowtree/dancingtree/internal/devio"
	"github.com/cowtree/dancingtree/internal/flush"
	"github.com/cowtree/dancingtree/internal/node40"
	"github.com/cowtree/dancingtree/internal/tree"
	"github.com/cowtree/dancingtree/internal/znode"
	"github.com/cowtree/dancingtree/key"
	"github.com/cowtree/dancingtree/logging"
)

// leafItemPlugin is the item-plugin id used for user-data items created
// via InsertByCoord, distinct from the internal child-pointer item id
// internal/tree reserves for itself.
const leafItemPlugin uint16 = 1

// itemHeaderSlack is added to a payload's length to compute an INSERT
// op's free-space requirement: payload plus node40's 40-byte item
// header.
const itemHeaderSlack = 40

// Result mirrors §6.3/§7's three-way lookup outcome.
type Result int

const (
	Found Result = iota
	NotFound
	IOErrorResult
)

// Config holds tree_init's parameters (§6.3): the key scheme, block
// size, backing device, device capacity in blocks, the atom manager's
// commit-trigger cadence, and the engine's tunables (§4.4.1, §4.4.3,
// §4.3.7). Tunables is optional; a zero value gets tree.DefaultConfig().
// CommitTick and MaxAtomAge are not read by Init or Run; Run takes its
// tick and age as arguments.
type Config struct {
	Scheme     key.Scheme
	BlockSize  int
	Device     devio.BlockDevice
	CommitTick time.Duration
	MaxAtomAge time.Duration
	Tunables   tree.Config
	Log        *logging.Logger
}

// Tree is the mountable facade over an in-memory dancing tree.
type Tree struct {
	tr       *tree.Tree
	bitmap   *alloc.Bitmap
	oids     *alloc.OIDAllocator
	atoms    *atom.Manager
	flusher  *flush.Flusher
	tunables tree.Config
	log      *logging.Logger
}

// Init implements tree_init(super, root_block, height, node_plugin): it
// builds a fresh in-memory tree (height 1, an empty leaf root) over dev,
// ready to accept inserts.
func Init(cfg Config) *Tree {
	log := cfg.Log
	if log == nil {
		log = logging.Nop()
	}
	tunables := cfg.Tunables
	if tunables == (tree.Config{}) {
		tunables = tree.DefaultConfig()
	}
	pages := devio.NewPageCache(cfg.Device)
	tr := tree.New(cfg.Scheme, cfg.BlockSize, pages, log)
	bitmap := alloc.NewBitmap(cfg.Device.SizeInBlocks())
	oids := alloc.NewOIDAllocator(1, 0)
	atoms := atom.NewManager(log)
	return &Tree{
		tr:       tr,
		bitmap:   bitmap,
		oids:     oids,
		atoms:    atoms,
		flusher:  flush.New(tr, bitmap, tunables, log),
		tunables: tunables,
		log:      log.Named("dancingtree"),
	}
}

// CoordByKey implements coord_by_key(tree, key, ..., bias) → FOUND /
// NOT_FOUND / IO_ERROR: walks root-to-leaf and returns the coord at the
// matching position or, on a miss, the closest max-not-greater position;
// the result is the same under either bias.
func (t *Tree) CoordByKey(k key.Key, bias node40.Bias) (coord.Coord, Result, error) {
	c, res, err := t.tr.CoordByKey(k, bias)
	if err != nil {
		if derrors.Is(err, derrors.NotFound) {
			return c, NotFound, nil
		}
		return c, IOErrorResult, err
	}
	if res == node40.Found {
		return c, Found, nil
	}
	return c, NotFound, nil
}

// InsertByCoord implements insert_by_coord(coord, data, key, lh, flags):
// seeds a carry INSERT at the coord's level and drives the balancer
// until the item is placed and every delimiting key/parent pointer it
// touched is consistent.
func (t *Tree) InsertByCoord(c coord.Coord, k key.Key, data []byte) error {
	q := carry.NewQueue()
	q.MaxNewSiblings = t.tunables.FlowNewNodesLimit
	op := q.NewOp()
	op.Kind = carry.Insert
	op.Addr = carry.ItemData
	op.Target = c.Node
	op.Coord = c
	op.Key = k
	op.Data = data
	op.Needed = len(data) + itemHeaderSlack
	q.Doing.Ops = append(q.Doing.Ops, op)

	return carry.Run(q, t.handle)
}

// CutNode implements cut_node(from, to, from_key, to_key, ...): removes
// the half-open item range [from,to) from node, posting UPDATE/DELETE as
// needed (§4.3.3).
func (t *Tree) CutNode(node *znode.Znode, from, to int) error {
	q := carry.NewQueue()
	op := q.NewOp()
	op.Kind = carry.Cut
	op.Target = node
	op.Coord = coord.Coord{ItemPos: from, UnitPos: to}
	q.Doing.Ops = append(q.Doing.Ops, op)

	return carry.Run(q, t.handle)
}

// GetParent implements get_parent (§4.5): for the root, returns the
// above-root sentinel (nil, -1); callers must check.
func (t *Tree) GetParent(z *znode.Znode) (*znode.Znode, int) { return t.tr.GetParent(z) }

// GetLeftNeighbor implements get_neighbor's left-side case (§4.5).
func (t *Tree) GetLeftNeighbor(z *znode.Znode) (*znode.Znode, error) {
	return t.tr.FindLeftNeighbor(z, false)
}

// GetRightNeighbor implements get_neighbor's right-side case (§4.5).
func (t *Tree) GetRightNeighbor(z *znode.Znode) (*znode.Znode, error) {
	return t.tr.FindRightNeighbor(z)
}

// JnodeFlush implements jnode_flush(node) → 0/EIO/ENOSPC (§4.4).
func (t *Tree) JnodeFlush(ctx context.Context, z *znode.Znode) error {
	return t.flusher.Flush(ctx, z)
}

// AllocateOID hands out a fresh, monotonic object id (§6.1 OID
// allocator), used by callers constructing keys for new objects.
func (t *Tree) AllocateOID() uint64 { return t.oids.Allocate() }

// BeginTxn opens a fresh atom and returns it; callers capture the jnodes
// their operation dirties into it (§3 Atom, §6.1).
func (t *Tree) BeginTxn() *atom.Atom { return t.atoms.OpenAtom() }

// Run starts the ktxnmgrd-style background commit-trigger loop: every
// tick, atoms older than maxAge are flushed and committed automatically.
// It blocks until ctx is done.
func (t *Tree) Run(ctx context.Context, tick, maxAge time.Duration) {
	t.atoms.Run(ctx, tick, maxAge, t.commitAtom)
}

// commitAtom flushes every jnode the atom captured, then drives it
// through commit-prepared -> committed -> writeback -> done.
func (t *Tree) commitAtom(a *atom.Atom) error {
	for _, c := range a.Captured() {
		z, ok := c.(*znode.Znode)
		if !ok {
			continue
		}
		if err := t.flusher.Flush(context.Background(), z); err != nil {
			return err
		}
	}
	if err := a.BeginCommit(); err != nil {
		return err
	}
	if err := a.FinishCommit(); err != nil {
		return err
	}
	if err := a.BeginWriteback(); err != nil {
		return err
	}
	for _, c := range a.Captured() {
		a.Release(c)
	}
	return a.FinishWriteback()
}

// handle is the carry.Handler bound to this tree's Accessor/TreeShape,
// dispatching each op to its kind-specific implementation (§4.3).
func (t *Tree) handle(q *carry.Queue, level *carry.Level, op *carry.Op) error {
	switch op.Kind {
	case carry.Insert, carry.Paste:
		if err := carry.MakeSpace(q, t.tr, level, op); err != nil {
			return err
		}
		pluginID := leafItemPlugin
		if op.Addr == carry.Child {
			pluginID = 0
		}
		// op.Coord names the insertion point two ways (§4.1): BeforeItem
		// p is already the literal create index; AtUnit p names the
		// existing item the new one goes after, so the create index is
		// p+1.
		pos := op.Coord.ItemPos
		if op.Coord.Between == coord.AtUnit {
			pos++
		}
		return t.tr.Node40(op.Target).CreateItem(pos, op.Key, op.Data, pluginID)
	case carry.Delete:
		return carry.Delete(q, t.tr, op, t.tr)
	case carry.Cut:
		return carry.Cut(q, t.tr, op, false, nil)
	case carry.Update:
		return carry.Update(t.tr, op)
	case carry.Modify:
		return carry.Modify(op, nil)
	default:
		return derrors.Wrap(derrors.IOError, "dancingtree: op kind %d not supported by this core", op.Kind)
	}
}
