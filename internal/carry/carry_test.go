package carry_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	derrors "github.com/cowtree/dancingtree/errors"
	"github.com/cowtree/dancingtree/internal/carry"
	"github.com/cowtree/dancingtree/internal/node40"
	"github.com/cowtree/dancingtree/internal/znode"
	"github.com/cowtree/dancingtree/key"
)

const blockSize = 512

// fakeAccessor is a minimal in-memory carry.Accessor for testing
// make_space without a real tree/devio stack: neighbors are plain
// Go-level links, allocation just builds a fresh node40 block.
type fakeAccessor struct {
	nodes  map[*znode.Znode]*node40.Node
	left   map[*znode.Znode]*znode.Znode
	right  map[*znode.Znode]*znode.Znode
	parent map[*znode.Znode]*znode.Znode
	hint   map[*znode.Znode]int
}

func newFakeAccessor() *fakeAccessor {
	return &fakeAccessor{
		nodes:  make(map[*znode.Znode]*node40.Node),
		left:   make(map[*znode.Znode]*znode.Znode),
		right:  make(map[*znode.Znode]*znode.Znode),
		parent: make(map[*znode.Znode]*znode.Znode),
		hint:   make(map[*znode.Znode]int),
	}
}

func (a *fakeAccessor) newLeaf() *znode.Znode {
	z := znode.NewZnode(znode.NewFakeAddr(false), 0, nil)
	a.nodes[z] = node40.New(make([]byte, blockSize), 0, key.SchemeV35)
	return z
}

func (a *fakeAccessor) newInternal() *znode.Znode {
	z := znode.NewZnode(znode.NewFakeAddr(false), 1, nil)
	a.nodes[z] = node40.New(make([]byte, blockSize), 1, key.SchemeV35)
	return z
}

// setParent wires child's resolved parent and its known slot hint within
// parent, the fake-accessor equivalent of a real tree's child->parent
// pointer (§4.5 get_parent).
func (a *fakeAccessor) setParent(child, parent *znode.Znode, slot int) {
	a.parent[child] = parent
	a.hint[child] = slot
}

func (a *fakeAccessor) Node40(z *znode.Znode) *node40.Node { return a.nodes[z] }

func (a *fakeAccessor) FindLeftNeighbor(z *znode.Znode, lopri bool) (*znode.Znode, error) {
	n, ok := a.left[z]
	if !ok {
		return nil, derrors.NoNeighbor
	}
	return n, nil
}

func (a *fakeAccessor) FindRightNeighbor(z *znode.Znode) (*znode.Znode, error) {
	n, ok := a.right[z]
	if !ok {
		return nil, derrors.NoNeighbor
	}
	return n, nil
}

func (a *fakeAccessor) AllocateSibling(level int) (*znode.Znode, error) {
	return a.newLeaf(), nil
}

func (a *fakeAccessor) LinkRight(q *carry.Queue, existing, newRight *znode.Znode) error {
	oldRight := a.right[existing]
	a.right[existing] = newRight
	a.left[newRight] = existing
	if oldRight != nil {
		a.right[newRight] = oldRight
		a.left[oldRight] = newRight
	}
	return nil
}

func (a *fakeAccessor) Parent(z *znode.Znode) (*znode.Znode, int) {
	p, ok := a.parent[z]
	if !ok {
		return nil, -1
	}
	return p, a.hint[z]
}

func kv(oid uint64) key.Key { return key.Key{Locality: 1, ObjectID: oid} }

func fillNode(t *testing.T, n *node40.Node, itemSize int) {
	t.Helper()
	i := 0
	for n.FreeSpace() >= itemSize+40 {
		require.NoError(t, n.CreateItem(i, kv(uint64(i)), make([]byte, itemSize), 1))
		i++
	}
}

func TestMakeSpaceLocalFitNeedsNoBalancing(t *testing.T) {
	acc := newFakeAccessor()
	leaf := acc.newLeaf()
	q := carry.NewQueue()
	level := carry.NewLevel()

	op := q.NewOp()
	op.Kind = carry.Insert
	op.Target = leaf
	op.Needed = 32

	require.NoError(t, carry.MakeSpace(q, acc, level, op))
}

func TestMakeSpaceShiftsLeftWhenFull(t *testing.T) {
	acc := newFakeAccessor()
	left := acc.newLeaf()
	right := acc.newLeaf()
	require.NoError(t, acc.LinkRight(nil, left, right))

	fillNode(t, acc.Node40(right), 40)
	itemsBefore := acc.Node40(right).NumItems()
	require.Greater(t, itemsBefore, 0)

	q := carry.NewQueue()
	level := carry.NewLevel()

	op := q.NewOp()
	op.Kind = carry.Insert
	op.Target = right
	op.Needed = acc.Node40(right).FreeSpace() + 80

	err := carry.MakeSpace(q, acc, level, op)
	require.NoError(t, err)
	require.Greater(t, acc.Node40(left).NumItems(), 0)
	require.False(t, level.Restartable())
}

func TestMakeSpaceAllocatesSiblingWhenNeighborsInsufficient(t *testing.T) {
	acc := newFakeAccessor()
	leaf := acc.newLeaf()
	fillNode(t, acc.Node40(leaf), 40)

	q := carry.NewQueue()
	level := carry.NewLevel()

	op := q.NewOp()
	op.Kind = carry.Insert
	op.Target = leaf
	op.Needed = acc.Node40(leaf).FreeSpace() + 100

	err := carry.MakeSpace(q, acc, level, op)
	require.NoError(t, err)
	require.NotNil(t, acc.right[leaf])
}

func TestMakeSpaceFailsWithDontAllocate(t *testing.T) {
	acc := newFakeAccessor()
	leaf := acc.newLeaf()
	fillNode(t, acc.Node40(leaf), 40)

	q := carry.NewQueue()
	level := carry.NewLevel()

	op := q.NewOp()
	op.Kind = carry.Insert
	op.Target = leaf
	op.Flags = carry.DontAllocate
	op.Needed = acc.Node40(leaf).FreeSpace() + 100

	err := carry.MakeSpace(q, acc, level, op)
	require.ErrorIs(t, err, derrors.NoSpace)
}

func TestEstimateMatchesSpecFormulas(t *testing.T) {
	require.Equal(t, 2*(5+1), carry.Estimate(carry.Insert, 5, 16, 64))
	require.Equal(t, 0, carry.Estimate(carry.Cut, 5, 16, 64))
	require.Equal(t, 0, carry.Estimate(carry.Delete, 5, 16, 64))
	require.Equal(t, 0, carry.Estimate(carry.Update, 5, 16, 64))
	require.Equal(t, (16+1)*64, carry.Estimate(carry.InsertFlow, 5, 16, 64))
}

func TestRunDrainsPostedOps(t *testing.T) {
	acc := newFakeAccessor()
	leaf := acc.newLeaf()
	require.NoError(t, acc.Node40(leaf).CreateItem(0, kv(1), make([]byte, 8), 1))

	q := carry.NewQueue()
	op := q.NewOp()
	op.Kind = carry.Cut
	op.Target = leaf
	op.Coord.ItemPos = 0
	op.Coord.UnitPos = 1
	q.Doing.Ops = append(q.Doing.Ops, op)

	ran := 0
	err := carry.Run(q, func(q *carry.Queue, level *carry.Level, op *carry.Op) error {
		ran++
		return carry.Cut(q, acc, op, false, nil)
	})
	require.NoError(t, err)
	require.Equal(t, 1, ran)
	require.Equal(t, 0, acc.Node40(leaf).NumItems())
}

// fakeShape is a no-op carry.TreeShape for tests that never exercise the
// root-collapse rule (Height reports 3 and the parent here sits at the
// twig level, so neither the height<=2 reset nor the above-twig root
// demotion applies).
type fakeShape struct{}

func (fakeShape) Height() int     { return 3 }
func (fakeShape) ResetRootDelim() {}
func (fakeShape) DemoteRoot()     {}

// TestCutEmptyingLeafPostsDeleteAgainstRealParent covers the scenario the
// earlier Cut/Delete mismatch corrupted: cutting a leaf down to zero
// items must post a DELETE against the leaf's actual parent (resolved
// via acc.Parent), removing that parent's now-dangling child pointer —
// not re-cut the already-empty leaf itself.
func TestCutEmptyingLeafPostsDeleteAgainstRealParent(t *testing.T) {
	acc := newFakeAccessor()
	parent := acc.newInternal()
	leaf := acc.newLeaf()

	require.NoError(t, acc.Node40(leaf).CreateItem(0, kv(1), make([]byte, 8), 1))
	require.NoError(t, acc.Node40(parent).CreateItem(0, kv(1), make([]byte, 8), 0))
	require.NoError(t, acc.Node40(parent).CreateItem(1, kv(2), make([]byte, 8), 0))
	require.Equal(t, 2, acc.Node40(parent).NumItems())
	acc.setParent(leaf, parent, 0)

	q := carry.NewQueue()
	op := q.NewOp()
	op.Kind = carry.Cut
	op.Target = leaf
	op.Coord.ItemPos = 0
	op.Coord.UnitPos = 1
	q.Doing.Ops = append(q.Doing.Ops, op)

	err := carry.Run(q, func(q *carry.Queue, level *carry.Level, op *carry.Op) error {
		switch op.Kind {
		case carry.Cut:
			return carry.Cut(q, acc, op, false, nil)
		case carry.Delete:
			return carry.Delete(q, acc, op, fakeShape{})
		default:
			t.Fatalf("unexpected op kind %v", op.Kind)
			return nil
		}
	})
	require.NoError(t, err)
	require.Equal(t, 0, acc.Node40(leaf).NumItems())
	require.Equal(t, 1, acc.Node40(parent).NumItems())
}
