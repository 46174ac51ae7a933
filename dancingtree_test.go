package dancingtree_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	dancingtree "github.com/cowtree/dancingtree"
	"github.com/cowtree/dancingtree/internal/devio"
	"github.com/cowtree/dancingtree/internal/node40"
	"github.com/cowtree/dancingtree/key"
)

const blockSize = 4096

func newTestTree(t *testing.T) *dancingtree.Tree {
	t.Helper()
	dev := devio.NewMemDevice(256, blockSize)
	return dancingtree.Init(dancingtree.Config{
		Scheme:    key.SchemeV35,
		BlockSize: blockSize,
		Device:    dev,
	})
}

func k(oid, off uint64) key.Key { return key.Key{ObjectID: oid, Offset: off} }

func TestEmptyTreeInsertThenLookup(t *testing.T) {
	tr := newTestTree(t)

	c, res, err := tr.CoordByKey(k(1, 1), node40.MaxNotGreater)
	require.NoError(t, err)
	require.Equal(t, dancingtree.NotFound, res)

	require.NoError(t, tr.InsertByCoord(c, k(1, 1), []byte("hello world")))

	c2, res2, err := tr.CoordByKey(k(1, 1), node40.Exact)
	require.NoError(t, err)
	require.Equal(t, dancingtree.Found, res2)
	require.Equal(t, 0, c2.ItemPos)
}

func TestInsertManyThenCutRemovesItem(t *testing.T) {
	tr := newTestTree(t)

	for i := uint64(0); i < 5; i++ {
		c, _, err := tr.CoordByKey(k(1, i), node40.MaxNotGreater)
		require.NoError(t, err)
		require.NoError(t, tr.InsertByCoord(c, k(1, i), []byte("payload")))
	}

	c, res, err := tr.CoordByKey(k(1, 2), node40.Exact)
	require.NoError(t, err)
	require.Equal(t, dancingtree.Found, res)

	require.NoError(t, tr.CutNode(c.Node, c.ItemPos, c.ItemPos+1))

	_, res2, err := tr.CoordByKey(k(1, 2), node40.Exact)
	require.NoError(t, err)
	require.Equal(t, dancingtree.NotFound, res2)
}

func TestBeginTxnCaptureAndFlush(t *testing.T) {
	tr := newTestTree(t)
	a := tr.BeginTxn()

	c, _, err := tr.CoordByKey(k(1, 1), node40.MaxNotGreater)
	require.NoError(t, err)
	require.NoError(t, tr.InsertByCoord(c, k(1, 1), []byte("x")))
	require.NoError(t, a.Capture(c.Node))

	require.NoError(t, tr.JnodeFlush(context.Background(), c.Node))
}

func TestAllocateOIDIsMonotonic(t *testing.T) {
	tr := newTestTree(t)
	o1 := tr.AllocateOID()
	o2 := tr.AllocateOID()
	require.Less(t, o1, o2)
}
