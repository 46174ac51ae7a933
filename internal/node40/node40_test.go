package node40_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cowtree/dancingtree/internal/coord"
	"github.com/cowtree/dancingtree/internal/node40"
	"github.com/cowtree/dancingtree/key"
)

func coordAt(itemPos int) coord.Coord {
	return coord.Coord{ItemPos: itemPos, Between: coord.AtUnit}
}

const blockSize = 4096

func k(oid, off uint64) key.Key {
	return key.Key{Locality: 1, Type: 0, ObjectID: oid, Offset: off}
}

func TestEmptyTreeInsertScenario(t *testing.T) {
	buf := make([]byte, blockSize)
	n := node40.New(buf, 0, key.SchemeV35)

	data := make([]byte, 128)
	freeBefore := n.FreeSpace()

	require.NoError(t, n.CreateItem(0, k(1, 1), data, 1))
	require.Equal(t, 1, n.NumItems())

	c, res := n.Lookup(k(1, 1))
	require.Equal(t, node40.Found, res)
	require.Equal(t, 0, c.ItemPos)

	require.Equal(t, freeBefore-len(data)-32-2-2-2-2, n.FreeSpace())
}

func TestLookupMaxNotGreater(t *testing.T) {
	buf := make([]byte, blockSize)
	n := node40.New(buf, 0, key.SchemeV35)

	require.NoError(t, n.CreateItem(0, k(1, 10), []byte("a"), 1))
	require.NoError(t, n.CreateItem(1, k(1, 20), []byte("b"), 1))
	require.NoError(t, n.CreateItem(2, k(1, 30), []byte("c"), 1))

	c, res := n.Lookup(k(1, 25))
	require.Equal(t, node40.NotFound, res)
	require.Equal(t, 1, c.ItemPos) // key 20, the max not greater than 25
}

func TestLookupBelowAndAboveRange(t *testing.T) {
	buf := make([]byte, blockSize)
	n := node40.New(buf, 0, key.SchemeV35)
	require.NoError(t, n.CreateItem(0, k(1, 10), []byte("a"), 1))

	_, res := n.Lookup(k(1, 5))
	require.Equal(t, node40.NotFound, res)

	c, res := n.Lookup(k(1, 50))
	require.Equal(t, node40.NotFound, res)
	require.Equal(t, 0, c.ItemPos)
}

func TestLookupBinarySearchAboveThreshold(t *testing.T) {
	buf := make([]byte, blockSize)
	n := node40.New(buf, 0, key.SchemeV35)
	for i := 0; i < 10; i++ {
		require.NoError(t, n.CreateItem(i, k(1, uint64(i*10)), []byte{byte(i)}, 1))
	}
	for i := 0; i < 10; i++ {
		c, res := n.Lookup(k(1, uint64(i*10)))
		require.Equal(t, node40.Found, res)
		require.Equal(t, i, c.ItemPos)
	}
}

func TestCutRemovesRangeAndClosesGap(t *testing.T) {
	buf := make([]byte, blockSize)
	n := node40.New(buf, 0, key.SchemeV35)
	require.NoError(t, n.CreateItem(0, k(1, 1), []byte("aaaa"), 1))
	require.NoError(t, n.CreateItem(1, k(1, 2), []byte("bbbb"), 1))
	require.NoError(t, n.CreateItem(2, k(1, 3), []byte("cccc"), 1))

	emptied, err := n.Cut(1, 2)
	require.NoError(t, err)
	require.False(t, emptied)
	require.Equal(t, 2, n.NumItems())
	require.Equal(t, k(1, 1), n.KeyAt(0))
	require.Equal(t, k(1, 3), n.KeyAt(1))
}

func TestCutEmptiesNode(t *testing.T) {
	buf := make([]byte, blockSize)
	n := node40.New(buf, 0, key.SchemeV35)
	require.NoError(t, n.CreateItem(0, k(1, 1), []byte("aaaa"), 1))

	emptied, err := n.Cut(0, 1)
	require.NoError(t, err)
	require.True(t, emptied)
	require.Equal(t, 0, n.NumItems())
}

func TestShiftConservesTotalBytes(t *testing.T) {
	left := node40.New(make([]byte, blockSize), 0, key.SchemeV35)
	right := node40.New(make([]byte, blockSize), 0, key.SchemeV35)

	for i := 0; i < 5; i++ {
		require.NoError(t, left.CreateItem(i, k(1, uint64(i)), []byte("xxxxxxxx"), 1))
	}

	totalFreeBefore := left.FreeSpace() + right.FreeSpace()

	shifted, err := left.Shift(right, node40.ShiftRight, 2)
	require.NoError(t, err)
	require.Greater(t, shifted, 0)

	require.Equal(t, 3, left.NumItems())
	require.Equal(t, 2, right.NumItems())

	totalFreeAfter := left.FreeSpace() + right.FreeSpace()
	require.Equal(t, totalFreeBefore, totalFreeAfter)

	// Right received the rightmost items of left, in order.
	require.Equal(t, k(1, 3), right.KeyAt(0))
	require.Equal(t, k(1, 4), right.KeyAt(1))
}

func TestChangeItemSizeGrowShrinkRoundTrips(t *testing.T) {
	buf := make([]byte, blockSize)
	n := node40.New(buf, 0, key.SchemeV35)
	require.NoError(t, n.CreateItem(0, k(1, 1), []byte("abcd"), 1))
	require.NoError(t, n.CreateItem(1, k(1, 2), []byte("efgh"), 1))

	require.NoError(t, n.ChangeItemSize(0, 4))
	require.Equal(t, 8, n.LengthByCoord(coordAt(0)))

	require.NoError(t, n.ChangeItemSize(0, -4))
	require.Equal(t, 4, n.LengthByCoord(coordAt(0)))
	require.Equal(t, []byte("efgh"), n.ItemByCoord(coordAt(1)))
}

func TestLoadRejectsBadMagic(t *testing.T) {
	buf := make([]byte, blockSize)
	_, err := node40.Load(buf, key.SchemeV35)
	require.Error(t, err)
}

func TestLoadAcceptsValidNode(t *testing.T) {
	buf := make([]byte, blockSize)
	n := node40.New(buf, 0, key.SchemeV35)
	require.NoError(t, n.CreateItem(0, k(1, 1), []byte("a"), 1))

	loaded, err := node40.Load(buf, key.SchemeV35)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.NumItems())
}
