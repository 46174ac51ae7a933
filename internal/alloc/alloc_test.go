package alloc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cowtree/dancingtree/internal/alloc"
)

func TestAllocFindsContiguousRunFromHint(t *testing.T) {
	b := alloc.NewBitmap(100)
	start, length, err := b.Alloc(10, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(10), start)
	require.Equal(t, uint64(5), length)
}

func TestAllocWrapsWhenTailIsFull(t *testing.T) {
	b := alloc.NewBitmap(20)
	_, _, err := b.Alloc(5, 15) // consumes [5,20)
	require.NoError(t, err)

	// hint beyond the remaining free tail; must wrap to [0, hint).
	start, length, err := b.Alloc(18, 3)
	require.NoError(t, err)
	require.Equal(t, uint64(0), start)
	require.Equal(t, uint64(3), length)
}

func TestAllocFailsWhenExhausted(t *testing.T) {
	b := alloc.NewBitmap(4)
	_, _, err := b.Alloc(0, 4)
	require.NoError(t, err)

	_, _, err = b.Alloc(0, 1)
	require.Error(t, err)
}

func TestMarkDeletedFreesBlock(t *testing.T) {
	b := alloc.NewBitmap(4)
	_, _, err := b.Alloc(0, 4)
	require.NoError(t, err)

	b.MarkDeleted(2)
	start, length, err := b.Alloc(0, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(2), start)
	require.Equal(t, uint64(1), length)
}

func TestPrepareCommitSnapshotsWorkingBitmap(t *testing.T) {
	b := alloc.NewBitmap(10)
	_, _, err := b.Alloc(0, 3)
	require.NoError(t, err)
	b.PrepareCommit()
	require.Equal(t, uint64(7), b.FreeBlockCount())
}

func TestOIDAllocatorMonotonic(t *testing.T) {
	a := alloc.NewOIDAllocator(5, 0)
	o1 := a.Allocate()
	o2 := a.Allocate()
	require.Equal(t, uint64(5), o1)
	require.Equal(t, uint64(6), o2)
	require.Equal(t, uint64(2), a.Used())

	a.Release(o1)
	require.Equal(t, uint64(1), a.Used())
}
