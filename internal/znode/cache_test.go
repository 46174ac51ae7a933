package znode_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cowtree/dancingtree/internal/znode"
)

func TestCacheLookupMiss(t *testing.T) {
	c := znode.NewCache()
	require.Nil(t, c.Lookup(znode.Addr(1)))
}

func TestCacheInsertAndLookup(t *testing.T) {
	c := znode.NewCache()
	z := znode.NewZnode(znode.Addr(42), 0, nil)
	c.Insert(z)

	got := c.Lookup(znode.Addr(42))
	require.NotNil(t, got)
	require.Equal(t, znode.Addr(42), got.Addr())
	require.Equal(t, 1, c.Len())
}

func TestCacheRekey(t *testing.T) {
	c := znode.NewCache()
	z := znode.NewZnode(znode.Addr(1), 0, nil)
	c.Insert(z)

	c.Rekey(znode.Addr(1), znode.Addr(99))
	require.Nil(t, c.Lookup(znode.Addr(1)))
	require.NotNil(t, c.Lookup(znode.Addr(99)))
}

func TestCacheRemove(t *testing.T) {
	c := znode.NewCache()
	z := znode.NewZnode(znode.Addr(7), 0, nil)
	c.Insert(z)
	c.Remove(znode.Addr(7))
	require.Equal(t, 0, c.Len())
}

func TestCacheShrinkSparesDirtyAndPinned(t *testing.T) {
	c := znode.NewCache()

	clean := znode.NewZnode(znode.Addr(1), 0, nil)
	c.Insert(clean)

	dirty := znode.NewZnode(znode.Addr(2), 0, nil)
	dirty.SetFlag(znode.FlagDirty)
	c.Insert(dirty)

	pinned := znode.NewZnode(znode.Addr(3), 0, nil)
	pinned.Get()
	c.Insert(pinned)

	evicted := c.Shrink(0)
	require.Equal(t, 1, evicted)
	require.Equal(t, 2, c.Len())
	require.Nil(t, c.Lookup(znode.Addr(1)))
	require.NotNil(t, c.Lookup(znode.Addr(2)))
}
