package znode

import "sync"

// Cache is the tree-wide hash table of loaded znodes keyed by disk
// address (§3 Tree: "hash table of loaded znodes keyed by disk
// address"). It additionally threads every cached znode onto an
// LRU list so that Shrink can reclaim unreferenced, clean nodes under
// memory pressure without scanning the whole table.
//
// The eviction shape is borrowed from the teacher's cache.lru: fake
// head/tail sentinels bound a doubly linked list so every real entry
// has non-nil neighbors, and Shrink walks from the least-recently-used
// end evicting until the target size is reached, skipping pinned and
// dirty nodes as it goes.
type Cache struct {
	mu    sync.Mutex
	byKey map[Addr]*entry

	fakeHead, fakeTail *entry
}

type entry struct {
	addr Addr
	z    *Znode
	prev *entry
	next *entry
}

// NewCache constructs an empty znode cache.
func NewCache() *Cache {
	c := &Cache{byKey: make(map[Addr]*entry)}
	c.fakeHead, c.fakeTail = &entry{}, &entry{}
	link(c.fakeHead, c.fakeTail)
	return c
}

func link(a, b *entry) { a.next, b.prev = b, a }

// Lookup returns the znode cached at addr, or nil if not present. A hit
// moves the entry to the most-recently-used end and bumps its refcount
// so the caller owns a reference (pair with Put).
func (c *Cache) Lookup(addr Addr) *Znode {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byKey[addr]
	if !ok {
		return nil
	}
	c.touchLocked(e)
	e.z.Get()
	return e.z
}

// Insert adds z to the cache keyed by its current address. The caller's
// reference (from Get/NewZnode) is transferred to the cache; Insert
// itself does not take an additional reference for the lookup path, so
// callers that continue to use z after Insert should Lookup it back or
// hold their own Get.
func (c *Cache) Insert(z *Znode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	addr := z.Addr()
	if _, exists := c.byKey[addr]; exists {
		return
	}
	e := &entry{addr: addr, z: z}
	c.byKey[addr] = e
	link(c.fakeTail.prev, e)
	link(e, c.fakeTail)
}

// Rekey moves a cached znode to a new address, used after the allocator
// assigns a real block number to a node created under a fake address
// (§4.4.2). It is a no-op if oldAddr is not cached.
func (c *Cache) Rekey(oldAddr, newAddr Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byKey[oldAddr]
	if !ok {
		return
	}
	delete(c.byKey, oldAddr)
	e.addr = newAddr
	c.byKey[newAddr] = e
}

// Remove evicts addr from the cache unconditionally, used when a node is
// deleted from the tree and heard-banshee (§3 FlagHeardBanshee).
func (c *Cache) Remove(addr Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(addr)
}

func (c *Cache) removeLocked(addr Addr) {
	e, ok := c.byKey[addr]
	if !ok {
		return
	}
	detach(e)
	delete(c.byKey, addr)
}

func detach(e *entry) { link(e.prev, e.next) }

func (c *Cache) touchLocked(e *entry) {
	detach(e)
	link(c.fakeTail.prev, e)
	link(e, c.fakeTail)
}

// Len returns the number of znodes currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byKey)
}

// Shrink evicts least-recently-used, unreferenced and non-dirty znodes
// until at most target remain or every remaining entry is pinned or
// dirty, whichever comes first. It returns the number of entries
// evicted.
//
// Dirty nodes are never evicted here: they belong to an atom and must
// survive until flush writes them back, matching jnode lifecycle rules
// in §3.
func (c *Cache) Shrink(target int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	cur := c.fakeHead.next
	for len(c.byKey) > target && cur != c.fakeTail {
		next := cur.next
		if cur.z.Refs() == 0 && !cur.z.HasFlag(FlagDirty) {
			detach(cur)
			delete(c.byKey, cur.addr)
			evicted++
		}
		cur = next
	}
	return evicted
}
