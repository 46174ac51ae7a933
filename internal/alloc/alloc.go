// Package alloc implements the bitmap block allocator and OID allocator
// consumed by the core (§6.1, §4.4.5). The fake/real block-number
// tagging used while a node awaits its final disk address lives in
// internal/znode (Addr, NewFakeAddr).
package alloc

import (
	"sync"

	"github.com/bits-and-blooms/bitset"

	derrors "github.com/cowtree/dancingtree/errors"
)

// Bitmap is the block allocator: a working bitmap mutated by in-flight
// atoms and a commit bitmap that only changes at atom commit, per §6.1's
// "commit-time hooks... that walk the atom's per-level dirty lists and
// flip bits in the working / commit bitmaps."
type Bitmap struct {
	mu       sync.Mutex
	size     uint64
	working  *bitset.BitSet
	commit   *bitset.BitSet
	searchAt uint64
}

// NewBitmap constructs a bitmap allocator over a device of size blocks,
// all initially free.
func NewBitmap(size uint64) *Bitmap {
	return &Bitmap{
		size:    size,
		working: bitset.New(uint(size)),
		commit:  bitset.New(uint(size)),
	}
}

// Alloc implements §4.4.5's alloc_blocks(hint, start_inout, len_inout):
// search from hint toward the end of the device for a contiguous free
// region of at least 1 block; if none fits, wrap to [0, hint). Returns
// the actual start and length (1 <= length <= maxLen) found, or
// derrors.NoSpace if the device is full.
func (b *Bitmap) Alloc(hint uint64, maxLen uint64) (start uint64, length uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if start, length, ok := b.scan(hint, b.size, maxLen); ok {
		b.markRangeLocked(start, length)
		b.searchAt = start + length
		return start, length, nil
	}
	if start, length, ok := b.scan(0, hint, maxLen); ok {
		b.markRangeLocked(start, length)
		b.searchAt = start + length
		return start, length, nil
	}
	return 0, 0, derrors.NoSpace
}

// scan looks for a run of free bits in [from, to), returning up to
// maxLen contiguous free blocks starting at the first free bit found.
func (b *Bitmap) scan(from, to uint64, maxLen uint64) (uint64, uint64, bool) {
	if from >= to {
		return 0, 0, false
	}
	i := from
	for i < to {
		next, ok := b.working.NextClear(uint(i))
		if !ok || uint64(next) >= to {
			return 0, 0, false
		}
		start := uint64(next)
		length := uint64(0)
		for length < maxLen && start+length < to && !b.working.Test(uint(start+length)) {
			length++
		}
		if length > 0 {
			return start, length, true
		}
		i = start + 1
	}
	return 0, 0, false
}

func (b *Bitmap) markRangeLocked(start, length uint64) {
	for i := start; i < start+length; i++ {
		b.working.Set(uint(i))
	}
}

// MarkAllocated marks a single block allocated in the working bitmap
// directly, used when a block number is already known (e.g. the master
// or per-format superblock locations).
func (b *Bitmap) MarkAllocated(block uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.working.Set(uint(block))
}

// MarkDeleted frees a block in the working bitmap.
func (b *Bitmap) MarkDeleted(block uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.working.Clear(uint(block))
}

// PrepareCommit copies the working bitmap's currently-allocated bits
// into the commit bitmap, called once an atom enters commit-prepared
// state (§3 Atom lifecycle).
func (b *Bitmap) PrepareCommit() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commit = b.working.Clone()
}

// DoneCommit is a no-op hook point retained for symmetry with the
// real allocator's commit/writeback split; the working bitmap is
// already authoritative once PrepareCommit has run.
func (b *Bitmap) DoneCommit() {}

// DoneWriteback is called once an atom's writeback completes; by this
// point the commit bitmap and working bitmap agree for every block that
// atom touched.
func (b *Bitmap) DoneWriteback() {}

// FreeBlockCount returns the number of currently-free blocks in the
// working bitmap.
func (b *Bitmap) FreeBlockCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size - uint64(b.working.Count())
}

// OIDAllocator hands out monotonically increasing object ids (§6.1 OID
// allocator).
type OIDAllocator struct {
	mu       sync.Mutex
	next     uint64
	used     uint64
	released map[uint64]bool
}

// NewOIDAllocator constructs an allocator continuing from nextOID, with
// usedCount files already allocated.
func NewOIDAllocator(nextOID uint64, usedCount uint64) *OIDAllocator {
	return &OIDAllocator{next: nextOID, used: usedCount, released: make(map[uint64]bool)}
}

// Allocate returns a fresh OID.
func (a *OIDAllocator) Allocate() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	oid := a.next
	a.next++
	a.used++
	return oid
}

// Release marks oid released and decrements the used count (once per
// oid). There is no free pool: OIDs are never reused in this allocator
// (matching reiser4's monotonic OID space); Release only adjusts
// bookkeeping.
func (a *OIDAllocator) Release(oid uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.released[oid] {
		a.released[oid] = true
		a.used--
	}
}

// Used returns the number of currently live OIDs.
func (a *OIDAllocator) Used() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}

// Next returns the next OID that would be allocated, for superblock
// persistence.
func (a *OIDAllocator) Next() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}
