// Package devio implements the block device and page-cache collaborator
// contracts the core consumes (§6.1) and an in-memory fake
// implementation of both for tests and for a mount-free demo tree.
package devio

import (
	"sync"

	derrors "github.com/cowtree/dancingtree/errors"
)

// BlockDevice is the page-sized I/O contract the core consumes (§6.1).
type BlockDevice interface {
	ReadBlock(block uint64) ([]byte, error)
	WriteBlock(block uint64, data []byte) error
	SizeInBlocks() uint64
	BlockSize() int
}

// Page is one page-cache page: a pinned, lockable view of a block's
// bytes (§6.1 page cache: dirty/uptodate/locked/writeback flags,
// lock_page/unlock_page, kmap/kunmap).
type Page struct {
	mu        sync.Mutex
	block     uint64
	data      []byte
	dirty     bool
	uptodate  bool
	writeback bool
}

// Bytes implements internal/znode.PageData.
func (p *Page) Bytes() []byte { return p.data }

// Lock/Unlock model lock_page/unlock_page: a page is locked while its
// bytes are being read from or written to the device.
func (p *Page) Lock()   { p.mu.Lock() }
func (p *Page) Unlock() { p.mu.Unlock() }

// SetDirty marks the page dirty (needs writeback).
func (p *Page) SetDirty(v bool) { p.dirty = v }

// Dirty reports the page's dirty flag.
func (p *Page) Dirty() bool { return p.dirty }

// SetUptodate marks whether the page's bytes reflect the on-disk block.
func (p *Page) SetUptodate(v bool) { p.uptodate = v }

// Uptodate reports the page's uptodate flag.
func (p *Page) Uptodate() bool { return p.uptodate }

// SetWriteback marks the page as currently being written back.
func (p *Page) SetWriteback(v bool) { p.writeback = v }

// Writeback reports the page's writeback flag.
func (p *Page) Writeback() bool { return p.writeback }

// PageCache is the grab_cache_page/find_lock_page contract (§6.1),
// keyed by block number, backed by a BlockDevice for page population.
type PageCache struct {
	mu    sync.Mutex
	dev   BlockDevice
	pages map[uint64]*Page
}

// NewPageCache constructs a page cache over dev.
func NewPageCache(dev BlockDevice) *PageCache {
	return &PageCache{dev: dev, pages: make(map[uint64]*Page)}
}

// GrabCachePage returns the page for block, creating and reading it from
// the device if not already cached (grab_cache_page).
func (c *PageCache) GrabCachePage(block uint64) (*Page, error) {
	c.mu.Lock()
	if p, ok := c.pages[block]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	data, err := c.dev.ReadBlock(block)
	if err != nil {
		return nil, derrors.Wrap(derrors.IOError, "devio: read block %d: %v", block, err)
	}
	p := &Page{block: block, data: data, uptodate: true}

	c.mu.Lock()
	if existing, ok := c.pages[block]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.pages[block] = p
	c.mu.Unlock()
	return p, nil
}

// FindLockPage returns an already-cached page for block without
// touching the device, or nil if not cached.
func (c *PageCache) FindLockPage(block uint64) *Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pages[block]
	if p != nil {
		p.Lock()
	}
	return p
}

// NewPage allocates a fresh, zeroed, uptodate page for block without
// reading the device — used when formatting a newly allocated block.
func (c *PageCache) NewPage(block uint64, size int) *Page {
	p := &Page{block: block, data: make([]byte, size), uptodate: true, dirty: true}
	c.mu.Lock()
	c.pages[block] = p
	c.mu.Unlock()
	return p
}

// Writeback submits every dirty page to the device and clears dirty/
// writeback flags.
func (c *PageCache) Writeback() error {
	c.mu.Lock()
	pages := make([]*Page, 0, len(c.pages))
	for _, p := range c.pages {
		pages = append(pages, p)
	}
	c.mu.Unlock()

	for _, p := range pages {
		p.Lock()
		dirty := p.dirty
		block := p.block
		data := p.data
		p.Unlock()
		if !dirty {
			continue
		}
		p.SetWriteback(true)
		if err := c.dev.WriteBlock(block, data); err != nil {
			p.SetWriteback(false)
			return derrors.Wrap(derrors.IOError, "devio: write block %d: %v", block, err)
		}
		p.Lock()
		p.dirty = false
		p.writeback = false
		p.Unlock()
	}
	return nil
}

// MemDevice is an in-memory BlockDevice, for tests and a mount-free demo
// tree.
type MemDevice struct {
	mu        sync.Mutex
	blockSize int
	blocks    [][]byte
}

// NewMemDevice constructs an in-memory device of nblocks blocks, each
// blockSize bytes.
func NewMemDevice(nblocks int, blockSize int) *MemDevice {
	blocks := make([][]byte, nblocks)
	for i := range blocks {
		blocks[i] = make([]byte, blockSize)
	}
	return &MemDevice{blockSize: blockSize, blocks: blocks}
}

func (d *MemDevice) ReadBlock(block uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if block >= uint64(len(d.blocks)) {
		return nil, derrors.Wrap(derrors.IOError, "devio: block %d out of range", block)
	}
	out := make([]byte, d.blockSize)
	copy(out, d.blocks[block])
	return out, nil
}

func (d *MemDevice) WriteBlock(block uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if block >= uint64(len(d.blocks)) {
		return derrors.Wrap(derrors.IOError, "devio: block %d out of range", block)
	}
	copy(d.blocks[block], data)
	return nil
}

func (d *MemDevice) SizeInBlocks() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint64(len(d.blocks))
}

func (d *MemDevice) BlockSize() int { return d.blockSize }
