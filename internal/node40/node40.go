// Package node40 implements the node plugin contract (§4.2): the
// physical layout of a formatted node's block — a fixed header, an item
// region growing from the block start, and a trailing array of
// fixed-size item headers growing from the block end toward the item
// region — and the operations (lookup, create_item, change_item_size,
// cut, shift, ...) that the carry balancer drives through that layout.
//
// The name and magic number are carried over from reiser4's node40
// format (original_source/plugin/node/node40.c); this package
// reimplements its layout and operations in Go rather than translating
// the C line by line.
package node40

import (
	"encoding/binary"

	derrors "github.com/cowtree/dancingtree/errors"
	"github.com/cowtree/dancingtree/internal/coord"
	"github.com/cowtree/dancingtree/key"
)

// Magic identifies a node40-formatted block (§6.2).
const Magic uint32 = 0x52344653

// headerSize is the on-disk size of Header in bytes.
const headerSize = 4 + 4 + 4 + 4 + 4 + 8 // magic,freeSpace,freeSpaceStart,level,numItems,flushTime

// itemHeaderSize is the on-disk size of one itemHeader: a four-field
// key (32 bytes), a 16-bit offset, a 16-bit length and a 16-bit plugin
// id, padded to a round size.
const itemHeaderSize = 32 + 2 + 2 + 2 + 2 // + 2 bytes padding

// binarySearchThreshold is the item count above which Lookup uses binary
// search instead of a linear scan; below it linear scan wins on cache
// locality (§4.2).
const binarySearchThreshold = 3

// Header is the node40 block header.
type Header struct {
	Magic          uint32
	FreeSpace      uint32
	FreeSpaceStart uint32
	Level          uint32
	NumItems       uint32
	FlushTime      uint64
}

// itemHeader describes one item: its key, its byte offset within the
// item region, its length, and its item-plugin id.
type itemHeader struct {
	Key      key.Key
	Offset   uint16
	Length   uint16
	PluginID uint16
}

// Node wraps a fixed-size block buffer with node40 layout and exposes
// the §4.2 plugin contract over it. Buf is shared with the caller
// (typically a znode's page bytes); Node never reallocates it.
type Node struct {
	buf    []byte
	scheme key.Scheme
}

// New wraps buf (size == the tree's configured block size) as an empty
// node40 block at the given tree level.
func New(buf []byte, level int, scheme key.Scheme) *Node {
	n := &Node{buf: buf, scheme: scheme}
	h := Header{
		Magic:          Magic,
		FreeSpace:      uint32(len(buf) - headerSize),
		FreeSpaceStart: headerSize,
		Level:          uint32(level),
		NumItems:       0,
	}
	n.putHeader(h)
	return n
}

// Load wraps an existing formatted block, validating its magic and
// layout invariants. Returns derrors.IOError on any check failure, per
// §7's "Node-format check failure... returns IO_ERROR."
func Load(buf []byte, scheme key.Scheme) (*Node, error) {
	n := &Node{buf: buf, scheme: scheme}
	h := n.header()
	if h.Magic != Magic {
		return nil, derrors.Wrap(derrors.IOError, "node40: bad magic %#x", h.Magic)
	}
	if int(h.FreeSpaceStart) > len(buf) || int(h.NumItems)*itemHeaderSize > len(buf) {
		return nil, derrors.Wrap(derrors.IOError, "node40: offsets out of bounds")
	}
	for i := 1; i < int(h.NumItems); i++ {
		if scheme.Compare(n.itemHeaderAt(i-1).Key, n.itemHeaderAt(i).Key) >= 0 {
			return nil, derrors.Wrap(derrors.IOError, "node40: keys out of order at %d", i)
		}
	}
	return n, nil
}

func (n *Node) header() Header {
	b := n.buf
	return Header{
		Magic:          binary.LittleEndian.Uint32(b[0:4]),
		FreeSpace:      binary.LittleEndian.Uint32(b[4:8]),
		FreeSpaceStart: binary.LittleEndian.Uint32(b[8:12]),
		Level:          binary.LittleEndian.Uint32(b[12:16]),
		NumItems:       binary.LittleEndian.Uint32(b[16:20]),
		FlushTime:      binary.LittleEndian.Uint64(b[20:28]),
	}
}

func (n *Node) putHeader(h Header) {
	b := n.buf
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.FreeSpace)
	binary.LittleEndian.PutUint32(b[8:12], h.FreeSpaceStart)
	binary.LittleEndian.PutUint32(b[12:16], h.Level)
	binary.LittleEndian.PutUint32(b[16:20], h.NumItems)
	binary.LittleEndian.PutUint64(b[20:28], h.FlushTime)
}

// itemHeaderOffset returns the byte offset of the i'th item header,
// counting from the block end (item headers grow tailward, §6.2).
func (n *Node) itemHeaderOffset(i int) int {
	return len(n.buf) - (i+1)*itemHeaderSize
}

func (n *Node) itemHeaderAt(i int) itemHeader {
	off := n.itemHeaderOffset(i)
	b := n.buf[off : off+itemHeaderSize]
	return itemHeader{
		Key: key.Key{
			Locality: binary.LittleEndian.Uint64(b[0:8]),
			Type:     binary.LittleEndian.Uint64(b[8:16]),
			ObjectID: binary.LittleEndian.Uint64(b[16:24]),
			Offset:   binary.LittleEndian.Uint64(b[24:32]),
		},
		Offset:   binary.LittleEndian.Uint16(b[32:34]),
		Length:   binary.LittleEndian.Uint16(b[34:36]),
		PluginID: binary.LittleEndian.Uint16(b[36:38]),
	}
}

func (n *Node) putItemHeaderAt(i int, ih itemHeader) {
	off := n.itemHeaderOffset(i)
	b := n.buf[off : off+itemHeaderSize]
	binary.LittleEndian.PutUint64(b[0:8], ih.Key.Locality)
	binary.LittleEndian.PutUint64(b[8:16], ih.Key.Type)
	binary.LittleEndian.PutUint64(b[16:24], ih.Key.ObjectID)
	binary.LittleEndian.PutUint64(b[24:32], ih.Key.Offset)
	binary.LittleEndian.PutUint16(b[32:34], ih.Offset)
	binary.LittleEndian.PutUint16(b[34:36], ih.Length)
	binary.LittleEndian.PutUint16(b[36:38], ih.PluginID)
}

// FreeSpace returns the number of bytes available between the item
// region's end and the item-header array's start.
func (n *Node) FreeSpace() int { return int(n.header().FreeSpace) }

// NumItems returns the node's item count.
func (n *Node) NumItems() int { return int(n.header().NumItems) }

// NumUnits always reports 1: the generic node40 item implemented here
// is a single-unit fixed-content blob. Multi-unit items (extents,
// compound directory entries) are item-plugin-specific formats this
// core does not need to interpret; see DESIGN.md.
func (n *Node) NumUnits(itemPos int) int { return 1 }

// Level returns the node's tree level.
func (n *Node) Level() int { return int(n.header().Level) }

// Bias selects lookup's tie-breaking behavior.
type Bias int

const (
	// Exact requires the returned coord's key to equal the search key.
	Exact Bias = iota
	// MaxNotGreater returns the coord of the largest key not greater
	// than the search key (used for descending the tree).
	MaxNotGreater
)

// LookupResult is Lookup's outcome classifier.
type LookupResult int

const (
	Found LookupResult = iota
	NotFound
)

// Lookup implements the §4.2 `lookup(node, key, bias)` contract: binary
// search above binarySearchThreshold items, linear scan below it (cache
// locality wins for small nodes).
func (n *Node) Lookup(k key.Key) (coord.Coord, LookupResult) {
	count := n.NumItems()
	if count == 0 {
		return coord.Coord{Between: coord.EmptyNode}, NotFound
	}

	idx, exact := n.search(k, count)
	if exact {
		return coord.Coord{ItemPos: idx, UnitPos: 0, Between: coord.AtUnit}, Found
	}
	// idx is the first item with key > k; the max-not-greater item is
	// idx-1, if any.
	if idx == 0 {
		return coord.Coord{ItemPos: 0, Between: coord.BeforeItem}, NotFound
	}
	return coord.Coord{ItemPos: idx - 1, UnitPos: 0, Between: coord.AtUnit}, NotFound
}

// search returns, on an exact match, the matching item's own index (idx,
// true). Otherwise it returns the index of the first item whose key is >
// k (i.e. an upper bound), and false.
func (n *Node) search(k key.Key, count int) (idx int, exact bool) {
	if count <= binarySearchThreshold {
		for i := 0; i < count; i++ {
			c := n.scheme.Compare(n.itemHeaderAt(i).Key, k)
			if c == 0 {
				return i, true
			}
			if c > 0 {
				return i, false
			}
		}
		return count, false
	}

	lo, hi := 0, count
	for lo < hi {
		mid := (lo + hi) / 2
		c := n.scheme.Compare(n.itemHeaderAt(mid).Key, k)
		switch {
		case c == 0:
			return mid, true
		case c < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false
}

// KeyAt returns the key of the item at itemPos.
func (n *Node) KeyAt(itemPos int) key.Key {
	return n.itemHeaderAt(itemPos).Key
}

// ItemByCoord returns the raw item bytes named by c.ItemPos.
func (n *Node) ItemByCoord(c coord.Coord) []byte {
	ih := n.itemHeaderAt(c.ItemPos)
	return n.buf[ih.Offset : int(ih.Offset)+int(ih.Length)]
}

// LengthByCoord returns the byte length of the item at c.ItemPos.
func (n *Node) LengthByCoord(c coord.Coord) int {
	return int(n.itemHeaderAt(c.ItemPos).Length)
}

// PluginByCoord returns the item-plugin id of the item at c.ItemPos.
func (n *Node) PluginByCoord(c coord.Coord) uint16 {
	return n.itemHeaderAt(c.ItemPos).PluginID
}

// spaceNeeded returns the total free-space consumption of inserting an
// item of the given payload length: the payload plus one item header.
func spaceNeeded(dataLen int) int { return dataLen + itemHeaderSize }

// CreateItem inserts a new item with the given key and data at coord
// c.ItemPos, shifting later items' headers down by one slot. The caller
// must have already verified free_space(node) >= spaceNeeded(len(data))
// (§4.2: "caller has verified space").
func (n *Node) CreateItem(itemPos int, k key.Key, data []byte, pluginID uint16) error {
	need := spaceNeeded(len(data))
	if n.FreeSpace() < need {
		return derrors.ErrNodeFull
	}

	h := n.header()
	count := int(h.NumItems)

	// Shift item headers for items >= itemPos down by one slot (toward
	// the block start) to make room for the new header at the tail.
	for i := count - 1; i >= itemPos; i-- {
		n.putItemHeaderAt(i+1, n.itemHeaderAt(i))
	}

	offset := h.FreeSpaceStart
	copy(n.buf[offset:int(offset)+len(data)], data)
	n.putItemHeaderAt(itemPos, itemHeader{
		Key:      k,
		Offset:   uint16(offset),
		Length:   uint16(len(data)),
		PluginID: pluginID,
	})

	h.FreeSpaceStart += uint32(len(data))
	h.FreeSpace -= uint32(need)
	h.NumItems++
	n.putHeader(h)
	return nil
}

// UpdateItemKey rewrites the stored key of the item at itemPos. Per
// §4.2, the caller is responsible for posting a carry UPDATE at the
// parent level when itemPos == 0; this method only touches the local
// header.
func (n *Node) UpdateItemKey(itemPos int, k key.Key) {
	ih := n.itemHeaderAt(itemPos)
	ih.Key = k
	n.putItemHeaderAt(itemPos, ih)
}

// ChangeItemSize grows (delta > 0) or shrinks (delta < 0) the item at
// itemPos in place, sliding every later item's bytes and updating every
// later item header's offset.
func (n *Node) ChangeItemSize(itemPos int, delta int) error {
	h := n.header()
	if delta > 0 && int(h.FreeSpace) < delta {
		return derrors.ErrNodeFull
	}

	ih := n.itemHeaderAt(itemPos)
	tailStart := int(ih.Offset) + int(ih.Length)
	tailEnd := int(h.FreeSpaceStart)

	if delta > 0 {
		copy(n.buf[tailStart+delta:tailEnd+delta], n.buf[tailStart:tailEnd])
	} else {
		copy(n.buf[tailStart+delta:tailEnd+delta], n.buf[tailStart:tailEnd])
	}

	for i := 0; i < int(h.NumItems); i++ {
		other := n.itemHeaderAt(i)
		if int(other.Offset) >= tailStart {
			other.Offset = uint16(int(other.Offset) + delta)
			n.putItemHeaderAt(i, other)
		}
	}
	ih.Length = uint16(int(ih.Length) + delta)
	n.putItemHeaderAt(itemPos, ih)

	h.FreeSpaceStart = uint32(int(h.FreeSpaceStart) + delta)
	h.FreeSpace = uint32(int(h.FreeSpace) - delta)
	n.putHeader(h)
	return nil
}

// CutFlags controls Cut/CutAndKill behavior.
type CutFlags int

const (
	// RetainEmpty suppresses the implicit DELETE carry post when a cut
	// empties the node (§4.2).
	RetainEmpty CutFlags = 1 << iota
)

// Cut removes the half-open item range [from, to) from the node,
// sliding later items' bytes and headers to close the gap. It reports
// whether the node is now empty (the caller posts a DELETE carry unless
// RetainEmpty is set).
func (n *Node) Cut(from, to int) (emptied bool, err error) {
	return n.cut(from, to, false)
}

// CutAndKill is Cut plus invocation of kill on every removed item via
// killHook, matching §4.2's "kill additionally invokes per-item 'kill
// hooks'."
func (n *Node) CutAndKill(from, to int, killHook func(itemPos int, data []byte)) (emptied bool, err error) {
	for i := from; i < to; i++ {
		killHook(i, n.ItemByCoord(coord.Coord{ItemPos: i}))
	}
	return n.cut(from, to, true)
}

func (n *Node) cut(from, to int, _ bool) (bool, error) {
	h := n.header()
	count := int(h.NumItems)
	if from < 0 || to > count || from > to {
		return false, derrors.Wrap(derrors.IOError, "node40: cut range out of bounds [%d,%d) of %d", from, to, count)
	}
	if from == to {
		return count == 0, nil
	}

	firstCut := n.itemHeaderAt(from)
	lastCut := n.itemHeaderAt(to - 1)
	gapStart := int(firstCut.Offset)
	gapEnd := int(lastCut.Offset) + int(lastCut.Length)
	gapLen := gapEnd - gapStart

	tailStart := gapEnd
	tailEnd := int(h.FreeSpaceStart)
	copy(n.buf[gapStart:gapStart+(tailEnd-tailStart)], n.buf[tailStart:tailEnd])

	removed := to - from
	newHeaders := make([]itemHeader, 0, count-removed)
	for i := 0; i < count; i++ {
		if i >= from && i < to {
			continue
		}
		ih := n.itemHeaderAt(i)
		if int(ih.Offset) >= tailStart {
			ih.Offset -= uint16(gapLen)
		}
		newHeaders = append(newHeaders, ih)
	}
	for i, ih := range newHeaders {
		n.putItemHeaderAt(i, ih)
	}

	h.FreeSpaceStart -= uint32(gapLen)
	h.FreeSpace += uint32(gapLen + removed*itemHeaderSize)
	h.NumItems = uint32(len(newHeaders))
	n.putHeader(h)

	return len(newHeaders) == 0, nil
}

// ShiftSide selects the direction of a shift.
type ShiftSide int

const (
	ShiftLeft ShiftSide = iota
	ShiftRight
)

// Shift moves whole items from n to target, in the given direction,
// until upTo items have moved or target has no room for the next item
// (the caller is responsible for unlinking an emptied node from the
// tree). It returns the number of bytes shifted, item headers included,
// matching §4.2's "shift(...) → bytes shifted (≥ 0)"; when target cannot
// take even one item it returns 0 and a nil error.
func (n *Node) Shift(target *Node, side ShiftSide, upTo int) (bytesShifted int, err error) {
	count := n.NumItems()
	if upTo > count {
		upTo = count
	}

	moved := 0
	for moved < upTo {
		var srcPos int
		if side == ShiftLeft {
			srcPos = 0
		} else {
			srcPos = n.NumItems() - 1
		}
		ih := n.itemHeaderAt(srcPos)
		data := n.ItemByCoord(coord.Coord{ItemPos: srcPos})
		dataCopy := append([]byte(nil), data...)

		need := spaceNeeded(len(dataCopy))
		if target.FreeSpace() < need {
			break
		}

		var destPos int
		if side == ShiftLeft {
			destPos = target.NumItems()
		} else {
			destPos = 0
		}
		if err := target.CreateItem(destPos, ih.Key, dataCopy, ih.PluginID); err != nil {
			break
		}
		if _, err := n.cut(srcPos, srcPos+1, false); err != nil {
			return bytesShifted, err
		}
		bytesShifted += need
		moved++
	}
	return bytesShifted, nil
}

// FastInsert reports whether carry may skip parent-level traversal for
// an insert at c: true whenever the insertion point is not the node's
// first item, since only a first-item change can alter the parent's
// delimiting key (§4.2 fast_insert hint).
func (n *Node) FastInsert(c coord.Coord) bool { return c.ItemPos != 0 }

// FastPaste is the paste analogue of FastInsert.
func (n *Node) FastPaste(c coord.Coord) bool { return c.ItemPos != 0 }

// FastCut reports whether carry may skip parent-level traversal for a
// cut of [from,to): true only when the range includes neither the first
// item nor the last one.
func (n *Node) FastCut(from, to int) bool {
	return from != 0 && to < n.NumItems()
}
