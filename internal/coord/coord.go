// Package coord implements the coord navigation algebra (§4.1): a coord
// identifies a position within a node as (item_pos, unit_pos, between),
// and a small state table governs how next_unit/prev_unit/next_item/
// prev_item move between positions. Every operation here is a pure
// function of node-local state (item/unit counts) — coord movement never
// takes a lock, matching the spec's "coord operations... never take
// locks."
package coord

import "github.com/cowtree/dancingtree/internal/znode"

// Between is the coord's relation to the unit/item it names.
type Between int

const (
	Invalid Between = iota
	AtUnit
	BeforeUnit
	AfterUnit
	BeforeItem
	AfterItem
	EmptyNode
)

// NodeView is the minimal per-node shape coord needs: item and unit
// counts. Satisfied by internal/node40's accessor plugin so this
// package never depends on a concrete node layout.
type NodeView interface {
	NumItems() int
	NumUnits(itemPos int) int
}

// Coord is a position within a znode: an item index, a unit index within
// that item, and a Between state classifying the position relative to
// those indices (§3 Coord).
type Coord struct {
	Node    *znode.Znode
	ItemPos int
	UnitPos int
	Between Between
}

// New returns a coord positioned BeforeItem 0, suitable as a starting
// point before any lookup has run.
func New(n *znode.Znode) Coord {
	return Coord{Node: n, Between: BeforeItem, ItemPos: 0}
}

// Exists reports whether the coord names an actual unit: between=AtUnit
// with both indices in range.
func (c Coord) Exists(v NodeView) bool {
	if c.Between != AtUnit {
		return false
	}
	if c.ItemPos < 0 || c.ItemPos >= v.NumItems() {
		return false
	}
	n := v.NumUnits(c.ItemPos)
	return c.UnitPos >= 0 && c.UnitPos < n
}

// Wrt classifies c relative to the node as a whole: ON_THE_LEFT if
// before the first item, ON_THE_RIGHT if after the last, INSIDE
// otherwise.
type Wrt int

const (
	Inside Wrt = iota
	OnTheLeft
	OnTheRight
)

// CoordWrt implements the §4.1 coord_wrt classifier.
func (c Coord) CoordWrt(v NodeView) Wrt {
	if v.NumItems() == 0 {
		return Inside
	}
	switch c.Between {
	case BeforeItem:
		if c.ItemPos == 0 {
			return OnTheLeft
		}
	case AfterItem:
		if c.ItemPos == v.NumItems()-1 {
			return OnTheRight
		}
	case BeforeUnit, AtUnit, AfterUnit:
		if c.ItemPos == 0 && c.UnitPos == 0 && c.Between == BeforeUnit {
			return OnTheLeft
		}
		if c.ItemPos == v.NumItems()-1 && c.Between == AfterUnit && c.UnitPos == v.NumUnits(c.ItemPos)-1 {
			return OnTheRight
		}
	}
	return Inside
}

// Normalize collapses redundant representations, e.g. BeforeItem p where
// p == num_items becomes AfterItem (p-1) (§4.1).
func (c Coord) Normalize(v NodeView) Coord {
	n := v.NumItems()
	if n == 0 {
		c.Between = EmptyNode
		c.ItemPos, c.UnitPos = 0, 0
		return c
	}
	if c.Between == BeforeItem && c.ItemPos >= n {
		c.Between = AfterItem
		c.ItemPos = n - 1
	}
	return c
}

// noPosition and hasPosition are the second result of the navigation
// methods: noPosition means there is no next position at this item level.
const noPosition = true
const hasPosition = false

// NextUnit implements the next_unit row of the §4.1 transition table. It
// returns true if the move crossed past the end of the node (no
// position).
func (c Coord) NextUnit(v NodeView) (Coord, bool) {
	switch c.Between {
	case BeforeUnit:
		c.Between = AtUnit
		return c, hasPosition
	case AtUnit:
		if c.UnitPos+1 < v.NumUnits(c.ItemPos) {
			c.UnitPos++
			return c, hasPosition
		}
		return c.NextItemStart(v)
	case AfterUnit:
		return c.NextItemStart(v)
	case BeforeItem:
		c.Between = AtUnit
		c.UnitPos = 0
		return c, hasPosition
	case AfterItem:
		if c.ItemPos+1 < v.NumItems() {
			c.ItemPos++
			c.Between = AtUnit
			c.UnitPos = 0
			return c, hasPosition
		}
		return c, noPosition
	}
	return c, noPosition
}

// NextItemStart lands a coord on unit 0 of the item following c's
// current item, or reports no-position at the node's end.
func (c Coord) NextItemStart(v NodeView) (Coord, bool) {
	if c.ItemPos+1 >= v.NumItems() {
		c.Between = AfterItem
		return c, noPosition
	}
	c.ItemPos++
	c.Between = AtUnit
	c.UnitPos = 0
	return c, hasPosition
}

// PrevUnit implements the prev_unit row.
func (c Coord) PrevUnit(v NodeView) (Coord, bool) {
	switch c.Between {
	case BeforeUnit:
		if c.UnitPos == 0 {
			c.Between = BeforeItem
			return c, hasPosition
		}
		c.Between = AtUnit
		c.UnitPos--
		return c, hasPosition
	case AtUnit:
		if c.UnitPos > 0 {
			c.UnitPos--
			return c, hasPosition
		}
		return c.PrevItemEnd(v)
	case AfterUnit:
		c.Between = AtUnit
		return c, hasPosition
	case BeforeItem:
		return c.PrevItemEnd(v)
	case AfterItem:
		c.Between = AtUnit
		c.UnitPos = v.NumUnits(c.ItemPos) - 1
		return c, hasPosition
	}
	return c, noPosition
}

// PrevItemEnd lands on the last unit of the item preceding c's current
// item, or reports no-position at the node's start.
func (c Coord) PrevItemEnd(v NodeView) (Coord, bool) {
	if c.ItemPos == 0 {
		c.Between = BeforeItem
		c.ItemPos = 0
		return c, noPosition
	}
	c.ItemPos--
	c.Between = AtUnit
	c.UnitPos = v.NumUnits(c.ItemPos) - 1
	return c, hasPosition
}

// NextItem implements the next_item row: from BeforeItem p it lands on
// unit 0 of item p; from any other state it advances to unit 0 of the
// next item regardless of the current unit position.
func (c Coord) NextItem(v NodeView) (Coord, bool) {
	if c.Between == BeforeItem && c.ItemPos < v.NumItems() {
		c.Between = AtUnit
		c.UnitPos = 0
		return c, hasPosition
	}
	if c.ItemPos+1 >= v.NumItems() {
		c.Between = AfterItem
		c.ItemPos = v.NumItems() - 1
		return c, noPosition
	}
	c.ItemPos++
	c.Between = AtUnit
	c.UnitPos = 0
	return c, hasPosition
}

// PrevItem implements the prev_item row: from AfterItem p it lands on
// unit 0 of item p; from any other state it moves to unit 0 of the
// previous item.
func (c Coord) PrevItem(v NodeView) (Coord, bool) {
	if c.Between == AfterItem && c.ItemPos < v.NumItems() {
		c.Between = AtUnit
		c.UnitPos = 0
		return c, hasPosition
	}
	if c.ItemPos == 0 {
		c.Between = BeforeItem
		return c, noPosition
	}
	c.ItemPos--
	c.Between = AtUnit
	c.UnitPos = 0
	return c, hasPosition
}

// Neighbors reports whether a and b name consecutive units, possibly
// across an item boundary within the same node.
func Neighbors(v NodeView, a, b Coord) bool {
	if a.Node != b.Node {
		return false
	}
	next, ok := a.NextUnit(v)
	if ok == noPosition {
		return false
	}
	return next.ItemPos == b.ItemPos && next.UnitPos == b.UnitPos && b.Between == AtUnit
}
