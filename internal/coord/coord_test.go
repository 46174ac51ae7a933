package coord_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cowtree/dancingtree/internal/coord"
)

// fixedView models a node with a fixed number of items, each holding a
// fixed number of units, for exercising the transition table in
// isolation from any real node plugin.
type fixedView struct {
	items int
	units int
}

func (v fixedView) NumItems() int          { return v.items }
func (v fixedView) NumUnits(itemPos int) int { return v.units }

func TestNextUnitAdvancesWithinItem(t *testing.T) {
	v := fixedView{items: 2, units: 3}
	c := coord.Coord{ItemPos: 0, UnitPos: 0, Between: coord.AtUnit}

	next, noPos := c.NextUnit(v)
	require.False(t, noPos)
	require.Equal(t, 0, next.ItemPos)
	require.Equal(t, 1, next.UnitPos)
	require.Equal(t, coord.AtUnit, next.Between)
}

func TestNextUnitCrossesItemBoundary(t *testing.T) {
	v := fixedView{items: 2, units: 2}
	c := coord.Coord{ItemPos: 0, UnitPos: 1, Between: coord.AtUnit}

	next, noPos := c.NextUnit(v)
	require.False(t, noPos)
	require.Equal(t, 1, next.ItemPos)
	require.Equal(t, 0, next.UnitPos)
}

func TestNextUnitAtEndOfNodeReportsNoPosition(t *testing.T) {
	v := fixedView{items: 1, units: 1}
	c := coord.Coord{ItemPos: 0, UnitPos: 0, Between: coord.AtUnit}

	_, noPos := c.NextUnit(v)
	require.True(t, noPos)
}

func TestPrevUnitIsInverseOfNextUnit(t *testing.T) {
	v := fixedView{items: 2, units: 2}
	start := coord.Coord{ItemPos: 1, UnitPos: 0, Between: coord.AtUnit}

	prev, noPos := start.PrevUnit(v)
	require.False(t, noPos)
	require.Equal(t, 0, prev.ItemPos)
	require.Equal(t, 1, prev.UnitPos)

	back, noPos2 := prev.NextUnit(v)
	require.False(t, noPos2)
	require.Equal(t, start.ItemPos, back.ItemPos)
	require.Equal(t, start.UnitPos, back.UnitPos)
}

func TestNormalizeCollapsesBeforeItemAtEnd(t *testing.T) {
	v := fixedView{items: 3, units: 1}
	c := coord.Coord{ItemPos: 3, Between: coord.BeforeItem}

	n := c.Normalize(v)
	require.Equal(t, coord.AfterItem, n.Between)
	require.Equal(t, 2, n.ItemPos)
}

func TestNormalizeOnEmptyNodeYieldsEmptyNode(t *testing.T) {
	v := fixedView{items: 0, units: 0}
	c := coord.Coord{ItemPos: 0, Between: coord.BeforeItem}

	n := c.Normalize(v)
	require.Equal(t, coord.EmptyNode, n.Between)
}

func TestCoordWrtClassifiesEdges(t *testing.T) {
	v := fixedView{items: 2, units: 1}

	left := coord.Coord{ItemPos: 0, Between: coord.BeforeItem}
	require.Equal(t, coord.OnTheLeft, left.CoordWrt(v))

	right := coord.Coord{ItemPos: 1, Between: coord.AfterItem}
	require.Equal(t, coord.OnTheRight, right.CoordWrt(v))

	inside := coord.Coord{ItemPos: 0, UnitPos: 0, Between: coord.AtUnit}
	require.Equal(t, coord.Inside, inside.CoordWrt(v))
}

func TestNeighborsAcrossItemBoundary(t *testing.T) {
	v := fixedView{items: 2, units: 1}
	a := coord.Coord{ItemPos: 0, UnitPos: 0, Between: coord.AtUnit}
	b := coord.Coord{ItemPos: 1, UnitPos: 0, Between: coord.AtUnit}

	require.True(t, coord.Neighbors(v, a, b))
	require.False(t, coord.Neighbors(v, b, a))
}
