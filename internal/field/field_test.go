package field

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravitas-games/flowfield/internal/grid"
	"github.com/gravitas-games/flowfield/internal/portal"
)

func costsWith(res int, impassable ...grid.FieldCell) *grid.CostField {
	f := grid.NewCostField(res)
	for _, c := range impassable {
		f.Set(c, grid.Impassable)
	}
	return f
}

// assertDescends checks that every directed cell points at a strictly
// cheaper neighbour, which rules out cycles.
func assertDescends(t *testing.T, integ *IntegrationField, flow *FlowField) {
	t.Helper()
	res := integ.Resolution()
	for i := 0; i < res*res; i++ {
		c := grid.CellAt(i, res)
		b := flow.At(c)
		o, ok := Direction(b)
		require.True(t, ok, "cell %s has invalid code %08b", c, b)
		if !IsPathable(b) || IsGoal(b) || IsPortalGoal(b) || o == grid.Zero {
			continue
		}
		n := c.Step(o)
		require.True(t, n.InBounds(res), "cell %s points out of the region", c)
		assert.Less(t, integ.Cost(n), integ.Cost(c), "cell %s -> %s", c, n)
	}
}

func TestTargetFieldOnUniformGrid(t *testing.T) {
	costs := grid.NewCostField(10)
	goal := Goal{Cell: grid.FieldCell{Column: 3, Row: 6}}

	integ, err := BuildIntegration(costs, goal)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), integ.Cost(goal.Cell))
	assert.True(t, integ.Has(goal.Cell, FlagGoal|FlagLOS))

	// nothing blocks the view, so every cell is visible at its step distance
	for i := 0; i < 100; i++ {
		c := grid.CellAt(i, 10)
		assert.True(t, integ.Has(c, FlagLOS), "cell %s", c)
		assert.Equal(t, uint32(absInt(c.Column-3)+absInt(c.Row-6)), integ.Cost(c))
	}

	flow := BuildFlow(integ, goal)
	assert.Equal(t, DirZero|BitPathable|BitLOS|BitGoal, flow.At(goal.Cell))
	assertDescends(t, integ, flow)
}

func TestFieldNeverContainsSentinel(t *testing.T) {
	costs := costsWith(10,
		grid.FieldCell{Column: 2, Row: 2}, grid.FieldCell{Column: 2, Row: 3}, grid.FieldCell{Column: 2, Row: 4},
		grid.FieldCell{Column: 6, Row: 0}, grid.FieldCell{Column: 6, Row: 1}, grid.FieldCell{Column: 7, Row: 7},
	)
	costs.Set(grid.FieldCell{Column: 8, Row: 2}, 40)

	flow, err := Build(costs, Goal{Cell: grid.FieldCell{Column: 0, Row: 9}})
	require.NoError(t, err)
	for _, b := range flow.Bytes() {
		assert.NotEqual(t, dirSentinel, b&DirMask)
	}
}

func TestLOSBlockedBehindObstacle(t *testing.T) {
	block := []grid.FieldCell{
		{Column: 4, Row: 4}, {Column: 5, Row: 4},
		{Column: 4, Row: 5}, {Column: 5, Row: 5},
	}
	costs := costsWith(10, block...)
	goal := Goal{Cell: grid.FieldCell{Column: 5, Row: 1}}

	integ, err := BuildIntegration(costs, goal)
	require.NoError(t, err)

	blocked := func(c grid.FieldCell) bool { return costs.IsImpassable(c) }
	for i := 0; i < 100; i++ {
		c := grid.CellAt(i, 10)
		if integ.Has(c, FlagLOS) {
			assert.True(t, grid.LineOfSight(goal.Cell, c, blocked), "cell %s flagged LOS without a clear line", c)
		}
	}

	for row := 6; row < 10; row++ {
		for col := 4; col <= 5; col++ {
			c := grid.FieldCell{Column: col, Row: row}
			assert.False(t, integ.Has(c, FlagLOS), "cell %s behind the block", c)
			assert.NotEqual(t, MaxCost, integ.Cost(c), "cell %s must still be costed", c)
		}
	}
	for _, c := range block {
		assert.True(t, integ.Has(c, FlagImpassable))
		assert.Equal(t, MaxCost, integ.Cost(c))
	}

	// cells beside the goal remain visible
	assert.True(t, integ.Has(grid.FieldCell{Column: 5, Row: 3}, FlagLOS))
	assert.True(t, integ.Has(grid.FieldCell{Column: 0, Row: 1}, FlagLOS))

	flow := BuildFlow(integ, goal)
	assertDescends(t, integ, flow)
	for _, c := range block {
		assert.Equal(t, uint8(0), flow.At(c))
	}
}

func TestDiagonalNeverCutsCorners(t *testing.T) {
	costs := costsWith(3, grid.FieldCell{Column: 1, Row: 0})
	goal := Goal{Cell: grid.FieldCell{Column: 0, Row: 0}}

	integ, err := BuildIntegration(costs, goal)
	require.NoError(t, err)
	flow := BuildFlow(integ, goal)

	o, ok := Direction(flow.At(grid.FieldCell{Column: 1, Row: 1}))
	require.True(t, ok)
	assert.Equal(t, grid.West, o)

	o, _ = Direction(flow.At(grid.FieldCell{Column: 1, Row: 2}))
	assert.Equal(t, grid.NorthWest, o)
}

func TestPortalLegPointsAcrossBoundary(t *testing.T) {
	costs := costsWith(10, grid.FieldCell{Column: 9, Row: 3})
	exit := portal.Portal{Side: grid.East, Start: 0, End: 9}
	goal := Goal{Cell: exit.Cell(10), Exit: grid.East, Portal: exit}

	integ, err := BuildIntegration(costs, goal)
	require.NoError(t, err)
	flow := BuildFlow(integ, goal)

	for _, c := range exit.Cells(10) {
		if costs.IsImpassable(c) {
			assert.Equal(t, uint8(0), flow.At(c))
			continue
		}
		assert.Equal(t, uint32(0), integ.Cost(c))
		assert.Equal(t, DirEast|BitPathable|BitPortalGoal, flow.At(c), "cell %s", c)
	}
	assert.Equal(t, uint32(9), integ.Cost(grid.FieldCell{Column: 0, Row: 5}))
	assert.False(t, integ.Has(grid.FieldCell{Column: 0, Row: 5}, FlagLOS))
	assertDescends(t, integ, flow)
}

func TestEnclosedPocketIsPathableZero(t *testing.T) {
	costs := costsWith(5,
		grid.FieldCell{Column: 3, Row: 4}, grid.FieldCell{Column: 3, Row: 3}, grid.FieldCell{Column: 4, Row: 3},
	)
	flow, err := Build(costs, Goal{Cell: grid.FieldCell{Column: 0, Row: 0}})
	require.NoError(t, err)
	assert.Equal(t, DirZero|BitPathable, flow.At(grid.FieldCell{Column: 4, Row: 4}))
}

func TestImpassableGoalRejected(t *testing.T) {
	costs := costsWith(4, grid.FieldCell{Column: 1, Row: 1})
	_, err := BuildIntegration(costs, Goal{Cell: grid.FieldCell{Column: 1, Row: 1}})
	assert.True(t, errors.Is(err, ErrGoalImpassable))

	_, err = BuildIntegration(costs, Goal{Cell: grid.FieldCell{Column: 4, Row: 0}})
	assert.True(t, errors.Is(err, grid.ErrCellOutOfBounds))
}

func TestIntegrationCostAccumulatesGridCost(t *testing.T) {
	costs := costsWith(5, grid.FieldCell{Column: 2, Row: 0}, grid.FieldCell{Column: 2, Row: 1}, grid.FieldCell{Column: 2, Row: 2}, grid.FieldCell{Column: 2, Row: 3})
	costs.Set(grid.FieldCell{Column: 3, Row: 4}, 10)

	integ, err := BuildIntegration(costs, Goal{Cell: grid.FieldCell{Column: 0, Row: 0}})
	require.NoError(t, err)

	// the wall leaves only the bottom row open; (3,4) is reached by
	// entering it from (2,4) and costs 10 to enter
	around := integ.Cost(grid.FieldCell{Column: 2, Row: 4})
	assert.Equal(t, around+10, integ.Cost(grid.FieldCell{Column: 3, Row: 4}))
}

func TestWireFormatRoundTrip(t *testing.T) {
	flow, err := Build(grid.NewCostField(4), Goal{Cell: grid.FieldCell{Column: 1, Row: 2}})
	require.NoError(t, err)

	decoded, err := FlowFieldFromBytes(4, flow.Bytes())
	require.NoError(t, err)
	assert.Equal(t, flow.Bytes(), decoded.Bytes())

	bad := flow.Bytes()
	bad[0] = dirSentinel | BitPathable
	_, err = FlowFieldFromBytes(4, bad)
	assert.Error(t, err)

	_, err = FlowFieldFromBytes(5, flow.Bytes())
	assert.Error(t, err)
}

func TestDirectionEncodingIsBitExact(t *testing.T) {
	assert.Equal(t, uint8(0b0001), DirectionBits(grid.North))
	assert.Equal(t, uint8(0b0010), DirectionBits(grid.East))
	assert.Equal(t, uint8(0b0100), DirectionBits(grid.South))
	assert.Equal(t, uint8(0b1000), DirectionBits(grid.West))
	assert.Equal(t, uint8(0b0011), DirectionBits(grid.NorthEast))
	assert.Equal(t, uint8(0b0110), DirectionBits(grid.SouthEast))
	assert.Equal(t, uint8(0b1100), DirectionBits(grid.SouthWest))
	assert.Equal(t, uint8(0b1001), DirectionBits(grid.NorthWest))

	x, y := Vector(DirNorth | BitPathable)
	assert.Equal(t, 0.0, x)
	assert.Equal(t, -1.0, y)
	x, y = Vector(DirSouthEast)
	assert.InDelta(t, 0.7071, x, 1e-4)
	assert.InDelta(t, 0.7071, y, 1e-4)
}
