package field

import (
	"fmt"
	"math"

	"github.com/gravitas-games/flowfield/internal/grid"
)

// Flow field byte layout. The low nibble is a direction code, the high
// nibble a flag set. The layout is a wire format and must not change.
const (
	DirZero      uint8 = 0b0000
	DirNorth     uint8 = 0b0001
	DirEast      uint8 = 0b0010
	DirSouth     uint8 = 0b0100
	DirWest      uint8 = 0b1000
	DirNorthEast uint8 = 0b0011
	DirSouthEast uint8 = 0b0110
	DirSouthWest uint8 = 0b1100
	DirNorthWest uint8 = 0b1001
	// dirSentinel marks a cell not yet resolved during a build.
	dirSentinel uint8 = 0b1111

	DirMask  uint8 = 0x0F
	FlagMask uint8 = 0xF0

	BitPathable   uint8 = 0b0001_0000
	BitLOS        uint8 = 0b0010_0000
	BitGoal       uint8 = 0b0100_0000
	BitPortalGoal uint8 = 0b1000_0000
)

// DirectionBits encodes an ordinal.
func DirectionBits(o grid.Ordinal) uint8 {
	switch o {
	case grid.North:
		return DirNorth
	case grid.East:
		return DirEast
	case grid.South:
		return DirSouth
	case grid.West:
		return DirWest
	case grid.NorthEast:
		return DirNorthEast
	case grid.SouthEast:
		return DirSouthEast
	case grid.SouthWest:
		return DirSouthWest
	case grid.NorthWest:
		return DirNorthWest
	default:
		return DirZero
	}
}

// Direction decodes the direction of a flow byte. ok is false for codes
// outside the nine valid values.
func Direction(b uint8) (o grid.Ordinal, ok bool) {
	switch b & DirMask {
	case DirZero:
		return grid.Zero, true
	case DirNorth:
		return grid.North, true
	case DirEast:
		return grid.East, true
	case DirSouth:
		return grid.South, true
	case DirWest:
		return grid.West, true
	case DirNorthEast:
		return grid.NorthEast, true
	case DirSouthEast:
		return grid.SouthEast, true
	case DirSouthWest:
		return grid.SouthWest, true
	case DirNorthWest:
		return grid.NorthWest, true
	default:
		return grid.Zero, false
	}
}

func IsPathable(b uint8) bool   { return b&BitPathable != 0 }
func HasLOS(b uint8) bool       { return b&BitLOS != 0 }
func IsGoal(b uint8) bool       { return b&BitGoal != 0 }
func IsPortalGoal(b uint8) bool { return b&BitPortalGoal != 0 }

// Vector returns the unit vector of a flow byte with x toward East and y
// toward South. Zero and invalid codes return (0, 0).
func Vector(b uint8) (x, y float64) {
	o, ok := Direction(b)
	if !ok || o == grid.Zero {
		return 0, 0
	}
	dc, dr := o.Offset()
	if dc != 0 && dr != 0 {
		return float64(dc) * math.Sqrt2 / 2, float64(dr) * math.Sqrt2 / 2
	}
	return float64(dc), float64(dr)
}

// FlowField is one byte per cell of a region, row-major.
type FlowField struct {
	res   int
	cells []uint8
}

// Resolution returns the side length of the field.
func (f *FlowField) Resolution() int { return f.res }

// At returns the flow byte of a cell.
func (f *FlowField) At(c grid.FieldCell) uint8 {
	return f.cells[c.Index(f.res)]
}

// Bytes returns the wire encoding: a row-major copy of every cell.
func (f *FlowField) Bytes() []byte {
	out := make([]byte, len(f.cells))
	copy(out, f.cells)
	return out
}

// FlowFieldFromBytes decodes the wire encoding.
func FlowFieldFromBytes(res int, data []byte) (*FlowField, error) {
	if len(data) != res*res {
		return nil, fmt.Errorf("flow field has %d bytes, want %d", len(data), res*res)
	}
	for i, b := range data {
		if _, ok := Direction(b); !ok {
			return nil, fmt.Errorf("invalid direction code %04b at %s", b&DirMask, grid.CellAt(i, res))
		}
	}
	cells := make([]uint8, len(data))
	copy(cells, data)
	return &FlowField{res: res, cells: cells}, nil
}

// BuildFlow converts an integration field to a flow field. Every pathable
// cell points at its strictly cheapest neighbour; a diagonal is only taken
// when both orthogonal cells beside it are pathable. Portal cells point out
// through the exit side and the goal cell carries the zero vector.
func BuildFlow(integ *IntegrationField, goal Goal) *FlowField {
	res := integ.res
	out := &FlowField{res: res, cells: make([]uint8, res*res)}
	exit := DirectionBits(goal.Exit)

	for i, entry := range integ.cells {
		c := grid.CellAt(i, res)
		switch {
		case entry&FlagImpassable != 0:
			out.cells[i] = DirZero
		case entry&FlagGoal != 0:
			out.cells[i] = DirZero | BitPathable | BitLOS | BitGoal
		case entry&FlagPortal != 0:
			out.cells[i] = exit | BitPathable | BitPortalGoal
		case entry&CostMask == MaxCost:
			out.cells[i] = DirZero | BitPathable
		default:
			b := steepest(integ, c) | BitPathable
			if entry&FlagLOS != 0 {
				b |= BitLOS
			}
			out.cells[i] = b
		}
	}
	return out
}

// steepest picks the neighbour with the strictly lowest cost below c's own.
// Ties keep the first candidate in cardinal-then-diagonal order.
func steepest(integ *IntegrationField, c grid.FieldCell) uint8 {
	res := integ.res
	best := integ.Cost(c)
	dir := dirSentinel

	open := func(n grid.FieldCell) bool {
		return n.InBounds(res) && integ.cells[n.Index(res)]&FlagImpassable == 0
	}

	for _, o := range grid.Ordinals {
		n := c.Step(o)
		if !open(n) {
			continue
		}
		if !o.IsOrthogonal() {
			v, h := o.Components()
			if !open(c.Step(v)) || !open(c.Step(h)) {
				continue
			}
		}
		if cost := integ.Cost(n); cost < best {
			best = cost
			dir = DirectionBits(o)
		}
	}
	if dir == dirSentinel {
		return DirZero
	}
	return dir
}

// Build runs both stages for one region.
func Build(costs *grid.CostField, goal Goal) (*FlowField, error) {
	integ, err := BuildIntegration(costs, goal)
	if err != nil {
		return nil, err
	}
	return BuildFlow(integ, goal), nil
}
