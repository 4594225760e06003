package grid

// Ordinal is a compass direction on the cell grid. North points toward row 0
// and West toward column 0, both within a region and across the region grid.
type Ordinal uint8

const (
	Zero Ordinal = iota
	North
	East
	South
	West
	NorthEast
	SouthEast
	SouthWest
	NorthWest
)

// Orthogonals lists the four cardinal directions in scan order.
var Orthogonals = [4]Ordinal{North, East, South, West}

// Ordinals lists every non-zero direction, cardinals first.
var Ordinals = [8]Ordinal{North, East, South, West, NorthEast, SouthEast, SouthWest, NorthWest}

// String returns a human-readable representation of the ordinal.
func (o Ordinal) String() string {
	switch o {
	case Zero:
		return "Zero"
	case North:
		return "North"
	case East:
		return "East"
	case South:
		return "South"
	case West:
		return "West"
	case NorthEast:
		return "NorthEast"
	case SouthEast:
		return "SouthEast"
	case SouthWest:
		return "SouthWest"
	case NorthWest:
		return "NorthWest"
	default:
		return "Unknown"
	}
}

// Offset returns the column and row delta of one step in this direction.
func (o Ordinal) Offset() (dc, dr int) {
	switch o {
	case North:
		return 0, -1
	case East:
		return 1, 0
	case South:
		return 0, 1
	case West:
		return -1, 0
	case NorthEast:
		return 1, -1
	case SouthEast:
		return 1, 1
	case SouthWest:
		return -1, 1
	case NorthWest:
		return -1, -1
	default:
		return 0, 0
	}
}

// Inverse returns the opposite direction.
func (o Ordinal) Inverse() Ordinal {
	switch o {
	case North:
		return South
	case East:
		return West
	case South:
		return North
	case West:
		return East
	case NorthEast:
		return SouthWest
	case SouthEast:
		return NorthWest
	case SouthWest:
		return NorthEast
	case NorthWest:
		return SouthEast
	default:
		return Zero
	}
}

// IsOrthogonal reports whether o is one of the four cardinal directions.
func (o Ordinal) IsOrthogonal() bool {
	return o >= North && o <= West
}

// Perpendicular returns the two cardinals at right angles to a cardinal.
// Diagonals and Zero return Zero twice.
func (o Ordinal) Perpendicular() (Ordinal, Ordinal) {
	switch o {
	case North, South:
		return East, West
	case East, West:
		return North, South
	default:
		return Zero, Zero
	}
}

// Components splits a diagonal into its two cardinal parts, vertical first.
func (o Ordinal) Components() (Ordinal, Ordinal) {
	switch o {
	case NorthEast:
		return North, East
	case SouthEast:
		return South, East
	case SouthWest:
		return South, West
	case NorthWest:
		return North, West
	default:
		return o, Zero
	}
}
