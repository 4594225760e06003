package grid

import (
	"errors"
	"fmt"
)

var (
	// ErrRegionOutOfBounds is returned for a region outside the world partition.
	ErrRegionOutOfBounds = errors.New("region out of bounds")
	// ErrCellOutOfBounds is returned for a cell outside the region resolution.
	ErrCellOutOfBounds = errors.New("cell out of bounds")
	// ErrInvalidCost is returned for a cost of zero.
	ErrInvalidCost = errors.New("invalid cost")
)

// MaxResolution bounds the region side length so integrated costs fit in 24 bits.
const MaxResolution = 256

// RegionID addresses one region of the fixed world partition.
type RegionID struct {
	Column int `json:"column" yaml:"column"`
	Row    int `json:"row" yaml:"row"`
}

func (r RegionID) String() string {
	return fmt.Sprintf("%d:%d", r.Column, r.Row)
}

// Step returns the region one step away in direction o.
func (r RegionID) Step(o Ordinal) RegionID {
	dc, dr := o.Offset()
	return RegionID{Column: r.Column + dc, Row: r.Row + dr}
}

// FieldCell addresses one cell inside a region.
type FieldCell struct {
	Column int `json:"column" yaml:"column"`
	Row    int `json:"row" yaml:"row"`
}

func (c FieldCell) String() string {
	return fmt.Sprintf("%d,%d", c.Column, c.Row)
}

// Step returns the cell one step away in direction o. The result may be out
// of bounds.
func (c FieldCell) Step(o Ordinal) FieldCell {
	dc, dr := o.Offset()
	return FieldCell{Column: c.Column + dc, Row: c.Row + dr}
}

// InBounds reports whether the cell lies inside a region of resolution res.
func (c FieldCell) InBounds(res int) bool {
	return c.Column >= 0 && c.Row >= 0 && c.Column < res && c.Row < res
}

// Index returns the row-major storage index of the cell.
func (c FieldCell) Index(res int) int {
	return c.Row*res + c.Column
}

// CellAt is the inverse of FieldCell.Index.
func CellAt(index, res int) FieldCell {
	return FieldCell{Column: index % res, Row: index / res}
}

// Neighbour is an adjacent region together with the side it lies on.
type Neighbour struct {
	Side Ordinal
	ID   RegionID
}

// Dimensions describes the world partition: Columns x Rows regions, each
// holding Resolution x Resolution cells.
type Dimensions struct {
	Columns    int `json:"columns" yaml:"columns"`
	Rows       int `json:"rows" yaml:"rows"`
	Resolution int `json:"resolution" yaml:"resolution"`
}

// Validate checks that the partition is usable.
func (d Dimensions) Validate() error {
	if d.Columns <= 0 || d.Rows <= 0 {
		return fmt.Errorf("world must have at least one region, got %dx%d", d.Columns, d.Rows)
	}
	if d.Resolution < 2 || d.Resolution > MaxResolution {
		return fmt.Errorf("region resolution %d outside [2, %d]", d.Resolution, MaxResolution)
	}
	return nil
}

// Contains reports whether id is part of the partition.
func (d Dimensions) Contains(id RegionID) bool {
	return id.Column >= 0 && id.Row >= 0 && id.Column < d.Columns && id.Row < d.Rows
}

// Check validates a region and cell pair.
func (d Dimensions) Check(id RegionID, cell FieldCell) error {
	if !d.Contains(id) {
		return fmt.Errorf("%w: %s", ErrRegionOutOfBounds, id)
	}
	if !cell.InBounds(d.Resolution) {
		return fmt.Errorf("%w: %s in region %s", ErrCellOutOfBounds, cell, id)
	}
	return nil
}

// Neighbours returns the existing orthogonal neighbours of id in N, E, S, W order.
func (d Dimensions) Neighbours(id RegionID) []Neighbour {
	out := make([]Neighbour, 0, 4)
	for _, o := range Orthogonals {
		n := id.Step(o)
		if d.Contains(n) {
			out = append(out, Neighbour{Side: o, ID: n})
		}
	}
	return out
}

// Regions returns every region in row-major order.
func (d Dimensions) Regions() []RegionID {
	out := make([]RegionID, 0, d.Columns*d.Rows)
	for r := 0; r < d.Rows; r++ {
		for c := 0; c < d.Columns; c++ {
			out = append(out, RegionID{Column: c, Row: r})
		}
	}
	return out
}

// Expand returns ids plus their orthogonal neighbours, deduplicated and in
// row-major order.
func (d Dimensions) Expand(ids []RegionID) []RegionID {
	seen := make(map[RegionID]bool, len(ids)*5)
	for _, id := range ids {
		if !d.Contains(id) {
			continue
		}
		seen[id] = true
		for _, n := range d.Neighbours(id) {
			seen[n.ID] = true
		}
	}
	return d.sorted(seen)
}

func (d Dimensions) sorted(set map[RegionID]bool) []RegionID {
	out := make([]RegionID, 0, len(set))
	for _, id := range d.Regions() {
		if set[id] {
			out = append(out, id)
		}
	}
	return out
}

// WorldSize returns the world extent in cells.
func (d Dimensions) WorldSize() (width, height int) {
	return d.Columns * d.Resolution, d.Rows * d.Resolution
}

// ToWorld converts a region-local cell to a global cell coordinate.
func (d Dimensions) ToWorld(id RegionID, cell FieldCell) (x, y int) {
	return id.Column*d.Resolution + cell.Column, id.Row*d.Resolution + cell.Row
}

// FromWorld converts a global cell coordinate to region and local cell.
func (d Dimensions) FromWorld(x, y int) (RegionID, FieldCell, bool) {
	w, h := d.WorldSize()
	if x < 0 || y < 0 || x >= w || y >= h {
		return RegionID{}, FieldCell{}, false
	}
	id := RegionID{Column: x / d.Resolution, Row: y / d.Resolution}
	return id, FieldCell{Column: x % d.Resolution, Row: y % d.Resolution}, true
}

func absInt(a int) int {
	if a < 0 {
		return -a
	}
	return a
}

// Manhattan returns the world-cell Manhattan distance between two addresses.
func (d Dimensions) Manhattan(a RegionID, ac FieldCell, b RegionID, bc FieldCell) int {
	ax, ay := d.ToWorld(a, ac)
	bx, by := d.ToWorld(b, bc)
	return absInt(ax-bx) + absInt(ay-by)
}
