// Package portal finds the pathable boundary segments shared by adjacent
// regions.
package portal

import (
	"fmt"
	"sync"

	"github.com/gravitas-games/flowfield/internal/grid"
)

// Portal is an inclusive run of boundary cells along one side of a region.
// Start and End index along the side: columns for North and South, rows for
// East and West.
type Portal struct {
	Side  grid.Ordinal `json:"side"`
	Start int          `json:"start"`
	End   int          `json:"end"`
}

func (p Portal) String() string {
	return fmt.Sprintf("%s[%d..%d]", p.Side, p.Start, p.End)
}

// Width is the number of cells covered.
func (p Portal) Width() int { return p.End - p.Start + 1 }

// Midpoint is the index of the representative cell.
func (p Portal) Midpoint() int { return (p.Start + p.End) / 2 }

// Cell returns the representative cell of the portal.
func (p Portal) Cell(res int) grid.FieldCell {
	return BoundaryCell(p.Side, p.Midpoint(), res)
}

// Cells expands the portal to every cell of its segment.
func (p Portal) Cells(res int) []grid.FieldCell {
	out := make([]grid.FieldCell, 0, p.Width())
	for i := p.Start; i <= p.End; i++ {
		out = append(out, BoundaryCell(p.Side, i, res))
	}
	return out
}

// Contains reports whether cell lies on the portal segment.
func (p Portal) Contains(cell grid.FieldCell, res int) bool {
	for i := p.Start; i <= p.End; i++ {
		if BoundaryCell(p.Side, i, res) == cell {
			return true
		}
	}
	return false
}

// Counterpart is the matching portal as seen from the neighbouring region.
func (p Portal) Counterpart() Portal {
	return Portal{Side: p.Side.Inverse(), Start: p.Start, End: p.End}
}

// BoundaryCell maps an index along a side to the region cell on that side.
func BoundaryCell(side grid.Ordinal, i, res int) grid.FieldCell {
	switch side {
	case grid.North:
		return grid.FieldCell{Column: i, Row: 0}
	case grid.South:
		return grid.FieldCell{Column: i, Row: res - 1}
	case grid.West:
		return grid.FieldCell{Column: 0, Row: i}
	case grid.East:
		return grid.FieldCell{Column: res - 1, Row: i}
	default:
		return grid.FieldCell{Column: -1, Row: -1}
	}
}

// Extract scans every side of id that has a neighbour and returns one portal
// per maximal run of cells pathable on both sides of the boundary. Portals
// are ordered by side (N, E, S, W) and then by Start.
func Extract(src grid.FieldSource, id grid.RegionID) []Portal {
	dims := src.Dimensions()
	res := dims.Resolution
	here := src.Field(id)

	var out []Portal
	for _, n := range dims.Neighbours(id) {
		there := src.Field(n.ID)
		run := -1
		for i := 0; i <= res; i++ {
			open := i < res &&
				!here.IsImpassable(BoundaryCell(n.Side, i, res)) &&
				!there.IsImpassable(BoundaryCell(n.Side.Inverse(), i, res))
			switch {
			case open && run < 0:
				run = i
			case !open && run >= 0:
				out = append(out, Portal{Side: n.Side, Start: run, End: i - 1})
				run = -1
			}
		}
	}
	return out
}

// Set holds the portals of every region. It is safe for concurrent use.
type Set struct {
	dims grid.Dimensions

	mu      sync.RWMutex
	portals map[grid.RegionID][]Portal
}

// NewSet extracts the portals of every region of src.
func NewSet(src grid.FieldSource) *Set {
	dims := src.Dimensions()
	s := &Set{dims: dims, portals: make(map[grid.RegionID][]Portal, dims.Columns*dims.Rows)}
	for _, id := range dims.Regions() {
		s.portals[id] = Extract(src, id)
	}
	return s
}

// Recompute re-extracts the listed regions and returns the ones whose
// portal list changed.
func (s *Set) Recompute(src grid.FieldSource, ids []grid.RegionID) []grid.RegionID {
	fresh := make(map[grid.RegionID][]Portal, len(ids))
	for _, id := range ids {
		if s.dims.Contains(id) {
			fresh[id] = Extract(src, id)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []grid.RegionID
	for _, id := range ids {
		next, ok := fresh[id]
		if !ok {
			continue
		}
		if !equal(s.portals[id], next) {
			changed = append(changed, id)
		}
		s.portals[id] = next
	}
	return changed
}

// Portals returns a copy of the portals of one region.
func (s *Set) Portals(id grid.RegionID) []Portal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Portal(nil), s.portals[id]...)
}

// Side returns the portals of one region on one side.
func (s *Set) Side(id grid.RegionID, side grid.Ordinal) []Portal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Portal
	for _, p := range s.portals[id] {
		if p.Side == side {
			out = append(out, p)
		}
	}
	return out
}

// Find returns the portal of id on side whose representative cell is cell.
func (s *Set) Find(id grid.RegionID, side grid.Ordinal, cell grid.FieldCell) (Portal, bool) {
	for _, p := range s.Side(id, side) {
		if p.Cell(s.dims.Resolution) == cell {
			return p, true
		}
	}
	return Portal{}, false
}

func equal(a, b []Portal) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
