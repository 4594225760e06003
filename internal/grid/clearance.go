package grid

import (
	"fmt"
	"math"
)

// Clearance describes the footprint of an agent class relative to the size
// of one cell.
type Clearance struct {
	Footprint float64
	CellSize  float64
}

// Scale is the agent width in whole cells, never less than one.
func (c Clearance) Scale() int {
	if c.CellSize <= 0 || c.Footprint <= c.CellSize {
		return 1
	}
	return int(math.Ceil(c.Footprint / c.CellSize))
}

// Validate checks that the footprint fits the region resolution. Gap
// closing only looks one region away, so the scale cannot exceed res.
func (c Clearance) Validate(res int) error {
	if c.Footprint < 0 || c.CellSize < 0 {
		return fmt.Errorf("clearance must not be negative")
	}
	if s := c.Scale(); s > res {
		return fmt.Errorf("agent scale %d exceeds region resolution %d", s, res)
	}
	return nil
}

// Derive builds the derived view of every region.
func (c Clearance) Derive(base *CostMap) *CostMap {
	if c.Scale() == 1 {
		return base.Clone()
	}
	out := &CostMap{dims: base.dims, fields: make(map[RegionID]*CostField, len(base.fields))}
	for _, id := range base.dims.Regions() {
		out.fields[id] = c.DeriveRegion(base, id)
	}
	return out
}

// Affected returns the regions whose derived view may change when the
// baseline of dirty changes.
func (c Clearance) Affected(dims Dimensions, dirty []RegionID) []RegionID {
	if c.Scale() == 1 {
		return dims.sorted(toSet(dirty))
	}
	return dims.Expand(dirty)
}

func toSet(ids []RegionID) map[RegionID]bool {
	set := make(map[RegionID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// DeriveRegion computes the derived field of one region. A maximal run of
// open cells along a world row or column becomes impassable when it is
// shorter than the agent scale and capped by an impassable cell on at least
// one end, the other end being impassable or the world edge.
func (c Clearance) DeriveRegion(base *CostMap, id RegionID) *CostField {
	src := base.fields[id]
	scale := c.Scale()
	if scale == 1 {
		return src
	}

	res := base.dims.Resolution
	out := src.Clone()
	ox, oy := id.Column*res, id.Row*res

	for r := 0; r < res; r++ {
		c.closeRuns(base, ox-scale, ox+res-1+scale, oy+r, true, ox, oy, out)
	}
	for col := 0; col < res; col++ {
		c.closeRuns(base, oy-scale, oy+res-1+scale, ox+col, false, ox, oy, out)
	}
	return out
}

// closeRuns scans the window [lo, hi] of one world line. horizontal selects
// a row (fixed = y) or a column (fixed = x). Runs touching the window edge,
// when that edge is not the world edge, are at least scale+1 long and stay
// open.
func (c Clearance) closeRuns(base *CostMap, lo, hi, fixed int, horizontal bool, ox, oy int, out *CostField) {
	scale := c.Scale()
	res := base.dims.Resolution
	w, h := base.dims.WorldSize()
	limit := w
	if !horizontal {
		limit = h
	}
	if lo < 0 {
		lo = 0
	}
	if hi > limit-1 {
		hi = limit - 1
	}

	at := func(i int) uint8 {
		if horizontal {
			return base.At(i, fixed)
		}
		return base.At(fixed, i)
	}

	i := lo
	for i <= hi {
		if at(i) == Impassable {
			i++
			continue
		}
		start := i
		for i <= hi && at(i) != Impassable {
			i++
		}
		end := i - 1

		if end-start+1 >= scale {
			continue
		}
		leftWall := start > 0 && at(start-1) == Impassable
		rightWall := end < limit-1 && at(end+1) == Impassable
		leftOpen := start == lo && start > 0
		rightOpen := end == hi && end < limit-1
		if leftOpen || rightOpen || (!leftWall && !rightWall) {
			continue
		}

		for j := start; j <= end; j++ {
			var cell FieldCell
			if horizontal {
				cell = FieldCell{Column: j - ox, Row: fixed - oy}
			} else {
				cell = FieldCell{Column: fixed - ox, Row: j - oy}
			}
			if cell.InBounds(res) {
				out.Set(cell, Impassable)
			}
		}
	}
}
