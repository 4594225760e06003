package grid

import (
	"fmt"
)

const (
	// Cheapest is the default traversal cost of a freshly created cell.
	Cheapest uint8 = 1
	// Impassable marks a cell that can never be entered.
	Impassable uint8 = 255
)

// CostField holds one traversal cost per cell of a region, row-major.
type CostField struct {
	res   int
	costs []uint8
}

// NewCostField creates a field of the given resolution filled with Cheapest.
func NewCostField(res int) *CostField {
	costs := make([]uint8, res*res)
	for i := range costs {
		costs[i] = Cheapest
	}
	return &CostField{res: res, costs: costs}
}

// NewCostFieldFrom wraps a copy of costs. Every value must be non-zero.
func NewCostFieldFrom(res int, costs []uint8) (*CostField, error) {
	if len(costs) != res*res {
		return nil, fmt.Errorf("cost field has %d cells, want %d", len(costs), res*res)
	}
	for i, c := range costs {
		if c == 0 {
			return nil, fmt.Errorf("%w: zero cost at %s", ErrInvalidCost, CellAt(i, res))
		}
	}
	cp := make([]uint8, len(costs))
	copy(cp, costs)
	return &CostField{res: res, costs: cp}, nil
}

// Resolution returns the side length of the field.
func (f *CostField) Resolution() int { return f.res }

// Get returns the cost of a cell; out-of-bounds cells read as Impassable.
func (f *CostField) Get(c FieldCell) uint8 {
	if !c.InBounds(f.res) {
		return Impassable
	}
	return f.costs[c.Index(f.res)]
}

// Set stores the cost of a cell and reports whether the value changed.
func (f *CostField) Set(c FieldCell, cost uint8) bool {
	i := c.Index(f.res)
	if f.costs[i] == cost {
		return false
	}
	f.costs[i] = cost
	return true
}

// IsImpassable reports whether c is out of bounds or has the Impassable cost.
func (f *CostField) IsImpassable(c FieldCell) bool {
	return f.Get(c) == Impassable
}

// Clone returns a deep copy of the field.
func (f *CostField) Clone() *CostField {
	cp := make([]uint8, len(f.costs))
	copy(cp, f.costs)
	return &CostField{res: f.res, costs: cp}
}

// Bytes returns a row-major copy of the costs.
func (f *CostField) Bytes() []uint8 {
	cp := make([]uint8, len(f.costs))
	copy(cp, f.costs)
	return cp
}

// Equal reports whether both fields hold identical costs.
func (f *CostField) Equal(o *CostField) bool {
	if o == nil || f.res != o.res {
		return false
	}
	for i := range f.costs {
		if f.costs[i] != o.costs[i] {
			return false
		}
	}
	return true
}

// FieldSource supplies cost fields by region. Implementations must return a
// field for every region inside Dimensions.
type FieldSource interface {
	Dimensions() Dimensions
	Field(id RegionID) *CostField
}

// CostMap is an immutable-by-convention set of cost fields covering the world.
type CostMap struct {
	dims   Dimensions
	fields map[RegionID]*CostField
}

// NewCostMap creates a map of uniform Cheapest fields.
func NewCostMap(dims Dimensions) *CostMap {
	m := &CostMap{dims: dims, fields: make(map[RegionID]*CostField, dims.Columns*dims.Rows)}
	for _, id := range dims.Regions() {
		m.fields[id] = NewCostField(dims.Resolution)
	}
	return m
}

// Dimensions returns the partition covered by the map.
func (m *CostMap) Dimensions() Dimensions { return m.dims }

// Field returns the stored field for id, or nil for unknown regions.
func (m *CostMap) Field(id RegionID) *CostField { return m.fields[id] }

// Replace swaps in a new field for id.
func (m *CostMap) Replace(id RegionID, f *CostField) { m.fields[id] = f }

// Clone returns a shallow copy: the region table is copied, fields are shared.
func (m *CostMap) Clone() *CostMap {
	cp := &CostMap{dims: m.dims, fields: make(map[RegionID]*CostField, len(m.fields))}
	for id, f := range m.fields {
		cp.fields[id] = f
	}
	return cp
}

// At returns the cost at a global cell coordinate; outside the world reads
// as Impassable.
func (m *CostMap) At(x, y int) uint8 {
	id, cell, ok := m.dims.FromWorld(x, y)
	if !ok {
		return Impassable
	}
	return m.fields[id].Get(cell)
}
