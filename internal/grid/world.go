package grid

import (
	"fmt"
	"sync"
)

// World owns the baseline cost field of every region. It is safe for
// concurrent use.
type World struct {
	dims Dimensions

	mu     sync.RWMutex
	fields map[RegionID]*CostField
}

// NewWorld creates a world with every cell at the default cost.
func NewWorld(dims Dimensions, defaultCost uint8) (*World, error) {
	if err := dims.Validate(); err != nil {
		return nil, err
	}
	if defaultCost == 0 {
		return nil, fmt.Errorf("%w: default cost must be at least 1", ErrInvalidCost)
	}

	w := &World{dims: dims, fields: make(map[RegionID]*CostField, dims.Columns*dims.Rows)}
	for _, id := range dims.Regions() {
		f := NewCostField(dims.Resolution)
		if defaultCost != Cheapest {
			for i := range f.costs {
				f.costs[i] = defaultCost
			}
		}
		w.fields[id] = f
	}
	return w, nil
}

// NewWorldFromLoader builds a world from an external loader. The loader must
// provide a full-resolution field for every region.
func NewWorldFromLoader(dims Dimensions, loader Loader) (*World, error) {
	if err := dims.Validate(); err != nil {
		return nil, err
	}

	fields, err := loader.Load(dims)
	if err != nil {
		return nil, fmt.Errorf("failed to load cost grid: %w", err)
	}

	w := &World{dims: dims, fields: make(map[RegionID]*CostField, len(fields))}
	for _, id := range dims.Regions() {
		f, ok := fields[id]
		if !ok || f == nil {
			return nil, fmt.Errorf("cost grid is missing region %s", id)
		}
		if f.Resolution() != dims.Resolution {
			return nil, fmt.Errorf("region %s has resolution %d, want %d", id, f.Resolution(), dims.Resolution)
		}
		w.fields[id] = f.Clone()
	}
	if len(fields) != len(w.fields) {
		return nil, fmt.Errorf("cost grid has %d regions outside the world", len(fields)-len(w.fields))
	}
	return w, nil
}

// Dimensions returns the world partition.
func (w *World) Dimensions() Dimensions { return w.dims }

// Cost returns the baseline cost of one cell.
func (w *World) Cost(id RegionID, cell FieldCell) (uint8, error) {
	if err := w.dims.Check(id, cell); err != nil {
		return 0, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.fields[id].Get(cell), nil
}

// SetCost writes the baseline cost of one cell and reports whether it changed.
func (w *World) SetCost(id RegionID, cell FieldCell, cost uint8) (bool, error) {
	if err := w.dims.Check(id, cell); err != nil {
		return false, err
	}
	if cost == 0 {
		return false, fmt.Errorf("%w: cost must be in [1, 255]", ErrInvalidCost)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fields[id].Set(cell, cost), nil
}

// Field returns a copy of one region's baseline field.
func (w *World) Field(id RegionID) (*CostField, error) {
	if !w.dims.Contains(id) {
		return nil, fmt.Errorf("%w: %s", ErrRegionOutOfBounds, id)
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.fields[id].Clone(), nil
}

// Snapshot returns a consistent copy of every baseline field.
func (w *World) Snapshot() *CostMap {
	w.mu.RLock()
	defer w.mu.RUnlock()

	m := &CostMap{dims: w.dims, fields: make(map[RegionID]*CostField, len(w.fields))}
	for id, f := range w.fields {
		m.fields[id] = f.Clone()
	}
	return m
}
