package grid

import "fmt"

// Loader produces a complete cost grid for a world partition. File, table
// and image importers live outside this package and implement Loader.
type Loader interface {
	Load(dims Dimensions) (map[RegionID]*CostField, error)
}

// StaticLoader serves cost fields held in memory. Regions missing from
// Fields are filled with Default when Default is non-zero.
type StaticLoader struct {
	Fields  map[RegionID][]uint8
	Default uint8
}

// Load implements Loader.
func (l StaticLoader) Load(dims Dimensions) (map[RegionID]*CostField, error) {
	out := make(map[RegionID]*CostField, dims.Columns*dims.Rows)
	for id, costs := range l.Fields {
		if !dims.Contains(id) {
			return nil, fmt.Errorf("%w: %s", ErrRegionOutOfBounds, id)
		}
		f, err := NewCostFieldFrom(dims.Resolution, costs)
		if err != nil {
			return nil, fmt.Errorf("region %s: %w", id, err)
		}
		out[id] = f
	}
	if l.Default == 0 {
		return out, nil
	}
	for _, id := range dims.Regions() {
		if _, ok := out[id]; ok {
			continue
		}
		f := NewCostField(dims.Resolution)
		for i := range f.costs {
			f.costs[i] = l.Default
		}
		out[id] = f
	}
	return out, nil
}
