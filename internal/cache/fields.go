package cache

import (
	"fmt"

	"github.com/gravitas-games/flowfield/internal/field"
	"github.com/gravitas-games/flowfield/internal/grid"
)

// FieldKey identifies a flow field: the region, the cell it converges on
// and the side it exits through. Exit is Zero for a route's target region.
// Routes crossing the same portal share one field.
type FieldKey struct {
	Region grid.RegionID `json:"region"`
	Goal   grid.FieldCell `json:"goal"`
	Exit   grid.Ordinal   `json:"exit"`
}

func (k FieldKey) String() string {
	return fmt.Sprintf("field|%d|%d|%d|%d|%d",
		k.Region.Column, k.Region.Row, k.Goal.Column, k.Goal.Row, k.Exit)
}

// FieldCache maps field keys to built flow fields.
type FieldCache struct {
	s *store[*field.FlowField]
}

// NewFieldCache creates an empty field cache.
func NewFieldCache(opts Options) (*FieldCache, error) {
	s, err := newStore[*field.FlowField](opts)
	if err != nil {
		return nil, err
	}
	return &FieldCache{s: s}, nil
}

// Get returns a live field. A miss means not built yet, expired or
// invalidated.
func (c *FieldCache) Get(key FieldKey) (*field.FlowField, bool) {
	return c.s.get(key.String())
}

// Put stores a field under its region.
func (c *FieldCache) Put(key FieldKey, f *field.FlowField) bool {
	return c.s.put(key.String(), f, []grid.RegionID{key.Region})
}

// EvictRegions drops every field of the given regions.
func (c *FieldCache) EvictRegions(ids ...grid.RegionID) int {
	return c.s.evictRegions(ids)
}

// Sweep drops expired fields.
func (c *FieldCache) Sweep() int { return c.s.sweep() }

// Len returns the number of indexed fields.
func (c *FieldCache) Len() int { return c.s.len() }

// Close releases the underlying cache.
func (c *FieldCache) Close() { c.s.close() }
